package middleware

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const devReceiptSecret = "synap-dev-secret"

// ReceiptClaims are carried by the completion receipt. The session token
// itself is never embedded, only its first eight characters.
type ReceiptClaims struct {
	SurveyID      int    `json:"sid"`
	SessionPrefix string `json:"sp"`
	jwt.RegisteredClaims
}

// Receipts signs and verifies completion receipts with HS256.
type Receipts struct {
	secret []byte
	ttl    time.Duration
}

// NewReceipts falls back to a development secret when secret is empty.
func NewReceipts(secret string, ttl time.Duration) *Receipts {
	if secret == "" {
		secret = devReceiptSecret
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Receipts{secret: []byte(secret), ttl: ttl}
}

func (r *Receipts) Sign(surveyID int, sessionID string, issuedAt time.Time) (string, error) {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	claims := ReceiptClaims{
		SurveyID:      surveyID,
		SessionPrefix: prefix,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("survey:%d", surveyID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(r.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func (r *Receipts) Parse(tok string) (*ReceiptClaims, error) {
	t, err := jwt.ParseWithClaims(tok, &ReceiptClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*ReceiptClaims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid receipt")
}
