package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/synap-respond/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// Locale resolves the request locale from ?lang= or Accept-Language against
// the message catalogue and stores it in the request context.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), utils.SupportedLocales, utils.DefaultLocale)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), localeKey, locale)))
	})
}

// LocaleFromContext retrieves the locale stored by Locale.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok {
		return s
	}
	return utils.DefaultLocale
}
