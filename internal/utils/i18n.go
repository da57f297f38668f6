package utils

// Minimal server-side catalogue for the session endpoint's error messages.
// Participant-facing copy lives with the client; the server only localises
// what it sends back in {"error":{"message":...}}.

// SupportedLocales lists the catalogue's locales, DefaultLocale first.
var SupportedLocales = []string{"en", "zh"}

const DefaultLocale = "en"

var translations = map[string]map[string]string{
	"en": {
		"health.ok":             "ok",
		"error.session_expired": "Your session has expired. Please start the survey again.",
		"error.session_invalid": "This session is not valid for the survey.",
		"error.session_locked":  "Responses for this survey have already been submitted.",
		"error.invalid":         "The request is invalid.",
		"error.not_found":       "Not found.",
		"error.conflict":        "The request conflicts with the session state.",
	},
	"zh": {
		"health.ok":             "好的",
		"error.session_expired": "会话已过期，请重新开始问卷。",
		"error.session_invalid": "该会话对此问卷无效。",
		"error.session_locked":  "此问卷的回答已提交。",
		"error.invalid":         "请求无效。",
		"error.not_found":       "未找到。",
		"error.conflict":        "请求与会话状态冲突。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Has reports whether key has an English entry.
func Has(key string) bool {
	_, ok := translations["en"][key]
	return ok
}
