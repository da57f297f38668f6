package utils

import (
	"strings"

	"golang.org/x/text/language"
)

// DetermineLocale resolves the locale to use from an explicit query param, the
// Accept-Language header, the supported locales and a default. Supported values
// should be base tags like "en", "zh"; the returned value is always one of them
// (or def when nothing matches).
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	if len(supported) == 0 {
		return def
	}
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tags = append(tags, language.Make(strings.ToLower(s)))
	}
	matcher := language.NewMatcher(tags)

	if q := strings.TrimSpace(queryLang); q != "" {
		if tag, err := language.Parse(q); err == nil {
			if _, idx, conf := matcher.Match(tag); conf != language.No {
				return strings.ToLower(supported[idx])
			}
		}
	}

	if accept, _, err := language.ParseAcceptLanguage(acceptLang); err == nil && len(accept) > 0 {
		if _, idx, conf := matcher.Match(accept...); conf != language.No {
			return strings.ToLower(supported[idx])
		}
	}

	for _, s := range supported {
		if strings.EqualFold(s, def) {
			return strings.ToLower(s)
		}
	}
	return strings.ToLower(supported[0])
}
