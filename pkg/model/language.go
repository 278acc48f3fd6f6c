package model

import "strings"

// LanguageInfo holds the code and English name of a language.
type LanguageInfo struct {
	Code string `json:"code"` // e.g., "th"
	Name string `json:"name"` // e.g., "Thai"
}

// BaseLanguage returns the primary subtag of a BCP 47 tag ("th-TH" -> "th").
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// ValidLanguage reports whether tag looks like a BCP 47 tag with a two or
// three letter primary subtag.
func ValidLanguage(tag string) bool {
	base := BaseLanguage(tag)
	if len(base) < 2 || len(base) > 3 {
		return false
	}
	for _, r := range base {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
