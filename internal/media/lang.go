// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageDisplay returns the English display name for a BCP 47 / ISO 639 code.
// Unknown codes are returned unchanged.
func LanguageDisplay(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// IsEnglish reports whether a language code or track name denotes English.
func IsEnglish(codeOrName string) bool {
	v := strings.TrimSpace(codeOrName)
	if v == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(v), "english") {
		return true
	}
	tag, err := language.Parse(v)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base.String() == "en"
}
