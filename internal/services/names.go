package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/medtrack-backend/internal/utils"
)

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeName trims, collapses inner whitespace and applies NFC so that
// visually identical names compare equal.
func normalizeName(s string) string {
	return norm.NFC.String(whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " "))
}

// titleName upper-cases the first letter of each word and leaves the rest
// untouched, so "ana maria" becomes "Ana Maria" but "McDonald" survives.
func titleName(s string, tag language.Tag) string {
	return cases.Title(tag, cases.NoLower).String(s)
}

// checkName normalizes s and enforces a maximum rune length.
func checkName(s string, maxRunes int) (string, error) {
	s = normalizeName(s)
	if s == "" {
		return "", ErrEmptyName
	}
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return "", ErrNameTooLong
	}
	return s, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageBounds applies list defaults and returns offset and limit.
func pageBounds(page, pageSize int) (offset, limit int) {
	return utils.Page(page, pageSize, defaultPageSize, maxPageSize)
}
