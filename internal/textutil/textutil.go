// Package textutil contains small helpers for handling the textual settings
// of a repository, such as comma-separated file lists.
package textutil

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultDelimiters separates tokens in list-valued settings.
const DefaultDelimiters = ","

// HasLength reports whether s is non-empty.
func HasLength(s string) bool {
	return len(s) > 0
}

// HasText reports whether s contains at least one non-whitespace rune.
func HasText(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
}

// Tokenize splits s at commas, trims the tokens and drops empty ones.
func Tokenize(s string) []string {
	return TokenizeWith(s, DefaultDelimiters, true, true)
}

// TokenizeWith splits s at any of the runes in delims. Runs of delimiters
// never produce empty tokens; with ignoreEmpty, tokens that are empty after
// trimming are dropped as well. The result is never nil.
func TokenizeWith(s, delims string, trim, ignoreEmpty bool) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(delims, r)
	})

	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if trim {
			tok = strings.TrimSpace(tok)
		}
		if ignoreEmpty && tok == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Concatenate joins the string form of items, separated by delim.
func Concatenate[T any](items []T, delim string) string {
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString(delim)
		}
		fmt.Fprint(&sb, item)
	}
	return sb.String()
}

// DeleteWhitespace returns s with all whitespace runes removed.
func DeleteWhitespace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// IsLowerCase reports whether s contains no upper-case runes. Digits and
// punctuation do not count as upper case.
func IsLowerCase(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) < 0
}
