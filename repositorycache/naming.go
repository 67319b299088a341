package repositorycache

import (
	"reflect"
	"strings"
	"unicode"
)

// snakeCase lower-cases s and joins its words with underscores. Words break
// on case changes (BlogPost, HTTPServer), on a letter followed by a digit
// (ReviewV2) and on any rune that is neither a letter nor a digit, so
// reflected names such as "*pkg.Item[T]" collapse into key-safe segments.
func snakeCase(s string) string {
	runes := []rune(s)
	words := make([]string, 0, 4)
	word := make([]rune, 0, len(runes))

	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = word[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 && wordBoundary(runes, i) {
			flush()
		}
		word = append(word, unicode.ToLower(r))
	}
	flush()

	return strings.Join(words, "_")
}

// wordBoundary reports whether runes[i] starts a new word. runes[i-1] is a
// letter or a digit.
func wordBoundary(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsUpper(r):
		if unicode.IsLower(prev) || unicode.IsDigit(prev) {
			return true
		}
		// the last capital of an acronym opens the next word: HTTP|Server
		return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
	case unicode.IsDigit(r):
		return unicode.IsLetter(prev)
	}
	return false
}

// fieldMatches reports whether a struct field holds the value named by a
// payload field: either its bun column or its snake_case Go name equals name.
func fieldMatches(f reflect.StructField, name string) bool {
	if name == "" || !f.IsExported() {
		return false
	}
	if column := bunColumn(f); column != "" {
		return column == name
	}
	return snakeCase(f.Name) == name
}

func bunColumn(f reflect.StructField) string {
	tag := f.Tag.Get("bun")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}
