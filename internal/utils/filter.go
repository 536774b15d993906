package utils

import (
	"unicode"
	"unicode/utf8"
)

// QueryProblem describes why a raw query was rejected before completion.
type QueryProblem int

const (
	QueryOK QueryProblem = iota
	QueryEmpty
	QueryTooLong
	QueryNotUTF8
	QueryControlChars
)

func (p QueryProblem) String() string {
	switch p {
	case QueryOK:
		return "ok"
	case QueryEmpty:
		return "empty query"
	case QueryTooLong:
		return "query too long"
	case QueryNotUTF8:
		return "query is not valid UTF-8"
	case QueryControlChars:
		return "query contains control characters"
	default:
		return "invalid query"
	}
}

// CheckQuery validates raw query text at a transport boundary.
// maxRunes <= 0 disables the length check. Tabs and newlines are allowed.
func CheckQuery(s string, maxRunes int, allowEmpty bool) QueryProblem {
	if s == "" {
		if allowEmpty {
			return QueryOK
		}
		return QueryEmpty
	}
	if !utf8.ValidString(s) {
		return QueryNotUTF8
	}
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return QueryTooLong
	}
	if ContainsControlChars(s) {
		return QueryControlChars
	}
	return QueryOK
}

// ContainsControlChars reports control characters other than whitespace.
func ContainsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
