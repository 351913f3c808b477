// Package handle implements the username normalization and trivialness policy.
// Any client-side pre-check must mirror this logic exactly so that a handle
// accepted by the form is never rejected by the server.
package handle

import (
	"regexp"
	"strings"
)

var (
	formatPattern    = regexp.MustCompile(`^[a-z0-9]+$`)
	allDigitsPattern = regexp.MustCompile(`^\d{3,}$`)
	separatorRuns    = regexp.MustCompile(`[\s_]+`)
	invalidChars     = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns       = regexp.MustCompile(`-{2,}`)
)

// deniedHandles is the fixed deny-list of common weak handles.
var deniedHandles = map[string]struct{}{
	"123": {}, "1234": {}, "12345": {}, "123456": {}, "000": {}, "0000": {},
	"111": {}, "1111": {},
	"qwe": {}, "qwer": {}, "qwert": {}, "qwerty": {}, "asdf": {}, "zxc": {},
	"zxcv": {}, "zxcvb": {}, "qaz": {}, "qazwsx": {},
	"test": {}, "tester": {}, "testing": {}, "guest": {}, "user": {},
	"username": {}, "admin": {}, "root": {}, "null": {}, "void": {},
	"abc": {}, "abcd": {}, "abcdef": {},
}

// Normalize lowercases and trims the raw handle and collapses it to an
// identifier-safe form: whitespace and underscore runs become single hyphens,
// every other symbol is dropped. Returns "" when nothing survives. Idempotent.
func Normalize(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	h = separatorRuns.ReplaceAllString(h, "-")
	h = invalidChars.ReplaceAllString(h, "")
	h = hyphenRuns.ReplaceAllString(h, "-")
	return strings.Trim(h, "-")
}

// IsValidFormat reports whether the handle is strictly lowercase alphanumeric.
// Separators surviving normalization (e.g. from "foo bar") fail here.
func IsValidFormat(h string) bool {
	return formatPattern.MatchString(h)
}

// IsTrivial rejects low-entropy handles: all-digit handles of length >= 3, a
// single rune repeated 3+ times, and members of the fixed deny-list.
func IsTrivial(h string) bool {
	if h == "" {
		return true
	}

	if allDigitsPattern.MatchString(h) {
		return true
	}

	if isSingleRuneRepeated(h) {
		return true
	}

	if _, denied := deniedHandles[h]; denied {
		return true
	}

	return false
}

func isSingleRuneRepeated(h string) bool {
	runes := []rune(h)
	if len(runes) < 3 {
		return false
	}
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}
