package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Alice123", "alice123"},
		{"trims whitespace", "  alice  ", "alice"},
		{"collapses spaces to hyphen", "foo bar", "foo-bar"},
		{"collapses underscores", "foo__bar", "foo-bar"},
		{"drops symbols", "al!ce@", "alce"},
		{"strips leading and trailing separators", "_alice_", "alice"},
		{"empty input", "", ""},
		{"only symbols", "@#$%", ""},
		{"mixed", "  My_User 42! ", "my-user-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"Alice123", "  foo Bar  ", "a__b", "@weird!name", "alice7"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize should be idempotent for %q", in)
	}
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, IsValidFormat("alice123"))
	assert.True(t, IsValidFormat("a"))
	assert.False(t, IsValidFormat("foo-bar"))
	assert.False(t, IsValidFormat("Alice"))
	assert.False(t, IsValidFormat(""))
	assert.False(t, IsValidFormat("alice_7"))
}

func TestIsTrivial(t *testing.T) {
	trivial := []string{"111", "123456", "admin", "aaa", "0000", "qwerty", "test", "guest", "9999999", ""}
	for _, h := range trivial {
		assert.True(t, IsTrivial(h), "expected %q to be trivial", h)
	}

	acceptable := []string{"alice7", "dragon99", "bob", "12a", "aab"}
	for _, h := range acceptable {
		assert.False(t, IsTrivial(h), "expected %q to be acceptable", h)
	}
}

func TestIsTrivial_ShortRepeats(t *testing.T) {
	// two repeated runes are below the repetition threshold
	assert.False(t, IsTrivial("aa"))
	assert.True(t, IsTrivial("aaa"))
	assert.True(t, IsTrivial("aaaa"))
}
