package textutil_test

import (
	"testing"

	rtest "github.com/restic/snaprepo/internal/test"
	"github.com/restic/snaprepo/internal/textutil"
)

func TestHasLengthText(t *testing.T) {
	rtest.Assert(t, !textutil.HasLength(""), "empty string has no length")
	rtest.Assert(t, textutil.HasLength(" "), "blank string has length")

	rtest.Assert(t, !textutil.HasText(""), "empty string has no text")
	rtest.Assert(t, !textutil.HasText(" \t\n"), "blank string has no text")
	rtest.Assert(t, textutil.HasText("  x "), "string with a letter has text")
}

func TestTokenize(t *testing.T) {
	var tests = []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"additional-cfg.xml, conf-2.xml", []string{"additional-cfg.xml", "conf-2.xml"}},
		{",,a,, b ,", []string{"a", "b"}},
		{" , ", []string{}},
		{"single", []string{"single"}},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			rtest.Equals(t, test.want, textutil.Tokenize(test.in))
		})
	}
}

func TestTokenizeWith(t *testing.T) {
	rtest.Equals(t, []string{"a ", " b", " "}, textutil.TokenizeWith("a ; b; ", ";", false, false))
	rtest.Equals(t, []string{"a", "b", ""}, textutil.TokenizeWith("a ; b; ", ";", true, false))
	rtest.Equals(t, []string{"a", "b", "c"}, textutil.TokenizeWith("a;b:c", ";:", true, true))
}

func TestConcatenate(t *testing.T) {
	rtest.Equals(t, "", textutil.Concatenate([]string{}, ","))
	rtest.Equals(t, "a", textutil.Concatenate([]string{"a"}, ","))
	rtest.Equals(t, "a, b", textutil.Concatenate([]string{"a", "b"}, ", "))
	rtest.Equals(t, "123", textutil.Concatenate([]int{1, 2, 3}, ""))
}

func TestDeleteWhitespace(t *testing.T) {
	rtest.Equals(t, "", textutil.DeleteWhitespace(""))
	rtest.Equals(t, "abc", textutil.DeleteWhitespace("abc"))
	rtest.Equals(t, "abc", textutil.DeleteWhitespace(" a\tb\nc "))
}

func TestIsLowerCase(t *testing.T) {
	rtest.Assert(t, textutil.IsLowerCase(""), "empty string is lower case")
	rtest.Assert(t, textutil.IsLowerCase("repo-1_x"), "repo-1_x is lower case")
	rtest.Assert(t, !textutil.IsLowerCase("Repo"), "Repo is not lower case")
}
