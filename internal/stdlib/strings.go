package stdlib

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// StringsLib provides text utilities.
type StringsLib struct{}

var (
	slugInvalid  = regexp.MustCompile(`[^\w-]`)
	slugHyphens  = regexp.MustCompile(`-{2,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Slugify lowercases, converts whitespace to hyphens, strips everything
// that is not a word character or hyphen, and collapses/trims hyphens.
func (s *StringsLib) Slugify(in string) string {
	out := strings.ToLower(strings.TrimSpace(in))
	out = whitespaceRe.ReplaceAllString(out, "-")
	out = slugInvalid.ReplaceAllString(out, "")
	out = slugHyphens.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

// Pluralize returns word for count 1, otherwise the supplied plural form
// (or word+"s" when plural is empty).
func (s *StringsLib) Pluralize(count int64, word, plural string) string {
	if count == 1 {
		return word
	}
	if plural != "" {
		return plural
	}
	return word + "s"
}

var htmlEscapes = []struct{ raw, escaped string }{
	{"&", "&amp;"}, // must run first on escape, last on unescape
	{"<", "&lt;"},
	{">", "&gt;"},
	{`"`, "&quot;"},
	{"'", "&#39;"},
}

// EscapeHTML escapes the five HTML-reserved characters.
func (s *StringsLib) EscapeHTML(in string) string {
	out := in
	for _, e := range htmlEscapes {
		out = strings.ReplaceAll(out, e.raw, e.escaped)
	}
	return out
}

// UnescapeHTML reverses EscapeHTML exactly.
func (s *StringsLib) UnescapeHTML(in string) string {
	out := in
	for i := len(htmlEscapes) - 1; i >= 0; i-- {
		out = strings.ReplaceAll(out, htmlEscapes[i].escaped, htmlEscapes[i].raw)
	}
	return out
}

// WordCount counts whitespace-separated words, excluding blanks.
func (s *StringsLib) WordCount(in string) int {
	return len(strings.Fields(in))
}

// TruncateWords cuts the text at a word boundary after max words and
// appends suffix when anything was removed.
func (s *StringsLib) TruncateWords(in string, max int64, suffix string) string {
	words := strings.Fields(in)
	if int64(len(words)) <= max {
		return in
	}
	if max < 0 {
		max = 0
	}
	return strings.Join(words[:max], " ") + suffix
}

// charsets are the named alphabets RandomString draws from.
var charsets = map[string]string{
	"alpha":        "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"numeric":      "0123456789",
	"alphanumeric": "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789",
	"hex":          "0123456789abcdef",
}

// RandomString generates n characters from the named character set
// (alpha, numeric, alphanumeric, hex). Empty name means alphanumeric.
func (s *StringsLib) RandomString(n int64, charset string) (string, error) {
	if charset == "" {
		charset = "alphanumeric"
	}
	alphabet, ok := charsets[charset]
	if !ok {
		return "", fmt.Errorf("unknown character set %q", charset)
	}
	if n < 0 {
		n = 0
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
