// Package deeplink encodes a search direction and query into a URL fragment
// such as "io-eo:kavalo" and parses such fragments back.
package deeplink

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/japaniel/vortaro/pkg/lookup"
)

// Link is a decoded fragment.
type Link struct {
	Direction lookup.Direction
	// HasDirection is false when the fragment carried no recognized
	// direction token; Direction is then meaningless.
	HasDirection bool
	Query        string
}

// Codec converts between links and fragments for one language pair.
type Codec struct {
	Pair lookup.LanguagePair
}

// New returns a Codec for pair.
func New(pair lookup.LanguagePair) Codec {
	return Codec{Pair: pair}
}

// Encode renders direction and query as "<token>:<escaped query>". The query
// is escaped like a URI component: everything except ASCII letters, digits
// and -_.!~*'() is percent-encoded as UTF-8.
func (c Codec) Encode(d lookup.Direction, query string) string {
	return c.Pair.Token(d) + ":" + EscapeComponent(query)
}

// Decode parses a fragment, with or without its leading '#'.
//
// When the text before the first ':' is a direction token of the pair, the
// rest is the query. Otherwise the whole fragment is the query and no
// direction is set. Invalid percent escapes, or escapes that do not decode to
// UTF-8, leave the text undecoded.
func (c Codec) Decode(hash string) Link {
	hash = strings.TrimPrefix(hash, "#")
	if hash == "" {
		return Link{}
	}
	if i := strings.IndexByte(hash, ':'); i > 0 {
		if d, ok := c.parseToken(hash[:i]); ok {
			return Link{Direction: d, HasDirection: true, Query: unescape(hash[i+1:])}
		}
	}
	return Link{Query: unescape(hash)}
}

// parseToken is exact: fragments are matched as written.
func (c Codec) parseToken(token string) (lookup.Direction, bool) {
	switch token {
	case c.Pair.Token(lookup.Forward):
		return lookup.Forward, true
	case c.Pair.Token(lookup.Reverse):
		return lookup.Reverse, true
	}
	return lookup.Forward, false
}

func unescape(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil || !utf8.ValidString(out) {
		return s
	}
	return out
}

const upperhex = "0123456789ABCDEF"

// EscapeComponent percent-encodes s with the same unreserved set as
// JavaScript's encodeURIComponent.
func EscapeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
