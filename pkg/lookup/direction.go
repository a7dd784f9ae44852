package lookup

import "strings"

// Direction selects which side of an entry substring search looks at.
type Direction int

const (
	// Forward searches lemmas (source language → target language).
	Forward Direction = iota
	// Reverse searches translations (target language → source language).
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Toggle returns the opposite direction.
func (d Direction) Toggle() Direction {
	if d == Reverse {
		return Forward
	}
	return Reverse
}

// LanguagePair names the two languages of a bilingual corpus.
type LanguagePair struct {
	Source string
	Target string
}

// DefaultPair is the Ido → Esperanto corpus.
var DefaultPair = LanguagePair{Source: "io", Target: "eo"}

// Token renders the direction as "<from>-<to>", e.g. "io-eo" for Forward.
func (p LanguagePair) Token(d Direction) string {
	if d == Reverse {
		return p.Target + "-" + p.Source
	}
	return p.Source + "-" + p.Target
}

// ParseDirection maps a token produced by Token back to a Direction.
func (p LanguagePair) ParseDirection(token string) (Direction, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	switch token {
	case strings.ToLower(p.Token(Forward)):
		return Forward, true
	case strings.ToLower(p.Token(Reverse)):
		return Reverse, true
	}
	return Forward, false
}
