package dictionary

import "strings"

// ProvenanceKind describes how a translation came to be attested.
type ProvenanceKind string

const (
	// ProvenanceUnknown is used for blank or unrecognized tags.
	ProvenanceUnknown ProvenanceKind = "UNKNOWN"
	// ProvenanceDirect is a translation recorded directly between the two languages.
	ProvenanceDirect ProvenanceKind = "DIRECT"
	// ProvenanceEncyclopedic comes from aligned encyclopedia article titles.
	ProvenanceEncyclopedic ProvenanceKind = "ENCYCLOPEDIC"
	// ProvenancePivot was inferred through an intermediate language.
	ProvenancePivot ProvenanceKind = "PIVOT"
)

// String returns the kind's wire name.
func (k ProvenanceKind) String() string { return string(k) }

// IsValid reports whether k is one of the declared kinds.
func (k ProvenanceKind) IsValid() bool {
	switch k {
	case ProvenanceUnknown, ProvenanceDirect, ProvenanceEncyclopedic, ProvenancePivot:
		return true
	}
	return false
}

func (k ProvenanceKind) rank() int {
	switch k {
	case ProvenanceDirect:
		return 3
	case ProvenanceEncyclopedic:
		return 2
	case ProvenancePivot:
		return 1
	}
	return 0
}

// Attestation is a source tag with its classification.
type Attestation struct {
	Tag  string         `json:"tag"`
	Kind ProvenanceKind `json:"kind"`
	// Lang is the language edition of the upstream resource, e.g. "fr" for
	// fr_wiktionary_meaning. Empty when the tag has no language prefix.
	Lang string `json:"lang"`
}

const pivotSuffix = "_meaning"

// ClassifySource derives the attestation for a raw source tag such as
// "io_wiktionary", "fr_wiktionary_meaning" or "io_wikipedia".
func ClassifySource(tag string) Attestation {
	a := Attestation{Tag: tag, Kind: ProvenanceDirect}
	lower := strings.ToLower(tag)

	if prefix, _, ok := strings.Cut(lower, "_"); ok && len(prefix) >= 2 && len(prefix) <= 3 {
		a.Lang = prefix
	}

	switch {
	case lower == "":
		a.Kind = ProvenanceUnknown
	case strings.HasSuffix(lower, pivotSuffix):
		a.Kind = ProvenancePivot
	case strings.Contains(lower, "wikipedia"):
		a.Kind = ProvenanceEncyclopedic
	}
	return a
}

func classifySources(tags []string) []Attestation {
	out := make([]Attestation, 0, len(tags))
	for _, t := range tags {
		out = append(out, ClassifySource(t))
	}
	return out
}

// PartOfSpeech is the grammatical category inferred from paradigm codes.
type PartOfSpeech string

// Parts of speech recognized by ClassifyMorphology. PartOfSpeechUnknown is
// returned when no code matches.
const (
	PartOfSpeechUnknown   PartOfSpeech = "UNKNOWN"
	PartOfSpeechNoun      PartOfSpeech = "NOUN"
	PartOfSpeechVerb      PartOfSpeech = "VERB"
	PartOfSpeechAdjective PartOfSpeech = "ADJECTIVE"
	PartOfSpeechAdverb    PartOfSpeech = "ADVERB"
)

// String returns the part of speech's wire name.
func (p PartOfSpeech) String() string { return string(p) }

// IsValid reports whether p is one of the declared parts of speech.
func (p PartOfSpeech) IsValid() bool {
	switch p {
	case PartOfSpeechUnknown, PartOfSpeechNoun, PartOfSpeechVerb, PartOfSpeechAdjective, PartOfSpeechAdverb:
		return true
	}
	return false
}

// Paradigm codes look like "o__n" (noun stem ending in -o) or "ar__v" (verb
// infinitive). Plain words come from encyclopedia-derived entries.
var posRules = []struct {
	pos      PartOfSpeech
	contains []string
	exact    []string
}{
	{PartOfSpeechNoun, []string{"__n", "o__"}, []string{"noun"}},
	{PartOfSpeechVerb, []string{"__v", "ar__"}, []string{"verb"}},
	{PartOfSpeechAdjective, []string{"__adj", "a__"}, []string{"adjective", "adj"}},
	{PartOfSpeechAdverb, []string{"__adv", "e__"}, []string{"adverb", "adv"}},
}

// ClassifyMorphology returns the part of speech of the first code that
// matches a known pattern.
func ClassifyMorphology(codes []string) PartOfSpeech {
	for _, code := range codes {
		if pos := classifyCode(strings.ToLower(strings.TrimSpace(code))); pos != PartOfSpeechUnknown {
			return pos
		}
	}
	return PartOfSpeechUnknown
}

func classifyCode(code string) PartOfSpeech {
	if code == "" {
		return PartOfSpeechUnknown
	}
	for _, r := range posRules {
		for _, e := range r.exact {
			if code == e {
				return r.pos
			}
		}
	}
	// Tag suffixes ("__adj") are more specific than stem endings ("a__").
	for _, r := range posRules {
		if strings.Contains(code, r.contains[0]) {
			return r.pos
		}
	}
	for _, r := range posRules {
		if strings.Contains(code, r.contains[1]) {
			return r.pos
		}
	}
	return PartOfSpeechUnknown
}
