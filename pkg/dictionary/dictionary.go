package dictionary

import "encoding/json"

// DefaultTargetLang is the translation language kept from structured payloads
// when the caller does not configure one.
const DefaultTargetLang = "eo"

// Entry is one normalized dictionary headword with its translations.
// Slices are never nil after normalization. Entries handed out by a loaded
// corpus are shared and must be treated as read-only.
type Entry struct {
	Lemma        string        `json:"lemma"`
	Translations []string      `json:"translations"`
	Morphology   []string      `json:"morphology"`
	Sources      []string      `json:"sources"`
	Provenance   []Attestation `json:"provenance"`
	PartOfSpeech PartOfSpeech  `json:"part_of_speech"`
}

// HasSource reports whether the entry was attested by any of the given tags.
func (e Entry) HasSource(tags map[string]struct{}) bool {
	for _, s := range e.Sources {
		if _, ok := tags[s]; ok {
			return true
		}
	}
	return false
}

// Strongest returns the most trustworthy provenance kind among the entry's
// attestations: direct beats encyclopedic, which beats pivot.
func (e Entry) Strongest() ProvenanceKind {
	best := ProvenanceUnknown
	for _, a := range e.Provenance {
		if a.Kind.rank() > best.rank() {
			best = a.Kind
		}
	}
	return best
}

// Metadata summarizes a corpus as a whole.
type Metadata struct {
	TotalEntries int            `json:"total_entries"`
	LastUpdated  *string        `json:"last_updated"`
	SourceStats  map[string]int `json:"source_stats"`
	// Raw holds the flat-format metadata object exactly as it was received.
	Raw json.RawMessage `json:"-"`
}

// Corpus is the output of one normalization run.
type Corpus struct {
	Entries  []Entry
	Metadata *Metadata
	Variant  Variant
}
