package dictionary

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
)

// Variant identifies which on-disk schema a payload uses.
type Variant int

const (
	// VariantFlat is {"metadata": {...}, "<lemma>": {"esperanto_words": [...], ...}, ...}.
	VariantFlat Variant = iota + 1
	// VariantStructured is {"version", "generation_date", "statistics", "entries": [...]}.
	VariantStructured
)

func (v Variant) String() string {
	switch v {
	case VariantFlat:
		return "flat"
	case VariantStructured:
		return "structured"
	}
	return "unknown"
}

const metadataKey = "metadata"

// field is one top-level member of the payload object, kept in document order.
type field struct {
	key   string
	value json.RawMessage
}

// Normalizer turns raw dictionary payloads into a uniform Corpus.
type Normalizer struct {
	// TargetLang selects which structured-format translations are kept.
	TargetLang string
}

// NewNormalizer returns a Normalizer for the given translation language.
// An empty code selects DefaultTargetLang.
func NewNormalizer(targetLang string) Normalizer {
	targetLang = strings.TrimSpace(targetLang)
	if targetLang == "" {
		targetLang = DefaultTargetLang
	}
	return Normalizer{TargetLang: targetLang}
}

// Normalize parses a payload with the default target language.
func Normalize(raw []byte) (*Corpus, error) {
	return NewNormalizer("").Normalize(raw)
}

// DetectVariant reports which schema the payload follows. It fails only when
// the payload is not a JSON object.
func DetectVariant(raw []byte) (Variant, error) {
	fields, err := readObject(raw)
	if err != nil {
		return 0, err
	}
	v, _ := detect(fields)
	return v, nil
}

// Normalize parses raw and maps it into entries and metadata. Only a payload
// that is not a JSON object is rejected; every deeper shape problem is
// replaced by an empty default.
func (n Normalizer) Normalize(raw []byte) (*Corpus, error) {
	fields, err := readObject(raw)
	if err != nil {
		return nil, err
	}

	target := n.TargetLang
	if target == "" {
		target = DefaultTargetLang
	}

	variant, entries := detect(fields)
	switch variant {
	case VariantStructured:
		return normalizeStructured(fields, entries, target), nil
	default:
		return normalizeFlat(fields), nil
	}
}

func readObject(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedInputError{Reason: "empty payload"}
		}
		return nil, &MalformedInputError{Reason: "invalid json", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &MalformedInputError{Reason: "top level is not an object"}
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &MalformedInputError{Reason: "invalid json", Err: err}
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, &MalformedInputError{Reason: "invalid json", Err: err}
		}
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, &MalformedInputError{Reason: "invalid json", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &MalformedInputError{Reason: "trailing data after object"}
	}
	return fields, nil
}

// detect picks the structured variant when "entries" holds an array. The
// decoded array is returned so it is not parsed twice.
func detect(fields []field) (Variant, []json.RawMessage) {
	for _, f := range fields {
		if f.key != "entries" {
			continue
		}
		var items []json.RawMessage
		if isArray(f.value) && json.Unmarshal(f.value, &items) == nil {
			return VariantStructured, items
		}
	}
	return VariantFlat, nil
}

type flatEntry struct {
	EsperantoWords json.RawMessage `json:"esperanto_words"`
	Morfologio     json.RawMessage `json:"morfologio"`
	Sources        json.RawMessage `json:"sources"`
}

type flatMetadata struct {
	TotalUniqueIdoWords json.RawMessage `json:"total_unique_ido_words"`
	LastUpdated         json.RawMessage `json:"last_updated"`
	SourceStats         json.RawMessage `json:"source_stats"`
}

func normalizeFlat(fields []field) *Corpus {
	b := newBuilder(len(fields))
	var rawMeta json.RawMessage

	for _, f := range fields {
		if f.key == metadataKey {
			rawMeta = f.value
			continue
		}
		var fe flatEntry
		if isObject(f.value) {
			_ = json.Unmarshal(f.value, &fe)
		}
		// A repeated key replaces the earlier value, as a JSON object would.
		b.put(f.key, stringList(fe.EsperantoWords), stringList(fe.Morfologio), stringList(fe.Sources))
	}

	corpus := &Corpus{Entries: b.entries, Variant: VariantFlat}
	if len(rawMeta) == 0 || isNull(rawMeta) {
		return corpus
	}

	var fm flatMetadata
	if isObject(rawMeta) {
		_ = json.Unmarshal(rawMeta, &fm)
	}
	meta := &Metadata{
		TotalEntries: len(b.entries),
		LastUpdated:  stringValue(fm.LastUpdated),
		SourceStats:  statsMap(fm.SourceStats),
		Raw:          rawMeta,
	}
	if total, ok := intValue(fm.TotalUniqueIdoWords); ok {
		meta.TotalEntries = total
	}
	corpus.Metadata = meta
	return corpus
}

type structuredEntry struct {
	Lemma         json.RawMessage `json:"lemma"`
	Translations  json.RawMessage `json:"translations"`
	Morphology    json.RawMessage `json:"morphology"`
	SourceDetails json.RawMessage `json:"source_details"`
}

type structuredTranslation struct {
	Term json.RawMessage `json:"term"`
	Lang json.RawMessage `json:"lang"`
}

type structuredStats struct {
	TotalEntries    json.RawMessage `json:"total_entries"`
	OriginalSources json.RawMessage `json:"original_sources"`
}

func normalizeStructured(fields []field, items []json.RawMessage, target string) *Corpus {
	b := newBuilder(len(items))
	for _, item := range items {
		if !isObject(item) {
			continue
		}
		var se structuredEntry
		if err := json.Unmarshal(item, &se); err != nil {
			continue
		}
		lemma := stringValue(se.Lemma)
		if lemma == nil {
			continue
		}
		b.merge(*lemma,
			targetTerms(se.Translations, target),
			paradigms(se.Morphology),
			allSources(se.SourceDetails),
		)
	}

	var (
		stats     structuredStats
		generated *string
	)
	for _, f := range fields {
		switch f.key {
		case "statistics":
			if isObject(f.value) {
				_ = json.Unmarshal(f.value, &stats)
			}
		case "generation_date":
			generated = stringValue(f.value)
		}
	}

	meta := &Metadata{
		TotalEntries: len(b.entries),
		LastUpdated:  generated,
		SourceStats:  statsMap(stats.OriginalSources),
	}
	if total, ok := intValue(stats.TotalEntries); ok {
		meta.TotalEntries = total
	}
	return &Corpus{Entries: b.entries, Metadata: meta, Variant: VariantStructured}
}

func targetTerms(raw json.RawMessage, target string) []string {
	var items []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var t structuredTranslation
		if !isObject(item) || json.Unmarshal(item, &t) != nil {
			continue
		}
		lang := stringValue(t.Lang)
		if lang == nil || !strings.EqualFold(strings.TrimSpace(*lang), target) {
			continue
		}
		if term := stringValue(t.Term); term != nil && strings.TrimSpace(*term) != "" {
			out = append(out, *term)
		}
	}
	return out
}

// paradigms accepts {"paradigm": "o__n"}, a plain list of codes, or null.
func paradigms(raw json.RawMessage) []string {
	if isArray(raw) {
		return stringList(raw)
	}
	var m struct {
		Paradigm json.RawMessage `json:"paradigm"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &m) != nil {
		return []string{}
	}
	if p := stringValue(m.Paradigm); p != nil && strings.TrimSpace(*p) != "" {
		return []string{*p}
	}
	return []string{}
}

func allSources(raw json.RawMessage) []string {
	var sd struct {
		AllSources json.RawMessage `json:"all_sources"`
	}
	if !isObject(raw) || json.Unmarshal(raw, &sd) != nil {
		return []string{}
	}
	return stringList(sd.AllSources)
}

// builder accumulates entries keyed by lemma while keeping first-seen order.
type builder struct {
	entries []Entry
	index   map[string]int
}

func newBuilder(hint int) *builder {
	return &builder{
		entries: make([]Entry, 0, hint),
		index:   make(map[string]int, hint),
	}
}

// put replaces any earlier entry for lemma in place.
func (b *builder) put(lemma string, translations, morphology, sources []string) {
	if strings.TrimSpace(lemma) == "" {
		return
	}
	e := newEntry(lemma, translations, morphology, sources)
	if i, ok := b.index[lemma]; ok {
		b.entries[i] = e
		return
	}
	b.index[lemma] = len(b.entries)
	b.entries = append(b.entries, e)
}

// merge unions the fields of a repeated lemma into its first occurrence.
func (b *builder) merge(lemma string, translations, morphology, sources []string) {
	if strings.TrimSpace(lemma) == "" {
		return
	}
	i, ok := b.index[lemma]
	if !ok {
		b.index[lemma] = len(b.entries)
		b.entries = append(b.entries, newEntry(lemma, translations, morphology, sources))
		return
	}
	prev := b.entries[i]
	b.entries[i] = newEntry(lemma,
		union(prev.Translations, translations),
		union(prev.Morphology, morphology),
		union(prev.Sources, sources),
	)
}

func newEntry(lemma string, translations, morphology, sources []string) Entry {
	sources = union(nil, sources)
	return Entry{
		Lemma:        lemma,
		Translations: translations,
		Morphology:   morphology,
		Sources:      sources,
		Provenance:   classifySources(sources),
		PartOfSpeech: ClassifyMorphology(morphology),
	}
}

// union appends the members of b missing from a, preserving order.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// stringList accepts a list (non-string and blank items are dropped), a
// single string, or anything else as empty.
func stringList(raw json.RawMessage) []string {
	if s := stringValue(raw); s != nil {
		if strings.TrimSpace(*s) == "" {
			return []string{}
		}
		return []string{*s}
	}
	var items []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := stringValue(item); s != nil && strings.TrimSpace(*s) != "" {
			out = append(out, *s)
		}
	}
	return out
}

// stringValue returns nil for a missing, null or non-string value.
func stringValue(raw json.RawMessage) *string {
	var s string
	if len(raw) == 0 || isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	return &s
}

// intValue accepts only integral numbers that fit in an int. Null, missing
// and anything else report false so callers keep their default.
func intValue(raw json.RawMessage) (int, bool) {
	var f float64
	if len(raw) == 0 || isNull(raw) || json.Unmarshal(raw, &f) != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, false
	}
	return int(f), true
}

func statsMap(raw json.RawMessage) map[string]int {
	out := map[string]int{}
	var m map[string]json.RawMessage
	if !isObject(raw) || json.Unmarshal(raw, &m) != nil {
		return out
	}
	for k, v := range m {
		if n, ok := intValue(v); ok {
			out[k] = n
		}
	}
	return out
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isObject(raw json.RawMessage) bool { return firstByte(raw) == '{' }
func isArray(raw json.RawMessage) bool  { return firstByte(raw) == '[' }
func isNull(raw json.RawMessage) bool   { return bytes.Equal(bytes.TrimSpace(raw), []byte("null")) }
