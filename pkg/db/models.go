package db

// EntryRow is one stored headword without its child rows.
type EntryRow struct {
	ID           int64
	Lemma        string
	PartOfSpeech string
	Provenance   string
	Position     int
}

// SourceRow is a stored source tag with the number of entries it attests.
type SourceRow struct {
	ID      int64
	Tag     string
	Kind    string
	Lang    string
	Entries int
}
