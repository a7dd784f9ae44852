package dictionary

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks transport failures while retrieving a corpus.
	ErrFetch = errors.New("dictionary fetch failed")
	// ErrMalformedInput marks payloads that match neither schema variant.
	ErrMalformedInput = errors.New("malformed dictionary payload")
)

// FetchError describes a failure to retrieve a corpus from its source.
type FetchError struct {
	Source string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// MalformedInputError reports why a payload could not be normalized.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed dictionary: %s: %v", e.Reason, e.Err)
	}
	return "malformed dictionary: " + e.Reason
}

func (e *MalformedInputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedInput}
	}
	return []error{ErrMalformedInput, e.Err}
}
