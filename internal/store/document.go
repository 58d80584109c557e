package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Document is the persisted application data: a JSON object with a
// "version" field and application-defined fields this package never
// interprets.
//
// Numbers are held as [json.Number] so they are written back exactly as
// they were read.
type Document map[string]any

// DefaultDocument returns the document used when nothing can be loaded:
// {"version": 1, "days": [], "goals": []}.
func DefaultDocument() Document {
	return Document{
		"version": json.Number("1"),
		"days":    []any{},
		"goals":   []any{},
	}
}

// ParseDocument decodes data into a Document. Anything other than a single
// JSON object is rejected.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document

	err := dec.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if doc == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, ErrNotObject)
	}

	var extra json.RawMessage

	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrInvalidDocument)
	}

	return doc, nil
}

// Encode renders doc as indented JSON with a trailing newline. A nil
// Document is rejected since it would encode as null.
func (d Document) Encode() ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, ErrNotObject)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	return append(data, '\n'), nil
}

// Version returns the "version" field as an integer. The second result is
// false if the field is missing or not an integer.
func (d Document) Version() (int, bool) {
	switch v := d["version"].(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())

		return n, err == nil
	case int:
		return v, true
	case float64:
		n := int(v)

		return n, float64(n) == v
	default:
		return 0, false
	}
}
