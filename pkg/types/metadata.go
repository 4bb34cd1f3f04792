package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrMissingField = errors.New("missing required metadata field")

// Attribute is one (trait_type, value) pair of a metadata document
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// ContentMetadata is the JSON document referenced by an on-chain content pointer.
// It is immutable once uploaded; a correction is a new upload and a new pointer.
type ContentMetadata struct {
	Name        string
	Description string
	ImageURI    string
	FileURI     string
	Attributes  []Attribute

	// Extra holds fields not modelled above, preserved byte-for-byte
	Extra map[string]json.RawMessage
}

var knownMetadataFields = map[string]bool{
	"name":        true,
	"description": true,
	"image":       true,
	"file":        true,
	"attributes":  true,
}

// Validate checks the fields a reader needs: name and file
func (m *ContentMetadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if m.FileURI == "" {
		return fmt.Errorf("%w: file", ErrMissingField)
	}
	return nil
}

// Attribute returns the value of the first attribute with the given trait
func (m *ContentMetadata) Attribute(trait string) (any, bool) {
	for _, a := range m.Attributes {
		if a.TraitType == trait {
			return a.Value, true
		}
	}
	return nil, false
}

func (m *ContentMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out ContentMetadata
	fields := []struct {
		key string
		dst *string
	}{
		{"name", &out.Name},
		{"description", &out.Description},
		{"image", &out.ImageURI},
		{"file", &out.FileURI},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("field %q: %w", f.key, err)
		}
	}
	if v, ok := raw["attributes"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		if err := json.Unmarshal(v, &out.Attributes); err != nil {
			return fmt.Errorf("field %q: %w", "attributes", err)
		}
	}

	for k, v := range raw {
		if knownMetadataFields[k] {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	*m = out
	return nil
}

// MarshalJSON emits known fields first, then extra fields in key order
func (m ContentMetadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value any) error {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	attrs := m.Attributes
	if attrs == nil {
		attrs = []Attribute{}
	}
	known := []struct {
		key   string
		value any
	}{
		{"name", m.Name},
		{"description", m.Description},
		{"image", m.ImageURI},
		{"file", m.FileURI},
		{"attributes", attrs},
	}
	for _, f := range known {
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		if !knownMetadataFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, m.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
