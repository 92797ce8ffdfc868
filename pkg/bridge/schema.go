package bridge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/okian/caretd/internal/domain/caret"
)

//go:embed event.schema.json
var eventSchemaJSON []byte

const schemaURL = "https://caretd.dev/schema/event.schema.json"

type schemas struct {
	event      *jsonschema.Schema
	batch      *jsonschema.Schema
	thresholds *jsonschema.Schema
}

var loadSchemas = sync.OnceValues(func() (*schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(eventSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	var (
		s   schemas
		err error
	)
	if s.event, err = c.Compile(schemaURL + "#/$defs/event"); err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	if s.batch, err = c.Compile(schemaURL); err != nil {
		return nil, fmt.Errorf("compile batch schema: %w", err)
	}
	if s.thresholds, err = c.Compile(schemaURL + "#/$defs/thresholds"); err != nil {
		return nil, fmt.Errorf("compile thresholds schema: %w", err)
	}
	return &s, nil
})

// EventDoc is one JSON event as accepted at the boundary. ID is an
// optional host id used for idempotent delivery.
type EventDoc struct {
	ID string `json:"id,omitempty"`
	caret.Event
}

func validate(sch func(*schemas) *jsonschema.Schema, data []byte) error {
	if !utf8.Valid(data) {
		return ErrBadEncoding
	}
	s, err := loadSchemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	if err := sch(s).Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

// EventSchema returns the JSON Schema accepted by the JSON decoders.
func EventSchema() []byte { return bytes.Clone(eventSchemaJSON) }

// DecodeEvent validates data against the event schema and decodes it.
func DecodeEvent(data []byte) (EventDoc, error) {
	var doc EventDoc
	if err := validate(func(s *schemas) *jsonschema.Schema { return s.event }, data); err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return doc, doc.Validate()
}

// DecodeEvents accepts a single event object or an array of them.
func DecodeEvents(data []byte) ([]EventDoc, error) {
	if err := validate(func(s *schemas) *jsonschema.Schema { return s.batch }, data); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	var docs []EventDoc
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchema, err)
		}
	} else {
		var one EventDoc
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchema, err)
		}
		docs = []EventDoc{one}
	}
	for i := range docs {
		if err := docs[i].Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return docs, nil
}

// DecodeThresholds validates and decodes a full threshold set.
func DecodeThresholds(data []byte) (caret.Thresholds, error) {
	var t caret.Thresholds
	if err := validate(func(s *schemas) *jsonschema.Schema { return s.thresholds }, data); err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return t, t.Validate()
}
