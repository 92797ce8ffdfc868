// Package trace models recorded or synthetic editing sessions and replays
// them through a caret session.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/caretd/internal/domain/caret"
)

// Trace is an ordered list of editor events plus the session settings
// they were captured under.
type Trace struct {
	ID         string            `yaml:"id" json:"id"`
	Name       string            `yaml:"name,omitempty" json:"name,omitempty"`
	DeviceTier *caret.DeviceTier `yaml:"device_tier,omitempty" json:"device_tier,omitempty"`
	Thresholds *caret.Thresholds `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Policy     *caret.Policy     `yaml:"policy,omitempty" json:"policy,omitempty"`
	Region     *caret.Region     `yaml:"region,omitempty" json:"region,omitempty"`
	// TickMS is the host flush period. Zero replays without flush ticks.
	TickMS uint64 `yaml:"tick_ms,omitempty" json:"tick_ms,omitempty"`
	// EndMS, when past the last step, keeps ticking until then.
	EndMS  uint64               `yaml:"end_ms,omitempty" json:"end_ms,omitempty"`
	Steps  []Step               `yaml:"steps" json:"steps"`
	Expect []caret.PrimaryState `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Span is a selection range. Start == End is a collapsed caret.
type Span struct {
	Start uint32 `yaml:"start" json:"start"`
	End   uint32 `yaml:"end" json:"end"`
}

// Step is one event in a trace. A missing selection means a collapsed
// caret at Caret.
type Step struct {
	Kind      caret.EventKind     `yaml:"kind" json:"kind"`
	AtMS      uint64              `yaml:"at" json:"at"`
	Caret     uint32              `yaml:"caret" json:"caret"`
	TextLen   uint32              `yaml:"text_len" json:"text_len"`
	Selection *Span               `yaml:"selection,omitempty" json:"selection,omitempty"`
	Modality  caret.InputModality `yaml:"modality,omitempty" json:"modality,omitempty"`
	Field     caret.FieldKind     `yaml:"field,omitempty" json:"field,omitempty"`
	IME       bool                `yaml:"ime,omitempty" json:"ime,omitempty"`
	Blocked   bool                `yaml:"blocked,omitempty" json:"blocked,omitempty"`
	InputType string              `yaml:"input_type,omitempty" json:"input_type,omitempty"`
}

// Event converts s to an engine event.
func (s Step) Event() caret.Event {
	sel := caret.Selection{Collapsed: true, Start: s.Caret, End: s.Caret}
	if s.Selection != nil {
		sel = caret.Selection{
			Collapsed: s.Selection.Start == s.Selection.End,
			Start:     s.Selection.Start,
			End:       s.Selection.End,
		}
	}
	return caret.Event{
		Kind:        s.Kind,
		TimestampMS: s.AtMS,
		Caret:       s.Caret,
		TextLen:     s.TextLen,
		Selection:   sel,
		Modality:    s.Modality,
		FieldKind:   s.Field,
		IMEActive:   s.IME,
		Blocked:     s.Blocked,
		InputType:   s.InputType,
	}
}

// StepOf converts an engine event to a step.
func StepOf(ev caret.Event) Step { //nolint:gocritic // hugeParam: events are values
	st := Step{
		Kind:      ev.Kind,
		AtMS:      ev.TimestampMS,
		Caret:     ev.Caret,
		TextLen:   ev.TextLen,
		Modality:  ev.Modality,
		Field:     ev.FieldKind,
		IME:       ev.IMEActive,
		Blocked:   ev.Blocked,
		InputType: ev.InputType,
	}
	if !ev.Selection.Collapsed || ev.Selection.Start != ev.Caret || ev.Selection.End != ev.Caret {
		st.Selection = &Span{Start: ev.Selection.Start, End: ev.Selection.End}
	}
	return st
}

// Validate reports the first problem that would prevent a replay.
func (t *Trace) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTrace)
	}
	if t.DeviceTier != nil && !t.DeviceTier.Valid() {
		return fmt.Errorf("%w: device tier %d", ErrInvalidTrace, *t.DeviceTier)
	}
	if t.Thresholds != nil {
		if err := t.Thresholds.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrace, err)
		}
	}
	if t.Region != nil && t.Region.Start > t.Region.End {
		return fmt.Errorf("%w: region start %d after end %d", ErrInvalidTrace, t.Region.Start, t.Region.End)
	}
	for i := range t.Steps {
		if err := t.Steps[i].Event().Validate(); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrInvalidTrace, i, err)
		}
	}
	return nil
}

// Format is a trace file encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the encoding from a file extension. YAML is the default.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode reads one trace from r and validates it.
func Decode(r io.Reader, f Format) (*Trace, error) {
	var t Trace
	var err error
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		err = dec.Decode(&t)
	default:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		err = dec.Decode(&t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidTrace, f, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Encode writes t to w.
func Encode(w io.Writer, t *Trace, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return err
		}
		return enc.Close()
	}
}

// Load reads a trace file.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatFor(path))
}

// Save writes a trace file, creating parent directories.
func Save(path string, t *Trace) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	if err := Encode(f, t, FormatFor(path)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write trace: %w", err)
	}
	return f.Close()
}
