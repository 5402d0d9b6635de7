package script

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/reply"
)

var (
	ErrMalformedDocument = errors.New("malformed document")
	ErrSchemaMismatch    = errors.New("schema mismatch")
)

//go:embed schema.json
var schemaJSON string

var topLevel = jsonschema.MustCompileString("script.schema.json", schemaJSON)

// DocumentError reports why a document was rejected. Kind is one of
// ErrMalformedDocument or ErrSchemaMismatch; Snippet is the offending text,
// truncated for display.
type DocumentError struct {
	Kind    error
	Snippet string
	Err     error
}

func (e *DocumentError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *DocumentError) Unwrap() []error { return []error{e.Kind, e.Err} }

func docErr(kind error, text string, err error) error {
	return &DocumentError{Kind: kind, Snippet: reply.Truncate(text, 0), Err: err}
}

// Parse decodes a normalized document. Only the top-level shape is checked;
// layers and actions are decoded leniently and judged at execution time.
func Parse(text string) (*Script, error) {
	if strings.TrimSpace(text) == "" {
		return nil, docErr(ErrMalformedDocument, text, errors.New("empty document"))
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, docErr(ErrMalformedDocument, text, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, docErr(ErrMalformedDocument, text, errors.New("trailing data after document"))
	}

	if err := topLevel.Validate(tree); err != nil {
		return nil, docErr(ErrSchemaMismatch, text, err)
	}

	var s Script
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, docErr(ErrSchemaMismatch, text, err)
	}
	if s.Palette == nil {
		s.Palette = map[string]string{}
	}
	return &s, nil
}

// Marshal serializes s so that Parse(Marshal(s)) is semantically equal to s.
func Marshal(s *Script) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil script")
	}
	out := *s
	if out.Palette == nil {
		out.Palette = map[string]string{}
	}
	return json.Marshal(out)
}

// Volume is an upper bound on the voxel writes s can issue, saturating at
// math.MaxInt64. Malformed actions count as zero.
func (s *Script) Volume() int64 {
	if s == nil {
		return 0
	}
	var n int64
	for _, l := range s.Structure {
		for _, a := range l.Actions {
			switch a.Op() {
			case OpFill, OpFrame:
				from, ok1 := a.From.Vec()
				to, ok2 := a.To.Vec()
				if !ok1 || !ok2 {
					continue
				}
				b := geom.BoxOf(from, to)
				if a.Op() == OpFrame {
					n = geom.AddSat(n, b.ShellVolume())
				} else {
					n = geom.AddSat(n, b.Volume())
				}
			case OpSet:
				n = geom.AddSat(n, int64(len(a.At)))
			}
		}
	}
	return n
}

// Actions counts the actions across all layers.
func (s *Script) Actions() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, l := range s.Structure {
		n += len(l.Actions)
	}
	return n
}
