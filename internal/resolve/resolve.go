// Package resolve maps palette identifiers onto catalog blocks, falling back
// to the nearest spelling and then to a safe default.
package resolve

import (
	"fmt"
	"strings"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/diag"
)

// MaxFuzzyScore is the largest edit distance a fuzzy candidate may have.
const MaxFuzzyScore = 6

const (
	DefaultNamespace = "minecraft"
	DefaultFallback  = "minecraft:stone"
)

// Catalog is what resolution needs from a block catalog. IDs must return a
// stable order: it breaks fuzzy ties.
type Catalog interface {
	Contains(id string) bool
	Get(id string) (catalogs.BlockDef, bool)
	IDs() []string
}

type Options struct {
	DefaultNamespace string
	Fallback         string
}

type Kind int

const (
	Exact Kind = iota
	Fuzzy
	Fallback
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Fuzzy:
		return "fuzzy"
	default:
		return "fallback"
	}
}

type Match struct {
	Block catalogs.BlockDef
	Kind  Kind
	// Score is the edit distance of a fuzzy match; zero otherwise.
	Score int
}

type Resolver struct {
	cat      Catalog
	ns       string
	fallback catalogs.BlockDef
}

func New(cat Catalog, opts Options) *Resolver {
	if opts.DefaultNamespace == "" {
		opts.DefaultNamespace = DefaultNamespace
	}
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallback
	}
	fb, ok := cat.Get(opts.Fallback)
	if !ok {
		fb = catalogs.BlockDef{ID: opts.Fallback, Solid: true}
	}
	return &Resolver{cat: cat, ns: opts.DefaultNamespace, fallback: fb}
}

func (r *Resolver) Fallback() catalogs.BlockDef { return r.fallback }

// Resolve never fails: an id that matches nothing comes back as the fallback
// block with Kind Fallback.
func (r *Resolver) Resolve(rawID string) Match {
	id := strings.TrimSpace(rawID)
	if id == "" {
		return Match{Block: r.fallback, Kind: Fallback}
	}
	if def, ok := r.direct(id); ok {
		return Match{Block: def, Kind: Exact}
	}
	best, score := r.closest(strings.ToLower(id))
	if best != "" && score <= MaxFuzzyScore {
		def, _ := r.cat.Get(best)
		return Match{Block: def, Kind: Fuzzy, Score: score}
	}
	return Match{Block: r.fallback, Kind: Fallback}
}

func (r *Resolver) direct(id string) (catalogs.BlockDef, bool) {
	if def, ok := r.cat.Get(id); ok {
		return def, true
	}
	if !strings.Contains(id, ":") {
		return r.cat.Get(r.ns + ":" + id)
	}
	return catalogs.BlockDef{}, false
}

// closest scans the catalog in enumeration order. A substring relationship in
// either direction clamps the score to 1. Ties keep the earliest id.
func (r *Resolver) closest(target string) (string, int) {
	best, bestScore := "", -1
	for _, id := range r.cat.IDs() {
		full := strings.ToLower(id)
		local := catalogs.LocalName(full)
		score := min(levenshtein(target, full), levenshtein(target, local))
		if strings.Contains(full, target) || strings.Contains(local, target) || strings.Contains(target, local) {
			score = min(score, 1)
		}
		if bestScore < 0 || score < bestScore {
			best, bestScore = id, score
		}
	}
	return best, bestScore
}

// Session resolves one script's palette. Each key is resolved at most once
// and every diagnostic it produces is emitted once.
type Session struct {
	r       *Resolver
	palette map[string]string
	sink    diag.Sink
	cache   map[string]catalogs.BlockDef
	missing map[string]struct{}
}

func (r *Resolver) Session(palette map[string]string, sink diag.Sink) *Session {
	return &Session{
		r:       r,
		palette: palette,
		sink:    diag.OrDiscard(sink),
		cache:   make(map[string]catalogs.BlockDef, len(palette)),
		missing: make(map[string]struct{}),
	}
}

// Lookup returns the block for a palette key. layer and action locate the
// referencing action in emitted events.
func (s *Session) Lookup(key string, layer, action int) catalogs.BlockDef {
	if def, ok := s.cache[key]; ok {
		return def
	}
	raw, ok := s.palette[key]
	if !ok {
		if _, seen := s.missing[key]; !seen {
			s.missing[key] = struct{}{}
			s.sink.Emit(diag.Event{
				Kind:    diag.KindPaletteKeyMissing,
				Layer:   layer,
				Action:  action,
				Key:     key,
				Match:   s.r.fallback.ID,
				Message: fmt.Sprintf("palette key %q missing, fallback to %s", key, s.r.fallback.ID),
			})
		}
		return s.r.fallback
	}

	m := s.r.Resolve(raw)
	switch m.Kind {
	case Fuzzy:
		s.sink.Emit(diag.Event{
			Kind: diag.KindPaletteFuzzy, Layer: layer, Action: action,
			Key: key, Raw: raw, Match: m.Block.ID, Score: m.Score,
			Message: fmt.Sprintf("palette id %q not found, using similar %s", raw, m.Block.ID),
		})
	case Fallback:
		s.sink.Emit(diag.Event{
			Kind: diag.KindPaletteFallback, Layer: layer, Action: action,
			Key: key, Raw: raw, Match: m.Block.ID,
			Message: fmt.Sprintf("palette id %q not found, fallback to %s", raw, m.Block.ID),
		})
	}
	s.cache[key] = m.Block
	return m.Block
}
