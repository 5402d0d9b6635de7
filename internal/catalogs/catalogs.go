package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// AirID is stored at palette index 0 when the catalog defines it.
const AirID = "minecraft:air"

//go:embed blocks.json
var defaultBlocksJSON []byte

// BlockCatalog is the enumerable set of placeable materials. It is read-only
// once loaded.
type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID    string `json:"id"`
	Solid bool   `json:"solid"`
	// Facing lists the directions the block's orientable state accepts.
	Facing []string `json:"facing,omitempty"`
}

// Orientable reports whether the block accepts the given facing value.
func (d BlockDef) Orientable(dir string) bool {
	if dir == "" {
		return false
	}
	for _, f := range d.Facing {
		if f == dir {
			return true
		}
	}
	return false
}

// LocalName is the id without its namespace prefix.
func (d BlockDef) LocalName() string { return LocalName(d.ID) }

func LocalName(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

func Load(path string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Default returns the catalog bundled with the binary.
func Default() *BlockCatalog {
	c, err := Parse(defaultBlocksJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded blocks.json: %v", err))
	}
	return c
}

func Parse(raw []byte) (*BlockCatalog, error) {
	out := &BlockCatalog{DefsDigest: sha256Hex(raw)}

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = make(map[string]BlockDef, len(defs))
	for _, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return nil, fmt.Errorf("blocks.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}
	if len(out.Defs) > 1<<16 {
		return nil, fmt.Errorf("blocks.json: %d blocks exceed palette capacity", len(out.Defs))
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Keep AIR at palette id 0 so a zeroed chunk reads as empty.
	if _, ok := out.Defs[AirID]; ok {
		ids = append([]string{AirID}, filterOut(ids, AirID)...)
	}

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}

func (c *BlockCatalog) Contains(id string) bool {
	_, ok := c.Defs[id]
	return ok
}

func (c *BlockCatalog) Get(id string) (BlockDef, bool) {
	d, ok := c.Defs[id]
	return d, ok
}

// IDs enumerates the catalog in palette order. The order is stable for a
// given blocks.json, which makes fuzzy tie-breaks reproducible.
func (c *BlockCatalog) IDs() []string { return c.Palette }

func (c *BlockCatalog) IndexOf(id string) (uint16, bool) {
	i, ok := c.Index[id]
	return i, ok
}

func (c *BlockCatalog) Name(i uint16) string {
	if int(i) >= len(c.Palette) {
		return ""
	}
	return c.Palette[i]
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func filterOut(in []string, remove string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == remove {
			continue
		}
		out = append(out, s)
	}
	return out
}
