// Package voxel is an in-memory voxel grid that scripts can be built into.
package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"structurecraft.ai/internal/catalogs"
	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/persistence/snapshot"
	"structurecraft.ai/internal/script"
)

var ErrNoAir = errors.New("catalog has no " + catalogs.AirID)

// AuditEntry describes one voxel change.
type AuditEntry struct {
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	Facing string `json:"facing,omitempty"`
}

// Auditor observes changes. It runs outside the world lock and may be called
// from several goroutines.
type Auditor func(AuditEntry)

// World is safe for concurrent use. Concurrent builds that touch the same
// voxel land in no particular order.
type World struct {
	ID string

	cat    *catalogs.BlockCatalog
	air    uint16
	logger *zap.Logger

	mu       sync.RWMutex
	chunks   map[ChunkKey]*Chunk
	auditor  Auditor
	writes   uint64
	rejected uint64
}

func New(id string, cat *catalogs.BlockCatalog, logger *zap.Logger) (*World, error) {
	air, ok := cat.IndexOf(catalogs.AirID)
	if !ok {
		return nil, ErrNoAir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &World{
		ID:     id,
		cat:    cat,
		air:    air,
		logger: logger,
		chunks: map[ChunkKey]*Chunk{},
	}, nil
}

func (w *World) SetAuditor(a Auditor) {
	w.mu.Lock()
	w.auditor = a
	w.mu.Unlock()
}

// SetBlock stores block at pos. Blocks unknown to the world's catalog are
// logged and dropped.
func (w *World) SetBlock(pos geom.Vec3i, block catalogs.BlockDef, facing script.Direction) {
	idx, ok := w.cat.IndexOf(block.ID)
	if !ok {
		w.mu.Lock()
		w.rejected++
		w.mu.Unlock()
		w.logger.Warn("block not in catalog; write dropped", zap.String("block", block.ID), zap.Stringer("pos", pos))
		return
	}
	f := facingCode(facing)
	k, i := keyOf(pos)

	w.mu.Lock()
	ch := w.chunks[k]
	if ch == nil {
		if idx == w.air {
			w.writes++
			w.mu.Unlock()
			return
		}
		ch = newChunk(k)
		if w.air != 0 {
			for j := range ch.Blocks {
				ch.Blocks[j] = w.air
			}
		}
		w.chunks[k] = ch
	}
	prev, prevFacing := ch.set(i, idx, f, w.air)
	if ch.solid == 0 {
		delete(w.chunks, k)
	}
	w.writes++
	audit := w.auditor
	w.mu.Unlock()

	if audit != nil && (prev != idx || prevFacing != f) {
		audit(AuditEntry{
			Pos:    pos.Array(),
			From:   w.cat.Name(prev),
			To:     block.ID,
			Facing: string(facing),
		})
	}
}

// Block returns the block at pos; unset voxels are air.
func (w *World) Block(pos geom.Vec3i) (catalogs.BlockDef, script.Direction) {
	k, i := keyOf(pos)
	w.mu.RLock()
	defer w.mu.RUnlock()
	ch := w.chunks[k]
	if ch == nil {
		def, _ := w.cat.Get(catalogs.AirID)
		return def, script.DirNone
	}
	def, _ := w.cat.Get(w.cat.Name(ch.Blocks[i]))
	return def, facingOf(ch.Facing[i])
}

// BlockID is Block without the facing, shaped for build.Verify.
func (w *World) BlockID(pos geom.Vec3i) string {
	def, _ := w.Block(pos)
	return def.ID
}

// Count is the number of non-air voxels.
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, ch := range w.chunks {
		n += ch.solid
	}
	return n
}

type Stats struct {
	Chunks   int    `json:"chunks"`
	Voxels   int    `json:"voxels"`
	Writes   uint64 `json:"writes"`
	Rejected uint64 `json:"rejected"`
	Digest   string `json:"digest"`
}

func (w *World) Stats() Stats {
	st := Stats{Voxels: w.Count(), Digest: w.Digest()}
	w.mu.RLock()
	st.Chunks = len(w.chunks)
	st.Writes = w.writes
	st.Rejected = w.rejected
	w.mu.RUnlock()
	return st
}

// Digest hashes every non-empty chunk in key order.
func (w *World) Digest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := sha256.New()
	for _, k := range w.sortedKeys() {
		d := w.chunks[k].Digest()
		fmt.Fprintf(h, "%d,%d,%d:", k.CX, k.CY, k.CZ)
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) sortedKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(w.chunks))
	for k := range w.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})
	return keys
}

func (w *World) Export() snapshot.WorldV1 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	keys := w.sortedKeys()
	out := snapshot.WorldV1{
		Header: snapshot.Header{
			WorldID:       w.ID,
			CatalogDigest: w.cat.PaletteDigest,
			CreatedAtMs:   time.Now().UnixMilli(),
		},
		Palette: append([]string(nil), w.cat.Palette...),
		Chunks:  make([]snapshot.ChunkV1, 0, len(keys)),
		Writes:  w.writes,
	}
	for _, k := range keys {
		ch := w.chunks[k]
		out.Chunks = append(out.Chunks, snapshot.ChunkV1{
			CX:     k.CX,
			CY:     k.CY,
			CZ:     k.CZ,
			Blocks: append([]uint16(nil), ch.Blocks...),
			Facing: append([]uint8(nil), ch.Facing...),
		})
	}
	return out
}

// Import replaces the world's contents. Palette names are mapped onto this
// world's catalog, so the snapshot may come from a differently ordered one.
func (w *World) Import(snap snapshot.WorldV1) error {
	remap := make([]uint16, len(snap.Palette))
	for i, name := range snap.Palette {
		idx, ok := w.cat.IndexOf(name)
		if !ok {
			return fmt.Errorf("snapshot block %q not in catalog", name)
		}
		remap[i] = idx
	}
	chunks := make(map[ChunkKey]*Chunk, len(snap.Chunks))
	for _, sc := range snap.Chunks {
		if len(sc.Blocks) != chunkVolume || len(sc.Facing) != chunkVolume {
			return fmt.Errorf("snapshot chunk (%d,%d,%d) has %d blocks, want %d", sc.CX, sc.CY, sc.CZ, len(sc.Blocks), chunkVolume)
		}
		k := ChunkKey{CX: sc.CX, CY: sc.CY, CZ: sc.CZ}
		ch := newChunk(k)
		copy(ch.Facing, sc.Facing)
		for i, b := range sc.Blocks {
			if int(b) >= len(remap) {
				return fmt.Errorf("snapshot chunk (%d,%d,%d) references palette index %d", sc.CX, sc.CY, sc.CZ, b)
			}
			ch.Blocks[i] = remap[b]
			if ch.Blocks[i] != w.air {
				ch.solid++
			}
		}
		if ch.solid > 0 {
			chunks[k] = ch
		}
	}
	w.mu.Lock()
	w.chunks = chunks
	w.writes = snap.Writes
	w.mu.Unlock()
	return nil
}
