package voxel

import (
	"crypto/sha256"
	"encoding/binary"

	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/persistence/snapshot"
	"structurecraft.ai/internal/script"
)

const (
	chunkSize   = snapshot.ChunkSize
	chunkVolume = chunkSize * chunkSize * chunkSize
)

type ChunkKey struct {
	CX, CY, CZ int
}

func keyOf(p geom.Vec3i) (ChunkKey, int) {
	k := ChunkKey{
		CX: geom.FloorDiv(p.X, chunkSize),
		CY: geom.FloorDiv(p.Y, chunkSize),
		CZ: geom.FloorDiv(p.Z, chunkSize),
	}
	lx, ly, lz := geom.Mod(p.X, chunkSize), geom.Mod(p.Y, chunkSize), geom.Mod(p.Z, chunkSize)
	return k, lx + lz*chunkSize + ly*chunkSize*chunkSize
}

type Chunk struct {
	Key    ChunkKey
	Blocks []uint16 // palette indices, len = 16*16*16
	Facing []uint8  // facingCode per voxel

	solid int
	dirty bool
	hash  [32]byte
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{
		Key:    k,
		Blocks: make([]uint16, chunkVolume),
		Facing: make([]uint8, chunkVolume),
		dirty:  true,
	}
}

// set reports the previous value. air is the palette index treated as empty.
func (c *Chunk) set(i int, b uint16, f uint8, air uint16) (prev uint16, prevFacing uint8) {
	prev, prevFacing = c.Blocks[i], c.Facing[i]
	if prev == b && prevFacing == f {
		return
	}
	if prev == air && b != air {
		c.solid++
	} else if prev != air && b == air {
		c.solid--
	}
	c.Blocks[i], c.Facing[i] = b, f
	c.dirty = true
	return
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		h.Write(c.Facing)
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

var facingCodes = []script.Direction{
	script.DirNone, script.DirNorth, script.DirSouth, script.DirEast, script.DirWest, script.DirUp, script.DirDown,
}

func facingCode(d script.Direction) uint8 {
	for i, f := range facingCodes {
		if f == d {
			return uint8(i)
		}
	}
	return 0
}

func facingOf(code uint8) script.Direction {
	if int(code) >= len(facingCodes) {
		return script.DirNone
	}
	return facingCodes[code]
}
