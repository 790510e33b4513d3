// Package torrentdriver implements the storage driver (spec §4.11, component C12): the
// top-level orchestrator that wires the chunk reader into the hasher(s) into the piece
// writer (or verifier), plus zero or more checksum hashers, and owns their combined
// start/stop/cancel/wait lifecycle. Grounded directly in the teacher's
// internal/torrent/generator.go, which already drives exactly this shape — a worker pool
// reading files, hashing pieces, and reporting progress — generalized from its
// DCP-specific fields to protocol_version/checksums/threads/memory-ceiling
// configuration, and in original_source/include/dottorrent/storage_hasher.hpp for the
// construction-time validation and wiring order.
package torrentdriver

import (
	"fmt"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// Protocol selects which metafile variant a run targets.
type Protocol = filestorage.Protocol

const (
	ProtocolV1     = filestorage.ProtocolV1
	ProtocolV2     = filestorage.ProtocolV2
	ProtocolHybrid = filestorage.ProtocolHybrid
)

// minQueueCapacity is the driver's floor on queue capacity regardless of max_memory
// (spec §4.11: "bounds queue capacity as max_memory / io_block_size, floor 4").
const minQueueCapacity = 4

// Config is the driver's construction-time configuration (spec §4.11). Read-only once
// Start is called.
type Config struct {
	ProtocolVersion Protocol

	// Checksums are the v1-only per-file digest algorithms to compute alongside
	// hashing (v2 carries its own Merkle roots instead).
	Checksums []hashutil.Function

	MinIOBlockSize int64
	MaxMemory      int64

	// EnableMultiBufferHashing selects hashutil's multi-buffer backend over the
	// single-buffer one, per spec §4.1/§4.11.
	EnableMultiBufferHashing bool

	Threads int
}

func (c Config) validate() error {
	if c.ProtocolVersion != ProtocolV1 && c.ProtocolVersion != ProtocolV2 && c.ProtocolVersion != ProtocolHybrid {
		return fmt.Errorf("torrentdriver: invalid protocol version %v: %w", c.ProtocolVersion, errs.ErrInvalidArgument)
	}
	if c.MinIOBlockSize <= 0 {
		return fmt.Errorf("torrentdriver: min_io_block_size must be positive: %w", errs.ErrInvalidArgument)
	}
	if c.Threads < 1 {
		return fmt.Errorf("torrentdriver: threads must be >= 1: %w", errs.ErrInvalidArgument)
	}
	for _, fn := range c.Checksums {
		if fn.Size() == 0 {
			return fmt.Errorf("torrentdriver: unknown checksum function %q: %w", fn, errs.ErrInvalidArgument)
		}
	}
	return nil
}

// ioBlockSize picks an io_block_size that is both >= MinIOBlockSize and an exact
// multiple of pieceSize (spec §4.5: "io_block_size % piece_size == 0").
func ioBlockSize(minBlockSize, pieceSize int64) int64 {
	if minBlockSize <= pieceSize {
		return pieceSize
	}
	blocks := (minBlockSize + pieceSize - 1) / pieceSize
	return blocks * pieceSize
}

// queueCapacity derives a bounded queue's capacity from the memory ceiling (spec §4.11).
func queueCapacity(maxMemory, ioBlockSize int64) int {
	if ioBlockSize <= 0 {
		return minQueueCapacity
	}
	cap := int(maxMemory / ioBlockSize)
	if cap < minQueueCapacity {
		return minQueueCapacity
	}
	return cap
}
