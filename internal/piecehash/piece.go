// Package piecehash implements the v1 and v2/hybrid piece hashers and the per-file
// checksum hasher (spec §4.7-§4.9, components C7/C8/C9). Grounded in
// original_source/src/v1_chunk_hasher.cpp and v2_chunk_hasher.cpp for the per-piece
// slicing and index math, and in the worker-pool shape of the teacher's
// internal/torrent/generator.go (one SHA-1 instance per worker goroutine).
package piecehash

import "github.com/omnicloud/torrentbuild/internal/hashutil"

// V1HashedPiece is emitted by the v1 hasher (and the hybrid add-on of the v2 hasher) for
// the piece writer/verifier to consume (spec §4.10).
type V1HashedPiece struct {
	Index int64
	Hash  hashutil.Hash
}

// V2HashedPiece is emitted by the v2 hasher for one 16 KiB leaf block.
type V2HashedPiece struct {
	FileIndex int
	LeafIndex int64
	Hash      hashutil.Hash
}
