package piecehash

import (
	"fmt"
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/chunkio"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/merkle"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// V2Hasher computes SHA-256 leaf hashes over each file's own byte stream (spec §4.8).
// Since io_block_size is always a multiple of piece_size, every chunk except a file's
// final one carries a whole number of pieces, so the optional hybrid add-on (deriving
// SHA-1 v1 piece hashes from the same bytes) needs no state beyond the current chunk:
// only the last, possibly-partial piece of a file's final chunk ever needs carrying
// zero-padding, and that happens within a single call. Grounded directly in
// original_source/src/v2_chunk_hasher_sb.cpp's hash_chunk, including its needs_padding
// short-circuit.
type V2Hasher struct {
	PieceSize int64
	Output    func(V2HashedPiece)

	// Hybrid, when non-nil, receives the v1-equivalent piece hashes derived in lock
	// step with the v2 leaves (spec §4.8 "hybrid mode add-on").
	Hybrid func(V1HashedPiece)

	// V1PieceOffset[i] is the global v1 piece index of file i's first piece:
	// sum(ceil(file_size[j]/piece_size)) over non-padding j < i (dottorrent's
	// v1_piece_offsets_).
	V1PieceOffset []int64
	// FileSize[i] is file i's real (non-padding) size. Hashing does not read it: whether
	// a chunk's tail piece is zero-padded follows from the chunk's length and LastFileIndex.
	FileSize []int64
	// LastFileIndex is the index of the last file in storage order; its tail piece is
	// never padded (spec §4.8).
	LastFileIndex int

	BytesHashed atomic.Int64
	LeavesDone  atomic.Int64

	leafHashers []*hashutil.SingleBufferHasher
	v1Hashers   []*hashutil.SingleBufferHasher
	base        *procbase.Base[chunkio.DataChunk]
}

// NewV2Hasher builds a v2 (optionally hybrid) hasher pool.
func NewV2Hasher(queue *workqueue.Queue[procbase.Job[chunkio.DataChunk]], numWorkers int, pieceSize int64, output func(V2HashedPiece)) (*V2Hasher, error) {
	if pieceSize < merkle.LeafSize || pieceSize%merkle.LeafSize != 0 {
		return nil, fmt.Errorf("piecehash: piece size %d must be a multiple of %d", pieceSize, merkle.LeafSize)
	}
	h := &V2Hasher{
		PieceSize:   pieceSize,
		Output:      output,
		leafHashers: make([]*hashutil.SingleBufferHasher, numWorkers),
		v1Hashers:   make([]*hashutil.SingleBufferHasher, numWorkers),
	}
	for i := range h.leafHashers {
		lh, err := hashutil.NewSingleBuffer(hashutil.SHA256)
		if err != nil {
			return nil, err
		}
		h.leafHashers[i] = lh
		vh, err := hashutil.NewSingleBuffer(hashutil.SHA1)
		if err != nil {
			return nil, err
		}
		h.v1Hashers[i] = vh
	}
	h.base = procbase.New(queue, numWorkers, h.handle)
	return h, nil
}

func (h *V2Hasher) Start() error                                             { return h.base.Start() }
func (h *V2Hasher) RequestStop()                                             { h.base.RequestStop() }
func (h *V2Hasher) RequestCancellation()                                     { h.base.RequestCancellation() }
func (h *V2Hasher) Wait() error                                              { return h.base.Wait() }
func (h *V2Hasher) Queue() *workqueue.Queue[procbase.Job[chunkio.DataChunk]] { return h.base.Queue() }

func (h *V2Hasher) handle(threadIdx int, chunk chunkio.DataChunk) error {
	if chunk.IsNullData() {
		return nil
	}
	defer chunk.Buf.Release()

	data := chunk.Buf.Bytes()
	leafHasher := h.leafHashers[threadIdx]
	blocksInChunk := (int64(len(data)) + merkle.LeafSize - 1) / merkle.LeafSize
	indexOffset := chunk.PieceIndex * h.PieceSize / merkle.LeafSize

	var offset int64
	for k := int64(0); k < blocksInChunk; k++ {
		end := offset + merkle.LeafSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		leafHasher.Update(data[offset:end])
		digest := leafHasher.FinalizeTo(nil)
		h.Output(V2HashedPiece{FileIndex: chunk.FileIndex, LeafIndex: indexOffset + k, Hash: digest})
		h.LeavesDone.Add(1)
		offset = end
	}
	h.BytesHashed.Add(int64(len(data)))

	if h.Hybrid != nil {
		h.hashHybrid(threadIdx, chunk, data)
	}
	return nil
}

func (h *V2Hasher) hashHybrid(threadIdx int, chunk chunkio.DataChunk, data []byte) {
	v1Hasher := h.v1Hashers[threadIdx]
	piecesInChunk := (int64(len(data)) + h.PieceSize - 1) / h.PieceSize
	needsPadding := int64(len(data))%h.PieceSize != 0

	wholePieces := piecesInChunk
	if needsPadding {
		wholePieces = piecesInChunk - 1
	}

	var offset int64
	for i := int64(0); i < wholePieces; i++ {
		v1Hasher.Update(data[offset : offset+h.PieceSize])
		digest := v1Hasher.FinalizeTo(nil)
		h.emitHybrid(chunk.FileIndex, chunk.PieceIndex+i, digest)
		offset += h.PieceSize
	}

	if !needsPadding {
		return
	}

	tail := data[offset:]
	v1Hasher.Update(tail)
	if chunk.FileIndex != h.LastFileIndex {
		padLen := h.PieceSize - int64(len(tail))
		v1Hasher.Update(make([]byte, padLen))
	}
	digest := v1Hasher.FinalizeTo(nil)
	h.emitHybrid(chunk.FileIndex, chunk.PieceIndex+wholePieces, digest)
}

func (h *V2Hasher) emitHybrid(fileIndex int, localPieceIndex int64, digest hashutil.Hash) {
	globalIndex := h.V1PieceOffset[fileIndex] + localPieceIndex
	h.Hybrid(V1HashedPiece{Index: globalIndex, Hash: digest})
}
