package piecehash

import (
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/chunkio"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// V1Hasher computes SHA-1 piece hashes over the v1 byte stream (spec §4.7). One hasher
// instance per worker goroutine, indexed by the procbase thread index.
type V1Hasher struct {
	PieceSize int64
	Output    func(V1HashedPiece)

	BytesHashed atomic.Int64
	PiecesDone  atomic.Int64

	hashers []*hashutil.SingleBufferHasher
	base    *procbase.Base[chunkio.DataChunk]
}

// NewV1Hasher builds a v1 hasher pool of numWorkers draining queue, emitting results via
// output.
func NewV1Hasher(queue *workqueue.Queue[procbase.Job[chunkio.DataChunk]], numWorkers int, pieceSize int64, output func(V1HashedPiece)) (*V1Hasher, error) {
	h := &V1Hasher{PieceSize: pieceSize, Output: output, hashers: make([]*hashutil.SingleBufferHasher, numWorkers)}
	for i := range h.hashers {
		sb, err := hashutil.NewSingleBuffer(hashutil.SHA1)
		if err != nil {
			return nil, err
		}
		h.hashers[i] = sb
	}
	h.base = procbase.New(queue, numWorkers, h.handle)
	return h, nil
}

func (h *V1Hasher) Start() error        { return h.base.Start() }
func (h *V1Hasher) RequestStop()        { h.base.RequestStop() }
func (h *V1Hasher) RequestCancellation() { h.base.RequestCancellation() }
func (h *V1Hasher) Wait() error         { return h.base.Wait() }
func (h *V1Hasher) Queue() *workqueue.Queue[procbase.Job[chunkio.DataChunk]] { return h.base.Queue() }

func (h *V1Hasher) handle(threadIdx int, chunk chunkio.DataChunk) error {
	if chunk.IsNullData() {
		h.PiecesDone.Add(1)
		return nil
	}
	defer chunk.Buf.Release()

	hasher := h.hashers[threadIdx]
	data := chunk.Buf.Bytes()
	piecesInChunk := (int64(len(data)) + h.PieceSize - 1) / h.PieceSize

	var offset int64
	for k := int64(0); k < piecesInChunk; k++ {
		end := offset + h.PieceSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		hasher.Update(data[offset:end])
		digest := hasher.FinalizeTo(nil)
		h.Output(V1HashedPiece{Index: chunk.PieceIndex + k, Hash: digest})
		h.PiecesDone.Add(1)
		offset = end
	}
	h.BytesHashed.Add(int64(len(data)))
	return nil
}
