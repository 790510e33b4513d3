package chunkio

// DataChunk is the unit the reader fans out to every registered consumer queue (spec §3
// "data_chunk"). A nil Buf marks a null-data chunk: one whole missing piece, not hashed.
// The v1 hasher counts it in PiecesDone only; it does not advance bytes_hashed or
// bytes_done.
type DataChunk struct {
	// PieceIndex is the global v1 piece index of the first byte in Buf (v1), or the
	// file-relative piece index of the first byte in Buf (v2).
	PieceIndex int64
	FileIndex  int
	Buf        *Buffer
}

// IsNullData reports whether this chunk represents a missing piece with no bytes to hash.
func (c DataChunk) IsNullData() bool { return c.Buf == nil }

// Consumer receives DataChunk values; both the piece hasher(s) and zero or more checksum
// hashers register as consumers of the same reader (spec §4.5 "hash queue + zero or more
// checksum queues").
type Consumer interface {
	Push(DataChunk)
}

// queueConsumer adapts a bounded queue to Consumer.
type queueConsumer struct {
	push func(DataChunk)
}

func (q queueConsumer) Push(c DataChunk) { q.push(c) }

// NewQueueConsumer wraps push (typically a *workqueue.Queue[DataChunk]'s Push method) as
// a Consumer, keeping this package free of a direct workqueue import in its public API.
func NewQueueConsumer(push func(DataChunk)) Consumer {
	return queueConsumer{push: push}
}

// fanOut delivers chunk to every consumer, retaining the buffer once per extra consumer
// beyond the first so each can Release() independently.
func fanOut(consumers []Consumer, chunk DataChunk) {
	if len(consumers) == 0 {
		if chunk.Buf != nil {
			chunk.Buf.Release()
		}
		return
	}
	if chunk.Buf != nil && len(consumers) > 1 {
		chunk.Buf.Retain(len(consumers) - 1)
	}
	for _, c := range consumers {
		c.Push(chunk)
	}
}
