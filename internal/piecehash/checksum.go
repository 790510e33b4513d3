package piecehash

import (
	"context"

	"github.com/omnicloud/torrentbuild/internal/chunkio"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// ChecksumHasher maintains a single running digest over the reader's byte stream, finalizing
// and resetting it every time a file boundary is crossed (spec §4.9). One instance per
// requested hash function, single-threaded (unlike the piece hashers, which run a pool).
// Null-data chunks (missing files during verify) are skipped, matching spec §4.9.
type ChecksumHasher struct {
	Function hashutil.Function
	// FileSize[i] is the size of the i-th file the reader streams, and OnFile receives
	// that stream position. A v1 stream covers every file, padding included; a v2 stream
	// leaves out padding, symlink and zero-size entries.
	FileSize []int64
	OnFile   func(fileIndex int, h hashutil.Hash)

	hasher          *hashutil.SingleBufferHasher
	currentFile     int
	bytesInCurrent  int64
}

// NewChecksumHasher builds a checksum hasher for fn.
func NewChecksumHasher(fn hashutil.Function, fileSize []int64, onFile func(int, hashutil.Hash)) (*ChecksumHasher, error) {
	h, err := hashutil.NewSingleBuffer(fn)
	if err != nil {
		return nil, err
	}
	return &ChecksumHasher{Function: fn, FileSize: fileSize, OnFile: onFile, hasher: h}, nil
}

// Run drains consumer chunks from queue (any channel-like puller works; callers
// typically adapt a *workqueue.Queue[chunkio.DataChunk]'s Pop) until it reports !ok or ctx
// is done.
func (h *ChecksumHasher) Run(ctx context.Context, pop func() (chunkio.DataChunk, bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		chunk, ok := pop()
		if !ok {
			return
		}
		h.handle(chunk)
	}
}

func (h *ChecksumHasher) handle(chunk chunkio.DataChunk) {
	if chunk.IsNullData() {
		return
	}
	defer chunk.Buf.Release()

	data := chunk.Buf.Bytes()
	pos := 0
	for pos < len(data) {
		if h.currentFile >= len(h.FileSize) {
			return
		}
		remaining := h.FileSize[h.currentFile] - h.bytesInCurrent
		n := int64(len(data) - pos)
		if n > remaining {
			n = remaining
		}
		if n > 0 {
			h.hasher.Update(data[pos : pos+int(n)])
		}
		h.bytesInCurrent += n
		pos += int(n)

		if h.bytesInCurrent == h.FileSize[h.currentFile] {
			h.finalizeCurrentFile()
		}
	}
}

func (h *ChecksumHasher) finalizeCurrentFile() {
	digest := h.hasher.FinalizeTo(nil)
	h.OnFile(h.currentFile, digest)
	h.currentFile++
	h.bytesInCurrent = 0
	// Zero-size files produce an empty-input digest with no bytes ever Update()d.
	for h.currentFile < len(h.FileSize) && h.FileSize[h.currentFile] == 0 {
		h.OnFile(h.currentFile, h.hasher.FinalizeTo(nil))
		h.currentFile++
	}
}
