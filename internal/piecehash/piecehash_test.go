package piecehash

import (
	"crypto/sha1"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/omnicloud/torrentbuild/internal/chunkio"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

func TestV1HasherSinglePieceChunk(t *testing.T) {
	pool := chunkio.NewBufferPool(16)
	buf := pool.Get(16)
	copy(buf.Bytes(), []byte("0123456789abcdef"))

	q := workqueue.New[procbase.Job[chunkio.DataChunk]](4)
	var mu sync.Mutex
	var got []V1HashedPiece
	h, err := NewV1Hasher(q, 1, 16, func(p V1HashedPiece) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	q.Push(procbase.Job[chunkio.DataChunk]{Value: chunkio.DataChunk{PieceIndex: 5, Buf: buf}})
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 hashed piece, got %d", len(got))
	}
	if got[0].Index != 5 {
		t.Errorf("Index = %d, want 5", got[0].Index)
	}
	want := sha1.Sum([]byte("0123456789abcdef"))
	if got[0].Hash.Hex() != (hashHexOf(want[:])) {
		t.Errorf("hash mismatch: got %x want %x", got[0].Hash.Bytes, want)
	}
}

func hashHexOf(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func TestV1HasherNullDataAdvancesPiecesDone(t *testing.T) {
	q := workqueue.New[procbase.Job[chunkio.DataChunk]](4)
	h, err := NewV1Hasher(q, 1, 16, func(V1HashedPiece) { t.Error("null-data chunk should not emit a hash") })
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	q.Push(procbase.Job[chunkio.DataChunk]{Value: chunkio.DataChunk{PieceIndex: 0, Buf: nil}})
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}
	if h.PiecesDone.Load() != 1 {
		t.Errorf("PiecesDone = %d, want 1", h.PiecesDone.Load())
	}
}

func TestV2HasherTwoLeaves(t *testing.T) {
	pool := chunkio.NewBufferPool(32 * 1024)
	buf := pool.Get(32 * 1024)
	data := buf.Bytes()
	for i := range data {
		data[i] = byte(i)
	}

	q := workqueue.New[procbase.Job[chunkio.DataChunk]](4)
	var mu sync.Mutex
	var got []V2HashedPiece
	h, err := NewV2Hasher(q, 1, 16*1024, func(p V2HashedPiece) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	q.Push(procbase.Job[chunkio.DataChunk]{Value: chunkio.DataChunk{FileIndex: 0, PieceIndex: 0, Buf: buf}})
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 leaf hashes for a 32 KiB chunk, got %d", len(got))
	}
	leaf0 := sha256.Sum256(data[:16*1024])
	leaf1 := sha256.Sum256(data[16*1024:])
	if got[0].Hash.Hex() != hashHexOf(leaf0[:]) || got[1].Hash.Hex() != hashHexOf(leaf1[:]) {
		t.Error("leaf hashes did not match direct sha256 computation")
	}
	if got[0].LeafIndex != 0 || got[1].LeafIndex != 1 {
		t.Errorf("leaf indices = %d, %d, want 0, 1", got[0].LeafIndex, got[1].LeafIndex)
	}
}

func TestV2HasherHybridPadsNonLastFile(t *testing.T) {
	pieceSize := int64(32 * 1024)
	pool := chunkio.NewBufferPool(16 * 1024)
	buf := pool.Get(16 * 1024)
	data := buf.Bytes()
	for i := range data {
		data[i] = byte(i)
	}
	smallChunk := chunkio.DataChunk{FileIndex: 0, PieceIndex: 0, Buf: buf}

	q := workqueue.New[procbase.Job[chunkio.DataChunk]](4)
	var v1got []V1HashedPiece
	var mu sync.Mutex
	h, err := NewV2Hasher(q, 1, pieceSize, func(V2HashedPiece) {})
	if err != nil {
		t.Fatal(err)
	}
	h.Hybrid = func(p V1HashedPiece) {
		mu.Lock()
		defer mu.Unlock()
		v1got = append(v1got, p)
	}
	h.V1PieceOffset = []int64{0, 1}
	h.LastFileIndex = 1 // file 0 is NOT the last file, so its tail piece must be padded

	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	q.Push(procbase.Job[chunkio.DataChunk]{Value: smallChunk})
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(v1got) != 1 {
		t.Fatalf("expected 1 hybrid v1 piece, got %d", len(v1got))
	}
	padded := make([]byte, pieceSize)
	copy(padded, data[:16*1024])
	want := sha1.Sum(padded)
	if v1got[0].Hash.Hex() != hashHexOf(want[:]) {
		t.Error("hybrid tail piece should be zero-padded to piece_size for a non-last file")
	}
	if v1got[0].Index != 0 {
		t.Errorf("Index = %d, want 0 (V1PieceOffset[0] + local piece 0)", v1got[0].Index)
	}
}
