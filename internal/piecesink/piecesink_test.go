package piecesink

import (
	"crypto/sha1"
	"crypto/sha256"
	"testing"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/merkle"
	"github.com/omnicloud/torrentbuild/internal/piecehash"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

func newStorage(t *testing.T, pieceSize int64, fileSize int64) *filestorage.FileStorage {
	t.Helper()
	s := filestorage.New()
	if err := s.SetPieceSize(pieceSize); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFile(filestorage.FileEntry{Path: "a.bin", FileSize: fileSize}); err != nil {
		t.Fatal(err)
	}
	s.AllocatePieces()
	return s
}

func sha1Hash(b []byte) hashutil.Hash {
	sum := sha1.Sum(b)
	return hashutil.Hash{Function: hashutil.SHA1, Bytes: sum[:]}
}

func sha256Hash(b []byte) hashutil.Hash {
	sum := sha256.Sum256(b)
	return hashutil.Hash{Function: hashutil.SHA256, Bytes: sum[:]}
}

func TestWriterV1WritesPieceAtIndex(t *testing.T) {
	s := newStorage(t, filestorage.MinPieceSize, filestorage.MinPieceSize)
	q := workqueue.New[procbase.Job[piecehash.V1HashedPiece]](4)
	w, err := NewWriter(s, q, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	h := sha1Hash([]byte("hello"))
	q.Push(procbase.Job[piecehash.V1HashedPiece]{Value: piecehash.V1HashedPiece{Index: 0, Hash: h}})
	if err := w.Wait(); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPieceHash(0)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(h) {
		t.Errorf("piece 0 = %x, want %x", got.Bytes, h.Bytes)
	}
}

func TestWriterV2FinalizesOnLastLeaf(t *testing.T) {
	s := newStorage(t, 16*1024, 32*1024) // 2 leaves
	q := workqueue.New[procbase.Job[piecehash.V2HashedPiece]](4)
	w, err := NewWriter(s, nil, q, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	leaf0 := sha256Hash([]byte("leaf0"))
	leaf1 := sha256Hash([]byte("leaf1"))
	q.Push(procbase.Job[piecehash.V2HashedPiece]{Value: piecehash.V2HashedPiece{FileIndex: 0, LeafIndex: 0, Hash: leaf0}})
	q.Push(procbase.Job[piecehash.V2HashedPiece]{Value: piecehash.V2HashedPiece{FileIndex: 0, LeafIndex: 1, Hash: leaf1}})
	if err := w.Wait(); err != nil {
		t.Fatal(err)
	}

	entry := s.File(0)
	if !entry.HasV2Data {
		t.Fatal("expected v2 data to be finalized")
	}

	hasher, _ := hashutil.NewSingleBuffer(hashutil.SHA256)
	hasher.Update(leaf0.Bytes)
	hasher.Update(leaf1.Bytes)
	wantRoot := hasher.FinalizeTo(nil)
	if !entry.PiecesRoot.Equal(wantRoot) {
		t.Errorf("root = %x, want %x", entry.PiecesRoot.Bytes, wantRoot.Bytes)
	}
	if len(entry.PieceLayer) != 2 {
		t.Fatalf("piece layer len = %d, want 2", len(entry.PieceLayer))
	}
}

func TestVerifierDetectsMismatch(t *testing.T) {
	s := newStorage(t, filestorage.MinPieceSize, filestorage.MinPieceSize)
	good := sha1Hash([]byte("good"))
	if err := s.SetPieceHash(0, good); err != nil {
		t.Fatal(err)
	}

	q := workqueue.New[procbase.Job[piecehash.V1HashedPiece]](4)
	v, err := NewVerifier(s, q, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Start(); err != nil {
		t.Fatal(err)
	}
	bad := sha1Hash([]byte("bad"))
	q.Push(procbase.Job[piecehash.V1HashedPiece]{Value: piecehash.V1HashedPiece{Index: 0, Hash: bad}})
	if err := v.Wait(); err != nil {
		t.Fatal(err)
	}
	if v.Result().V1[0] {
		t.Error("expected piece 0 to be marked invalid")
	}
	if v.Result().AllValid() {
		t.Error("AllValid should be false when a piece mismatches")
	}
}

func TestVerifierSingleLeafFileComparesRoot(t *testing.T) {
	s := newStorage(t, 16*1024, 10*1024) // < 1 leaf worth of data
	fill, err := zeroLeafFill()
	if err != nil {
		t.Fatal(err)
	}
	tree, err := merkle.WithLeaves(hashutil.SHA256, 1, fill)
	if err != nil {
		t.Fatal(err)
	}
	leafHash := sha256Hash([]byte("only-leaf"))
	tree.SetLeaf(0, leafHash)
	s.File(0).SetV2Data(tree.Root(), nil)

	q := workqueue.New[procbase.Job[piecehash.V2HashedPiece]](4)
	v, err := NewVerifier(s, nil, q, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Start(); err != nil {
		t.Fatal(err)
	}
	q.Push(procbase.Job[piecehash.V2HashedPiece]{Value: piecehash.V2HashedPiece{FileIndex: 0, LeafIndex: 0, Hash: leafHash}})
	if err := v.Wait(); err != nil {
		t.Fatal(err)
	}
	entries := v.Result().V2[0]
	if len(entries) != 1 || !entries[0] {
		t.Errorf("expected single matching entry, got %v", entries)
	}
}
