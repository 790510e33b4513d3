// Package piecesink implements the piece writer and piece verifier (spec §4.10,
// components C10/C11): both consume the same v1_hashed_piece/v2_hashed_piece events
// produced by internal/piecehash, using a small worker pool per event type, and differ
// only in what they do with a completed piece — write it into file storage, or compare
// it against a reference already loaded there. Grounded in
// original_source/src/storage_hasher.cpp (the writer path) and
// original_source/src/storage_verifier.cpp (the verifier path), and in the teacher's
// internal/torrent/downloader.go's verifyTorrentAgainstLocalFiles for the notion of a
// read-only comparison pass over the same file layout.
package piecesink

import (
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/merkle"
	"github.com/omnicloud/torrentbuild/internal/piecehash"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// fileTreeShape describes the one piece of layout information both Writer and Verifier
// need per file before any hash arrives: how many 16-KiB leaves it has, and whether it
// carries v2 data at all (spec §3: padding files and symlinks never do).
type fileTreeShape struct {
	leafTotal int64
	fileSize  int64
	tree      *merkle.Tree
}

// zeroLeafFill is the SHA-256 of 16 KiB of zero bytes, the fill value for a v2 tree's
// padding leaves (spec §4.2).
func zeroLeafFill() (hashutil.Hash, error) {
	h, err := hashutil.NewSingleBuffer(hashutil.SHA256)
	if err != nil {
		return hashutil.Hash{}, err
	}
	h.Update(make([]byte, merkle.LeafSize))
	return h.FinalizeTo(nil), nil
}

func buildTreeShapes(storage *filestorage.FileStorage) ([]fileTreeShape, error) {
	fill, err := zeroLeafFill()
	if err != nil {
		return nil, err
	}
	shapes := make([]fileTreeShape, storage.FileCount())
	files := storage.Files()
	for i, f := range files {
		if f.IsPaddingFile() || f.IsSymlink() || f.FileSize == 0 {
			continue
		}
		leaves := (f.FileSize + merkle.LeafSize - 1) / merkle.LeafSize
		tree, err := merkle.WithLeaves(hashutil.SHA256, int(leaves), fill)
		if err != nil {
			return nil, err
		}
		shapes[i] = fileTreeShape{leafTotal: leaves, fileSize: f.FileSize, tree: tree}
	}
	return shapes, nil
}

// Writer is the piece writer (C10): it owns one worker pool draining v1_hashed_piece
// events straight into storage.pieces, and one draining v2_hashed_piece events into
// per-file Merkle trees, finalizing each file's root/piece-layer exactly once via the
// acq_rel-style completion latch described in spec §4.10.
type Writer struct {
	storage *filestorage.FileStorage
	shapes  []fileTreeShape
	done    []atomic.Int64

	v1Base *procbase.Base[piecehash.V1HashedPiece]
	v2Base *procbase.Base[piecehash.V2HashedPiece]
}

// NewWriter builds a writer over storage, consuming v1Queue/v2Queue with numWorkers
// each. Either queue may be nil if that protocol isn't in scope for this run.
func NewWriter(storage *filestorage.FileStorage, v1Queue *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]], v2Queue *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]], numWorkers int) (*Writer, error) {
	shapes, err := buildTreeShapes(storage)
	if err != nil {
		return nil, err
	}
	w := &Writer{storage: storage, shapes: shapes, done: make([]atomic.Int64, storage.FileCount())}
	if v1Queue != nil {
		w.v1Base = procbase.New(v1Queue, numWorkers, w.handleV1)
	}
	if v2Queue != nil {
		w.v2Base = procbase.New(v2Queue, numWorkers, w.handleV2)
	}
	return w, nil
}

func (w *Writer) V1Queue() *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]] {
	if w.v1Base == nil {
		return nil
	}
	return w.v1Base.Queue()
}

func (w *Writer) V2Queue() *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]] {
	if w.v2Base == nil {
		return nil
	}
	return w.v2Base.Queue()
}

// Start launches whichever worker pools are active.
func (w *Writer) Start() error {
	if w.v1Base != nil {
		if err := w.v1Base.Start(); err != nil {
			return err
		}
	}
	if w.v2Base != nil {
		if err := w.v2Base.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) RequestStop() {
	if w.v1Base != nil {
		w.v1Base.RequestStop()
	}
	if w.v2Base != nil {
		w.v2Base.RequestStop()
	}
}

func (w *Writer) RequestCancellation() {
	if w.v1Base != nil {
		w.v1Base.RequestCancellation()
	}
	if w.v2Base != nil {
		w.v2Base.RequestCancellation()
	}
}

// Wait drains and joins both pools, returning the first non-nil error.
func (w *Writer) Wait() error {
	var firstErr error
	if w.v1Base != nil {
		if err := w.v1Base.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.v2Base != nil {
		if err := w.v2Base.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Writer) handleV1(_ int, p piecehash.V1HashedPiece) error {
	return w.storage.SetPieceHash(int(p.Index), p.Hash)
}

func (w *Writer) handleV2(_ int, p piecehash.V2HashedPiece) error {
	shape := &w.shapes[p.FileIndex]
	shape.tree.SetLeaf(int(p.LeafIndex), p.Hash)
	if w.done[p.FileIndex].Add(1) == shape.leafTotal {
		// This goroutine is the one whose fetch-add brought the counter to the
		// file's total leaf count: it alone is entitled to finalize (spec §4.10).
		hasher, err := hashutil.NewSingleBuffer(hashutil.SHA256)
		if err != nil {
			return err
		}
		shape.tree.Update(hasher)
		root := shape.tree.Root()
		layer := shape.tree.PieceLayer(shape.fileSize, w.storage.PieceSize())
		w.storage.File(p.FileIndex).SetV2Data(root, layer)
	}
	return nil
}
