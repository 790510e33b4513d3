package piecesink

import (
	"sync"
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/piecehash"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// Result is the per-piece validity bitmap of spec §4.10/§8: a v1 slice indexed by
// global piece index, and a v2 map of file index to one entry per piece-layer entry (or
// a single entry for a file that fits in one piece).
type Result struct {
	mu sync.Mutex
	V1 []bool
	V2 map[int][]bool
}

func newResult(pieceCount int) *Result {
	return &Result{V1: make([]bool, pieceCount), V2: make(map[int][]bool)}
}

func (r *Result) setV2(fileIndex int, entries []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.V2[fileIndex] = entries
}

// AllValid reports whether every recorded v1 piece and every v2 piece-layer entry
// matched the reference (spec §8: "verify(build(S), S).result == all-ones").
func (r *Result) AllValid() bool {
	for _, ok := range r.V1 {
		if !ok {
			return false
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entries := range r.V2 {
		for _, ok := range entries {
			if !ok {
				return false
			}
		}
	}
	return true
}

// Verifier is the piece verifier (C11): same wiring as Writer, but it compares computed
// hashes against the reference values already present in storage (loaded from a
// metafile) instead of writing them, recording mismatches in a Result bitmap rather than
// treating them as errors (spec §7: "hash-mismatch (verify): not an error").
type Verifier struct {
	storage *filestorage.FileStorage
	shapes  []fileTreeShape
	done    []atomic.Int64
	result  *Result

	v1Base *procbase.Base[piecehash.V1HashedPiece]
	v2Base *procbase.Base[piecehash.V2HashedPiece]
}

// NewVerifier builds a verifier over the reference storage (its Pieces/PiecesRoot/
// PieceLayer fields hold the values to check against).
func NewVerifier(storage *filestorage.FileStorage, v1Queue *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]], v2Queue *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]], numWorkers int) (*Verifier, error) {
	shapes, err := buildTreeShapes(storage)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		storage: storage,
		shapes:  shapes,
		done:    make([]atomic.Int64, storage.FileCount()),
		result:  newResult(int(storage.PieceCount())),
	}
	if v1Queue != nil {
		v.v1Base = procbase.New(v1Queue, numWorkers, v.handleV1)
	}
	if v2Queue != nil {
		v.v2Base = procbase.New(v2Queue, numWorkers, v.handleV2)
	}
	return v, nil
}

func (v *Verifier) V1Queue() *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]] {
	if v.v1Base == nil {
		return nil
	}
	return v.v1Base.Queue()
}

func (v *Verifier) V2Queue() *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]] {
	if v.v2Base == nil {
		return nil
	}
	return v.v2Base.Queue()
}

func (v *Verifier) Start() error {
	if v.v1Base != nil {
		if err := v.v1Base.Start(); err != nil {
			return err
		}
	}
	if v.v2Base != nil {
		if err := v.v2Base.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) RequestStop() {
	if v.v1Base != nil {
		v.v1Base.RequestStop()
	}
	if v.v2Base != nil {
		v.v2Base.RequestStop()
	}
}

func (v *Verifier) RequestCancellation() {
	if v.v1Base != nil {
		v.v1Base.RequestCancellation()
	}
	if v.v2Base != nil {
		v.v2Base.RequestCancellation()
	}
}

func (v *Verifier) Wait() error {
	var firstErr error
	if v.v1Base != nil {
		if err := v.v1Base.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if v.v2Base != nil {
		if err := v.v2Base.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Result returns the validity bitmap accumulated so far. Safe to call after Wait.
func (v *Verifier) Result() *Result { return v.result }

func (v *Verifier) handleV1(_ int, p piecehash.V1HashedPiece) error {
	ref, err := v.storage.GetPieceHash(int(p.Index))
	if err != nil {
		return err
	}
	v.result.mu.Lock()
	v.result.V1[p.Index] = ref.Equal(p.Hash)
	v.result.mu.Unlock()
	return nil
}

func (v *Verifier) handleV2(_ int, p piecehash.V2HashedPiece) error {
	shape := &v.shapes[p.FileIndex]
	shape.tree.SetLeaf(int(p.LeafIndex), p.Hash)
	if v.done[p.FileIndex].Add(1) == shape.leafTotal {
		hasher, err := hashutil.NewSingleBuffer(hashutil.SHA256)
		if err != nil {
			return err
		}
		shape.tree.Update(hasher)
		ref := v.storage.File(p.FileIndex)

		if shape.fileSize <= v.storage.PieceSize() {
			v.result.setV2(p.FileIndex, []bool{ref.PiecesRoot.Equal(shape.tree.Root())})
			return nil
		}
		computed := shape.tree.PieceLayer(shape.fileSize, v.storage.PieceSize())
		entries := make([]bool, len(ref.PieceLayer))
		for i := range entries {
			if i < len(computed) {
				entries[i] = ref.PieceLayer[i].Equal(computed[i])
			}
		}
		v.result.setV2(p.FileIndex, entries)
	}
	return nil
}
