package torrentdriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/omnicloud/torrentbuild/internal/chunkio"
	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
	"github.com/omnicloud/torrentbuild/internal/piecehash"
	"github.com/omnicloud/torrentbuild/internal/piecesink"
	"github.com/omnicloud/torrentbuild/internal/procbase"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// VerifierDriver is the verify-path storage driver (spec §4.11 "Verifier driver is
// identical except it substitutes the verifier for the writer"): same wiring as
// HasherDriver, but against a storage already carrying reference hashes (loaded from a
// metafile) and a piecesink.Verifier in place of the Writer.
type VerifierDriver struct {
	cfg     Config
	storage *filestorage.FileStorage
	runID   string

	ctx    context.Context
	cancel context.CancelFunc

	v1Reader *chunkio.V1Reader
	v2Reader *chunkio.V2Reader

	v1Hasher *piecehash.V1Hasher
	v2Hasher *piecehash.V2Hasher

	verifier *piecesink.Verifier

	checksumHashers []*piecehash.ChecksumHasher
	checksumQueues  []*workqueue.Queue[chunkio.DataChunk]
	checksumWG      sync.WaitGroup

	progress *fileProgress

	readerErrCh chan error
	started     atomic.Bool
	cancelled   atomic.Bool

	waitOnce   sync.Once
	waitResult error
}

// NewVerifierDriver mirrors NewHasherDriver's construction-time lifecycle, but storage
// must already carry the reference v1 pieces / v2 roots+layers to check against (spec
// §4.11 verifier variant). Piece size, alignment, and allocation are NOT redone here:
// a verify run checks storage exactly as loaded, so a mismatched piece size surfaces as
// verification failures rather than being silently recomputed.
func NewVerifierDriver(cfg Config, storage *filestorage.FileStorage) (*VerifierDriver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if storage.PieceSize() == 0 {
		return nil, fmt.Errorf("torrentdriver: verify requires a piece size already set on storage: %w", errs.ErrInvalidArgument)
	}

	ioBlock := ioBlockSize(cfg.MinIOBlockSize, storage.PieceSize())
	qCap := queueCapacity(cfg.MaxMemory, ioBlock)
	pool := chunkio.NewBufferPool(int(ioBlock))

	d := &VerifierDriver{
		cfg:         cfg,
		storage:     storage,
		runID:       uuid.NewString(),
		readerErrCh: make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	var v1Queue *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]]
	var v2Queue *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]]
	if cfg.ProtocolVersion == ProtocolV1 || cfg.ProtocolVersion == ProtocolHybrid {
		v1Queue = workqueue.New[procbase.Job[piecehash.V1HashedPiece]](qCap)
	}
	if cfg.ProtocolVersion == ProtocolV2 || cfg.ProtocolVersion == ProtocolHybrid {
		v2Queue = workqueue.New[procbase.Job[piecehash.V2HashedPiece]](qCap)
	}
	verifier, err := piecesink.NewVerifier(storage, v1Queue, v2Queue, cfg.Threads)
	if err != nil {
		return nil, err
	}
	d.verifier = verifier

	hashQueue := workqueue.New[procbase.Job[chunkio.DataChunk]](qCap)
	consumers := []chunkio.Consumer{chunkio.NewQueueConsumer(hashQueue.Push)}

	switch cfg.ProtocolVersion {
	case ProtocolV1:
		outputV1 := func(p piecehash.V1HashedPiece) {
			v1Queue.Push(procbase.Job[piecehash.V1HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV1Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV1)
		if err != nil {
			return nil, err
		}
		d.v1Hasher = h
		d.v1Reader = &chunkio.V1Reader{Storage: storage, IOBlockSize: ioBlock, Pool: pool, Consumers: consumers}

	case ProtocolV2:
		outputV2 := func(p piecehash.V2HashedPiece) {
			v2Queue.Push(procbase.Job[piecehash.V2HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV2Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV2)
		if err != nil {
			return nil, err
		}
		d.v2Hasher = h
		d.v2Reader = &chunkio.V2Reader{Storage: storage, IOBlockSize: ioBlock, Pool: pool, Consumers: consumers}

	case ProtocolHybrid:
		outputV2 := func(p piecehash.V2HashedPiece) {
			v2Queue.Push(procbase.Job[piecehash.V2HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV2Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV2)
		if err != nil {
			return nil, err
		}
		h.Hybrid = func(p piecehash.V1HashedPiece) {
			v1Queue.Push(procbase.Job[piecehash.V1HashedPiece]{Value: p})
		}
		h.V1PieceOffset = v1PieceOffsets(storage)
		h.FileSize = make([]int64, storage.FileCount())
		for i, f := range storage.Files() {
			h.FileSize[i] = f.FileSize
		}
		h.LastFileIndex = storage.FileCount() - 1
		d.v2Hasher = h
		d.v2Reader = &chunkio.V2Reader{Storage: storage, IOBlockSize: ioBlock, Pool: pool, Consumers: consumers}
	}

	v2Stream := cfg.ProtocolVersion != ProtocolV1
	sizes, realIndex := buildStreamIndex(storage, v2Stream)
	for _, fn := range cfg.Checksums {
		checksumQueue := workqueue.New[chunkio.DataChunk](qCap)
		onFile := func(pos int, h hashutil.Hash) {
			storage.File(realIndex[pos]).SetChecksum(h)
		}
		ch, err := piecehash.NewChecksumHasher(fn, sizes, onFile)
		if err != nil {
			return nil, err
		}
		d.checksumHashers = append(d.checksumHashers, ch)
		d.checksumQueues = append(d.checksumQueues, checksumQueue)
		consumers = append(consumers, chunkio.NewQueueConsumer(checksumQueue.Push))
	}
	if d.v1Reader != nil {
		d.v1Reader.Consumers = consumers
	} else {
		d.v2Reader.Consumers = consumers
	}

	d.progress = newFileProgress(storage, cfg.ProtocolVersion == ProtocolV1)
	return d, nil
}

func (d *VerifierDriver) RunID() string { return d.runID }

func (d *VerifierDriver) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("torrentdriver: start called twice: %w", errs.ErrInvalidState)
	}
	if err := d.verifier.Start(); err != nil {
		return err
	}
	if d.v1Hasher != nil {
		if err := d.v1Hasher.Start(); err != nil {
			return err
		}
	}
	if d.v2Hasher != nil {
		if err := d.v2Hasher.Start(); err != nil {
			return err
		}
	}
	for i, ch := range d.checksumHashers {
		d.checksumWG.Add(1)
		queue := d.checksumQueues[i]
		go func(ch *piecehash.ChecksumHasher) {
			defer d.checksumWG.Done()
			ch.Run(d.ctx, queue.Pop)
		}(ch)
	}
	go func() {
		if d.v1Reader != nil {
			d.readerErrCh <- d.v1Reader.Run(d.ctx)
			return
		}
		d.readerErrCh <- d.v2Reader.Run(d.ctx)
	}()
	return nil
}

func (d *VerifierDriver) Cancel() error {
	d.cancelled.Store(true)
	d.cancel()
	if d.v1Hasher != nil {
		d.v1Hasher.RequestCancellation()
	}
	if d.v2Hasher != nil {
		d.v2Hasher.RequestCancellation()
	}
	d.verifier.RequestCancellation()
	return d.Wait()
}

func (d *VerifierDriver) Wait() error {
	d.waitOnce.Do(func() {
		var result *multierror.Error

		if readerErr := <-d.readerErrCh; readerErr != nil {
			result = multierror.Append(result, readerErr)
		}

		if d.v1Hasher != nil {
			d.v1Hasher.RequestStop()
			if err := d.v1Hasher.Wait(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if d.v2Hasher != nil {
			d.v2Hasher.RequestStop()
			if err := d.v2Hasher.Wait(); err != nil {
				result = multierror.Append(result, err)
			}
		}

		for _, q := range d.checksumQueues {
			q.Close()
		}
		d.checksumWG.Wait()

		d.verifier.RequestStop()
		if err := d.verifier.Wait(); err != nil {
			result = multierror.Append(result, err)
		}

		if d.cancelled.Load() {
			result = multierror.Append(result, errs.ErrCancelled)
		}

		if result == nil {
			d.waitResult = nil
		} else {
			d.waitResult = result.ErrorOrNil()
		}
	})
	return d.waitResult
}

// Result returns the per-piece validity bitmap accumulated so far (spec §4.11 "result()").
func (d *VerifierDriver) Result() *piecesink.Result { return d.verifier.Result() }

// Percentage reports the fraction (0.0-1.0) of fileIndex's pieces confirmed valid so far
// (spec §4.11 "percentage(file_index)"). Prefers the v1 piece range when v1 is in scope
// (covers the whole file uniformly); falls back to the v2 piece-layer entries otherwise.
func (d *VerifierDriver) Percentage(fileIndex int) float64 {
	result := d.verifier.Result()
	if d.v1Hasher != nil || (d.v2Hasher != nil && d.v2Hasher.Hybrid != nil) {
		first, lastExclusive := d.storage.PiecesOffsets(fileIndex)
		if lastExclusive <= first {
			return 1
		}
		var valid int64
		for i := first; i < lastExclusive; i++ {
			if result.V1[i] {
				valid++
			}
		}
		return float64(valid) / float64(lastExclusive-first)
	}
	entries := result.V2[fileIndex]
	if len(entries) == 0 {
		return 0
	}
	var valid int
	for _, ok := range entries {
		if ok {
			valid++
		}
	}
	return float64(valid) / float64(len(entries))
}

func (d *VerifierDriver) BytesRead() int64 {
	if d.v1Reader != nil {
		return d.v1Reader.BytesRead.Load()
	}
	return d.v2Reader.BytesRead.Load()
}

func (d *VerifierDriver) BytesHashed() int64 {
	if d.v1Hasher != nil {
		return d.v1Hasher.BytesHashed.Load()
	}
	return d.v2Hasher.BytesHashed.Load()
}

func (d *VerifierDriver) BytesDone() int64 { return d.BytesHashed() }

func (d *VerifierDriver) CurrentFileProgress() FileProgress { return d.progress.lookup(d.BytesDone()) }
