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

// HasherDriver is the build-path storage driver (spec §4.11): it wires the chunk
// reader into the hasher(s) into the piece writer, plus zero or more checksum hashers,
// and owns their combined lifecycle. One instance per run; not reusable.
type HasherDriver struct {
	cfg     Config
	storage *filestorage.FileStorage
	runID   string

	ctx    context.Context
	cancel context.CancelFunc

	v1Reader *chunkio.V1Reader
	v2Reader *chunkio.V2Reader

	v1Hasher *piecehash.V1Hasher
	v2Hasher *piecehash.V2Hasher

	writer *piecesink.Writer

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

// NewHasherDriver validates cfg, runs the construction-time lifecycle of spec §4.11
// steps 1-6 against storage, and returns a driver ready to Start. storage must already
// hold its file list (names, sizes, attributes); no threads are started yet.
func NewHasherDriver(cfg Config, storage *filestorage.FileStorage) (*HasherDriver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if storage.PieceSize() == 0 {
		storage.AutoSelectPieceSize()
	}

	if cfg.ProtocolVersion == ProtocolHybrid && !storage.IsPieceAligned() {
		if err := storage.AlignForHybrid(); err != nil {
			return nil, fmt.Errorf("torrentdriver: align for hybrid: %w", err)
		}
	}
	if cfg.ProtocolVersion == ProtocolV1 || cfg.ProtocolVersion == ProtocolHybrid {
		storage.AllocatePieces()
	}
	if cfg.ProtocolVersion == ProtocolV2 || cfg.ProtocolVersion == ProtocolHybrid {
		storage.MarkV2Requested()
	}

	ioBlock := ioBlockSize(cfg.MinIOBlockSize, storage.PieceSize())
	qCap := queueCapacity(cfg.MaxMemory, ioBlock)
	pool := chunkio.NewBufferPool(int(ioBlock))

	d := &HasherDriver{
		cfg:         cfg,
		storage:     storage,
		runID:       uuid.NewString(),
		readerErrCh: make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	var v1WriterQueue *workqueue.Queue[procbase.Job[piecehash.V1HashedPiece]]
	var v2WriterQueue *workqueue.Queue[procbase.Job[piecehash.V2HashedPiece]]
	if cfg.ProtocolVersion == ProtocolV1 || cfg.ProtocolVersion == ProtocolHybrid {
		v1WriterQueue = workqueue.New[procbase.Job[piecehash.V1HashedPiece]](qCap)
	}
	if cfg.ProtocolVersion == ProtocolV2 || cfg.ProtocolVersion == ProtocolHybrid {
		v2WriterQueue = workqueue.New[procbase.Job[piecehash.V2HashedPiece]](qCap)
	}
	writer, err := piecesink.NewWriter(storage, v1WriterQueue, v2WriterQueue, cfg.Threads)
	if err != nil {
		return nil, err
	}
	d.writer = writer

	hashQueue := workqueue.New[procbase.Job[chunkio.DataChunk]](qCap)
	consumers := []chunkio.Consumer{chunkio.NewQueueConsumer(hashQueue.Push)}

	switch cfg.ProtocolVersion {
	case ProtocolV1:
		outputV1 := func(p piecehash.V1HashedPiece) {
			v1WriterQueue.Push(procbase.Job[piecehash.V1HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV1Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV1)
		if err != nil {
			return nil, err
		}
		d.v1Hasher = h
		d.v1Reader = &chunkio.V1Reader{Storage: storage, IOBlockSize: ioBlock, Pool: pool, Consumers: consumers}

	case ProtocolV2:
		outputV2 := func(p piecehash.V2HashedPiece) {
			v2WriterQueue.Push(procbase.Job[piecehash.V2HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV2Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV2)
		if err != nil {
			return nil, err
		}
		d.v2Hasher = h
		d.v2Reader = &chunkio.V2Reader{Storage: storage, IOBlockSize: ioBlock, Pool: pool, Consumers: consumers}

	case ProtocolHybrid:
		outputV2 := func(p piecehash.V2HashedPiece) {
			v2WriterQueue.Push(procbase.Job[piecehash.V2HashedPiece]{Value: p})
		}
		h, err := piecehash.NewV2Hasher(hashQueue, cfg.Threads, storage.PieceSize(), outputV2)
		if err != nil {
			return nil, err
		}
		h.Hybrid = func(p piecehash.V1HashedPiece) {
			v1WriterQueue.Push(procbase.Job[piecehash.V1HashedPiece]{Value: p})
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

// RunID identifies this driver instance for log correlation (spec §2 domain stack).
func (d *HasherDriver) RunID() string { return d.runID }

// Start launches the writer, hasher(s), checksum hashers, then the reader, in that order
// (spec §4.11 step 7).
func (d *HasherDriver) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("torrentdriver: start called twice: %w", errs.ErrInvalidState)
	}
	if err := d.writer.Start(); err != nil {
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

// Cancel propagates request_cancellation to every component and waits for shutdown
// (spec §5 "Cancellation and timeouts").
func (d *HasherDriver) Cancel() error {
	d.cancelled.Store(true)
	d.cancel()
	if d.v1Hasher != nil {
		d.v1Hasher.RequestCancellation()
	}
	if d.v2Hasher != nil {
		d.v2Hasher.RequestCancellation()
	}
	d.writer.RequestCancellation()
	return d.Wait()
}

// Wait joins the reader, then the hasher(s), then the checksum hashers, then the writer,
// in that order (spec §4.11 step 8), aggregating every worker error. Idempotent.
func (d *HasherDriver) Wait() error {
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

		d.writer.RequestStop()
		if err := d.writer.Wait(); err != nil {
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

// BytesRead is the non-blocking bytes_read progress getter (spec §6).
func (d *HasherDriver) BytesRead() int64 {
	if d.v1Reader != nil {
		return d.v1Reader.BytesRead.Load()
	}
	return d.v2Reader.BytesRead.Load()
}

// BytesHashed is the non-blocking bytes_hashed progress getter (spec §6).
func (d *HasherDriver) BytesHashed() int64 {
	if d.v1Hasher != nil {
		return d.v1Hasher.BytesHashed.Load()
	}
	return d.v2Hasher.BytesHashed.Load()
}

// BytesDone is the non-blocking bytes_done progress getter. This pipeline hands a hashed
// piece to the writer over a single bounded queue with no further async commit stage, so
// bytes_done tracks the same completion counters as BytesHashed rather than a separate
// writer-side counter.
func (d *HasherDriver) BytesDone() int64 { return d.BytesHashed() }

// CurrentFileProgress returns the file currently being hashed and how far into it
// (spec §4.11 "current_file_progress").
func (d *HasherDriver) CurrentFileProgress() FileProgress { return d.progress.lookup(d.BytesDone()) }
