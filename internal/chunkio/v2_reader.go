package chunkio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
)

// V2Reader reads each file's own byte stream independently, resetting piece_index to
// zero at the start of every file (spec §4.5.2). Each emitted chunk belongs to exactly
// one file; empty files emit nothing.
type V2Reader struct {
	Storage     *filestorage.FileStorage
	IOBlockSize int64
	Pool        *BufferPool
	Consumers   []Consumer

	BytesRead atomic.Int64
}

func (r *V2Reader) Run(ctx context.Context) error {
	pieceSize := r.Storage.PieceSize()
	piecesPerChunk := r.IOBlockSize / pieceSize

	for fileIdx, f := range r.Storage.Files() {
		if f.IsPaddingFile() || f.IsSymlink() || f.FileSize == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := filepath.Join(r.Storage.RootDirectory(), f.Path)
		osFile, err := os.Open(path)
		if err != nil {
			return errs.Wrap(errs.ErrIO, "chunkio: open "+path)
		}
		if info, statErr := osFile.Stat(); statErr == nil {
			r.Storage.SetLastModifiedTime(fileIdx, info.ModTime())
		}

		var pieceIndex int64
		for {
			select {
			case <-ctx.Done():
				osFile.Close()
				return ctx.Err()
			default:
			}

			buf := r.Pool.Get(int(r.IOBlockSize))
			n, readErr := io.ReadFull(osFile, buf.data)
			if n > 0 {
				r.BytesRead.Add(int64(n))
				buf.data = buf.data[:n]
				fanOut(r.Consumers, DataChunk{PieceIndex: pieceIndex, FileIndex: fileIdx, Buf: buf})
				pieceIndex += piecesPerChunk
			} else {
				buf.Release()
			}

			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				osFile.Close()
				return errs.Wrap(errs.ErrIO, "chunkio: read "+path)
			}
		}
		osFile.Close()
	}
	return nil
}
