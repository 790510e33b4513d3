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

// V1Reader streams the full v1 byte stream (concatenation of file contents in storage
// order) in io_block_size buffers (spec §4.5.1). A missing or padding file (the verify
// path) is treated as a run of zero bytes: whole missing pieces are emitted as null-data
// chunks, and partial pieces at the missing file's boundaries are zero-filled in place.
type V1Reader struct {
	Storage     *filestorage.FileStorage
	IOBlockSize int64
	Pool        *BufferPool
	Consumers   []Consumer

	BytesRead atomic.Int64
}

// Run drains every file in storage order, fanning chunks out to every consumer. It
// returns errs.ErrIO on an unexpected read failure, or ctx.Err() if cancelled.
func (r *V1Reader) Run(ctx context.Context) error {
	pieceSize := r.Storage.PieceSize()
	piecesPerChunk := r.IOBlockSize / pieceSize

	var pieceIndex int64
	var chunkOffset int64
	buf := r.Pool.Get(int(r.IOBlockSize))

	flush := func(fileIdx int) {
		if chunkOffset == 0 {
			buf.Release()
		} else {
			buf.data = buf.data[:chunkOffset]
			fanOut(r.Consumers, DataChunk{PieceIndex: pieceIndex, FileIndex: fileIdx, Buf: buf})
		}
		buf = r.Pool.Get(int(r.IOBlockSize))
		chunkOffset = 0
	}

	zeroFill := func(from, n int64) {
		for i := from; i < from+n; i++ {
			buf.data[i] = 0
		}
	}

	files := r.Storage.Files()
	var lastFileIdx int
	for fileIdx, f := range files {
		lastFileIdx = fileIdx
		select {
		case <-ctx.Done():
			buf.Release()
			return ctx.Err()
		default:
		}

		path := filepath.Join(r.Storage.RootDirectory(), f.Path)
		info, statErr := os.Stat(path)
		missing := f.IsPaddingFile() || statErr != nil

		if missing {
			missingSize := f.FileSize
			if chunkOffset != 0 {
				piecesInChunk := (chunkOffset + pieceSize - 1) / pieceSize
				missingPieceBytes := piecesInChunk*pieceSize - chunkOffset
				if missingPieceBytes > missingSize {
					missingPieceBytes = missingSize
				}
				zeroFill(chunkOffset, missingPieceBytes)
				chunkOffset += missingPieceBytes
				missingSize -= missingPieceBytes
				flush(fileIdx)
				pieceIndex += piecesInChunk
			}

			fullMissingPieces := missingSize / pieceSize
			for i := int64(0); i < fullMissingPieces; i++ {
				fanOut(r.Consumers, DataChunk{PieceIndex: pieceIndex, FileIndex: fileIdx, Buf: nil})
				pieceIndex++
			}

			tail := missingSize % pieceSize
			if tail > 0 {
				zeroFill(chunkOffset, tail)
				chunkOffset += tail
			}
			continue
		}

		r.Storage.SetLastModifiedTime(fileIdx, info.ModTime())

		osFile, err := os.Open(path)
		if err != nil {
			buf.Release()
			return errs.Wrap(errs.ErrIO, "chunkio: open "+path)
		}

		for {
			select {
			case <-ctx.Done():
				osFile.Close()
				buf.Release()
				return ctx.Err()
			default:
			}

			n, readErr := osFile.Read(buf.data[chunkOffset:])
			if n > 0 {
				r.BytesRead.Add(int64(n))
				chunkOffset += int64(n)
			}
			if chunkOffset == int64(len(buf.data)) {
				flush(fileIdx)
				pieceIndex += piecesPerChunk
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				osFile.Close()
				buf.Release()
				return errs.Wrap(errs.ErrIO, "chunkio: read "+path)
			}
		}
		osFile.Close()
	}

	if chunkOffset > 0 {
		buf.data = buf.data[:chunkOffset]
		fanOut(r.Consumers, DataChunk{PieceIndex: pieceIndex, FileIndex: lastFileIdx, Buf: buf})
	} else {
		buf.Release()
	}
	return nil
}
