package torrentdriver

import (
	"sort"
	"sync/atomic"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
)

// FileProgress is the driver's current_file_progress() result (spec §4.11/§6): the file
// being worked on and how many bytes of it have been consumed so far.
type FileProgress struct {
	FileIndex     int
	BytesInFile   int64
}

// fileProgress answers current_file_progress() by binary-searching bytes_done into a
// precomputed cumulative-size vector, remembering the last index found so repeated calls
// (which only ever see a monotonically increasing bytes_done) search forward from there
// instead of from the start (spec §4.11: "binary-search ... from the last known index").
type fileProgress struct {
	fileIndex  []int
	sizes      []int64
	cumulative []int64
	last       atomic.Int64
}

// newFileProgress builds the cumulative vector for one driver's reader stream.
// includePadding is true for v1 (which streams every file, padding included) and false
// for v2/hybrid (whose reader skips padding and symlink entries entirely).
func newFileProgress(storage *filestorage.FileStorage, includePadding bool) *fileProgress {
	p := &fileProgress{}
	var total int64
	for i, f := range storage.Files() {
		if !includePadding && (f.IsPaddingFile() || f.IsSymlink()) {
			continue
		}
		p.fileIndex = append(p.fileIndex, i)
		p.sizes = append(p.sizes, f.FileSize)
		p.cumulative = append(p.cumulative, total)
		total += f.FileSize
	}
	return p
}

func (p *fileProgress) lookup(bytesDone int64) FileProgress {
	if len(p.fileIndex) == 0 {
		return FileProgress{}
	}
	h := int(p.last.Load())
	if h < 0 || h >= len(p.cumulative) {
		h = 0
	}
	// Number of entries in cumulative[h:] that bytesDone has reached; the last of them is
	// the current file.
	if k := sort.Search(len(p.cumulative)-h, func(k int) bool { return p.cumulative[h+k] > bytesDone }); k > 0 {
		h += k - 1
	}
	p.last.Store(int64(h))
	return FileProgress{FileIndex: p.fileIndex[h], BytesInFile: bytesDone - p.cumulative[h]}
}
