package torrentdriver

import "github.com/omnicloud/torrentbuild/internal/filestorage"

// buildStreamIndex lists the files a reader actually streams, in order, mapping each
// streamed position back to its real storage index. v2 mirrors chunkio.V2Reader's own
// skip condition (padding, symlinks, and zero-size files never produce a chunk); v1
// mirrors chunkio.V1Reader, which streams every file including padding (zero-filled).
func buildStreamIndex(storage *filestorage.FileStorage, v2 bool) (sizes []int64, realIndex []int) {
	for i, f := range storage.Files() {
		if v2 && (f.IsPaddingFile() || f.IsSymlink() || f.FileSize == 0) {
			continue
		}
		sizes = append(sizes, f.FileSize)
		realIndex = append(realIndex, i)
	}
	return sizes, realIndex
}

// v1PieceOffsets computes dottorrent's v1_piece_offsets_: offsets[i] is the global v1
// piece index of file i's first piece, counting every non-padding file's whole-piece
// contribution ahead of it (spec §4.8 "V1PieceOffset").
func v1PieceOffsets(storage *filestorage.FileStorage) []int64 {
	offsets := make([]int64, storage.FileCount())
	pieceSize := storage.PieceSize()
	var pieces int64
	for i, f := range storage.Files() {
		offsets[i] = pieces
		if f.IsPaddingFile() {
			continue
		}
		pieces += (f.FileSize + pieceSize - 1) / pieceSize
	}
	return offsets
}
