package filestorage

import (
	"testing"

	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

func TestAddFileTracksTotals(t *testing.T) {
	s := New()
	if err := s.AddFile(FileEntry{Path: "a.bin", FileSize: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFile(FileEntry{Path: ".pad/28", FileSize: 28, Attributes: AttrPadding}); err != nil {
		t.Fatal(err)
	}
	if s.TotalFileSize() != 128 {
		t.Errorf("TotalFileSize() = %d, want 128", s.TotalFileSize())
	}
	if s.TotalRegularFileSize() != 100 {
		t.Errorf("TotalRegularFileSize() = %d, want 100 (padding excluded)", s.TotalRegularFileSize())
	}
}

func TestRemoveFileInvalidatesPathIndex(t *testing.T) {
	s := New()
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 1})
	_ = s.AddFile(FileEntry{Path: "b.bin", FileSize: 1})

	if _, ok := s.IndexOfPath("b.bin"); !ok {
		t.Fatal("expected to find b.bin")
	}
	if err := s.RemoveFile(0); err != nil {
		t.Fatal(err)
	}
	i, ok := s.IndexOfPath("b.bin")
	if !ok || i != 0 {
		t.Errorf("after removing a.bin, b.bin should be at index 0, got index=%d ok=%v", i, ok)
	}
}

func TestSetPieceSizeRejectsNonPowerOfTwo(t *testing.T) {
	s := New()
	if err := s.SetPieceSize(100); err == nil {
		t.Error("non-power-of-two piece size should be rejected")
	}
	if err := s.SetPieceSize(1024); err == nil {
		t.Error("piece size below MinPieceSize should be rejected")
	}
	if err := s.SetPieceSize(32 * 1024); err != nil {
		t.Errorf("valid piece size should be accepted, got %v", err)
	}
}

func TestSetPieceSizeClearsV2Data(t *testing.T) {
	s := New()
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 1})
	s.File(0).SetV2Data(hashutil.Hash{Function: hashutil.SHA256, Bytes: make([]byte, 32)}, nil)

	if err := s.SetPieceSize(32 * 1024); err != nil {
		t.Fatal(err)
	}
	if s.File(0).HasV2Data {
		t.Error("changing piece size should clear v2 data")
	}
}

func TestAutoSelectPieceSize(t *testing.T) {
	s := New()
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 0})
	s.AutoSelectPieceSize()
	if s.PieceSize() != 1<<15 {
		t.Errorf("empty torrent should select the clamp floor 2^15, got %d", s.PieceSize())
	}

	s2 := New()
	_ = s2.AddFile(FileEntry{Path: "big.bin", FileSize: 1 << 34}) // 16 GiB
	s2.AutoSelectPieceSize()
	if s2.PieceSize() < MinPieceSize || s2.PieceSize() > (1<<24) {
		t.Errorf("piece size %d out of allowed range", s2.PieceSize())
	}
}

func TestAutoSelectPieceSizeNoopIfAlreadySet(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(64 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 1 << 30})
	s.AutoSelectPieceSize()
	if s.PieceSize() != 64*1024 {
		t.Errorf("AutoSelectPieceSize should not override an explicit piece size, got %d", s.PieceSize())
	}
}

func TestPieceCount(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 16*1024 + 1})
	if got, want := s.PieceCount(), int64(2); got != want {
		t.Errorf("PieceCount() = %d, want %d", got, want)
	}
}

func TestPiecesOffsets(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 16 * 1024})
	_ = s.AddFile(FileEntry{Path: "b.bin", FileSize: 16*1024 + 1})

	first, last := s.PiecesOffsets(1)
	if first != 1 || last != 3 {
		t.Errorf("PiecesOffsets(1) = (%d, %d), want (1, 3)", first, last)
	}
}

func TestAlignForHybridInsertsPadding(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 10})
	_ = s.AddFile(FileEntry{Path: "b.bin", FileSize: 10})

	if err := s.AlignForHybrid(); err != nil {
		t.Fatal(err)
	}
	if !s.IsPieceAligned() {
		t.Error("after AlignForHybrid every non-padding file should start on a piece boundary")
	}
	files := s.Files()
	if len(files) != 3 {
		t.Fatalf("expected 1 padding entry inserted between the 2 files, got %d files", len(files))
	}
	if !files[1].IsPaddingFile() {
		t.Errorf("expected a padding entry at index 1, got %+v", files[1])
	}
	if files[2].Path != "b.bin" {
		t.Errorf("expected b.bin last, got %q", files[2].Path)
	}
}

func TestAlignForHybridIdempotent(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 10})
	_ = s.AddFile(FileEntry{Path: "b.bin", FileSize: 10})
	_ = s.AlignForHybrid()
	firstPass := len(s.Files())

	if err := s.AlignForHybrid(); err != nil {
		t.Fatal(err)
	}
	if len(s.Files()) != firstPass {
		t.Errorf("running AlignForHybrid twice should be idempotent: %d != %d", len(s.Files()), firstPass)
	}
}

func TestAlignForHybridNoTrailingPadding(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 10})
	if err := s.AlignForHybrid(); err != nil {
		t.Fatal(err)
	}
	if len(s.Files()) != 1 {
		t.Errorf("the last file should never get trailing padding, got %d files", len(s.Files()))
	}
}

func TestProtocolDetection(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(16 * 1024)
	_ = s.AddFile(FileEntry{Path: "a.bin", FileSize: 10})

	if got := s.Protocol(); got != ProtocolNone {
		t.Errorf("no v1 pieces and no v2 data should report ProtocolNone, got %v", got)
	}

	s.MarkV2Requested()
	s.File(0).SetV2Data(hashutil.Hash{Function: hashutil.SHA256, Bytes: make([]byte, 32)}, nil)
	if got := s.Protocol(); got != ProtocolV2 {
		t.Errorf("complete v2 data with no v1 pieces should report ProtocolV2, got %v", got)
	}

	s.AllocatePieces()
	if got := s.Protocol(); got != ProtocolHybrid {
		t.Errorf("file with both v1 pieces and v2 data should report ProtocolHybrid, got %v", got)
	}
}

// TestProtocolEmptyFilesReportV1 covers spec §8's "three zero-byte files, build v1"
// scenario: AllocatePieces was actually run (v1 hashing was requested), but a
// single-piece array with no per-file HasV2Data must still read as ProtocolV1, not
// ProtocolNone.
func TestProtocolEmptyFilesReportV1(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(MinPieceSize)
	_ = s.AddFile(FileEntry{Path: "a"})
	_ = s.AddFile(FileEntry{Path: "b"})
	_ = s.AddFile(FileEntry{Path: "c"})

	if got := s.PieceCount(); got != 1 {
		t.Fatalf("PieceCount() of three zero-byte files = %d, want 1", got)
	}
	s.AllocatePieces()

	if got := s.Pieces()[0]; got.IsZero() {
		t.Error("the lone piece of an all-empty-file torrent should be seeded with a real digest, not left unset")
	}
	if got := s.Protocol(); got != ProtocolV1 {
		t.Errorf("zero-byte files with v1 hashing requested should report ProtocolV1, got %v", got)
	}
}

// TestProtocolEmptyFilesReportV2 is the v2-only counterpart: a real file with zero bytes
// never gets SetV2Data called on it (there is nothing to hash), so v2 readiness must not
// require it, once v2 hashing was actually requested for this storage.
func TestProtocolEmptyFilesReportV2(t *testing.T) {
	s := New()
	_ = s.SetPieceSize(MinPieceSize)
	_ = s.AddFile(FileEntry{Path: "a"})
	s.MarkV2Requested()

	if got := s.Protocol(); got != ProtocolV2 {
		t.Errorf("zero-byte file with v2 hashing requested should report ProtocolV2, got %v", got)
	}
}
