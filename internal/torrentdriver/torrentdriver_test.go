package torrentdriver

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size) + 1)).Read(data)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func baseConfig(protocol Protocol) Config {
	return Config{
		ProtocolVersion: protocol,
		MinIOBlockSize:  filestorage.MinPieceSize,
		MaxMemory:       filestorage.MinPieceSize * 16,
		Threads:         2,
	}
}

func TestHasherDriverV1BuildsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", 40*1024)
	writeFile(t, dir, "b.bin", 10)

	storage := filestorage.New()
	storage.SetRootDirectory(dir)
	if err := storage.SetPieceSize(filestorage.MinPieceSize); err != nil {
		t.Fatal(err)
	}
	for _, f := range []struct {
		name string
		size int64
	}{{"a.bin", 40 * 1024}, {"b.bin", 10}} {
		if err := storage.AddFile(filestorage.FileEntry{Path: f.name, FileSize: f.size}); err != nil {
			t.Fatal(err)
		}
	}

	cfg := baseConfig(ProtocolV1)
	cfg.Checksums = []hashutil.Function{hashutil.SHA256}
	driver, err := NewHasherDriver(cfg, storage)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := driver.Wait(); err != nil {
		t.Fatal(err)
	}

	if storage.Protocol() != filestorage.ProtocolV1 {
		t.Fatalf("protocol after build = %v, want v1", storage.Protocol())
	}
	for i := range storage.Files() {
		if _, ok := storage.File(i).Checksums[hashutil.SHA256]; !ok {
			t.Errorf("file %d missing sha256 checksum", i)
		}
	}

	verifyCfg := baseConfig(ProtocolV1)
	vdriver, err := NewVerifierDriver(verifyCfg, storage)
	if err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Wait(); err != nil {
		t.Fatal(err)
	}
	if !vdriver.Result().AllValid() {
		t.Error("expected a freshly built torrent to verify clean")
	}
}

func TestHasherDriverV2BuildsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", 40*1024)

	storage := filestorage.New()
	storage.SetRootDirectory(dir)
	if err := storage.SetPieceSize(filestorage.MinPieceSize); err != nil {
		t.Fatal(err)
	}
	if err := storage.AddFile(filestorage.FileEntry{Path: "a.bin", FileSize: 40 * 1024}); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig(ProtocolV2)
	driver, err := NewHasherDriver(cfg, storage)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := driver.Wait(); err != nil {
		t.Fatal(err)
	}
	if !storage.File(0).HasV2Data {
		t.Fatal("expected v2 data to be populated")
	}

	vdriver, err := NewVerifierDriver(baseConfig(ProtocolV2), storage)
	if err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Wait(); err != nil {
		t.Fatal(err)
	}
	if !vdriver.Result().AllValid() {
		t.Error("expected a freshly built v2 torrent to verify clean")
	}
}

func TestHasherDriverHybridBuildsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", 18*1024)
	writeFile(t, dir, "b.bin", 5*1024)

	storage := filestorage.New()
	storage.SetRootDirectory(dir)
	if err := storage.SetPieceSize(filestorage.MinPieceSize); err != nil {
		t.Fatal(err)
	}
	for _, f := range []struct {
		name string
		size int64
	}{{"a.bin", 18 * 1024}, {"b.bin", 5 * 1024}} {
		if err := storage.AddFile(filestorage.FileEntry{Path: f.name, FileSize: f.size}); err != nil {
			t.Fatal(err)
		}
	}

	driver, err := NewHasherDriver(baseConfig(ProtocolHybrid), storage)
	if err != nil {
		t.Fatal(err)
	}
	if !storage.IsPieceAligned() {
		t.Fatal("expected the driver's construction to have aligned storage")
	}
	if err := driver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := driver.Wait(); err != nil {
		t.Fatal(err)
	}
	if storage.Protocol() != filestorage.ProtocolHybrid {
		t.Fatalf("protocol after hybrid build = %v, want hybrid", storage.Protocol())
	}

	vdriver, err := NewVerifierDriver(baseConfig(ProtocolHybrid), storage)
	if err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Start(); err != nil {
		t.Fatal(err)
	}
	if err := vdriver.Wait(); err != nil {
		t.Fatal(err)
	}
	if !vdriver.Result().AllValid() {
		t.Error("expected a freshly built hybrid torrent to verify clean")
	}
}

func TestCurrentFileProgressTracksSecondFile(t *testing.T) {
	s := filestorage.New()
	if err := s.SetPieceSize(filestorage.MinPieceSize); err != nil {
		t.Fatal(err)
	}
	_ = s.AddFile(filestorage.FileEntry{Path: "a.bin", FileSize: 100})
	_ = s.AddFile(filestorage.FileEntry{Path: "b.bin", FileSize: 200})

	p := newFileProgress(s, true)
	got := p.lookup(150)
	if got.FileIndex != 1 || got.BytesInFile != 50 {
		t.Errorf("lookup(150) = %+v, want {1 50}", got)
	}
	got = p.lookup(250)
	if got.FileIndex != 1 || got.BytesInFile != 150 {
		t.Errorf("lookup(250) = %+v, want {1 150}", got)
	}
}
