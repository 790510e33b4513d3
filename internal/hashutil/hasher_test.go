package hashutil

import (
	"crypto/sha1"
	"testing"
)

func TestSingleBufferHasherMatchesStdlib(t *testing.T) {
	h, err := NewSingleBuffer(SHA1)
	if err != nil {
		t.Fatal(err)
	}
	h.Update([]byte("hello "))
	h.Update([]byte("world"))
	got := h.FinalizeTo(nil)

	want := sha1.Sum([]byte("hello world"))
	wantHash := Hash{Function: SHA1, Bytes: want[:]}
	if got.Hex() != wantHash.Hex() {
		t.Errorf("digest = %x, want %x", got.Bytes, want)
	}
}

func TestSingleBufferHasherResetsAfterFinalize(t *testing.T) {
	h, err := NewSingleBuffer(SHA1)
	if err != nil {
		t.Fatal(err)
	}
	h.Update([]byte("first"))
	first := h.FinalizeTo(nil)

	h.Update([]byte("second"))
	second := h.FinalizeTo(nil)

	if first.Equal(second) {
		t.Error("finalize should reset state; second digest must differ from first")
	}

	want := sha1.Sum([]byte("second"))
	wantHash := Hash{Function: SHA1, Bytes: want[:]}
	if second.Hex() != wantHash.Hex() {
		t.Errorf("second digest = %x, want %x", second.Bytes, want)
	}
}

func TestMultiBufferHasherJobIsolation(t *testing.T) {
	m, err := NewMultiBuffer(SHA1, 4)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Submit(1, []byte("alpha"), JobFirst); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(2, []byte("beta"), JobFirst); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(1, []byte("-tail"), JobLast); err != nil {
		t.Fatal(err)
	}

	got1, err := m.FinalizeTo(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	want1 := sha1.Sum([]byte("alpha-tail"))
	want1Hash := Hash{Function: SHA1, Bytes: want1[:]}
	if got1.Hex() != want1Hash.Hex() {
		t.Errorf("job 1 digest = %x, want %x", got1.Bytes, want1)
	}

	if err := m.Submit(2, []byte("-end"), JobLast); err != nil {
		t.Fatal(err)
	}
	got2, err := m.FinalizeTo(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	want2 := sha1.Sum([]byte("beta-end"))
	want2Hash := Hash{Function: SHA1, Bytes: want2[:]}
	if got2.Hex() != want2Hash.Hex() {
		t.Errorf("job 2 digest = %x, want %x", got2.Bytes, want2)
	}
}

func TestMultiBufferFinalizeUnknownJob(t *testing.T) {
	m, err := NewMultiBuffer(SHA1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.FinalizeTo(99, nil); err == nil {
		t.Error("finalizing an unsubmitted job should error")
	}
}

func TestNewHasherFactory(t *testing.T) {
	single, err := NewHasher(BackendSingle, SHA1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := single.(*SingleBufferHasher); !ok {
		t.Errorf("BackendSingle should yield *SingleBufferHasher, got %T", single)
	}

	multi, err := NewHasher(BackendMultiBuffer, SHA1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := multi.(*MultiBufferHasher); !ok {
		t.Errorf("BackendMultiBuffer should yield *MultiBufferHasher, got %T", multi)
	}
}
