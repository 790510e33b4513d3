package hashutil

import (
	"errors"
	"testing"

	"github.com/omnicloud/torrentbuild/internal/errs"
)

func TestSizeKnownFunctions(t *testing.T) {
	cases := map[Function]int{
		SHA1:       20,
		SHA256:     32,
		SHA512:     64,
		MD5:        16,
		Blake2b256: 32,
		Blake2b512: 64,
		XXH64:      8,
	}
	for fn, want := range cases {
		if got := fn.Size(); got != want {
			t.Errorf("%s.Size() = %d, want %d", fn, got, want)
		}
	}
}

func TestSizeUnknownFunction(t *testing.T) {
	if got := Function("bogus").Size(); got != 0 {
		t.Errorf("Size() of unknown function = %d, want 0", got)
	}
}

func TestNewStdlibHashUnknown(t *testing.T) {
	_, err := newStdlibHash("bogus")
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err = %v, want wrapping ErrInvalidArgument", err)
	}
}

func TestHashEqual(t *testing.T) {
	a := Hash{Function: SHA1, Bytes: []byte{1, 2, 3}}
	b := Hash{Function: SHA1, Bytes: []byte{1, 2, 3}}
	c := Hash{Function: SHA256, Bytes: []byte{1, 2, 3}}
	d := Hash{Function: SHA1, Bytes: []byte{1, 2, 4}}

	if !a.Equal(b) {
		t.Error("identical digests should be equal")
	}
	if a.Equal(c) {
		t.Error("digests from different functions should never be equal")
	}
	if a.Equal(d) {
		t.Error("differing bytes should not be equal")
	}
}

func TestHashLess(t *testing.T) {
	a := Hash{Bytes: []byte{1, 2, 3}}
	b := Hash{Bytes: []byte{1, 2, 4}}
	short := Hash{Bytes: []byte{1, 2}}

	if !a.Less(b) {
		t.Error("a should sort before b")
	}
	if b.Less(a) {
		t.Error("b should not sort before a")
	}
	if !short.Less(a) {
		t.Error("shorter common-prefix digest should sort first")
	}
}

func TestHashHexAndIsZero(t *testing.T) {
	h := Hash{Bytes: []byte{0xde, 0xad, 0xbe, 0xef}}
	if got, want := h.Hex(), "deadbeef"; got != want {
		t.Errorf("Hex() = %q, want %q", got, want)
	}
	if h.IsZero() {
		t.Error("non-empty digest should not be zero")
	}
	if !(Hash{}).IsZero() {
		t.Error("empty digest should be zero")
	}
}
