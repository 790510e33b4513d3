// Package hashutil implements the hash primitives of the pipeline (spec §4.1, component
// C1): a small hash-function registry plus single-buffer and multi-buffer digest
// wrappers, selected through a factory keyed on the function tag.
package hashutil

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/omnicloud/torrentbuild/internal/errs"
)

// Function tags a hash algorithm. Equality and lexicographic ordering of the resulting
// digests are byte-wise (spec §3 "hash value").
type Function string

const (
	SHA1       Function = "sha1"
	SHA256     Function = "sha256"
	SHA512     Function = "sha512"
	MD5        Function = "md5"
	Blake2b256 Function = "blake2b-256"
	Blake2b512 Function = "blake2b-512"
	XXH64      Function = "xxh64"
)

// Size returns the digest length in bytes for a known function, or 0 if unknown.
func (f Function) Size() int {
	switch f {
	case SHA1:
		return sha1.Size
	case SHA256, Blake2b256:
		return sha256.Size
	case SHA512, Blake2b512:
		return sha512.Size
	case MD5:
		return md5.Size
	case XXH64:
		return 8
	default:
		return 0
	}
}

func (f Function) String() string { return string(f) }

// newStdlibHash constructs the underlying hash.Hash for a function tag. Shared by both
// the single-buffer and multi-buffer backends below.
func newStdlibHash(f Function) (hash.Hash, error) {
	switch f {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case MD5:
		return md5.New(), nil
	case XXH64:
		return xxhash.New(), nil
	case Blake2b256:
		return blake2b.New256(nil)
	case Blake2b512:
		return blake2b.New512(nil)
	default:
		return nil, fmt.Errorf("%w: unknown hash function %q", errs.ErrInvalidArgument, f)
	}
}

// Hash is a fixed-length digest tagged by the function that produced it.
type Hash struct {
	Function Function
	Bytes    []byte
}

// Hex renders the digest as lowercase hex (spec §3).
func (h Hash) Hex() string { return hex.EncodeToString(h.Bytes) }

// Equal reports byte-wise equality; digests from different functions are never equal.
func (h Hash) Equal(other Hash) bool {
	if h.Function != other.Function || len(h.Bytes) != len(other.Bytes) {
		return false
	}
	for i := range h.Bytes {
		if h.Bytes[i] != other.Bytes[i] {
			return false
		}
	}
	return true
}

// Less implements byte-wise lexicographic ordering for digests of the same function.
func (h Hash) Less(other Hash) bool {
	n := len(h.Bytes)
	if len(other.Bytes) < n {
		n = len(other.Bytes)
	}
	for i := 0; i < n; i++ {
		if h.Bytes[i] != other.Bytes[i] {
			return h.Bytes[i] < other.Bytes[i]
		}
	}
	return len(h.Bytes) < len(other.Bytes)
}

// IsZero reports whether the digest is the function's zero-length placeholder (never
// hashed), e.g. an info hash that does not apply to a torrent's protocol. Unset Merkle
// leaves are not zero in this sense: they carry the caller-supplied fill value.
func (h Hash) IsZero() bool { return len(h.Bytes) == 0 }
