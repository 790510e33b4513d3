// Package filestorage implements the logical layout of torrent data (spec §4.3,
// component C3): an ordered file list, per-file metadata, the v1 piece array, and the
// hybrid-mode alignment pass. Grounded in the byte-range bookkeeping of the teacher's
// internal/torrent/split_storage.go (resolveFile/readFromFiles) and
// original_source/include/dottorrent/file_storage.hpp.
package filestorage

import (
	"time"

	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// Attr is the bitmask of file attributes from spec §3 ("attributes": bitmask of
// {symlink, executable, hidden, padding_file}). Encoded on the wire as the subset of
// {x, l, h, p}, always emitted in that fixed order (spec §6).
type Attr uint8

const (
	AttrExecutable Attr = 1 << iota
	AttrSymlink
	AttrHidden
	AttrPadding
)

// WireString renders the attribute subset in the fixed "xlhp" order required on encode.
func (a Attr) WireString() string {
	var s []byte
	if a&AttrExecutable != 0 {
		s = append(s, 'x')
	}
	if a&AttrSymlink != 0 {
		s = append(s, 'l')
	}
	if a&AttrHidden != 0 {
		s = append(s, 'h')
	}
	if a&AttrPadding != 0 {
		s = append(s, 'p')
	}
	return string(s)
}

// ParseAttr accepts the letters in any order (decode is order-independent per spec §6).
func ParseAttr(s string) Attr {
	var a Attr
	for _, c := range s {
		switch c {
		case 'x':
			a |= AttrExecutable
		case 'l':
			a |= AttrSymlink
		case 'h':
			a |= AttrHidden
		case 'p':
			a |= AttrPadding
		}
	}
	return a
}

// FileEntry is one logical file in the torrent (spec §3 "file_entry").
type FileEntry struct {
	// Path is a relative, slash-delimited path below the torrent root. Treated as a
	// pure data path: no OS-specific normalization happens once it's set.
	Path string

	FileSize   int64
	Attributes Attr

	// SymlinkPath is present only when AttrSymlink is set.
	SymlinkPath string

	// LastModifiedTime is optional; the zero Time means unset.
	LastModifiedTime time.Time

	Checksums map[hashutil.Function]hashutil.Hash

	// PiecesRoot and PieceLayer are v2-only. HasV2Data reports whether PiecesRoot has
	// been written.
	PiecesRoot hashutil.Hash
	PieceLayer []hashutil.Hash
	HasV2Data  bool
}

func (e *FileEntry) IsPaddingFile() bool { return e.Attributes&AttrPadding != 0 }
func (e *FileEntry) IsSymlink() bool     { return e.Attributes&AttrSymlink != 0 }
func (e *FileEntry) IsExecutable() bool  { return e.Attributes&AttrExecutable != 0 }
func (e *FileEntry) IsHidden() bool      { return e.Attributes&AttrHidden != 0 }

// SetChecksum records a per-file digest under its hash-function tag (populated by the
// checksum hasher, C9).
func (e *FileEntry) SetChecksum(h hashutil.Hash) {
	if e.Checksums == nil {
		e.Checksums = make(map[hashutil.Function]hashutil.Hash)
	}
	e.Checksums[h.Function] = h
}

// SetV2Data records the Merkle root and piece layer for this file (written once by the
// piece writer or verifier, C10/C11).
func (e *FileEntry) SetV2Data(root hashutil.Hash, layer []hashutil.Hash) {
	e.PiecesRoot = root
	e.PieceLayer = layer
	e.HasV2Data = true
}

// Validate checks the invariants of spec §3: a padding file has a .pad/ path, no
// checksums, and no v2 data; a symlink has zero size and no v2 data.
func (e *FileEntry) Validate() error {
	if e.IsPaddingFile() {
		if len(e.Path) < 5 || e.Path[:5] != ".pad/" {
			return errInvalid("padding file path must begin with .pad/, got %q", e.Path)
		}
		if len(e.Checksums) != 0 {
			return errInvalid("padding file %q must not carry checksums", e.Path)
		}
		if e.HasV2Data {
			return errInvalid("padding file %q must not carry v2 data", e.Path)
		}
	}
	if e.IsSymlink() {
		if e.FileSize != 0 {
			return errInvalid("symlink %q must have zero file_size", e.Path)
		}
		if e.HasV2Data {
			return errInvalid("symlink %q must not carry v2 data", e.Path)
		}
	}
	return nil
}
