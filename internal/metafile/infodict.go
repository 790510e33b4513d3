// Package metafile implements the metafile serializer (spec §4.12, component C13):
// building the bencoded info dictionary for any of v1/v2/hybrid from a populated
// filestorage.FileStorage, computing info hashes, and round-tripping a metafile back
// into a FileStorage for verification. Grounded in the teacher's internal/torrent/
// generator.go (bencode.Marshal(info), mi.HashInfoBytes().HexString(), the
// metainfo.MetaInfo outer envelope) and original_source/src/bencode_writer.cpp for the
// canonical key ordering and the recursive "file tree" shape BEP52 adds on top of it.
package metafile

import (
	"path/filepath"

	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// fileEntryDict is one entry of the v1 "files" list (spec §4.12). Field order matches
// the canonical lexicographic bencode key order (attr < length < path < symlink path) so
// that relying on anacrolix/torrent/bencode's struct-field-order encoding (rather than
// its map-key sorting, which only applies to map values) still produces canonical
// output.
type fileEntryDict struct {
	Attr        string   `bencode:"attr,omitempty"`
	Length      int64    `bencode:"length"`
	Path        []string `bencode:"path"`
	SymlinkPath []string `bencode:"symlink path,omitempty"`
}

// infoDict is the union of every protocol variant's info dictionary. Fields absent for a
// given protocol are left zero and tagged omitempty, so BuildInfoDict only
// needs to populate what that protocol requires (spec §4.12's four field sets).
type infoDict struct {
	FileTree    map[string]any  `bencode:"file tree,omitempty"`
	Files       []fileEntryDict `bencode:"files,omitempty"`
	Length      int64           `bencode:"length,omitempty"`
	MetaVersion int64           `bencode:"meta version,omitempty"`
	Name        string          `bencode:"name"`
	PieceLength int64           `bencode:"piece length"`
	Pieces      []byte          `bencode:"pieces,omitempty"`
	Private     int64           `bencode:"private,omitempty"`
}

// BuildInfoDict assembles the info dictionary for storage's current protocol, per spec
// §4.12's four key sets. storage must already carry whatever hash data that protocol
// needs (v1 pieces, v2 roots/layers, or both for hybrid).
func BuildInfoDict(storage *filestorage.FileStorage, private bool) (any, error) {
	protocol := storage.Protocol()
	d := infoDict{
		Name:        computeName(storage),
		PieceLength: storage.PieceSize(),
	}
	if private {
		d.Private = 1
	}

	switch protocol {
	case filestorage.ProtocolV1:
		d.Pieces = piecesBytes(storage)
		if singleRealFile(storage) {
			d.Length = storage.Files()[0].FileSize
		} else {
			d.Files = buildFileEntries(storage, false)
		}

	case filestorage.ProtocolV2:
		d.MetaVersion = 2
		d.FileTree = buildFileTree(storage, false)

	case filestorage.ProtocolHybrid:
		d.MetaVersion = 2
		d.Pieces = piecesBytes(storage)
		d.Files = buildFileEntries(storage, true)
		d.FileTree = buildFileTree(storage, true)

	default:
		return nil, errProtocolNotReady(protocol)
	}

	return d, nil
}

// computeName picks the info dict's display name (spec §4.12 "name"): the shared root
// directory's base name when the storage was built from one (the teacher's
// generator.go does the same with filepath.Base(packagePath)), else the lone real
// file's own base name for a single-file torrent, else a generic fallback.
func computeName(storage *filestorage.FileStorage) string {
	if storage.RootDirectory() != "" {
		return filepath.Base(storage.RootDirectory())
	}
	if singleRealFile(storage) {
		return filepath.Base(storage.Files()[0].Path)
	}
	return "torrent"
}

func singleRealFile(storage *filestorage.FileStorage) bool {
	return storage.FileCount() == 1 && storage.File(0).Path == storage.Files()[0].Path
}

func piecesBytes(storage *filestorage.FileStorage) []byte {
	pieces := storage.Pieces()
	out := make([]byte, 0, len(pieces)*hashutil.SHA1.Size())
	for _, h := range pieces {
		out = append(out, h.Bytes...)
	}
	return out
}

// buildFileEntries renders the v1 "files" list. includePadding is true for hybrid (spec
// §4.12 "padding files present in both files list and file tree"), false for pure v1
// (which never has padding files, since the alignment pass only runs for hybrid).
func buildFileEntries(storage *filestorage.FileStorage, includePadding bool) []fileEntryDict {
	var out []fileEntryDict
	for _, f := range storage.Files() {
		if f.IsPaddingFile() && !includePadding {
			continue
		}
		entry := fileEntryDict{
			Attr:   f.Attributes.WireString(),
			Length: f.FileSize,
			Path:   splitPath(f.Path),
		}
		if f.IsSymlink() {
			entry.SymlinkPath = splitPath(f.SymlinkPath)
		}
		out = append(out, entry)
	}
	return out
}

// buildFileTree renders the v2 "file tree" (spec §4.12): a recursive dict keyed by path
// component, with each leaf a single empty-string key mapping to {length, pieces root}
// (pieces root omitted for a zero-length file). Padding files never appear here, even
// though spec §4.12's own general framing lists "padding files present in both files list
// and file tree" — that line describes the "files" list (buildFileEntries above, which
// does include them for hybrid via includePadding); spec §8's worked hybrid example is the
// more concrete source and only ever puts padding in "files", never in "file tree". This
// function deliberately follows §8 over §4.12's wording here.
func buildFileTree(storage *filestorage.FileStorage, hybrid bool) map[string]any {
	root := map[string]any{}
	for _, f := range storage.Files() {
		if f.IsPaddingFile() {
			continue
		}
		insertFileTreeLeaf(root, splitPath(f.Path), leafValue(f))
	}
	return root
}

func leafValue(f filestorage.FileEntry) map[string]any {
	leaf := map[string]any{"length": f.FileSize}
	if f.FileSize > 0 {
		// Raw hash bytes, not pre-encoded: bencode.Bytes would splice them into the
		// stream verbatim with no length prefix, producing malformed bencode.
		leaf["pieces root"] = f.PiecesRoot.Bytes
	}
	return leaf
}

func insertFileTreeLeaf(root map[string]any, components []string, leaf map[string]any) {
	node := root
	for _, c := range components[:len(components)-1] {
		next, ok := node[c].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[c] = next
		}
		node = next
	}
	last := components[len(components)-1]
	dir, ok := node[last].(map[string]any)
	if !ok {
		dir = map[string]any{}
		node[last] = dir
	}
	dir[""] = leaf
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	out = append(out, p[start:])
	return out
}
