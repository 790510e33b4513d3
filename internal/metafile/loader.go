package metafile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// wireOuter mirrors the outer dict Metafile.Build assembles, used only for decoding.
// Info is kept as raw bytes (bencode.Bytes) exactly like the teacher's
// metainfo.MetaInfo.InfoBytes, so info-hash verification never depends on re-encoding
// matching the original byte-for-byte: bencode.Bytes's UnmarshalBencode captures the
// exact encoded span of the "info" value, which is what a nested dict needs. PieceLayers'
// values, by contrast, are plain bencode byte strings holding raw hash bytes, not a
// nested structure whose encoding needs preserving — those decode into []byte, which
// bencode.Unmarshal already strips the length prefix from.
type wireOuter struct {
	Announce     string            `bencode:"announce,omitempty"`
	AnnounceList AnnounceList      `bencode:"announce-list,omitempty"`
	Comment      string            `bencode:"comment,omitempty"`
	CreatedBy    string            `bencode:"created by,omitempty"`
	CreationDate int64             `bencode:"creation date,omitempty"`
	Info         bencode.Bytes     `bencode:"info"`
	PieceLayers  map[string][]byte `bencode:"piece layers,omitempty"`
}

// Loaded is the result of parsing a metafile back into a FileStorage the verifier
// driver can run against, plus the envelope metadata and info hashes.
type Loaded struct {
	Storage      *filestorage.FileStorage
	Announce     string
	AnnounceList AnnounceList
	Comment      string
	CreatedBy    string
	CreationDate int64
	InfoHashV1   hashutil.Hash
	InfoHashV2   hashutil.Hash
}

type fileTreeLeaf struct {
	Length int64
	Root   []byte
}

// Load parses raw metafile bytes (spec §6 "reader: given a byte blob, yields the inverse
// event stream") into a Loaded value, populating a fresh FileStorage ready for
// torrentdriver.NewVerifierDriver once its root directory is set.
func Load(raw []byte) (*Loaded, error) {
	var outer wireOuter
	if err := bencode.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("metafile: unmarshal outer dict: %w", err)
	}

	var info infoDict
	if err := bencode.Unmarshal(outer.Info, &info); err != nil {
		return nil, fmt.Errorf("metafile: unmarshal info dict: %w", err)
	}
	if info.PieceLength == 0 {
		return nil, fmt.Errorf("metafile: info dict missing piece length: %w", errs.ErrInvalidArgument)
	}

	storage := filestorage.New()
	if err := storage.SetPieceSize(info.PieceLength); err != nil {
		return nil, fmt.Errorf("metafile: %w", err)
	}

	leaves := map[string]fileTreeLeaf{}
	if info.MetaVersion == 2 && info.FileTree != nil {
		decodeFileTree(info.FileTree, nil, leaves)
		storage.MarkV2Requested()
	}

	switch {
	case len(info.Files) > 0:
		for _, fe := range info.Files {
			entry := filestorage.FileEntry{
				Path:       strings.Join(fe.Path, "/"),
				FileSize:   fe.Length,
				Attributes: filestorage.ParseAttr(fe.Attr),
			}
			if len(fe.SymlinkPath) > 0 {
				entry.SymlinkPath = strings.Join(fe.SymlinkPath, "/")
			}
			if leaf, ok := leaves[entry.Path]; ok && !entry.IsPaddingFile() {
				entry.SetV2Data(hashutil.Hash{Function: hashutil.SHA256, Bytes: leaf.Root}, nil)
			}
			if err := storage.AddFile(entry); err != nil {
				return nil, fmt.Errorf("metafile: %w", err)
			}
		}

	case info.FileTree != nil:
		paths := make([]string, 0, len(leaves))
		for p := range leaves {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			leaf := leaves[p]
			entry := filestorage.FileEntry{Path: p, FileSize: leaf.Length}
			if leaf.Root != nil {
				entry.SetV2Data(hashutil.Hash{Function: hashutil.SHA256, Bytes: leaf.Root}, nil)
			}
			if err := storage.AddFile(entry); err != nil {
				return nil, fmt.Errorf("metafile: %w", err)
			}
		}

	case info.Length > 0:
		if err := storage.AddFile(filestorage.FileEntry{Path: info.Name, FileSize: info.Length}); err != nil {
			return nil, fmt.Errorf("metafile: %w", err)
		}

	default:
		return nil, fmt.Errorf("metafile: info dict has neither files, file tree, nor length: %w", errs.ErrInvalidArgument)
	}

	// v1 data was part of this info dict's shape whenever it used the v1-style file
	// list (pure v1, or hybrid's "files" alongside "file tree"), regardless of whether
	// "pieces" itself came out empty on the wire: bencode's omitempty drops a zero-byte
	// "pieces" string exactly like it drops a zero "length", so a torrent built entirely
	// from zero-byte files round-trips with no "pieces" key at all.
	if info.MetaVersion == 0 || len(info.Files) > 0 {
		storage.AllocatePieces()
	}
	if len(info.Pieces) > 0 {
		sha1Size := hashutil.SHA1.Size()
		if len(info.Pieces)%sha1Size != 0 {
			return nil, fmt.Errorf("metafile: pieces length %d not a multiple of %d: %w", len(info.Pieces), sha1Size, errs.ErrInvalidArgument)
		}
		for i := 0; i*sha1Size < len(info.Pieces); i++ {
			start := i * sha1Size
			h := hashutil.Hash{Function: hashutil.SHA1, Bytes: append([]byte(nil), info.Pieces[start:start+sha1Size]...)}
			if err := storage.SetPieceHash(i, h); err != nil {
				return nil, fmt.Errorf("metafile: %w", err)
			}
		}
	}

	if len(outer.PieceLayers) > 0 {
		for i := 0; i < storage.FileCount(); i++ {
			f := storage.File(i)
			if !f.HasV2Data {
				continue
			}
			layerBytes, ok := outer.PieceLayers[string(f.PiecesRoot.Bytes)]
			if !ok {
				continue
			}
			f.SetV2Data(f.PiecesRoot, splitLayer(layerBytes))
		}
	}

	loaded := &Loaded{
		Storage:      storage,
		Announce:     outer.Announce,
		AnnounceList: outer.AnnounceList,
		Comment:      outer.Comment,
		CreatedBy:    outer.CreatedBy,
		CreationDate: outer.CreationDate,
	}
	protocol := storage.Protocol()
	var err error
	if protocol == filestorage.ProtocolV1 || protocol == filestorage.ProtocolHybrid {
		if loaded.InfoHashV1, err = InfoHashV1(outer.Info); err != nil {
			return nil, err
		}
	}
	if protocol == filestorage.ProtocolV2 || protocol == filestorage.ProtocolHybrid {
		if loaded.InfoHashV2, err = InfoHashV2(outer.Info); err != nil {
			return nil, err
		}
	}
	return loaded, nil
}

func decodeFileTree(node map[string]any, prefix []string, out map[string]fileTreeLeaf) {
	for key, val := range node {
		child, ok := val.(map[string]any)
		if !ok {
			continue
		}
		path := append(append([]string{}, prefix...), key)
		if leafVal, isLeaf := child[""]; isLeaf {
			if leafMap, ok := leafVal.(map[string]any); ok {
				out[strings.Join(path, "/")] = toLeaf(leafMap)
			}
			continue
		}
		decodeFileTree(child, path, out)
	}
}

func toLeaf(m map[string]any) fileTreeLeaf {
	var leaf fileTreeLeaf
	if l, ok := m["length"]; ok {
		leaf.Length = toInt64(l)
	}
	if r, ok := m["pieces root"]; ok {
		leaf.Root = toBytes(r)
	}
	return leaf
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func toBytes(v any) []byte {
	switch x := v.(type) {
	case bencode.Bytes:
		return []byte(x)
	case []byte:
		return x
	case string:
		return []byte(x)
	default:
		return nil
	}
}

func splitLayer(b []byte) []hashutil.Hash {
	n := hashutil.SHA256.Size()
	out := make([]hashutil.Hash, 0, len(b)/n)
	for i := 0; i+n <= len(b); i += n {
		out = append(out, hashutil.Hash{Function: hashutil.SHA256, Bytes: append([]byte(nil), b[i:i+n]...)})
	}
	return out
}

// LoadV1File is a thin convenience wrapper for the common "check a plain v1 .torrent"
// case, built directly on the confirmed anacrolix/torrent/metainfo API surface (spec §0
// secondary grounding: mkbrr's LoadFromFile/UnmarshalInfo usage) rather than this
// package's own generic Load: callers that only need a v1 info_hash and file list (e.g.
// a quick pre-check before a full verify run, per the teacher's downloader.go
// verifyTorrentAgainstLocalFiles) can skip building a FileStorage entirely.
func LoadV1File(path string) (*metainfo.MetaInfo, *metainfo.Info, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("metafile: load %s: %w", path, errs.ErrIO)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, nil, fmt.Errorf("metafile: unmarshal info from %s: %w", path, err)
	}
	return mi, &info, nil
}
