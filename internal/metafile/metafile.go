package metafile

import (
	"fmt"

	"github.com/anacrolix/torrent/bencode"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/filestorage"
	"github.com/omnicloud/torrentbuild/internal/hashutil"
)

// Metafile is the domain-level description of a .torrent file's outer envelope (spec §6
// "metafile wire format"), paired with the FileStorage whose protocol decides which keys
// Build emits. Field names mirror the teacher's metainfo.MetaInfo (Announce/CreatedBy/
// CreationDate) plus AnnounceList for BEP-12 multi-tracker support the single-tracker
// teacher never needed.
type Metafile struct {
	Announce     string
	AnnounceList AnnounceList
	Comment      string
	CreatedBy    string
	CreationDate int64
	Private      bool

	Storage *filestorage.FileStorage
}

// Built is the result of serializing a Metafile: the full wire bytes, the info
// dictionary's own bytes (the exact span info-hashes are computed over), and whichever
// info hashes the underlying protocol supports (the zero Hash for the one that doesn't
// apply).
type Built struct {
	Raw        []byte
	InfoBytes  []byte
	InfoHashV1 hashutil.Hash
	InfoHashV2 hashutil.Hash
}

// Build assembles the outer metafile dict (spec §4.12/§6): "info" holds the raw,
// already-bencoded info dictionary (so re-encoding never perturbs the bytes info hashes
// are computed over), "piece layers" is present when the protocol carries v2 data and at
// least one file has a non-empty piece layer (spans more than one piece), and the announce/comment/created-by/creation-date keys are only set when non-empty.
// Keys are assembled into a map and rely on anacrolix/torrent/bencode sorting map[string]
// keys lexicographically at encode time (spec §6 "dictionary keys lexicographic,
// byte-wise") rather than on Go map iteration order, which is unspecified.
func (m *Metafile) Build() (*Built, error) {
	if m.Storage == nil {
		return nil, fmt.Errorf("metafile: build called with no storage: %w", errs.ErrInvalidArgument)
	}

	infoAny, err := BuildInfoDict(m.Storage, m.Private)
	if err != nil {
		return nil, err
	}
	infoBytes, err := bencode.Marshal(infoAny)
	if err != nil {
		return nil, fmt.Errorf("metafile: marshal info dict: %w", err)
	}

	outer := map[string]any{"info": bencode.Bytes(infoBytes)}
	if m.Announce != "" {
		outer["announce"] = m.Announce
	}
	if len(m.AnnounceList) > 0 {
		outer["announce-list"] = m.AnnounceList
	}
	if m.Comment != "" {
		outer["comment"] = m.Comment
	}
	if m.CreatedBy != "" {
		outer["created by"] = m.CreatedBy
	}
	if m.CreationDate != 0 {
		outer["creation date"] = m.CreationDate
	}

	built := &Built{InfoBytes: infoBytes}
	protocol := m.Storage.Protocol()

	if protocol == filestorage.ProtocolV1 || protocol == filestorage.ProtocolHybrid {
		built.InfoHashV1, err = InfoHashV1(infoBytes)
		if err != nil {
			return nil, err
		}
	}
	if protocol == filestorage.ProtocolV2 || protocol == filestorage.ProtocolHybrid {
		built.InfoHashV2, err = InfoHashV2(infoBytes)
		if err != nil {
			return nil, err
		}
		if layers := buildPieceLayers(m.Storage); len(layers) > 0 {
			outer["piece layers"] = layers
		}
	}

	raw, err := bencode.Marshal(outer)
	if err != nil {
		return nil, fmt.Errorf("metafile: marshal outer dict: %w", err)
	}
	built.Raw = raw
	return built, nil
}

// buildPieceLayers renders the top-level "piece layers" mapping (spec §4.12): pieces
// root (raw 32 bytes, used directly as the dict key) to the concatenated piece-layer
// hashes. Only present for files with more than one piece — merkle.Tree.PieceLayer
// already returns nil for a file that fits in a single piece, since the root alone
// covers it. Values are plain []byte (raw, not-yet-bencoded hash bytes): bencode.Bytes
// is only for spans that are already bencoded, like "info" above, and wrapping raw
// bytes in it would splice them into the stream with no length prefix.
func buildPieceLayers(storage *filestorage.FileStorage) map[string][]byte {
	layers := map[string][]byte{}
	for _, f := range storage.Files() {
		if f.IsPaddingFile() || len(f.PieceLayer) == 0 {
			continue
		}
		concat := make([]byte, 0, len(f.PieceLayer)*hashutil.SHA256.Size())
		for _, h := range f.PieceLayer {
			concat = append(concat, h.Bytes...)
		}
		layers[string(f.PiecesRoot.Bytes)] = concat
	}
	return layers
}
