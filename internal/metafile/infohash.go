package metafile

import "github.com/omnicloud/torrentbuild/internal/hashutil"

// InfoHashV1 is SHA-1 of the bencoded info dictionary (spec §4.12 "info_hash_v1").
func InfoHashV1(infoBytes []byte) (hashutil.Hash, error) {
	return digest(hashutil.SHA1, infoBytes)
}

// InfoHashV2 is SHA-256 of the bencoded info dictionary (spec §4.12 "info_hash_v2"). For
// a hybrid torrent this hashes the SAME info dictionary bytes as InfoHashV1 — BEP52
// hybrid mode has exactly one info dict carrying the union of v1 and v2 keys, not two
// separate dicts.
func InfoHashV2(infoBytes []byte) (hashutil.Hash, error) {
	return digest(hashutil.SHA256, infoBytes)
}

// InfoHashHybrid returns both hashes together, the form a caller assembling a magnet URI
// for a hybrid torrent needs (spec §4 "Magnet-adjacent info-hash accessors").
func InfoHashHybrid(infoBytes []byte) (v1, v2 hashutil.Hash, err error) {
	v1, err = InfoHashV1(infoBytes)
	if err != nil {
		return hashutil.Hash{}, hashutil.Hash{}, err
	}
	v2, err = InfoHashV2(infoBytes)
	return v1, v2, err
}

func digest(fn hashutil.Function, data []byte) (hashutil.Hash, error) {
	h, err := hashutil.NewSingleBuffer(fn)
	if err != nil {
		return hashutil.Hash{}, err
	}
	h.Update(data)
	return h.FinalizeTo(nil), nil
}
