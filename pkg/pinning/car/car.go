// Package car packs raw payloads into single-block CARv1 archives for the
// pinning backend.
package car

import (
	"bytes"

	"github.com/ipfs/go-cid"
	ipldcar "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	"github.com/multiformats/go-multihash"
)

// ContentID derives the content id the backend expects for a payload: a
// SHA-256 multihash wrapped as a CIDv1 with the raw codec. The payload is
// hashed as-is, so the id commits to the exact stored bytes.
func ContentID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Pack emits a single-block CARv1 archive carrying data, with the payload's
// content id declared as the root. The id doubles as the pin identity, so it
// is returned alongside the archive bytes.
func Pack(data []byte) ([]byte, cid.Cid, error) {
	root, err := ContentID(data)
	if err != nil {
		return nil, cid.Undef, err
	}

	buf := &bytes.Buffer{}
	header := &ipldcar.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}
	if err := ipldcar.WriteHeader(header, buf); err != nil {
		return nil, cid.Undef, err
	}
	if err := carutil.LdWrite(buf, root.Bytes(), data); err != nil {
		return nil, cid.Undef, err
	}
	return buf.Bytes(), root, nil
}
