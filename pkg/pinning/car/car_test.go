package car_test

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"
	ipldcar "github.com/ipld/go-car"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/pinning/car"
)

func TestContentID(t *testing.T) {
	id, err := car.ContentID([]byte("hello"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, id.Version())
	assert.EqualValues(t, cid.Raw, id.Type())
	decoded, err := multihash.Decode(id.Hash())
	require.NoError(t, err)
	assert.EqualValues(t, multihash.SHA2_256, decoded.Code)

	// content-addressed: equal bytes yield equal ids
	again, err := car.ContentID([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := car.ContentID([]byte("world"))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestPack(t *testing.T) {
	data := []byte("layer-payload")
	payload, root, err := car.Pack(data)
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	reader, err := ipldcar.NewCarReader(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.EqualValues(t, 1, reader.Header.Version)
	require.Len(t, reader.Header.Roots, 1)
	assert.Equal(t, root, reader.Header.Roots[0])

	block, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, root, block.Cid())
	assert.Equal(t, data, block.RawData())
}
