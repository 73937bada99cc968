package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiMediaRoundTrip(t *testing.T) {
	items := []MediaItem{
		{Name: "a.mp4", MediaType: "video/mp4", Data: []byte{0x00, 0x01, 0xff}},
		{Name: "b.webm", MediaType: "video/webm", Data: []byte("second clip")},
		{Name: "c.mov", MediaType: "video/quicktime", Data: nil},
	}

	payload, err := EncodeMulti(items)
	require.NoError(t, err)

	got, err := DecodeMulti(payload)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, it := range items {
		assert.Equal(t, it.Name, got[i].Name)
		assert.Equal(t, it.MediaType, got[i].MediaType)
		assert.Equal(t, len(it.Data), len(got[i].Data))
	}
}

func TestDecodeResultSingle(t *testing.T) {
	data := []byte{0x00, 0x80, 0xff}

	media, err := DecodeResult(false, "video/mp4", Encode(data))
	require.NoError(t, err)

	assert.False(t, media.Multi)
	assert.Equal(t, "video/mp4", media.MediaType)
	assert.Equal(t, data, media.Data)
}

func TestDecodeResultMulti(t *testing.T) {
	payload, err := EncodeMulti([]MediaItem{{Name: "x.mp4", MediaType: "video/mp4", Data: []byte{1, 2}}})
	require.NoError(t, err)

	media, err := DecodeResult(true, "", payload)
	require.NoError(t, err)

	assert.True(t, media.Multi)
	require.Len(t, media.Items, 1)
	assert.Equal(t, "x.mp4", media.Items[0].Name)
}

func TestDecodeResultBadPayload(t *testing.T) {
	_, err := DecodeResult(true, "", "not json")
	require.Error(t, err)

	_, err = DecodeResult(false, "video/mp4", "!!!")
	require.Error(t, err)
}
