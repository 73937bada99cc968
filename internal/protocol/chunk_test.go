package protocol

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":      {},
		"zero bytes": {0x00, 0x00, 0x00},
		"high bytes": {0xff, 0x80, 0x81, 0xfe},
		"text":       []byte("plain ascii payload"),
	}

	random := make([]byte, 64*1024)
	rand.New(rand.NewSource(1)).Read(random)
	cases["random"] = random

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(Encode(data))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got))
		})
	}
}

func TestDecodeRejectsNonTransportText(t *testing.T) {
	_, err := Decode("not base64 !!!")
	require.Error(t, err)
}

func TestSplitJoinRoundTrip(t *testing.T) {
	payload := Encode([]byte("some payload that will be cut into pieces"))

	for _, size := range []int{1, 2, 7, len(payload) - 1, len(payload), len(payload) + 1, 10 * len(payload)} {
		chunks := Split(payload, size)
		require.Equal(t, Chunks(len(payload), size), len(chunks), "size %d", size)

		assert.Equal(t, payload, strings.Join(chunks, ""), "size %d", size)
	}
}

func TestSplitEmptyPayload(t *testing.T) {
	assert.Nil(t, Split("", 8))
	assert.Equal(t, 0, Chunks(0, 8))
}

func TestChunksBoundary(t *testing.T) {
	// Exactly at the ceiling stays a single chunk; one byte over adds one.
	assert.Equal(t, 1, Chunks(100, 100))
	assert.Equal(t, 2, Chunks(101, 100))
	assert.Equal(t, 3, Chunks(201, 100))
}

func TestAssemblerOutOfOrder(t *testing.T) {
	payload := "abcdefghij"
	chunks := Split(payload, 3)
	require.Len(t, chunks, 4)

	asm, err := NewAssembler(len(chunks))
	require.NoError(t, err)

	for _, i := range []int{2, 0, 3, 1} {
		require.NoError(t, asm.Put(i, chunks[i]))
	}

	require.True(t, asm.Complete())
	got, err := asm.Join()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAssemblerIncompleteJoinFails(t *testing.T) {
	asm, err := NewAssembler(3)
	require.NoError(t, err)
	require.NoError(t, asm.Put(0, "a"))
	require.NoError(t, asm.Put(2, "c"))

	assert.False(t, asm.Complete())
	_, err = asm.Join()
	require.Error(t, err)
}

func TestAssemblerDuplicateDoesNotInflateCount(t *testing.T) {
	asm, err := NewAssembler(2)
	require.NoError(t, err)
	require.NoError(t, asm.Put(0, "a"))
	require.NoError(t, asm.Put(0, "A"))

	assert.Equal(t, 1, asm.Received())
	require.NoError(t, asm.Put(1, "b"))

	got, err := asm.Join()
	require.NoError(t, err)
	assert.Equal(t, "Ab", got)
}

func TestAssemblerRejectsBadIndex(t *testing.T) {
	asm, err := NewAssembler(2)
	require.NoError(t, err)
	require.Error(t, asm.Put(-1, "x"))
	require.Error(t, asm.Put(2, "x"))

	_, err = NewAssembler(0)
	require.Error(t, err)
}
