package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jwt625/vidbridge/internal/protocol"
	"github.com/jwt625/vidbridge/internal/staging"
	"github.com/jwt625/vidbridge/internal/worker/archive"
	"github.com/jwt625/vidbridge/internal/worker/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[subject] = append(b.published[subject], data)
	return nil
}

func (b *fakeBus) results(t *testing.T) []protocol.ResultMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.ResultMessage, 0, len(b.published[protocol.SubjectWorkerResult]))
	for _, raw := range b.published[protocol.SubjectWorkerResult] {
		var msg protocol.ResultMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

type stubEngine struct {
	out []byte
	err error
}

func (e *stubEngine) Run(ctx context.Context, args []string, input []byte, onProgress engine.ProgressFunc) ([]byte, error) {
	if onProgress != nil {
		onProgress(0.5)
		onProgress(1)
	}
	return e.out, e.err
}

func newService(bus *fakeBus, eng engine.Engine, maxBytes int) *Service {
	return New(bus, eng, archive.ZipOpener{}, staging.NewTransferStore(time.Minute), Options{
		MaxMessageBytes: maxBytes,
	})
}

func buildZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestTranscodeEmitsInlineResultAndProgress(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{out: []byte("converted bytes")}, 1<<20)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind:  protocol.JobTranscode,
		TabID: "tab-1",
		Data:  protocol.Encode([]byte("raw input")),
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	require.Equal(t, protocol.KindResult, results[0].Kind)
	require.Empty(t, results[0].Error)
	assert.Equal(t, "video/mp4", results[0].Result.MediaType)

	data, err := protocol.Decode(results[0].Result.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("converted bytes"), data)

	bus.mu.Lock()
	progress := bus.published[protocol.SubjectWorkerProgress]
	bus.mu.Unlock()
	assert.NotEmpty(t, progress)
}

func TestTranscodeEngineFailureSurfacedVerbatim(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{err: errors.New("codec exploded")}, 1<<20)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobTranscode,
		Data: protocol.Encode([]byte("x")),
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, "codec exploded", results[0].Error)
}

func TestExtractSingleTakesFirstByName(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{}, 1<<20)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobExtract,
		Data: protocol.Encode(buildZip(t, "z.mp4", "a.webm", "notes.txt")),
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Error)
	assert.Equal(t, "video/webm", results[0].Result.MediaType)

	data, err := protocol.Decode(results[0].Result.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("content of a.webm"), data)
}

func TestExtractAllSortedMultiResult(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{}, 1<<20)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobExtractAll,
		Data: protocol.Encode(buildZip(t, "c.mp4", "a.mp4", "b.mp4", "skip.txt")),
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	require.True(t, results[0].Result.Multi)

	items, err := protocol.DecodeMulti(results[0].Result.Data)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a.mp4", items[0].Name)
	assert.Equal(t, "b.mp4", items[1].Name)
	assert.Equal(t, "c.mp4", items[2].Name)
}

func TestExtractNoMediaFound(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{}, 1<<20)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobExtractAll,
		Data: protocol.Encode(buildZip(t, "readme.txt")),
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, archive.ErrNoMediaFound.Error(), results[0].Error)
}

func TestOversizedResultEmitsChunkedSequence(t *testing.T) {
	bus := newFakeBus()
	out := bytes.Repeat([]byte("v"), 300)
	svc := newService(bus, &stubEngine{out: out}, 64)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobTranscode,
		Data: protocol.Encode([]byte("in")),
	})

	results := bus.results(t)
	require.GreaterOrEqual(t, len(results), 3)

	start := results[0]
	require.Equal(t, protocol.KindResultChunkedStart, start.Kind)
	assert.False(t, start.Multi)
	assert.Equal(t, "video/mp4", start.MediaType)

	encoded := protocol.Encode(out)
	assert.Equal(t, protocol.Chunks(len(encoded), 64), start.TotalChunks)
	assert.Equal(t, len(encoded), start.TotalLength)

	var sb strings.Builder
	for i := 1; i < len(results)-1; i++ {
		require.Equal(t, protocol.KindResultChunk, results[i].Kind)
		assert.Equal(t, i-1, results[i].ChunkIndex)
		sb.WriteString(results[i].Chunk)
	}
	require.Equal(t, protocol.KindResultChunkedEnd, results[len(results)-1].Kind)
	assert.Equal(t, encoded, sb.String())
}

func TestStagedJobPayload(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{out: []byte("ok")}, 1<<20)

	payload := protocol.Encode([]byte("staged input"))
	chunks := protocol.Split(payload, 5)
	for i, c := range chunks {
		ack := svc.HandleUploadChunk(protocol.UploadChunk{
			TransferID: "t1", ChunkIndex: i, TotalChunks: len(chunks), Chunk: c,
		})
		require.True(t, ack.Success)
	}

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobTranscode, TransferID: "t1",
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
}

func TestStagedJobIncompleteTransfer(t *testing.T) {
	bus := newFakeBus()
	svc := newService(bus, &stubEngine{}, 1<<20)

	ack := svc.HandleUploadChunk(protocol.UploadChunk{
		TransferID: "t1", ChunkIndex: 0, TotalChunks: 2, Chunk: "aa",
	})
	require.True(t, ack.Success)

	svc.HandleJob(context.Background(), protocol.WorkerJob{
		Kind: protocol.JobTranscode, TransferID: "t1",
	})

	results := bus.results(t)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "incomplete transfer")
}
