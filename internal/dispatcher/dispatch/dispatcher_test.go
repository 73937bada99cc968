package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jwt625/vidbridge/internal/dispatcher/workermgr"
	"github.com/jwt625/vidbridge/internal/protocol"
	"github.com/jwt625/vidbridge/internal/staging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	requests  map[string][][]byte
	requestFn func(subject string, data []byte) ([]byte, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		requests:  make(map[string][][]byte),
	}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[subject] = append(b.published[subject], data)
	return nil
}

func (b *fakeBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	b.mu.Lock()
	b.requests[subject] = append(b.requests[subject], data)
	fn := b.requestFn
	b.mu.Unlock()

	if fn != nil {
		return fn(subject, data)
	}
	return json.Marshal(protocol.UploadAck{Success: true})
}

func (b *fakeBus) messages(subject string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[subject]...)
}

type fakeWorkers struct {
	readiness workermgr.Readiness
	err       error
}

func (w *fakeWorkers) Ensure(ctx context.Context) (workermgr.Readiness, error) {
	return w.readiness, w.err
}

type fixture struct {
	bus *fakeBus
	d   *Dispatcher
}

func newFixture(maxBytes int, timeouts Timeouts) *fixture {
	bus := newFakeBus()
	d := New(
		bus,
		&fakeWorkers{readiness: workermgr.Ready},
		staging.NewTransferStore(time.Minute),
		staging.NewResultStore(maxBytes, time.Minute),
		nil,
		Options{MaxMessageBytes: maxBytes, Timeouts: timeouts},
	)
	return &fixture{bus: bus, d: d}
}

func jobResponse(t *testing.T, raw []byte) protocol.JobResponse {
	t.Helper()
	var resp protocol.JobResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestSubmitInlineAndResolve(t *testing.T) {
	f := newFixture(1024, Timeouts{})
	payload := protocol.Encode([]byte("source video"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind:  protocol.JobTranscode,
		TabID: "tab-1",
		Data:  payload,
	}, "reply-1")

	jobs := f.bus.messages(protocol.SubjectWorkerJob)
	require.Len(t, jobs, 1)
	var wj protocol.WorkerJob
	require.NoError(t, json.Unmarshal(jobs[0], &wj))
	assert.Equal(t, payload, wj.Data)
	assert.Empty(t, wj.TransferID)

	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:   protocol.KindResult,
		Result: &protocol.InlineResult{MediaType: "video/mp4", Data: protocol.Encode([]byte("converted"))},
	})

	replies := f.bus.messages("reply-1")
	require.Len(t, replies, 1)
	resp := jobResponse(t, replies[0])
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "video/mp4", resp.Result.MediaType)
	assert.False(t, f.d.Pending())
}

func TestSingleSlotLastSubmissionWins(t *testing.T) {
	f := newFixture(1024, Timeouts{})
	payload := protocol.Encode([]byte("x"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-a", Data: payload,
	}, "reply-a")
	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-b", Data: payload,
	}, "reply-b")

	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:   protocol.KindResult,
		Result: &protocol.InlineResult{MediaType: "video/mp4", Data: payload},
	})

	// B owns the slot; A's caller is never resolved from here.
	assert.Len(t, f.bus.messages("reply-b"), 1)
	assert.Empty(t, f.bus.messages("reply-a"))
}

func TestJobTimeoutAndLateResultDropped(t *testing.T) {
	f := newFixture(1024, Timeouts{Job: 20 * time.Millisecond})
	payload := protocol.Encode([]byte("x"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", Data: payload,
	}, "reply-1")

	require.Eventually(t, func() bool {
		return len(f.bus.messages("reply-1")) == 1
	}, time.Second, 5*time.Millisecond)

	resp := jobResponse(t, f.bus.messages("reply-1")[0])
	assert.Contains(t, resp.Error, "job timeout")
	assert.False(t, f.d.Pending())

	// A result after expiry lands in an empty slot and is dropped.
	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:   protocol.KindResult,
		Result: &protocol.InlineResult{Data: payload},
	})
	assert.Len(t, f.bus.messages("reply-1"), 1)
}

func TestChunkedWorkerResultReassembly(t *testing.T) {
	f := newFixture(1024, Timeouts{})
	payload := protocol.Encode([]byte("y"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", Data: payload,
	}, "reply-1")

	result := protocol.Encode([]byte("large result payload"))
	chunks := protocol.Split(result, 7)

	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:        protocol.KindResultChunkedStart,
		MediaType:   "video/mp4",
		TotalChunks: len(chunks),
		TotalLength: len(result),
	})
	// Out-of-order arrival is tolerated: slots are index-addressed.
	for _, i := range []int{len(chunks) - 1, 0} {
		f.d.HandleWorkerResult(protocol.ResultMessage{
			Kind: protocol.KindResultChunk, ChunkIndex: i, Chunk: chunks[i],
		})
	}
	for i := 1; i < len(chunks)-1; i++ {
		f.d.HandleWorkerResult(protocol.ResultMessage{
			Kind: protocol.KindResultChunk, ChunkIndex: i, Chunk: chunks[i],
		})
	}
	f.d.HandleWorkerResult(protocol.ResultMessage{Kind: protocol.KindResultChunkedEnd})

	replies := f.bus.messages("reply-1")
	require.Len(t, replies, 1)
	resp := jobResponse(t, replies[0])
	require.NotNil(t, resp.Result)
	assert.Equal(t, result, resp.Result.Data)
}

func TestOversizedResultIsStoredAndDrained(t *testing.T) {
	f := newFixture(8, Timeouts{})
	payload := protocol.Encode([]byte("z"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", Data: payload,
	}, "reply-1")

	// 26 bytes of encoded result against a ceiling of 8.
	result := strings.Repeat("ab", 13)
	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:   protocol.KindResult,
		Result: &protocol.InlineResult{MediaType: "video/mp4", Data: result},
	})

	replies := f.bus.messages("reply-1")
	require.Len(t, replies, 1)
	resp := jobResponse(t, replies[0])
	require.NotNil(t, resp.Stored)
	assert.Nil(t, resp.Result)
	assert.Equal(t, protocol.Chunks(len(result), 8), resp.Stored.TotalChunks)
	assert.Equal(t, len(result), resp.Stored.TotalLength)

	var sb strings.Builder
	for i := 0; i < resp.Stored.TotalChunks; i++ {
		reply := f.d.HandleResultPull(protocol.ResultChunkRequest{
			ResultID: resp.Stored.ResultID, ChunkIndex: i,
		})
		require.Empty(t, reply.Error)
		assert.Equal(t, i == resp.Stored.TotalChunks-1, reply.IsLast)
		sb.WriteString(reply.Chunk)
	}
	assert.Equal(t, result, sb.String())

	// At-most-once full drain.
	reply := f.d.HandleResultPull(protocol.ResultChunkRequest{
		ResultID: resp.Stored.ResultID, ChunkIndex: 0,
	})
	assert.Contains(t, reply.Error, "not found")
}

func TestResultExactlyAtCeilingStaysInline(t *testing.T) {
	f := newFixture(8, Timeouts{})
	payload := protocol.Encode([]byte("z"))

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", Data: payload,
	}, "reply-1")

	f.d.HandleWorkerResult(protocol.ResultMessage{
		Kind:   protocol.KindResult,
		Result: &protocol.InlineResult{MediaType: "video/mp4", Data: "12345678"},
	})

	resp := jobResponse(t, f.bus.messages("reply-1")[0])
	require.NotNil(t, resp.Result)
	assert.Nil(t, resp.Stored)
}

func TestProcessGates(t *testing.T) {
	f := newFixture(1024, Timeouts{})

	f.d.HandleProcess(context.Background(), protocol.ProcessRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", TransferID: "missing",
	}, "reply-0")
	resp := jobResponse(t, f.bus.messages("reply-0")[0])
	assert.Contains(t, resp.Error, "transfer not found")

	ack := f.d.HandleUploadChunk(protocol.UploadChunk{
		TransferID: "t1", ChunkIndex: 0, TotalChunks: 2, Chunk: "aa",
	})
	require.True(t, ack.Success)
	assert.Equal(t, 1, ack.Received)
	assert.Equal(t, 2, ack.Total)

	f.d.HandleProcess(context.Background(), protocol.ProcessRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", TransferID: "t1",
	}, "reply-1")
	resp = jobResponse(t, f.bus.messages("reply-1")[0])
	assert.Contains(t, resp.Error, "incomplete transfer")

	ack = f.d.HandleUploadChunk(protocol.UploadChunk{
		TransferID: "t1", ChunkIndex: 1, TotalChunks: 2, Chunk: "bb",
	})
	require.True(t, ack.Success)

	f.d.HandleProcess(context.Background(), protocol.ProcessRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", TransferID: "t1",
	}, "reply-2")

	jobs := f.bus.messages(protocol.SubjectWorkerJob)
	require.Len(t, jobs, 1)
	var wj protocol.WorkerJob
	require.NoError(t, json.Unmarshal(jobs[0], &wj))
	assert.Equal(t, "aabb", wj.Data)
}

func TestForwardRechunksOversizedPayload(t *testing.T) {
	f := newFixture(4, Timeouts{})
	payload := "0123456789" // 10 bytes against a ceiling of 4

	f.d.HandleSubmit(context.Background(), protocol.SubmitRequest{
		Kind: protocol.JobTranscode, TabID: "tab-1", Data: payload,
	}, "reply-1")

	f.bus.mu.Lock()
	forwarded := f.bus.requests[protocol.SubjectWorkerUploadChunk]
	f.bus.mu.Unlock()
	require.Len(t, forwarded, 3)

	jobs := f.bus.messages(protocol.SubjectWorkerJob)
	require.Len(t, jobs, 1)
	var wj protocol.WorkerJob
	require.NoError(t, json.Unmarshal(jobs[0], &wj))
	assert.Empty(t, wj.Data)
	assert.NotEmpty(t, wj.TransferID)
}

func TestProgressRelay(t *testing.T) {
	f := newFixture(1024, Timeouts{})

	f.d.HandleProgress(protocol.Progress{TabID: "tab-7", Status: "transcoding", Progress: 42})

	msgs := f.bus.messages(protocol.SubjectUIProgressPrefix + "tab-7")
	require.Len(t, msgs, 1)
	var p protocol.Progress
	require.NoError(t, json.Unmarshal(msgs[0], &p))
	assert.Equal(t, 42, p.Progress)
	assert.Equal(t, "transcoding", p.Status)
}
