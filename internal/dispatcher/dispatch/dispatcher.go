// Package dispatch serializes job submission to the worker context: it
// tracks exactly one outstanding job, stages oversized uploads and results,
// relays progress, and applies deadlines.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwt625/vidbridge/internal/dispatcher/workermgr"
	"github.com/jwt625/vidbridge/internal/protocol"
	"github.com/jwt625/vidbridge/internal/staging"

	"github.com/google/uuid"
)

// ErrJobTimeout means no worker result arrived within the job's deadline.
var ErrJobTimeout = errors.New("job timeout")

// Bus is the dispatcher's view of the bounded channel.
type Bus interface {
	Publish(subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Fetcher collects source bytes for locator-based submissions.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// WorkerManager guarantees a live worker context before dispatch.
type WorkerManager interface {
	Ensure(ctx context.Context) (workermgr.Readiness, error)
}

type Timeouts struct {
	Job         time.Duration // transcode and simple extraction
	ExtendedJob time.Duration // multi-file extraction
	ChunkAck    time.Duration // per forwarded chunk
}

func (t *Timeouts) defaults() {
	if t.Job <= 0 {
		t.Job = 5 * time.Minute
	}
	if t.ExtendedJob <= 0 {
		t.ExtendedJob = 10 * time.Minute
	}
	if t.ChunkAck <= 0 {
		t.ChunkAck = 30 * time.Second
	}
}

// pendingJob is the single outstanding request awaiting a worker result.
// The seq field fences the deadline timer and late completions: both are
// no-ops once the slot holds a different (or no) job.
type pendingJob struct {
	seq   uint64
	kind  protocol.JobKind
	tabID string
	reply string
	timer *time.Timer
}

type resultAssembly struct {
	asm       *protocol.Assembler
	multi     bool
	mediaType string
}

// Dispatcher has exactly one pending-job slot, not a queue. Submitting a
// new job while one is pending overwrites the slot: the last submission
// wins the completion, and the orphaned caller is covered only by its own
// request timeout. This single-slot handoff is the intended concurrency
// level (one UI-visible job at a time).
type Dispatcher struct {
	bus       Bus
	workers   WorkerManager
	transfers *staging.TransferStore
	results   *staging.ResultStore
	fetch     Fetcher
	maxBytes  int
	timeouts  Timeouts

	mu        sync.Mutex
	seq       uint64
	pending   *pendingJob
	resultAsm *resultAssembly
}

type Options struct {
	MaxMessageBytes int
	Timeouts        Timeouts
}

func New(
	bus Bus,
	workers WorkerManager,
	transfers *staging.TransferStore,
	results *staging.ResultStore,
	fetch Fetcher,
	opts Options,
) *Dispatcher {
	if opts.MaxMessageBytes < 1 {
		opts.MaxMessageBytes = protocol.MaxMessageBytes
	}
	opts.Timeouts.defaults()

	return &Dispatcher{
		bus:       bus,
		workers:   workers,
		transfers: transfers,
		results:   results,
		fetch:     fetch,
		maxBytes:  opts.MaxMessageBytes,
		timeouts:  opts.Timeouts,
	}
}

// HandleUploadChunk stages one chunk of a client upload and acknowledges it.
func (d *Dispatcher) HandleUploadChunk(ch protocol.UploadChunk) protocol.UploadAck {
	received, err := d.transfers.Put(ch.TransferID, ch.ChunkIndex, ch.TotalChunks, ch.Chunk)
	if err != nil {
		return protocol.UploadAck{Success: false, Received: received, Total: ch.TotalChunks, Error: err.Error()}
	}
	return protocol.UploadAck{Success: true, Received: received, Total: ch.TotalChunks}
}

// HandleProcess starts a job over a fully staged transfer. The reply is
// delivered when the job completes, fails, or times out.
func (d *Dispatcher) HandleProcess(ctx context.Context, req protocol.ProcessRequest, reply string) {
	payload, err := d.transfers.Take(req.TransferID)
	if err != nil {
		d.respondError(reply, err.Error())
		return
	}
	d.start(ctx, protocol.SubmitRequest{
		Kind:     req.Kind,
		TabID:    req.TabID,
		Filename: req.Filename,
	}, payload, reply)
}

// HandleSubmit starts a job with an inline payload, a staged transfer, or a
// source locator the dispatcher fetches itself.
func (d *Dispatcher) HandleSubmit(ctx context.Context, req protocol.SubmitRequest, reply string) {
	payload := req.Data

	switch {
	case payload != "":
	case req.TransferID != "":
		var err error
		payload, err = d.transfers.Take(req.TransferID)
		if err != nil {
			d.respondError(reply, err.Error())
			return
		}
	case req.SourceURL != "":
		b, err := d.fetch.Fetch(ctx, req.SourceURL)
		if err != nil {
			d.respondError(reply, err.Error())
			return
		}
		payload = protocol.Encode(b)
	default:
		d.respondError(reply, "empty job payload")
		return
	}

	d.start(ctx, req, payload, reply)
}

// HandleResultPull serves one chunk of a stored result.
func (d *Dispatcher) HandleResultPull(req protocol.ResultChunkRequest) protocol.ResultChunkReply {
	chunk, isLast, err := d.results.Chunk(req.ResultID, req.ChunkIndex)
	if err != nil {
		return protocol.ResultChunkReply{Error: err.Error()}
	}
	return protocol.ResultChunkReply{Chunk: chunk, IsLast: isLast}
}

// HandleProgress relays a worker progress event to the originating client.
// Fire-and-forget: losing an update is non-fatal, and progress stays
// decoupled from completion.
func (d *Dispatcher) HandleProgress(p protocol.Progress) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := d.bus.Publish(protocol.SubjectUIProgressPrefix+p.TabID, body); err != nil {
		slog.Debug("progress relay dropped",
			slog.String("tab_id", p.TabID),
			slog.String("error", err.Error()),
		)
	}
}

// HandleWorkerResult consumes the worker result stream.
func (d *Dispatcher) HandleWorkerResult(msg protocol.ResultMessage) {
	switch msg.Kind {
	case protocol.KindResult:
		if msg.Error != "" {
			d.completeError(msg.Error)
			return
		}
		if msg.Result == nil {
			d.completeError("worker result missing payload")
			return
		}
		d.complete(msg.Result)

	case protocol.KindResultChunkedStart:
		asm, err := protocol.NewAssembler(msg.TotalChunks)
		if err != nil {
			d.completeError(fmt.Sprintf("chunked result: %v", err))
			return
		}
		d.mu.Lock()
		if d.pending == nil {
			d.mu.Unlock()
			slog.Debug("chunked result start without pending job, dropped")
			return
		}
		d.resultAsm = &resultAssembly{asm: asm, multi: msg.Multi, mediaType: msg.MediaType}
		d.mu.Unlock()

	case protocol.KindResultChunk:
		d.mu.Lock()
		ra := d.resultAsm
		if ra == nil {
			d.mu.Unlock()
			slog.Debug("result chunk without staging buffer, dropped")
			return
		}
		err := ra.asm.Put(msg.ChunkIndex, msg.Chunk)
		d.mu.Unlock()
		if err != nil {
			d.completeError(fmt.Sprintf("chunked result: %v", err))
		}

	case protocol.KindResultChunkedEnd:
		d.mu.Lock()
		ra := d.resultAsm
		d.resultAsm = nil
		d.mu.Unlock()
		if ra == nil {
			slog.Debug("chunked result end without staging buffer, dropped")
			return
		}
		payload, err := ra.asm.Join()
		if err != nil {
			d.completeError(fmt.Sprintf("chunked result: %v", err))
			return
		}
		d.complete(&protocol.InlineResult{Multi: ra.multi, MediaType: ra.mediaType, Data: payload})

	default:
		slog.Warn("unknown worker result kind", slog.String("kind", string(msg.Kind)))
	}
}

func (d *Dispatcher) start(ctx context.Context, req protocol.SubmitRequest, payload, reply string) {
	readiness, err := d.workers.Ensure(ctx)
	if err != nil {
		d.respondError(reply, err.Error())
		return
	}
	if readiness == workermgr.ReadyTimedOut {
		slog.Warn("dispatching to a worker that has not announced readiness",
			slog.String("tab_id", req.TabID))
	}

	deadline := d.timeouts.Job
	if req.Kind == protocol.JobExtractAll {
		deadline = d.timeouts.ExtendedJob
	}

	d.mu.Lock()
	if d.pending != nil {
		// Last submission wins the completion slot; the previous caller's
		// reply is never sent from here.
		slog.Warn("pending job overwritten by new submission",
			slog.String("orphaned_tab_id", d.pending.tabID),
			slog.String("tab_id", req.TabID),
		)
		d.pending.timer.Stop()
	}
	d.seq++
	seq := d.seq
	job := &pendingJob{seq: seq, kind: req.Kind, tabID: req.TabID, reply: reply}
	job.timer = time.AfterFunc(deadline, func() { d.expire(seq, deadline) })
	d.pending = job
	d.resultAsm = nil
	d.mu.Unlock()

	slog.Info("job started",
		slog.String("kind", string(req.Kind)),
		slog.String("tab_id", req.TabID),
		slog.Int("payload_size", len(payload)),
	)

	if err := d.forward(ctx, req, payload); err != nil {
		d.failIfCurrent(seq, err.Error())
	}
}

// forward posts the job to the worker, re-chunking the payload when it
// exceeds the transport ceiling on this hop.
func (d *Dispatcher) forward(ctx context.Context, req protocol.SubmitRequest, payload string) error {
	job := protocol.WorkerJob{
		Kind:     req.Kind,
		TabID:    req.TabID,
		Filename: req.Filename,
	}

	if len(payload) <= d.maxBytes {
		job.Data = payload
	} else {
		transferID := uuid.NewString()
		chunks := protocol.Split(payload, d.maxBytes)
		for i, chunk := range chunks {
			body, err := json.Marshal(protocol.UploadChunk{
				TransferID:  transferID,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				Chunk:       chunk,
			})
			if err != nil {
				return fmt.Errorf("marshal chunk %d: %w", i, err)
			}

			ackCtx, cancel := context.WithTimeout(ctx, d.timeouts.ChunkAck)
			data, err := d.bus.Request(ackCtx, protocol.SubjectWorkerUploadChunk, body)
			cancel()
			if err != nil {
				return fmt.Errorf("forward chunk %d/%d to worker: %w", i+1, len(chunks), err)
			}

			var ack protocol.UploadAck
			if err := json.Unmarshal(data, &ack); err != nil {
				return fmt.Errorf("decode chunk ack: %w", err)
			}
			if !ack.Success {
				return fmt.Errorf("worker rejected chunk %d: %s", i, ack.Error)
			}
		}
		job.TransferID = transferID
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal worker job: %w", err)
	}
	if err := d.bus.Publish(protocol.SubjectWorkerJob, body); err != nil {
		return fmt.Errorf("post job to worker: %w", err)
	}
	return nil
}

// complete resolves the pending slot with a worker result. A result
// arriving into an empty slot is dropped silently.
func (d *Dispatcher) complete(res *protocol.InlineResult) {
	job := d.clearPending(0)
	if job == nil {
		slog.Debug("late worker result dropped")
		return
	}

	resp := protocol.JobResponse{}
	if len(res.Data) <= d.maxBytes {
		resp.Result = res
	} else {
		info := d.results.Put(res.Data, res.Multi, res.MediaType)
		resp.Stored = &info
	}

	slog.Info("job completed",
		slog.String("tab_id", job.tabID),
		slog.Bool("stored", resp.Stored != nil),
	)
	d.respond(job.reply, resp)
}

func (d *Dispatcher) completeError(msg string) {
	job := d.clearPending(0)
	if job == nil {
		slog.Debug("late worker error dropped", slog.String("error", msg))
		return
	}
	slog.Warn("job failed", slog.String("tab_id", job.tabID), slog.String("error", msg))
	d.respondError(job.reply, msg)
}

func (d *Dispatcher) expire(seq uint64, deadline time.Duration) {
	job := d.clearPending(seq)
	if job == nil {
		return
	}
	slog.Warn("job timed out",
		slog.String("tab_id", job.tabID),
		slog.Duration("deadline", deadline),
	)
	d.respondError(job.reply, fmt.Sprintf("%v: no result within %s", ErrJobTimeout, deadline))
}

func (d *Dispatcher) failIfCurrent(seq uint64, msg string) {
	job := d.clearPending(seq)
	if job == nil {
		return
	}
	d.respondError(job.reply, msg)
}

// clearPending empties the slot and returns the job that held it. A
// non-zero seq only clears the slot if it still holds that generation.
func (d *Dispatcher) clearPending(seq uint64) *pendingJob {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return nil
	}
	if seq != 0 && d.pending.seq != seq {
		return nil
	}

	job := d.pending
	d.pending = nil
	d.resultAsm = nil
	job.timer.Stop()
	return job
}

// Pending reports whether a job currently occupies the slot.
func (d *Dispatcher) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Dispatcher) respond(reply string, resp protocol.JobResponse) {
	if reply == "" {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal job response", slog.String("error", err.Error()))
		return
	}
	if err := d.bus.Publish(reply, body); err != nil {
		slog.Warn("deliver job response", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) respondError(reply string, msg string) {
	d.respond(reply, protocol.JobResponse{Error: msg})
}
