// Package service runs jobs inside the worker context: it resolves the
// (possibly staged) payload, drives the opaque engine or archive reader,
// reports progress, and emits the result back over the bounded channel.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwt625/vidbridge/internal/protocol"
	"github.com/jwt625/vidbridge/internal/staging"
	"github.com/jwt625/vidbridge/internal/worker/archive"
	"github.com/jwt625/vidbridge/internal/worker/engine"
)

// Bus is the worker's outbound view of the channel.
type Bus interface {
	Publish(subject string, data []byte) error
}

type Options struct {
	MaxMessageBytes int
	JobTimeout      time.Duration // transcode and simple extraction
	ExtendedTimeout time.Duration // multi-file extraction
	TranscodeArgs   []string      // engine command list for transcode jobs
}

func (o *Options) defaults() {
	if o.MaxMessageBytes < 1 {
		o.MaxMessageBytes = protocol.MaxMessageBytes
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	if o.ExtendedTimeout <= 0 {
		o.ExtendedTimeout = 10 * time.Minute
	}
	if len(o.TranscodeArgs) == 0 {
		o.TranscodeArgs = []string{"-c:v", "libx264", "-preset", "veryfast", "-movflags", "+faststart"}
	}
}

type Service struct {
	bus       Bus
	engine    engine.Engine
	archive   archive.Opener
	transfers *staging.TransferStore
	opts      Options
}

func New(bus Bus, eng engine.Engine, opener archive.Opener, transfers *staging.TransferStore, opts Options) *Service {
	opts.defaults()
	return &Service{
		bus:       bus,
		engine:    eng,
		archive:   opener,
		transfers: transfers,
		opts:      opts,
	}
}

// HandleUploadChunk stages one chunk of a dispatcher-forwarded payload.
func (s *Service) HandleUploadChunk(ch protocol.UploadChunk) protocol.UploadAck {
	received, err := s.transfers.Put(ch.TransferID, ch.ChunkIndex, ch.TotalChunks, ch.Chunk)
	if err != nil {
		return protocol.UploadAck{Success: false, Received: received, Total: ch.TotalChunks, Error: err.Error()}
	}
	return protocol.UploadAck{Success: true, Received: received, Total: ch.TotalChunks}
}

// HandleJob runs one job to completion and emits exactly one terminal
// result message (inline, chunked sequence, or error).
func (s *Service) HandleJob(ctx context.Context, job protocol.WorkerJob) {
	payload := job.Data
	if job.TransferID != "" {
		var err error
		payload, err = s.transfers.Take(job.TransferID)
		if err != nil {
			s.emitError(err.Error())
			return
		}
	}

	input, err := protocol.Decode(payload)
	if err != nil {
		s.emitError(err.Error())
		return
	}

	slog.Info("job received",
		slog.String("kind", string(job.Kind)),
		slog.String("tab_id", job.TabID),
		slog.Int("input_size", len(input)),
	)

	switch job.Kind {
	case protocol.JobTranscode:
		s.transcode(ctx, job.TabID, input)
	case protocol.JobExtract:
		s.extract(ctx, job.TabID, input, false)
	case protocol.JobExtractAll:
		s.extract(ctx, job.TabID, input, true)
	default:
		s.emitError(fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func (s *Service) transcode(ctx context.Context, tabID string, input []byte) {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	s.progress(tabID, "transcoding", 0)
	out, err := s.engine.Run(runCtx, s.opts.TranscodeArgs, input, func(fraction float64) {
		s.progress(tabID, "transcoding", int(fraction*100))
	})
	if err != nil {
		s.emitError(err.Error())
		return
	}

	s.progress(tabID, "encoding result", 100)
	s.emitSingle(out, "video/mp4")
}

func (s *Service) extract(ctx context.Context, tabID string, input []byte, all bool) {
	timeout := s.opts.JobTimeout
	if all {
		timeout = s.opts.ExtendedTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.progress(tabID, "reading archive", 0)
	entries, err := s.archive.Entries(input)
	if err != nil {
		s.emitError(err.Error())
		return
	}

	media := archive.MediaEntries(entries)
	if len(media) == 0 {
		s.emitError(archive.ErrNoMediaFound.Error())
		return
	}

	if !all {
		e := media[0]
		s.progress(tabID, "extracting "+e.Name, 50)
		data, err := e.Open()
		if err != nil {
			s.emitError(err.Error())
			return
		}
		mt, _ := archive.MediaType(e.Name)
		s.emitSingle(data, mt)
		return
	}

	items := make([]protocol.MediaItem, 0, len(media))
	for i, e := range media {
		if runCtx.Err() != nil {
			s.emitError(runCtx.Err().Error())
			return
		}
		s.progress(tabID, "extracting "+e.Name, i*100/len(media))
		data, err := e.Open()
		if err != nil {
			s.emitError(err.Error())
			return
		}
		mt, _ := archive.MediaType(e.Name)
		items = append(items, protocol.MediaItem{Name: e.Name, MediaType: mt, Data: data})
	}

	s.progress(tabID, "encoding result", 100)
	s.emitMulti(items)
}

func (s *Service) emitSingle(data []byte, mediaType string) {
	encoded := protocol.Encode(data)
	if len(encoded) <= s.opts.MaxMessageBytes {
		s.emitResult(protocol.ResultMessage{
			Kind:   protocol.KindResult,
			Result: &protocol.InlineResult{MediaType: mediaType, Data: encoded},
		})
		return
	}
	s.emitChunked(encoded, false, mediaType)
}

func (s *Service) emitMulti(items []protocol.MediaItem) {
	// Shape decision uses the pre-serialization sum of encoded item sizes;
	// the actual chunk count comes from the serialized payload.
	var preSum int
	for _, it := range items {
		preSum += protocol.EncodedLen(len(it.Data))
	}

	payload, err := protocol.EncodeMulti(items)
	if err != nil {
		s.emitError(err.Error())
		return
	}

	if preSum <= s.opts.MaxMessageBytes && len(payload) <= s.opts.MaxMessageBytes {
		s.emitResult(protocol.ResultMessage{
			Kind:   protocol.KindResult,
			Result: &protocol.InlineResult{Multi: true, Data: payload},
		})
		return
	}
	s.emitChunked(payload, true, "")
}

func (s *Service) emitChunked(payload string, multi bool, mediaType string) {
	chunks := protocol.Split(payload, s.opts.MaxMessageBytes)

	s.emitResult(protocol.ResultMessage{
		Kind:        protocol.KindResultChunkedStart,
		Multi:       multi,
		MediaType:   mediaType,
		TotalChunks: len(chunks),
		TotalLength: len(payload),
	})
	for i, chunk := range chunks {
		s.emitResult(protocol.ResultMessage{
			Kind:       protocol.KindResultChunk,
			ChunkIndex: i,
			Chunk:      chunk,
		})
	}
	s.emitResult(protocol.ResultMessage{Kind: protocol.KindResultChunkedEnd})
}

func (s *Service) emitError(msg string) {
	slog.Warn("job failed", slog.String("error", msg))
	s.emitResult(protocol.ResultMessage{Kind: protocol.KindResult, Error: msg})
}

func (s *Service) emitResult(msg protocol.ResultMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal result message", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(protocol.SubjectWorkerResult, body); err != nil {
		slog.Error("publish result message", slog.String("error", err.Error()))
	}
}

func (s *Service) progress(tabID, status string, pct int) {
	if tabID == "" {
		return
	}
	body, err := json.Marshal(protocol.Progress{TabID: tabID, Status: status, Progress: pct})
	if err != nil {
		return
	}
	// Fire-and-forget: a lost progress update is non-fatal.
	_ = s.bus.Publish(protocol.SubjectWorkerProgress, body)
}
