// Package orchestrator drives a full conversion round trip from the gateway
// side: fetch the source, encode it, move it to the dispatcher inline or in
// chunks, trigger processing and pull the result back.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwt625/vidbridge/internal/protocol"
)

// Bus is the request side of the channel toward the dispatcher.
type Bus interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Fetcher collects the source bytes named by a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	// MaxMessageBytes is the transport ceiling for a single message.
	MaxMessageBytes int
	// JobTimeout bounds the submit/process request round trip.
	JobTimeout time.Duration
	// ExtendedJobTimeout applies to extract_all jobs.
	ExtendedJobTimeout time.Duration
	// ChunkTimeout bounds each individual chunk request.
	ChunkTimeout time.Duration
}

type Orchestrator struct {
	bus     Bus
	fetcher Fetcher
	opts    Options
	log     *slog.Logger
}

func New(bus Bus, fetcher Fetcher, opts Options) *Orchestrator {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = protocol.MaxMessageBytes
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	if opts.ExtendedJobTimeout <= 0 {
		opts.ExtendedJobTimeout = 10 * time.Minute
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = 30 * time.Second
	}
	return &Orchestrator{
		bus:     bus,
		fetcher: fetcher,
		opts:    opts,
		log:     slog.Default().With("component", "orchestrator"),
	}
}

// ConvertURL fetches the source, ships it to the dispatcher and returns the
// decoded result. tabID keys the progress stream for this conversion.
func (o *Orchestrator) ConvertURL(ctx context.Context, kind protocol.JobKind, tabID, url string) (*protocol.Media, error) {
	raw, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return o.ConvertBytes(ctx, kind, tabID, filenameFromURL(url), raw)
}

// ConvertBytes ships already-held source bytes through the dispatcher. The
// payload crosses the channel inline when its encoded form fits under the
// ceiling, otherwise as a staged chunked upload followed by a process call.
func (o *Orchestrator) ConvertBytes(ctx context.Context, kind protocol.JobKind, tabID, filename string, raw []byte) (*protocol.Media, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty source payload")
	}

	encoded := protocol.Encode(raw)

	var (
		resp protocol.JobResponse
		err  error
	)
	if len(encoded) <= o.opts.MaxMessageBytes {
		resp, err = o.submitInline(ctx, kind, tabID, filename, encoded)
	} else {
		resp, err = o.submitChunked(ctx, kind, tabID, filename, encoded)
	}
	if err != nil {
		return nil, err
	}
	return o.resolve(ctx, resp)
}

func (o *Orchestrator) submitInline(ctx context.Context, kind protocol.JobKind, tabID, filename, encoded string) (protocol.JobResponse, error) {
	req := protocol.SubmitRequest{
		Kind:     kind,
		TabID:    tabID,
		Data:     encoded,
		Filename: filename,
	}
	return o.requestJob(ctx, kind, protocol.SubjectSubmit, req)
}

func (o *Orchestrator) submitChunked(ctx context.Context, kind protocol.JobKind, tabID, filename, encoded string) (protocol.JobResponse, error) {
	transferID := uuid.NewString()
	chunks := protocol.Split(encoded, o.opts.MaxMessageBytes)

	o.log.Info("uploading source in chunks",
		"transfer_id", transferID, "chunks", len(chunks), "encoded_bytes", len(encoded))

	for i, chunk := range chunks {
		if err := o.uploadChunk(ctx, protocol.UploadChunk{
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Chunk:       chunk,
		}); err != nil {
			return protocol.JobResponse{}, fmt.Errorf("upload chunk %d of %d: %w", i, len(chunks), err)
		}
	}

	req := protocol.ProcessRequest{
		Kind:       kind,
		TabID:      tabID,
		TransferID: transferID,
		Filename:   filename,
	}
	return o.requestJob(ctx, kind, protocol.SubjectUploadProcess, req)
}

func (o *Orchestrator) uploadChunk(ctx context.Context, chunk protocol.UploadChunk) error {
	body, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.opts.ChunkTimeout)
	defer cancel()

	reply, err := o.bus.Request(reqCtx, protocol.SubjectUploadChunk, body)
	if err != nil {
		return err
	}

	var ack protocol.UploadAck
	if err := json.Unmarshal(reply, &ack); err != nil {
		return fmt.Errorf("unmarshal chunk ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("chunk rejected: %s", ack.Error)
	}
	return nil
}

func (o *Orchestrator) requestJob(ctx context.Context, kind protocol.JobKind, subject string, req any) (protocol.JobResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return protocol.JobResponse{}, fmt.Errorf("marshal job request: %w", err)
	}

	timeout := o.opts.JobTimeout
	if kind == protocol.JobExtractAll {
		timeout = o.opts.ExtendedJobTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := o.bus.Request(reqCtx, subject, body)
	if err != nil {
		return protocol.JobResponse{}, fmt.Errorf("job request: %w", err)
	}

	var resp protocol.JobResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return protocol.JobResponse{}, fmt.Errorf("unmarshal job response: %w", err)
	}
	return resp, nil
}

// resolve turns a job response into decoded media, pulling a stored result
// chunk by chunk when the dispatcher parked it.
func (o *Orchestrator) resolve(ctx context.Context, resp protocol.JobResponse) (*protocol.Media, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("conversion failed: %s", resp.Error)
	}

	switch {
	case resp.Result != nil:
		return protocol.DecodeResult(resp.Result.Multi, resp.Result.MediaType, resp.Result.Data)
	case resp.Stored != nil:
		payload, err := o.pullStored(ctx, resp.Stored)
		if err != nil {
			return nil, err
		}
		return protocol.DecodeResult(resp.Stored.Multi, resp.Stored.MediaType, payload)
	default:
		return nil, fmt.Errorf("job response carries neither result nor stored descriptor")
	}
}

// pullStored drains a parked result by explicit chunk index, 0 through
// TotalChunks-1. The dispatcher frees the result once the last chunk is
// served, so a pull cannot be retried from the top.
func (o *Orchestrator) pullStored(ctx context.Context, info *protocol.StoredResultInfo) (string, error) {
	o.log.Info("pulling stored result",
		"result_id", info.ResultID, "chunks", info.TotalChunks, "total_bytes", info.TotalLength)

	asm, err := protocol.NewAssembler(info.TotalChunks)
	if err != nil {
		return "", err
	}

	for i := 0; i < info.TotalChunks; i++ {
		body, err := json.Marshal(protocol.ResultChunkRequest{
			ResultID:   info.ResultID,
			ChunkIndex: i,
		})
		if err != nil {
			return "", fmt.Errorf("marshal result chunk request: %w", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, o.opts.ChunkTimeout)
		reply, err := o.bus.Request(reqCtx, protocol.SubjectResultChunk, body)
		cancel()
		if err != nil {
			return "", fmt.Errorf("pull result chunk %d: %w", i, err)
		}

		var rc protocol.ResultChunkReply
		if err := json.Unmarshal(reply, &rc); err != nil {
			return "", fmt.Errorf("unmarshal result chunk %d: %w", i, err)
		}
		if rc.Error != "" {
			return "", fmt.Errorf("pull result chunk %d: %s", i, rc.Error)
		}
		if err := asm.Put(i, rc.Chunk); err != nil {
			return "", err
		}
	}

	payload, err := asm.Join()
	if err != nil {
		return "", err
	}
	if len(payload) != info.TotalLength {
		return "", fmt.Errorf("stored result length mismatch: got %d, descriptor says %d", len(payload), info.TotalLength)
	}
	return payload, nil
}

func filenameFromURL(rawURL string) string {
	if cut, _, ok := strings.Cut(rawURL, "?"); ok {
		rawURL = cut
	}
	return path.Base(rawURL)
}
