package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jwt625/vidbridge/internal/protocol"

	"github.com/nats-io/nats.go"
)

// ReadySink receives the worker's readiness announcements.
type ReadySink interface {
	MarkReady()
}

// Server binds the dispatcher to its NATS subjects.
type Server struct {
	nc    *nats.Conn
	d     *Dispatcher
	ready ReadySink
	subs  []*nats.Subscription
}

func NewServer(nc *nats.Conn, d *Dispatcher, ready ReadySink) *Server {
	return &Server{nc: nc, d: d, ready: ready}
}

func (s *Server) Start(ctx context.Context) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSubmit, func(msg *nats.Msg) {
			var req protocol.SubmitRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.d.respondError(msg.Reply, "malformed submit request")
				return
			}
			go s.d.HandleSubmit(ctx, req, msg.Reply)
		}},
		{protocol.SubjectUploadProcess, func(msg *nats.Msg) {
			var req protocol.ProcessRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.d.respondError(msg.Reply, "malformed process request")
				return
			}
			go s.d.HandleProcess(ctx, req, msg.Reply)
		}},
		{protocol.SubjectUploadChunk, func(msg *nats.Msg) {
			var ch protocol.UploadChunk
			if err := json.Unmarshal(msg.Data, &ch); err != nil {
				s.respondJSON(msg, protocol.UploadAck{Success: false, Error: "malformed chunk"})
				return
			}
			s.respondJSON(msg, s.d.HandleUploadChunk(ch))
		}},
		{protocol.SubjectResultChunk, func(msg *nats.Msg) {
			var req protocol.ResultChunkRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.respondJSON(msg, protocol.ResultChunkReply{Error: "malformed pull request"})
				return
			}
			s.respondJSON(msg, s.d.HandleResultPull(req))
		}},
		{protocol.SubjectWorkerResult, func(msg *nats.Msg) {
			var rm protocol.ResultMessage
			if err := json.Unmarshal(msg.Data, &rm); err != nil {
				slog.Warn("malformed worker result message")
				return
			}
			s.d.HandleWorkerResult(rm)
		}},
		{protocol.SubjectWorkerProgress, func(msg *nats.Msg) {
			var p protocol.Progress
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				return
			}
			s.d.HandleProgress(p)
		}},
		{protocol.SubjectWorkerReady, func(msg *nats.Msg) {
			slog.Info("worker announced readiness")
			s.ready.MarkReady()
		}},
	}

	for _, h := range handlers {
		sub, err := s.nc.Subscribe(h.subject, h.handler)
		if err != nil {
			s.Stop()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	slog.Info("dispatcher listening", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Server) Stop() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			slog.Warn("drain subscription", slog.String("error", err.Error()))
		}
	}
	s.subs = nil
}

func (s *Server) respondJSON(msg *nats.Msg, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(body); err != nil {
		slog.Warn("respond", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}
