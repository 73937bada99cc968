package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jwt625/vidbridge/internal/protocol"

	"github.com/nats-io/nats.go"
)

// Server binds the worker service to its NATS subjects and announces
// readiness once the one-time engine initialization is done.
type Server struct {
	nc   *nats.Conn
	svc  *Service
	subs []*nats.Subscription
}

func NewServer(nc *nats.Conn, svc *Service) *Server {
	return &Server{nc: nc, svc: svc}
}

func (s *Server) Start(ctx context.Context) error {
	jobSub, err := s.nc.Subscribe(protocol.SubjectWorkerJob, func(msg *nats.Msg) {
		var job protocol.WorkerJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			slog.Warn("malformed job message")
			return
		}
		// The engine call is long-running; the subscription must keep
		// serving pings and upload chunks meanwhile.
		go s.svc.HandleJob(ctx, job)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, jobSub)

	chunkSub, err := s.nc.Subscribe(protocol.SubjectWorkerUploadChunk, func(msg *nats.Msg) {
		var ch protocol.UploadChunk
		if err := json.Unmarshal(msg.Data, &ch); err != nil {
			s.respondJSON(msg, protocol.UploadAck{Success: false, Error: "malformed chunk"})
			return
		}
		s.respondJSON(msg, s.svc.HandleUploadChunk(ch))
	})
	if err != nil {
		s.Stop()
		return err
	}
	s.subs = append(s.subs, chunkSub)

	pingSub, err := s.nc.Subscribe(protocol.SubjectWorkerPing, func(msg *nats.Msg) {
		if err := msg.Respond([]byte("pong")); err != nil {
			slog.Debug("ping respond", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		s.Stop()
		return err
	}
	s.subs = append(s.subs, pingSub)

	// Readiness barrier: the dispatcher proceeds optimistically after its
	// wait cap, so this is an announcement, not a handshake.
	if err := s.nc.Publish(protocol.SubjectWorkerReady, []byte("ready")); err != nil {
		slog.Warn("announce readiness", slog.String("error", err.Error()))
	}

	slog.Info("worker listening")
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
		return
	}
	if err := msg.Respond(body); err != nil {
		slog.Warn("respond", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
}
