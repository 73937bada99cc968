package staging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jwt625/vidbridge/internal/protocol"

	"github.com/google/uuid"
)

var ErrResultNotFound = errors.New("result not found")

const DefaultResultTTL = 15 * time.Minute

type storedResult struct {
	chunks  []string
	created time.Time
}

// ResultStore parks completed results whose encoded size exceeds the
// transport ceiling. A result is drained by pulling chunks by explicit
// index and is destroyed once its final chunk is pulled; a second full
// drain fails with ErrResultNotFound.
type ResultStore struct {
	chunkSize int
	ttl       time.Duration

	mu      sync.Mutex
	results map[string]*storedResult
}

func NewResultStore(chunkSize int, ttl time.Duration) *ResultStore {
	if chunkSize < 1 {
		chunkSize = protocol.MaxMessageBytes
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultStore{
		chunkSize: chunkSize,
		ttl:       ttl,
		results:   make(map[string]*storedResult),
	}
}

// Put stores an encoded result payload and returns the descriptor the
// client drains it with.
func (s *ResultStore) Put(payload string, multi bool, mediaType string) protocol.StoredResultInfo {
	id := uuid.NewString()
	chunks := protocol.Split(payload, s.chunkSize)

	s.mu.Lock()
	s.results[id] = &storedResult{chunks: chunks, created: time.Now()}
	s.mu.Unlock()

	return protocol.StoredResultInfo{
		ResultID:    id,
		Multi:       multi,
		MediaType:   mediaType,
		TotalChunks: len(chunks),
		TotalLength: len(payload),
	}
}

// Chunk returns one piece of a stored result. Pulling the last index
// destroys the record.
func (s *ResultStore) Chunk(id string, index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[id]
	if !ok {
		return "", false, ErrResultNotFound
	}
	if index < 0 || index >= len(res.chunks) {
		return "", false, ErrResultNotFound
	}

	chunk := res.chunks[index]
	isLast := index == len(res.chunks)-1
	if isLast {
		delete(s.results, id)
	}
	return chunk, isLast, nil
}

func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Sweep evicts stored results older than the TTL.
func (s *ResultStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, res := range s.results {
		if now.Sub(res.created) > s.ttl {
			delete(s.results, id)
			n++
		}
	}
	return n
}

// StartSweeper evicts undrained results on an interval until ctx ends.
func (s *ResultStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					slog.Info("evicted undrained results", slog.Int("count", n))
				}
			}
		}
	}()
}
