// Package staging owns the dispatcher-side mutable state: in-progress
// chunked uploads and completed results awaiting drain. Both stores are
// in-memory, keyed by caller-generated identifiers, and evict abandoned
// entries on a TTL sweep.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwt625/vidbridge/internal/protocol"
)

var (
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

const DefaultTransferTTL = 10 * time.Minute

type transfer struct {
	asm     *protocol.Assembler
	touched time.Time
}

// TransferStore stages oversized uploads, one slot array per transfer
// identifier. A transfer is created on first chunk arrival and destroyed on
// successful reassembly, explicit abandonment, or TTL expiry.
type TransferStore struct {
	ttl time.Duration

	mu        sync.Mutex
	transfers map[string]*transfer
}

func NewTransferStore(ttl time.Duration) *TransferStore {
	if ttl <= 0 {
		ttl = DefaultTransferTTL
	}
	return &TransferStore{
		ttl:       ttl,
		transfers: make(map[string]*transfer),
	}
}

// Put stores one chunk and reports how many chunks the transfer now holds.
// The declared total must stay consistent across the transfer's lifetime.
func (s *TransferStore) Put(id string, index, total int, chunk string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("empty transfer id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.transfers[id]
	if !ok {
		asm, err := protocol.NewAssembler(total)
		if err != nil {
			return 0, err
		}
		tr = &transfer{asm: asm}
		s.transfers[id] = tr
	}

	if tr.asm.Total() != total {
		return tr.asm.Received(), fmt.Errorf(
			"transfer %s: declared total changed from %d to %d", id, tr.asm.Total(), total)
	}

	if err := tr.asm.Put(index, chunk); err != nil {
		return tr.asm.Received(), err
	}

	tr.touched = time.Now()
	return tr.asm.Received(), nil
}

// Take reassembles a complete transfer and destroys it. An unknown id fails
// with ErrTransferNotFound; a transfer with missing chunks fails with
// ErrIncompleteTransfer and stays staged.
func (s *TransferStore) Take(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.transfers[id]
	if !ok {
		return "", ErrTransferNotFound
	}
	if !tr.asm.Complete() {
		return "", fmt.Errorf("%w: %d of %d chunks received",
			ErrIncompleteTransfer, tr.asm.Received(), tr.asm.Total())
	}

	payload, err := tr.asm.Join()
	if err != nil {
		return "", err
	}

	delete(s.transfers, id)
	return payload, nil
}

// Abandon drops a transfer without reassembly.
func (s *TransferStore) Abandon(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, id)
}

func (s *TransferStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

// Sweep evicts transfers untouched for longer than the TTL and reports how
// many were dropped.
func (s *TransferStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for id, tr := range s.transfers {
		if now.Sub(tr.touched) > s.ttl {
			delete(s.transfers, id)
			n++
		}
	}
	return n
}

// StartSweeper evicts abandoned transfers on an interval until ctx ends.
func (s *TransferStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					slog.Info("evicted abandoned transfers", slog.Int("count", n))
				}
			}
		}
	}()
}
