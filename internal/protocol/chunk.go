package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode converts raw bytes to the transport-safe text form. The channel
// trusts only size, not binary-cleanliness, so every payload crosses it
// encoded.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return b, nil
}

// EncodedLen reports the encoded size of n raw bytes.
func EncodedLen(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}

// Chunks reports how many chunks of at most max bytes cover a payload of
// the given size: ceil(size/max).
func Chunks(size, max int) int {
	if size <= 0 {
		return 0
	}
	return (size + max - 1) / max
}

// Split cuts an encoded payload into ordered chunks by pure byte offset:
// chunk[i] = s[i*max : min((i+1)*max, len(s))]. Concatenating the chunks in
// index order reproduces s exactly.
func Split(s string, max int) []string {
	if max < 1 {
		panic("protocol: chunk size must be at least 1")
	}
	if s == "" {
		return nil
	}
	chunks := make([]string, 0, Chunks(len(s), max))
	for off := 0; off < len(s); off += max {
		end := off + max
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[off:end])
	}
	return chunks
}

// Assembler reassembles a chunked payload. Slots are addressed by explicit
// index, never by arrival order; delivery order across the channel is not
// guaranteed once progress messages interleave.
type Assembler struct {
	slots    []string
	filled   []bool
	received int
}

func NewAssembler(total int) (*Assembler, error) {
	if total < 1 {
		return nil, fmt.Errorf("assembler: total chunks must be at least 1, got %d", total)
	}
	return &Assembler{
		slots:  make([]string, total),
		filled: make([]bool, total),
	}, nil
}

// Put stores a chunk by index. A duplicate index overwrites the slot
// without inflating the received count.
func (a *Assembler) Put(index int, chunk string) error {
	if index < 0 || index >= len(a.slots) {
		return fmt.Errorf("assembler: chunk index %d out of range [0,%d)", index, len(a.slots))
	}
	if !a.filled[index] {
		a.filled[index] = true
		a.received++
	}
	a.slots[index] = chunk
	return nil
}

func (a *Assembler) Received() int { return a.received }

func (a *Assembler) Total() int { return len(a.slots) }

// Complete reports whether every slot is populated.
func (a *Assembler) Complete() bool { return a.received == len(a.slots) }

// Join concatenates the slots in index order. It fails while any slot is
// still empty.
func (a *Assembler) Join() (string, error) {
	if !a.Complete() {
		return "", fmt.Errorf("assembler: %d of %d chunks received", a.received, len(a.slots))
	}
	var sb strings.Builder
	for _, c := range a.slots {
		sb.WriteString(c)
	}
	return sb.String(), nil
}
