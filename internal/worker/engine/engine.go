// Package engine wraps the conversion backend. The dispatcher-facing
// service treats it as a black box: a command list and raw bytes in, raw
// bytes and fractional progress out.
package engine

import "context"

// ProgressFunc receives fractional progress in [0,1]. Implementations call
// it best-effort; delivery is never required for correctness.
type ProgressFunc func(fraction float64)

type Engine interface {
	Run(ctx context.Context, args []string, input []byte, onProgress ProgressFunc) ([]byte, error)
}
