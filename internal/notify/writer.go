package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const writerRule = "--------"

// Writer prints payloads to an io.Writer. Used for dry runs.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Deliver implements Sink.
func (s *Writer) Deliver(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	_, err := fmt.Fprintf(s.w, "%s payload %d %s\n%s\n", writerRule, s.n, writerRule, strings.TrimRight(payload, "\n"))
	return err
}
