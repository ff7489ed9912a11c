// Package notify delivers payloads to a chat sink.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/grantwatch/internal/logger"
)

// Sink accepts one text payload per call.
type Sink interface {
	Deliver(ctx context.Context, payload string) error
}

// DeliveryError reports a payload the sink rejected or never received.
type DeliveryError struct {
	Index  int // 1-based payload position
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("payload %d: HTTP %d: %v", e.Index, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("payload %d: HTTP %d", e.Index, e.Status)
	default:
		return fmt.Sprintf("payload %d: %v", e.Index, e.Err)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Options tunes Notify.
type Options struct {
	// Interval is slept between consecutive deliveries.
	Interval time.Duration
	Log      logger.Logger
}

// Result holds one error slot per payload, nil on success.
type Result struct {
	Errs []error
}

// OK reports whether every payload was delivered.
func (r Result) OK() bool { return r.Failed() == 0 }

func (r Result) Delivered() int { return len(r.Errs) - r.Failed() }

func (r Result) Failed() int {
	n := 0
	for _, err := range r.Errs {
		if err != nil {
			n++
		}
	}
	return n
}

// sleepFunc waits between deliveries; tests override it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Notify delivers payloads in order, one blocking call each, with no retry.
// A failed payload does not stop the remaining ones. Once ctx is done the
// remaining payloads are marked failed without being sent.
func Notify(ctx context.Context, sink Sink, payloads []string, opts Options) Result {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}

	res := Result{Errs: make([]error, len(payloads))}
	for i, p := range payloads {
		idx := i + 1
		if i > 0 && opts.Interval > 0 {
			if err := sleepFunc(ctx, opts.Interval); err != nil {
				res.Errs[i] = &DeliveryError{Index: idx, Err: err}
				log.Error("delivery skipped", logger.Int("payload", idx), logger.Error(err))
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			res.Errs[i] = &DeliveryError{Index: idx, Err: err}
			log.Error("delivery skipped", logger.Int("payload", idx), logger.Error(err))
			continue
		}

		err := sink.Deliver(ctx, p)
		if err != nil {
			res.Errs[i] = withIndex(err, idx)
			log.Error("delivery failed",
				logger.Int("payload", idx),
				logger.Int("of", len(payloads)),
				logger.Error(res.Errs[i]))
			continue
		}
		log.Info("payload delivered",
			logger.Int("payload", idx),
			logger.Int("of", len(payloads)),
			logger.Int("chars", len([]rune(p))))
	}
	return res
}

// withIndex stamps the payload position onto err.
func withIndex(err error, idx int) error {
	if de, ok := err.(*DeliveryError); ok {
		cp := *de
		cp.Index = idx
		return &cp
	}
	return &DeliveryError{Index: idx, Err: err}
}
