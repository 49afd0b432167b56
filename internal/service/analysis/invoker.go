package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pulse/internal/debuglog"
	"pulse/internal/service/ai"
	"pulse/internal/service/ingest"
)

const (
	DefaultDeadline     = 30 * time.Second
	DefaultAbandonAfter = 2 * time.Minute
)

type summaryResult struct {
	summary string
	err     error
}

// Scheduler runs summarizer calls on a shared pool. Submit must not block.
type Scheduler interface {
	Submit(ctx context.Context, userID int64, run func(ctx context.Context)) error
}

const (
	callPending int32 = iota
	callStarted
	callAbandoned
)

// Invoker makes one summarizer call per request and races it against a
// deadline. Time spent waiting for a scheduler slot counts against it.
type Invoker struct {
	summarizer   ai.Summarizer
	scheduler    Scheduler
	deadline     time.Duration
	abandonAfter time.Duration
}

// NewInvoker applies the default bounds for zero durations. abandonAfter is
// raised to the deadline when it is shorter. A nil scheduler runs each call
// on its own goroutine.
func NewInvoker(summarizer ai.Summarizer, scheduler Scheduler, deadline, abandonAfter time.Duration) *Invoker {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if abandonAfter <= 0 {
		abandonAfter = DefaultAbandonAfter
	}
	if abandonAfter < deadline {
		abandonAfter = deadline
	}
	return &Invoker{summarizer: summarizer, scheduler: scheduler, deadline: deadline, abandonAfter: abandonAfter}
}

// Invoke returns the summary if the call settles before the deadline.
// When the deadline fires first the call keeps running detached from ctx
// until abandonAfter, and whatever it returns is discarded. A call still
// waiting for the scheduler at that point never starts.
func (inv *Invoker) Invoke(ctx context.Context, ownerID int64, text ingest.NormalizedText) (string, error) {
	if inv.summarizer == nil {
		return "", fmt.Errorf("%w: summarizer not configured", ErrAnalysisFailed)
	}

	// buffered so a late result never blocks the abandoned goroutine
	done := make(chan summaryResult, 1)
	var state atomic.Int32
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inv.abandonAfter)
	call := func(runCtx context.Context) {
		defer cancel()
		if !state.CompareAndSwap(callPending, callStarted) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				done <- summaryResult{err: fmt.Errorf("summarizer panic: %v", r)}
			}
		}()
		summary, err := inv.summarizer.Summarize(runCtx, text.Text)
		done <- summaryResult{summary: summary, err: err}
	}

	if inv.scheduler == nil {
		go call(callCtx)
	} else if err := inv.scheduler.Submit(callCtx, ownerID, call); err != nil {
		cancel()
		return "", fmt.Errorf("%w: schedule summarizer: %v", ErrAnalysisFailed, err)
	}

	timer := time.NewTimer(inv.deadline)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", ErrAnalysisFailed, res.err)
		}
		if strings.TrimSpace(res.summary) == "" {
			return "", fmt.Errorf("%w: empty summary", ErrAnalysisFailed)
		}
		return res.summary, nil
	case <-timer.C:
		if state.CompareAndSwap(callPending, callAbandoned) {
			cancel()
			debuglog.Printf("[analysis] summarizer still queued after %s, dropping call", inv.deadline)
		} else {
			debuglog.Printf("[analysis] summarizer exceeded %s, abandoning call", inv.deadline)
		}
		return "", ErrTimeout
	}
}
