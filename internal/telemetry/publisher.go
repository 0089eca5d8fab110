// Package telemetry publishes one sample per control cycle, best effort, to
// every configured sink. Nothing is buffered or retried.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

// Sink receives samples. Remote sinks are skipped while the link is down.
type Sink interface {
	Name() string
	Remote() bool
	Write(ctx context.Context, sample types.TelemetrySample) error
}

type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

type SinkResult struct {
	Sink    string
	Outcome Outcome
	Err     error
}

// Result summarizes the remote sinks: Published when all succeeded, Failed
// when any failed, Skipped when the link was down or none is configured.
type Result struct {
	Outcome Outcome
	Sinks   []SinkResult
}

func (r Result) Err() error {
	var errs []error
	for _, s := range r.Sinks {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

type Stats struct {
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

type Publisher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	last  *types.TelemetrySample
	stats Stats
}

func NewPublisher(timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, timeout: timeout, logger: logger}
}

// Publish writes the sample to each sink with its own timeout. Failures are
// logged and dropped.
func (p *Publisher) Publish(ctx context.Context, link types.LinkState, sample types.TelemetrySample) Result {
	p.mu.Lock()
	p.last = &sample
	sinks := append([]Sink(nil), p.sinks...)
	p.mu.Unlock()

	var res Result
	remotes, failed := 0, 0

	for _, sink := range sinks {
		if sink.Remote() && !link.Connected() {
			res.Sinks = append(res.Sinks, SinkResult{Sink: sink.Name(), Outcome: OutcomeSkipped})
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := sink.Write(sctx, sample)
		cancel()

		sr := SinkResult{Sink: sink.Name(), Outcome: OutcomePublished}
		if err != nil {
			sr.Outcome, sr.Err = OutcomeFailed, err
			p.logger.Warn("Telemetry publish failed",
				zap.String("sink", sink.Name()),
				zap.Error(err))
		}
		res.Sinks = append(res.Sinks, sr)

		if sink.Remote() {
			remotes++
			if err != nil {
				failed++
			}
		}
	}

	switch {
	case remotes == 0:
		res.Outcome = OutcomeSkipped
	case failed > 0:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomePublished
	}

	p.mu.Lock()
	switch res.Outcome {
	case OutcomePublished:
		p.stats.Published++
	case OutcomeFailed:
		p.stats.Failed++
	default:
		p.stats.Skipped++
	}
	p.mu.Unlock()

	return res
}

// Last returns the most recent sample handed to Publish.
func (p *Publisher) Last() (types.TelemetrySample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return types.TelemetrySample{}, false
	}
	return *p.last, true
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
