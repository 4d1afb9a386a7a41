package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/LJTian/newswire/internal/collector"
	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/ingest"
)

// DefaultMaxJitter bounds the random delay added after every cycle.
const DefaultMaxJitter = 15 * time.Second

// Submitter delivers one aggregated batch to the ingestion endpoint.
type Submitter interface {
	Submit(ctx context.Context, items []collector.CandidateItem, requestID string) (*ingest.Summary, error)
}

// SourceResult is one source's contribution to a cycle.
type SourceResult struct {
	Name     string        `json:"name"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
}

// CycleResult describes a finished cycle.
type CycleResult struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Sources    []SourceResult  `json:"sources"`
	Items      int             `json:"items"`
	Submitted  bool            `json:"submitted"`
	Summary    *ingest.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type Scheduler struct {
	sources   []config.Source
	fetcher   collector.Fetcher
	submitter Submitter
	schedule  cron.Schedule
	maxJitter time.Duration
	log       *slog.Logger

	cycleMu sync.Mutex // held for the whole of a cycle

	mu   sync.RWMutex
	last *CycleResult
}

// New parses spec as a standard cron expression or descriptor such as
// "@every 5m". The next cycle is due at spec's next activation after the
// previous cycle completed, plus up to maxJitter.
func New(sources []config.Source, fetcher collector.Fetcher, submitter Submitter, spec string, maxJitter time.Duration, log *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	return &Scheduler{
		sources:   sources,
		fetcher:   fetcher,
		submitter: submitter,
		schedule:  schedule,
		maxJitter: maxJitter,
		log:       log,
	}, nil
}

// Run executes a cycle right away and then keeps going until ctx is done.
// The next cycle is only scheduled after the current one has returned, so
// cycles never overlap. Cancellation is observed between cycles; a running
// cycle is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "sources", len(s.sources), "maxJitter", s.maxJitter)
	for {
		if ctx.Err() != nil {
			break
		}
		s.RunOnce(context.WithoutCancel(ctx))

		delay := s.NextDelay(time.Now())
		s.log.Info("next cycle scheduled", "in", delay.Round(time.Millisecond))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
	s.log.Info("scheduler stopped")
}

// NextDelay is the wait between a cycle completing at completed and the
// start of the next one.
func (s *Scheduler) NextDelay(completed time.Time) time.Duration {
	// cron schedules work in whole seconds and drop the fraction of from,
	// which would shorten the wait below the interval.
	from := completed.Truncate(time.Second)
	if from.Before(completed) {
		from = from.Add(time.Second)
	}
	base := s.schedule.Next(from).Sub(completed)
	if base < 0 {
		base = 0
	}
	if s.maxJitter > 0 {
		base += rand.N(s.maxJitter)
	}
	return base
}

// RunOnce fetches every source concurrently, in shuffled order, and submits
// the combined batch. A failing source only loses its own items.
func (s *Scheduler) RunOnce(ctx context.Context) CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewString(), StartedAt: time.Now()}
	log := s.log.With("cycle", res.ID)
	log.Info("cycle started")

	sources := make([]config.Source, len(s.sources))
	copy(sources, s.sources)
	rand.Shuffle(len(sources), func(i, j int) { sources[i], sources[j] = sources[j], sources[i] })

	perSource := make([][]collector.CandidateItem, len(sources))
	res.Sources = make([]SourceResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					log.Error("fetch panicked", "source", src.Name, "panic", r)
				}
				res.Sources[i] = SourceResult{Name: src.Name, Items: len(perSource[i]), Duration: time.Since(start)}
			}()
			perSource[i] = s.fetcher.Fetch(ctx, src)
			log.Debug("source fetched", "source", src.Name, "items", len(perSource[i]))
		}()
	}
	wg.Wait()

	var batch []collector.CandidateItem
	for _, items := range perSource {
		batch = append(batch, items...)
	}
	res.Items = len(batch)

	if len(batch) == 0 {
		log.Info("cycle produced no items, skipping submission")
	} else {
		res.Submitted = true
		sum, err := s.submitter.Submit(ctx, batch, res.ID)
		if err != nil {
			res.Error = err.Error()
			log.Error("submit batch failed", "items", len(batch), "err", err)
		} else {
			res.Summary = sum
			log.Info("batch submitted",
				"items", len(batch),
				"created", sum.Created,
				"skipped", sum.Skipped,
				"errors", len(sum.Errors))
		}
	}

	res.FinishedAt = time.Now()
	log.Info("cycle finished", "duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	s.mu.Lock()
	last := res
	s.last = &last
	s.mu.Unlock()
	return res
}

// LastCycle returns the most recent finished cycle, or nil before the first.
func (s *Scheduler) LastCycle() *CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}
