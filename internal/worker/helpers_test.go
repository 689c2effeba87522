package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/ai"
	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/pipeline"
	"github.com/iago/meetiq-back/internal/quality"
	"github.com/iago/meetiq-back/internal/repository"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu        sync.Mutex
	now       time.Time
	waiters   []clockWaiter
	requested []time.Duration
}

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, clockWaiter{at: c.now.Add(d), ch: ch})
	c.requested = append(c.requested, d)
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, waiter := range c.waiters {
		if waiter.at.After(c.now) {
			pending = append(pending, waiter)
			continue
		}
		waiter.ch <- c.now
	}
	c.waiters = pending
}

func (c *manualClock) Requested() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.requested...)
}

// stageGenerator answers per pipeline stage, recognised from the system prompt.
type stageGenerator struct {
	mu      sync.Mutex
	extract func(user string) (string, error)
	write   func(user string) (string, error)
	repair  func(user string) (string, error)
	calls   map[string]int
}

func (g *stageGenerator) Available() bool { return true }

func (g *stageGenerator) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	system, user := request.Messages[0].Content, request.Messages[1].Content

	var stage string
	var handler func(string) (string, error)
	switch {
	case strings.Contains(system, "extract structured facts"):
		stage, handler = "extract", g.extract
	case strings.Contains(system, "write a clear meeting summary"):
		stage, handler = "write", g.write
	case strings.Contains(system, "FAILED schema validation"):
		stage, handler = "repair", g.repair
	}

	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[stage]++
	g.mu.Unlock()

	if handler == nil {
		return ai.GenerateResult{}, errors.New("unexpected stage " + stage)
	}
	text, err := handler(user)
	if err != nil {
		return ai.GenerateResult{}, err
	}
	return ai.GenerateResult{Text: text, ModelID: request.Model}, nil
}

func (g *stageGenerator) Calls(stage string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[stage]
}

func fixed(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

const (
	alexExtract = `{"schema_version":"extract-1.0","action_items":[{"task":"Email the team","owner":"Alex","due_date":null,"evidence":{"start_s":null,"end_s":null}}],"decisions":[{"decision":"Ship on Friday","evidence":{"start_s":null,"end_s":null}}],"open_questions":[]}`
	alexWrite   = `{"schema_version":"write-1.0","summary":{"title":"Release plan","tldr":"The team ships Friday.","bullets":["Ship on Friday","Alex emails the team by tomorrow"]}}`

	driftedExtract = `{"schema_version":"extract-1.0","action_items":[{"task":"Email the team","owner":"Alex","due_date":null,"evidence":{"start_s":"soon","end_s":null}}]}`
	repairedResult = `{"schema_version":"1.0","summary":{"title":"Release plan","tldr":"The team ships Friday.","bullets":[]},"action_items":[{"task":"Email the team","owner":"Alex","due_date":null,"evidence":{"start_s":null,"end_s":null}}]}`
)

func alexGenerator() *stageGenerator {
	return &stageGenerator{extract: fixed(alexExtract), write: fixed(alexWrite)}
}

type harness struct {
	repo      *repository.MemoryJobsRepository
	clock     *manualClock
	generator *stageGenerator
}

func newHarness(generator *stageGenerator) *harness {
	return &harness{
		repo:      repository.NewMemoryJobsRepository(),
		clock:     newManualClock(epoch),
		generator: generator,
	}
}

func (h *harness) worker(extra func(*Dependencies)) *Worker {
	validator := quality.NewSchemaValidator(quality.Options{})
	deps := Dependencies{
		Repo:      h.repo,
		Pipeline:  pipeline.NewOrchestrator(pipeline.Dependencies{Client: h.generator, Logger: zerolog.Nop()}),
		Validator: validator,
		Repairer: pipeline.NewRepairer(pipeline.RepairerDependencies{
			Client:    h.generator,
			Validator: validator,
			Policy:    pipeline.DefaultRepairPolicy,
			Logger:    zerolog.Nop(),
		}),
		Clock:  h.clock,
		Logger: zerolog.Nop(),
	}
	if extra != nil {
		extra(&deps)
	}
	return New(Config{}, deps)
}

func (h *harness) addTranscriptJob(id, transcript string, offset time.Duration) {
	text := transcript
	created := epoch.Add(offset)
	_ = h.repo.CreateJob(context.Background(), &domain.Job{
		ID:             id,
		Status:         domain.JobStatusQueued,
		TranscriptText: &text,
		MeetingMode:    domain.DefaultMeetingMode,
		CreatedAt:      created,
		UpdatedAt:      created,
	})
}

func (h *harness) job(id string) *domain.Job {
	job, err := h.repo.GetJob(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return job
}
