package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
	"github.com/mohammad-safakhou/newsletter/internal/report"
)

// Pipeline runs one prompt through extraction, naming, planning and
// execution.
type Pipeline struct {
	extractor intent.Extractor
	namer     *artifact.Namer
	builder   *planner.Builder
	executor  *executor.Executor
	registry  executor.Resolver
	now       func() time.Time
	logger    *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the run timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func New(extractor intent.Extractor, namer *artifact.Namer, builder *planner.Builder, exec *executor.Executor, registry executor.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		namer:     namer,
		builder:   builder,
		executor:  exec,
		registry:  registry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	return p
}

// Outcome is everything one run produced.
type Outcome struct {
	Request    intent.Request      `json:"request"`
	RunContext artifact.RunContext `json:"run_context"`
	Plan       planner.Plan        `json:"plan"`
	Result     executor.Result     `json:"result"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// Summary converts the outcome for the reporter.
func (o Outcome) Summary() report.Summary {
	return report.Summary{
		RunID:        o.RunContext.RunID,
		Topic:        o.Request.Topic,
		BaseFilename: o.RunContext.BaseFilename,
		Warnings:     o.Warnings,
		Plan:         o.Plan,
		Result:       o.Result,
	}
}

type runOptions struct {
	runID string
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

// WithRunID pre-assigns the run id.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// Run executes prompt end to end. An error means nothing ran: the prompt was
// empty, a core step is unavailable or the plan is invalid. Step failures are
// reported in the result log.
func (p *Pipeline) Run(ctx context.Context, prompt string, opts ...RunOption) (Outcome, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	req, warnings, err := p.extractor.Extract(ctx, prompt)
	if err != nil {
		return Outcome{}, err
	}
	rc := p.namer.NewRunContext(p.now(), req.BaseFilename, ro.runID)
	out := Outcome{Request: req, RunContext: rc, Warnings: warnings}
	p.logger.Printf("run %s: topic %q pdf=%v audio=%v email=%v base=%s", rc.RunID, req.Topic, req.Flags.PDF, req.Flags.Audio, req.Flags.Email, rc.BaseFilename)

	plan, err := p.builder.Build(req, rc)
	if err != nil {
		return out, fmt.Errorf("build plan: %w", err)
	}
	out.Plan = plan
	out.Warnings = append(out.Warnings, plan.Warnings...)
	for _, w := range out.Warnings {
		p.logger.Printf("run %s warning: %s", rc.RunID, w)
	}
	p.logger.Printf("run %s plan: %v", rc.RunID, plan.IDs())

	result, err := p.executor.Execute(ctx, rc, plan, p.registry)
	if err != nil {
		return out, fmt.Errorf("execute plan: %w", err)
	}
	out.Result = result
	p.logger.Printf("run %s finished: %d/%d steps failed", rc.RunID, result.Failed(), len(plan.Nodes))
	return out, nil
}
