package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/agents"
	"github.com/mohammad-safakhou/newsletter/internal/archive"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
	"github.com/mohammad-safakhou/newsletter/internal/telemetry"
	"github.com/mohammad-safakhou/newsletter/provider"
	"github.com/mohammad-safakhou/newsletter/tools/mail"
	"github.com/mohammad-safakhou/newsletter/tools/pdf"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch"
	"github.com/mohammad-safakhou/newsletter/tools/web_search"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	// LogOutput receives every component log. Defaults to stderr.
	LogOutput io.Writer
	LLM       provider.Provider
	Speaker   provider.Speaker
	Searcher  web_search.WebSearcher
	Fetcher   web_fetch.WebFetcher
	Mailer    mail.Sender
	Now       func() time.Time
}

// Service is the wired pipeline with its optional persistence.
type Service struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	Registry  *capability.Registry
	Store     runstore.Store
	Archive   *archive.Index
	Telemetry *telemetry.Telemetry
	// Warnings lists steps and integrations that were left out at startup.
	Warnings []string
	logger   *log.Logger
}

// NewLogger returns a component logger in the shared format.
func NewLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// New wires every component from cfg. The only fatal error is a language
// model backend that cannot be built; other integrations degrade to
// warnings.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(out, "RUNTIME")
	svc := &Service{Config: cfg, logger: logger}
	warn := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		svc.Warnings = append(svc.Warnings, msg)
		logger.Printf("warning: %s", msg)
	}

	llm := opts.LLM
	if llm == nil {
		var llmLogger *log.Logger
		if cfg.General.Debug {
			llmLogger = NewLogger(out, "LLM")
		}
		p, err := provider.NewProvider(cfg.LLM, llmLogger)
		if err != nil {
			return nil, err
		}
		llm = p
	}

	speaker := opts.Speaker
	if speaker == nil {
		speaker = provider.NewSpeaker(cfg.LLM, cfg.Audio, nil)
	}

	searcher := opts.Searcher
	if searcher == nil {
		s, err := web_search.NewWebSearcher(cfg.Sources.WebSearch)
		if err != nil {
			warn("web search unavailable: %v", err)
		} else {
			searcher = s
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		f, err := web_fetch.NewWebFetcher(cfg.Sources.Fetch, 0)
		if err != nil {
			warn("page fetching unavailable: %v", err)
		} else if f != nil {
			fetcher = f
		}
	}

	mailer := opts.Mailer
	if mailer == nil {
		if sender, err := mail.NewSMTPSender(cfg.Email); err == nil {
			mailer = sender
		}
	}

	reg, regWarnings, err := agents.Register(agents.Deps{
		Config:   cfg,
		LLM:      llm,
		Speaker:  speaker,
		Searcher: searcher,
		Fetcher:  fetcher,
		Renderer: pdf.NewRenderer(),
		Mailer:   mailer,
		Logger:   NewLogger(out, "AGENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("register capabilities: %w", err)
	}
	for _, w := range regWarnings {
		warn("%s", w)
	}
	svc.Registry = reg

	keywords := intent.NewKeywordExtractor(cfg.Newsletter.Keywords, cfg.Email.Recipients)
	var extractor intent.Extractor = keywords
	if cfg.Planner.Mode == config.PlannerModeManager {
		extractor = intent.NewManagerExtractor(llm, keywords, NewLogger(out, "INTENT"))
	}

	namer, err := artifact.NewNamer(cfg.Newsletter)
	if err != nil {
		return nil, fmt.Errorf("output naming: %w", err)
	}

	store, err := runstore.New(ctx, cfg.Storage)
	if err != nil {
		warn("run history disabled: %v", err)
		store = nil
	}
	svc.Store = store

	var checkpoints executor.Checkpointer
	if store != nil {
		checkpoints = store
	}
	if cfg.Archive.Enabled {
		idx, err := archive.Open(cfg.Archive)
		if err != nil {
			warn("archive disabled: %v", err)
		} else {
			svc.Archive = idx
			checkpoints = archive.NewRecorder(checkpoints, idx)
		}
	}

	svc.Telemetry = telemetry.New(cfg.Telemetry)

	execOpts := []executor.Option{
		executor.WithMetrics(svc.Telemetry.ExecutorMetrics()),
		executor.WithStepTimeout(cfg.Planner.StepTimeout),
		executor.WithRetries(cfg.Planner.MaxRetries, cfg.Planner.RetryDelay),
		executor.WithConcurrency(cfg.Planner.Concurrent),
		executor.WithLogger(NewLogger(out, "EXECUTOR")),
	}
	if checkpoints != nil {
		execOpts = append(execOpts, executor.WithCheckpointer(checkpoints))
	}

	pipeOpts := []pipeline.Option{pipeline.WithLogger(NewLogger(out, "PIPELINE"))}
	if opts.Now != nil {
		pipeOpts = append(pipeOpts, pipeline.WithClock(opts.Now))
	}
	svc.Pipeline = pipeline.New(
		extractor,
		namer,
		planner.NewBuilder(reg, cfg.Email.SubjectPrefix),
		executor.New(execOpts...),
		reg,
		pipeOpts...,
	)
	return svc, nil
}

// Run executes one prompt and records its outcome in telemetry.
func (s *Service) Run(ctx context.Context, prompt string, opts ...pipeline.RunOption) (pipeline.Outcome, error) {
	out, err := s.Pipeline.Run(ctx, prompt, opts...)
	if err == nil {
		s.Telemetry.ObserveRun(out.Result)
	}
	return out, err
}

// Close pushes pending metrics and releases storage.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.Telemetry.Push(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.Archive != nil {
		if err := s.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}
