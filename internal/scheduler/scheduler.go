package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
)

// DefaultTick is how often schedules are checked.
const DefaultTick = time.Minute

// Runner executes one prompt.
type Runner interface {
	Run(ctx context.Context, prompt string, opts ...pipeline.RunOption) (pipeline.Outcome, error)
}

// Locker grants a slot to a single replica.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker takes slots with SET NX.
type RedisLocker struct {
	Client *redis.Client
}

func (l RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, "1", ttl).Result()
}

type job struct {
	name   string
	prompt string
	expr   *cronexpr.Expression
	next   time.Time
}

// Scheduler fires configured prompts on their cron schedule.
type Scheduler struct {
	jobs   []*job
	runner Runner
	locker Locker
	tick   time.Duration
	now    func() time.Time
	logger *log.Logger
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker deduplicates runs across replicas.
func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

// WithTick sets the check interval.
func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithLogger sets the scheduler logger.
func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New parses every schedule. Each job first fires at its next occurrence
// after construction.
func New(schedules []config.ScheduleConfig, runner Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{runner: runner, tick: DefaultTick, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	start := s.now()
	for i, sc := range schedules {
		if strings.TrimSpace(sc.Prompt) == "" {
			return nil, fmt.Errorf("schedule %d: prompt is empty", i)
		}
		expr, err := cronexpr.Parse(sc.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: cron %q: %w", i, sc.Cron, err)
		}
		name := sc.Name
		if name == "" {
			name = "schedule-" + strconv.Itoa(i)
		}
		s.jobs = append(s.jobs, &job{name: name, prompt: sc.Prompt, expr: expr, next: expr.Next(start)})
	}
	return s, nil
}

// Start checks schedules every tick until ctx is cancelled, then waits for
// runs in flight.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.jobs) == 0 {
		return
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every due job and returns how many it started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	started := 0
	for _, j := range s.jobs {
		if j.next.IsZero() || j.next.After(now) {
			continue
		}
		slot := j.next
		j.next = j.expr.Next(now)

		if s.locker != nil {
			key := fmt.Sprintf("newsletter:sched:%s:%d", j.name, slot.Unix())
			ok, err := s.locker.TryLock(ctx, key, 10*time.Minute)
			if err != nil {
				s.logger.Printf("schedule %s: lock: %v", j.name, err)
				continue
			}
			if !ok {
				continue
			}
		}

		started++
		s.wg.Add(1)
		go func(name, prompt string) {
			defer s.wg.Done()
			out, err := s.runner.Run(ctx, prompt)
			if err != nil {
				s.logger.Printf("schedule %s: %v", name, err)
				return
			}
			s.logger.Printf("schedule %s: run %s finished with %d failed step(s)", name, out.RunContext.RunID, out.Result.Failed())
		}(j.name, j.prompt)
	}
	return started
}

// Wait blocks until started runs finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Next reports the next fire time of every job by name.
func (s *Scheduler) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[j.name] = j.next
	}
	return out
}
