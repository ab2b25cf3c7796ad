package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
)

type recordingRunner struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingRunner) Run(ctx context.Context, prompt string, opts ...pipeline.RunOption) (pipeline.Outcome, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return pipeline.Outcome{}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeLocker struct {
	taken map[string]bool
	err   error
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.taken[key] {
		return false, nil
	}
	l.taken[key] = true
	return true, nil
}

func TestNewRejectsInvalidSchedules(t *testing.T) {
	if _, err := New([]config.ScheduleConfig{{Cron: "not a cron", Prompt: "x"}}, &recordingRunner{}); err == nil {
		t.Fatalf("expected cron error")
	}
	if _, err := New([]config.ScheduleConfig{{Cron: "@daily"}}, &recordingRunner{}); err == nil {
		t.Fatalf("expected empty prompt error")
	}
}

func TestTickFiresDueJobsOnce(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 3, 7, 30, 0, 0, time.UTC)}
	runner := &recordingRunner{}
	s, err := New([]config.ScheduleConfig{
		{Name: "morning", Cron: "0 8 * * *", Prompt: "ai news as pdf"},
		{Name: "hourly", Cron: "@hourly", Prompt: "markets"},
	}, runner, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("expected nothing due at start, started %d", n)
	}

	clock.Set(time.Date(2024, 5, 3, 8, 0, 30, 0, time.UTC))
	if n := s.Tick(context.Background()); n != 2 {
		t.Fatalf("expected 2 runs, started %d", n)
	}
	s.Wait()
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("expected no repeat in the same slot, started %d", n)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.prompts) != 2 {
		t.Fatalf("unexpected prompts: %v", runner.prompts)
	}
	next := s.Next()
	if want := time.Date(2024, 5, 4, 8, 0, 0, 0, time.UTC); !next["morning"].Equal(want) {
		t.Fatalf("next morning = %v, want %v", next["morning"], want)
	}
}

func TestLockerDeduplicatesAcrossReplicas(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 3, 7, 59, 0, 0, time.UTC)}
	locker := &fakeLocker{taken: map[string]bool{}}
	schedules := []config.ScheduleConfig{{Name: "morning", Cron: "0 8 * * *", Prompt: "ai news"}}

	a, err := New(schedules, &recordingRunner{}, WithClock(clock.Now), WithLocker(locker))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(schedules, &recordingRunner{}, WithClock(clock.Now), WithLocker(locker))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clock.Set(time.Date(2024, 5, 3, 8, 0, 5, 0, time.UTC))
	total := a.Tick(context.Background()) + b.Tick(context.Background())
	a.Wait()
	b.Wait()
	if total != 1 {
		t.Fatalf("expected exactly one replica to run, got %d", total)
	}
}

func TestLockErrorSkipsRun(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 3, 7, 59, 0, 0, time.UTC)}
	s, err := New([]config.ScheduleConfig{{Cron: "0 8 * * *", Prompt: "ai news"}}, &recordingRunner{},
		WithClock(clock.Now), WithLocker(&fakeLocker{err: errors.New("redis down")}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock.Set(time.Date(2024, 5, 3, 8, 0, 5, 0, time.UTC))
	if n := s.Tick(context.Background()); n != 0 {
		t.Fatalf("expected no run on lock error, started %d", n)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s, err := New([]config.ScheduleConfig{{Cron: "@daily", Prompt: "x"}}, &recordingRunner{}, WithTick(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Start did not return after cancel")
	}
}
