package artifact

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
)

func testNamer(t *testing.T, cfg config.NewsletterConfig) *Namer {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outputs"
	}
	n, err := NewNamer(cfg)
	if err != nil {
		t.Fatalf("NewNamer: %v", err)
	}
	return n
}

func TestNewRunContextSharedBase(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{})
	now := time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC)
	rc := n.NewRunContext(now, "", "run-1")

	if rc.BaseFilename != "newsletter_20240503_140709" {
		t.Fatalf("unexpected base filename %q", rc.BaseFilename)
	}
	pdf := rc.Path(ExtPDF)
	mp3 := rc.Path(ExtAudio)
	if pdf != filepath.Join("outputs", "newsletter_20240503_140709.pdf") {
		t.Fatalf("unexpected pdf path %q", pdf)
	}
	if strings.TrimSuffix(pdf, ".pdf") != strings.TrimSuffix(mp3, ".mp3") {
		t.Fatalf("producing steps disagree on base: %q vs %q", pdf, mp3)
	}
}

func TestNewRunContextDistinctRuns(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{})
	first := n.NewRunContext(time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC), "", "")
	second := n.NewRunContext(time.Date(2024, 5, 3, 14, 7, 10, 0, time.UTC), "", "")
	if first.BaseFilename == second.BaseFilename {
		t.Fatalf("expected distinct base filenames for distinct timestamps")
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("expected generated, distinct run ids")
	}
}

func TestNewRunContextMinuteLayoutWithSuffix(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{TimestampLayout: "20060102_1504", UniqueSuffix: true})
	now := time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC)
	a := n.NewRunContext(now, "", "aaaaaaaa-1111-2222-3333-444444444444")
	b := n.NewRunContext(now.Add(10*time.Second), "", "bbbbbbbb-1111-2222-3333-444444444444")
	if a.BaseFilename != "newsletter_20240503_1407_aaaaaaaa" {
		t.Fatalf("unexpected base filename %q", a.BaseFilename)
	}
	if a.BaseFilename == b.BaseFilename {
		t.Fatalf("run suffix should separate same-minute runs")
	}
}

func TestNewRunContextSameSecondSuffix(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{UniqueSuffix: true})
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	a := n.NewRunContext(now, "", "986e93ea-0000-4000-8000-000000000001")
	b := n.NewRunContext(now.Add(400*time.Millisecond), "", "bda4dc65-0000-4000-8000-000000000002")
	if a.Stamp[:15] != b.Stamp[:15] {
		t.Fatalf("expected the same second stamp, got %q and %q", a.Stamp, b.Stamp)
	}
	if a.Path(ExtPDF) == b.Path(ExtPDF) || a.Path(ExtAudio) == b.Path(ExtAudio) {
		t.Fatalf("overlapping runs share output paths: %q", a.Path(ExtPDF))
	}
	if a.Path(ExtPDF) != filepath.Join("outputs", "newsletter_20261017_090000_986e93ea.pdf") {
		t.Fatalf("unexpected pdf path %q", a.Path(ExtPDF))
	}
}

func TestNewRunContextTimezone(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{Timezone: "Asia/Kolkata"})
	rc := n.NewRunContext(time.Date(2024, 5, 3, 20, 0, 0, 0, time.UTC), "", "x")
	if rc.Stamp != "20240504_013000" {
		t.Fatalf("expected stamp in configured zone, got %q", rc.Stamp)
	}
}

func TestNewRunContextExplicitBase(t *testing.T) {
	n := testNamer(t, config.NewsletterConfig{DefaultBase: "digest"})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if rc := n.NewRunContext(now, "", "x"); rc.Base != "digest" {
		t.Fatalf("expected configured default base, got %q", rc.Base)
	}
	if rc := n.NewRunContext(now, "AI weekly!.pdf", "x"); rc.Base != "AI_weekly" {
		t.Fatalf("expected sanitised explicit base, got %q", rc.Base)
	}
	if rc := n.NewRunContext(now, "???", "x"); rc.Base != "digest" {
		t.Fatalf("expected fallback when explicit base sanitises to empty, got %q", rc.Base)
	}
}

func TestNewNamerRejectsUnknownZone(t *testing.T) {
	if _, err := NewNamer(config.NewsletterConfig{Timezone: "Nowhere/Land"}); err == nil {
		t.Fatalf("expected timezone error")
	}
}
