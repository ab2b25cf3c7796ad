package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/newsletter/config"
)

// File extensions for producing steps.
const (
	ExtPDF   = "pdf"
	ExtAudio = "mp3"
)

// DefaultLayout stamps to the second so consecutive runs do not collide.
const DefaultLayout = "20060102_150405"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Namer derives the single shared base filename for a run.
type Namer struct {
	Location     *time.Location
	Layout       string
	DefaultBase  string
	OutputDir    string
	UniqueSuffix bool
}

// NewNamer resolves the configured timezone once.
func NewNamer(cfg config.NewsletterConfig) (*Namer, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	layout := cfg.TimestampLayout
	if layout == "" {
		layout = DefaultLayout
	}
	base := SanitizeBase(cfg.DefaultBase)
	if base == "" {
		base = "newsletter"
	}
	return &Namer{
		Location:     loc,
		Layout:       layout,
		DefaultBase:  base,
		OutputDir:    cfg.OutputDir,
		UniqueSuffix: cfg.UniqueSuffix,
	}, nil
}

// RunContext is the read-only state shared by every step of one run.
type RunContext struct {
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	Stamp        string    `json:"stamp"`
	Base         string    `json:"base"`
	BaseFilename string    `json:"base_filename"`
	OutputDir    string    `json:"output_dir"`
}

// Path returns the output path for ext, built from the shared base filename.
func (rc RunContext) Path(ext string) string {
	return filepath.Join(rc.OutputDir, rc.BaseFilename+"."+strings.TrimPrefix(ext, "."))
}

// NewRunContext stamps the run. It must be called exactly once per run; an
// empty runID gets a fresh UUID.
func (n *Namer) NewRunContext(now time.Time, explicitBase, runID string) RunContext {
	if runID == "" {
		runID = uuid.NewString()
	}
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	layout := n.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	ts := now.In(loc)
	stamp := ts.Format(layout)
	if n.UniqueSuffix {
		short := strings.ReplaceAll(runID, "-", "")
		if len(short) > 8 {
			short = short[:8]
		}
		stamp = stamp + "_" + short
	}

	base := SanitizeBase(explicitBase)
	if base == "" {
		base = n.DefaultBase
	}
	if base == "" {
		base = "newsletter"
	}
	return RunContext{
		RunID:        runID,
		Timestamp:    ts,
		Stamp:        stamp,
		Base:         base,
		BaseFilename: base + "_" + stamp,
		OutputDir:    n.OutputDir,
	}
}

// SanitizeBase keeps a user supplied base name filesystem safe: spaces become
// underscores and anything outside [A-Za-z0-9_-] is dropped.
func SanitizeBase(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeChars.ReplaceAllString(s, "")
	return strings.Trim(s, "_-")
}
