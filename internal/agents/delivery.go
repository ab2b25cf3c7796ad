package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/tools/mail"
)

// Email sends the article with the produced files attached.
type Email struct {
	sender mail.Sender
}

func NewEmail(sender mail.Sender) *Email { return &Email{sender: sender} }

func (a *Email) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	if a.sender == nil {
		return capability.Artifact{}, mail.ErrNoCredentials
	}
	if len(p.Recipients) == 0 {
		return capability.Artifact{}, errors.New("no recipients")
	}
	for _, path := range p.AttachmentPaths {
		if _, err := os.Stat(path); err != nil {
			return capability.Artifact{}, fmt.Errorf("attachment not found at %s", path)
		}
	}
	err := a.sender.Send(ctx, mail.Message{
		To:          p.Recipients,
		Subject:     p.Subject,
		Body:        p.Body,
		Attachments: p.AttachmentPaths,
	})
	if err != nil {
		return capability.Artifact{}, err
	}
	return capability.Status(fmt.Sprintf("email sent to %s with %d attachment(s)", strings.Join(p.Recipients, ", "), len(p.AttachmentPaths))), nil
}

// LocalSave confirms that a produced file exists inside the output
// directory. A file that has not appeared after every attempt is still
// returned, with a note.
type LocalSave struct {
	outputDir string
	attempts  int
	interval  time.Duration
}

func NewLocalSave(cfg config.NewsletterConfig) *LocalSave {
	attempts := cfg.SaveConfirm.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &LocalSave{outputDir: cfg.OutputDir, attempts: attempts, interval: cfg.SaveConfirm.Interval}
}

func (a *LocalSave) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	path := strings.TrimSpace(p.FilePath)
	if path == "" {
		return capability.Artifact{}, errors.New("no file path to confirm")
	}
	if !within(a.outputDir, path) {
		return capability.Artifact{}, fmt.Errorf("%s is outside the output directory %s", path, a.outputDir)
	}
	for attempt := 0; attempt < a.attempts; attempt++ {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return capability.File(path), nil
		}
		if attempt == a.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return capability.Artifact{}, ctx.Err()
		case <-time.After(a.interval):
		}
	}
	art := capability.File(path)
	art.Note = fmt.Sprintf("file not found after %d check(s); path kept for later use", a.attempts)
	return art, nil
}

func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
