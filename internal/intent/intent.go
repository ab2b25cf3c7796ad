package intent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
)

// ErrEmptyRequest is returned for blank prompts.
var ErrEmptyRequest = errors.New("empty request")

// Flags are the optional steps of a run.
type Flags struct {
	PDF   bool `json:"pdf"`
	Audio bool `json:"audio"`
	Email bool `json:"email"`
}

// Any reports whether at least one optional step is set.
func (f Flags) Any() bool { return f.PDF || f.Audio || f.Email }

// Request is the parsed, immutable form of a user prompt. Requested records
// what the text asked for; Flags what will actually be planned.
type Request struct {
	Raw          string   `json:"raw"`
	Topic        string   `json:"topic"`
	Flags        Flags    `json:"flags"`
	Requested    Flags    `json:"requested"`
	Recipients   []string `json:"recipients,omitempty"`
	BaseFilename string   `json:"base_filename,omitempty"`
}

// Extractor turns raw text into a Request plus configuration warnings.
type Extractor interface {
	Extract(ctx context.Context, raw string) (Request, []string, error)
}

var (
	emailAddress = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// A name is taken only when quoted or set with ':' or '='.
	quotedBase   = regexp.MustCompile(`(?i)\b(?:file\s?name|base\s?name|save\s+as)\b\s*(?:[:=]\s*|is\s+|as\s+)?["']([^"'\n]+)["']`)
	assignedBase = regexp.MustCompile(`(?i)\b(?:file\s?name|base\s?name|save\s+as)\s*[:=]\s*([^,;\n"']+)`)
)

var articles = map[string]bool{"a": true, "an": true, "the": true}

const topicDelimiters = ",;\n"

// KeywordExtractor applies fixed keyword containment rules. It never fails
// except on empty input.
type KeywordExtractor struct {
	PDFKeywords   []string
	AudioKeywords []string
	EmailKeywords []string
	// Recipients is the configured allowlist; empty disables email.
	Recipients []string
}

// NewKeywordExtractor builds an extractor from configuration.
func NewKeywordExtractor(kw config.KeywordsConfig, recipients []string) *KeywordExtractor {
	return &KeywordExtractor{
		PDFKeywords:   kw.PDF,
		AudioKeywords: kw.Audio,
		EmailKeywords: kw.Email,
		Recipients:    append([]string(nil), recipients...),
	}
}

func (k *KeywordExtractor) Extract(_ context.Context, raw string) (Request, []string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Request{}, nil, ErrEmptyRequest
	}
	// Addresses such as jo@email.com must not count as keywords.
	lower := strings.ToLower(emailAddress.ReplaceAllString(text, " "))
	requested := Flags{
		PDF:   containsAny(lower, k.PDFKeywords),
		Audio: containsAny(lower, k.AudioKeywords),
		Email: containsAny(lower, k.EmailKeywords),
	}
	req, warnings := k.finish(text, ParseTopic(text), requested, emailAddress.FindString(text), k.explicitBase(text))
	return req, warnings, nil
}

// explicitBase returns a requested file name. Articles and step keywords
// ("save as a pdf") are not names.
func (k *KeywordExtractor) explicitBase(text string) string {
	m := quotedBase.FindStringSubmatch(text)
	if m == nil {
		m = assignedBase.FindStringSubmatch(text)
	}
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	lower := strings.ToLower(name)
	if articles[lower] {
		return ""
	}
	for _, set := range [][]string{k.PDFKeywords, k.AudioKeywords, k.EmailKeywords} {
		for _, kw := range set {
			if strings.EqualFold(strings.TrimSpace(kw), lower) {
				return ""
			}
		}
	}
	return name
}

// finish applies recipient gating and sanitisation shared by every extractor.
func (k *KeywordExtractor) finish(raw, topic string, requested Flags, explicitRecipient, explicitBase string) (Request, []string) {
	var warnings []string
	req := Request{
		Raw:          raw,
		Topic:        topic,
		Requested:    requested,
		Flags:        requested,
		BaseFilename: artifact.SanitizeBase(explicitBase),
	}
	if req.Topic == "" {
		req.Topic = raw
	}
	if explicitBase != "" && req.BaseFilename == "" {
		warnings = append(warnings, fmt.Sprintf("ignoring unusable file name %q", explicitBase))
	}
	if requested.Email {
		switch {
		case len(k.Recipients) == 0:
			req.Flags.Email = false
			warnings = append(warnings, "email requested but no recipients are configured; skipping email")
		case explicitRecipient != "" && !allowed(explicitRecipient, k.Recipients):
			req.Recipients = append([]string(nil), k.Recipients...)
			warnings = append(warnings, fmt.Sprintf("recipient %s is not in the configured recipient list; using configured recipients", explicitRecipient))
		case explicitRecipient != "":
			req.Recipients = []string{explicitRecipient}
		default:
			req.Recipients = append([]string(nil), k.Recipients...)
		}
	}
	return req, warnings
}

// ParseTopic returns the text before the first delimiter, or the whole text
// when nothing precedes it.
func ParseTopic(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, topicDelimiters); i >= 0 {
		if topic := strings.TrimSpace(text[:i]); topic != "" {
			return topic
		}
	}
	return text
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func allowed(addr string, list []string) bool {
	for _, a := range list {
		if strings.EqualFold(strings.TrimSpace(a), addr) {
			return true
		}
	}
	return false
}
