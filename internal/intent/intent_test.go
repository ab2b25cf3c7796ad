package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/newsletter/config"
)

func defaultKeywords() config.KeywordsConfig {
	return config.KeywordsConfig{
		PDF:   []string{"pdf", "document"},
		Audio: []string{"audio", "mp3"},
		Email: []string{"email", "e-mail"},
	}
}

func TestKeywordExtractorFlags(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), []string{"a@example.com"})
	cases := []struct {
		in    string
		topic string
		want  Flags
	}{
		{"climate policy", "climate policy", Flags{}},
		{"quantum computing, pdf", "quantum computing", Flags{PDF: true}},
		{"robotics, audio and email", "robotics", Flags{Audio: true, Email: true}},
		{"Space; make a DOCUMENT and an MP3", "Space", Flags{PDF: true, Audio: true}},
		{"ai chips\nplease e-mail it", "ai chips", Flags{Email: true}},
		{", pdf please", ", pdf please", Flags{PDF: true}},
	}
	for _, tc := range cases {
		req, warnings, err := ex.Extract(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		if req.Topic != tc.topic {
			t.Fatalf("%q: expected topic %q, got %q", tc.in, tc.topic, req.Topic)
		}
		if req.Flags != tc.want {
			t.Fatalf("%q: expected flags %+v, got %+v", tc.in, tc.want, req.Flags)
		}
		if len(warnings) != 0 {
			t.Fatalf("%q: unexpected warnings %v", tc.in, warnings)
		}
	}
}

func TestKeywordExtractorEmptyRequest(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), nil)
	if _, _, err := ex.Extract(context.Background(), "  \n "); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
}

func TestEmailWithoutRecipientsWarns(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), nil)
	req, warnings, err := ex.Extract(context.Background(), "robotics, audio and email")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if req.Flags.Email {
		t.Fatalf("email flag must be disabled without recipients")
	}
	if !req.Requested.Email {
		t.Fatalf("request should still record that email was asked for")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "no recipients") {
		t.Fatalf("expected recipient warning, got %v", warnings)
	}
}

func TestExplicitRecipientAllowlist(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), []string{"a@example.com", "b@example.com"})

	req, warnings, _ := ex.Extract(context.Background(), "markets, email it to B@example.com")
	if len(req.Recipients) != 1 || req.Recipients[0] != "B@example.com" || len(warnings) != 0 {
		t.Fatalf("expected allowed explicit recipient, got %v %v", req.Recipients, warnings)
	}

	req, warnings, _ = ex.Extract(context.Background(), "markets, email it to mallory@evil.test")
	if len(req.Recipients) != 2 || len(warnings) != 1 {
		t.Fatalf("expected configured recipients and a warning, got %v %v", req.Recipients, warnings)
	}

	req, _, _ = ex.Extract(context.Background(), "markets, email")
	if len(req.Recipients) != 2 {
		t.Fatalf("expected configured recipients, got %v", req.Recipients)
	}
}

func TestExplicitBaseFilename(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), nil)
	cases := []struct {
		in   string
		want string
	}{
		{"fusion energy, pdf, filename: fusion_weekly", "fusion_weekly"},
		{"fusion energy, basename=digest, audio", "digest"},
		{`fusion energy, save as "fusion-brief.pdf"`, "fusion-brief"},
		{"fusion energy, file name is 'weekly digest'", "weekly_digest"},
		{"robotics, base name: my report.final, pdf", "my_report"},
		{"quantum computing, save as a pdf", ""},
		{"robotics, save as pdf", ""},
		{"robotics, save as the document", ""},
		{"robotics, file name is digest", ""},
		{"robotics, filename: mp3", ""},
		{"fusion energy, pdf", ""},
	}
	for _, tc := range cases {
		req, warnings, err := ex.Extract(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if req.BaseFilename != tc.want {
			t.Fatalf("%q: expected base %q, got %q", tc.in, tc.want, req.BaseFilename)
		}
		if len(warnings) != 0 {
			t.Fatalf("%q: unexpected warnings %v", tc.in, warnings)
		}
	}
}

func TestEmailKeywordIgnoresAddresses(t *testing.T) {
	ex := NewKeywordExtractor(defaultKeywords(), []string{"jo@email.com"})
	cases := map[string]bool{
		"robotics, pdf, cc jo@email.com":   false,
		"robotics, email jo@email.com":     true,
		"robotics, send an e-mail to team": true,
	}
	for in, want := range cases {
		req, _, err := ex.Extract(context.Background(), in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if req.Requested.Email != want {
			t.Fatalf("%q: expected email requested=%v", in, want)
		}
	}
}

type stubLLM struct {
	out string
	err error
}

func (s stubLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	return s.out, s.err
}

func TestManagerExtractorUsesModel(t *testing.T) {
	kw := NewKeywordExtractor(defaultKeywords(), []string{"a@example.com"})
	m := NewManagerExtractor(stubLLM{out: "```json\n{\"topic\":\"Fusion\",\"pdf\":false,\"audio\":true,\"email\":true,\"recipient\":\"\"}\n```"}, kw, nil)

	req, warnings, err := m.Extract(context.Background(), "tell me about fusion as something I can listen to and mail me")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if req.Topic != "Fusion" || !req.Flags.Audio || !req.Flags.Email || req.Flags.PDF {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Recipients) != 1 || len(warnings) != 0 {
		t.Fatalf("unexpected recipients/warnings %v %v", req.Recipients, warnings)
	}
}

func TestManagerExtractorFallsBack(t *testing.T) {
	kw := NewKeywordExtractor(defaultKeywords(), nil)
	cases := []stubLLM{
		{err: errors.New("boom")},
		{out: "not json"},
		{out: `{"topic": "", "pdf": "yes"}`},
	}
	for _, llm := range cases {
		m := NewManagerExtractor(llm, kw, nil)
		req, warnings, err := m.Extract(context.Background(), "quantum computing, pdf")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if req.Topic != "quantum computing" || !req.Flags.PDF {
			t.Fatalf("expected keyword fallback, got %+v", req)
		}
		if len(warnings) == 0 || !strings.Contains(warnings[0], "keyword rules") {
			t.Fatalf("expected fallback warning, got %v", warnings)
		}
	}
}

func TestParseIntentDocumentRejectsMissingFields(t *testing.T) {
	if _, err := ParseIntentDocument(`{"topic":"x"}`); err == nil {
		t.Fatalf("expected schema error")
	}
	doc, err := ParseIntentDocument(`Sure! {"topic":"x","pdf":true,"audio":false,"email":false}`)
	if err != nil || !doc.PDF {
		t.Fatalf("expected embedded object to parse, got %+v %v", doc, err)
	}
}
