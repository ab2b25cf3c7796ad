package agents

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/provider"
	"github.com/mohammad-safakhou/newsletter/tools/mail"
	"github.com/mohammad-safakhou/newsletter/tools/pdf"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch"
	"github.com/mohammad-safakhou/newsletter/tools/web_search"
)

// Generator is the language-model call every text agent makes.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Deps carries the collaborators agents are built from. Nil optional
// collaborators leave the matching step unbound.
type Deps struct {
	Config   *config.Config
	LLM      Generator
	Speaker  provider.Speaker
	Searcher web_search.WebSearcher
	Fetcher  web_fetch.WebFetcher
	Renderer *pdf.Renderer
	Mailer   mail.Sender
	Logger   *log.Logger
}

// Register builds the capability registry from the tool cards and binds
// every agent the configuration allows. Steps that stay unbound are
// reported as warnings.
func Register(deps Deps) (*capability.Registry, []string, error) {
	cfg := deps.Config
	cards := capability.DefaultToolCards()
	if secret := cfg.Capability.SigningSecret; secret != "" {
		signed, err := capability.SignAll(cards, secret)
		if err != nil {
			return nil, nil, err
		}
		cards = signed
	}
	reg, err := capability.NewRegistry(cards, cfg.Capability.SigningSecret, cfg.Capability.RequiredTools)
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	bind := func(kind capability.Kind, c capability.Capability) {
		if err == nil {
			err = reg.Bind(kind, c)
		}
	}

	bind(capability.KindResearch, NewResearch(deps.LLM, deps.Searcher, deps.Fetcher, cfg.Sources, deps.Logger))
	bind(capability.KindWrite, NewWriter(deps.LLM))
	bind(capability.KindMakePDF, NewPDF(deps.Renderer))
	bind(capability.KindConfirmSave, NewLocalSave(cfg.Newsletter))

	switch {
	case !cfg.Audio.Enabled:
		warnings = append(warnings, "audio output disabled in configuration")
	case deps.Speaker == nil:
		warnings = append(warnings, "audio output unavailable: text-to-speech needs an OpenAI API key")
	default:
		bind(capability.KindMakeAudio, NewAudio(deps.Speaker, cfg.Audio))
	}

	if deps.Mailer == nil {
		warnings = append(warnings, "email delivery unavailable: "+mail.ErrNoCredentials.Error())
	} else {
		bind(capability.KindSendEmail, NewEmail(deps.Mailer))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("bind capabilities: %w", err)
	}
	return reg, warnings, nil
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}
