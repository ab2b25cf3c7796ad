package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

func testRunContext(id string, at time.Time) artifact.RunContext {
	stamp := at.UTC().Format("20060102_150405")
	return artifact.RunContext{
		RunID:        id,
		Timestamp:    at,
		Stamp:        stamp,
		Base:         "newsletter",
		BaseFilename: "newsletter_" + stamp,
		OutputDir:    "outputs",
	}
}

// testRegistry binds every kind; failing kinds return an error.
func testRegistry(t *testing.T, failing ...capability.Kind) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(capability.DefaultToolCards(), "", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	fail := map[capability.Kind]bool{}
	for _, k := range failing {
		fail[k] = true
	}
	for _, card := range capability.DefaultToolCards() {
		kind := card.Kind
		err := reg.Bind(kind, capability.CapabilityFunc(func(ctx context.Context, p capability.Params) (capability.Artifact, error) {
			if fail[kind] {
				return capability.Artifact{}, errors.New(string(kind) + " unavailable")
			}
			switch kind {
			case capability.KindMakePDF, capability.KindMakeAudio:
				return capability.File(p.OutputPath), nil
			case capability.KindConfirmSave:
				return capability.File(p.FilePath), nil
			case capability.KindSendEmail:
				return capability.Status("sent"), nil
			}
			return capability.Text(string(kind) + " on " + p.Topic), nil
		}))
		if err != nil {
			t.Fatalf("Bind %s: %v", kind, err)
		}
	}
	return reg
}

func testPlan(t *testing.T, reg *capability.Registry, rc artifact.RunContext, topic string, f intent.Flags, recipients ...string) planner.Plan {
	t.Helper()
	req := intent.Request{Raw: topic, Topic: topic, Flags: f, Requested: f, Recipients: recipients}
	plan, err := planner.NewBuilder(reg, "").Build(req, rc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

// runWith executes a plan with store as checkpointer.
func runWith(t *testing.T, store Store, rc artifact.RunContext, topic string, f intent.Flags, failing ...capability.Kind) executor.Result {
	t.Helper()
	reg := testRegistry(t, failing...)
	plan := testPlan(t, reg, rc, topic, f, "a@example.com")
	res, err := executor.New(executor.WithCheckpointer(store)).Execute(context.Background(), rc, plan, reg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func storageConfig(backend string) config.StorageConfig {
	return config.StorageConfig{Backend: backend}
}
