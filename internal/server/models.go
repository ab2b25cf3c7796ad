package server

import (
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/pipeline"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}

// RunRequest starts a run. Wait blocks until the run finished.
type RunRequest struct {
	Prompt string `json:"prompt"`
	Wait   bool   `json:"wait"`
}

// AcceptedResponse is returned for background runs.
type AcceptedResponse struct {
	RunID string `json:"run_id"`
}

// RunResponse is the outcome of a synchronous run.
type RunResponse struct {
	RunID        string              `json:"run_id"`
	Topic        string              `json:"topic"`
	BaseFilename string              `json:"base_filename"`
	Flags        intent.Flags        `json:"flags"`
	Status       string              `json:"status"`
	Warnings     []string            `json:"warnings,omitempty"`
	Steps        []executor.LogEntry `json:"steps"`
	Files        []string            `json:"files,omitempty"`
	Final        capability.Artifact `json:"final"`
	FinalError   string              `json:"final_error,omitempty"`
}

func newRunResponse(out pipeline.Outcome) RunResponse {
	return RunResponse{
		RunID:        out.RunContext.RunID,
		Topic:        out.Request.Topic,
		BaseFilename: out.RunContext.BaseFilename,
		Flags:        out.Request.Flags,
		Status:       runstore.RunStatus(out.Result),
		Warnings:     out.Warnings,
		Steps:        out.Result.Log,
		Files:        out.Result.Files(),
		Final:        out.Result.Final,
		FinalError:   out.Result.FinalErr,
	}
}
