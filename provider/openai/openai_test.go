package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerateSendsModelAndMessages(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, "gpt-test", 0.3, 100, 5*time.Second, nil)
	out, err := c.Generate(context.Background(), "be brief", "say hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-bad", srv.URL, "gpt-test", 0, 0, time.Second, nil)
	_, err := c.Generate(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestSpeakReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req speechRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Voice != "alloy" || req.ResponseFormat != "mp3" {
			t.Errorf("unexpected speech request %#v", req)
		}
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, "gpt-test", 0, 0, time.Second, nil)
	audio, err := c.Speak(context.Background(), "tts-1", "alloy", "hello world")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Fatalf("unexpected audio %q", audio)
	}
}
