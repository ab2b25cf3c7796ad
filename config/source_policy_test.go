package config

import "testing"

func TestSourcePolicyNormalize(t *testing.T) {
	cfg := SourcePolicyConfig{
		Allow:    []string{"Example.com", "https://news.example.com"},
		Disallow: []string{"www.Example.org", "bad.com", "BAD.com"},
	}

	norm := cfg.Normalize()
	if len(norm.Allow) != 2 || norm.Allow[0] != "example.com" {
		t.Fatalf("unexpected allow list: %#v", norm.Allow)
	}
	if len(norm.Disallow) != 2 || norm.Disallow[0] != "bad.com" {
		t.Fatalf("unexpected disallow list: %#v", norm.Disallow)
	}
}

func TestSourcePolicyValidate(t *testing.T) {
	valid := SourcePolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"blocked.com"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	conflict := SourcePolicyConfig{Allow: []string{"example.com"}, Disallow: []string{"www.example.com"}}
	if err := conflict.Validate(); err == nil {
		t.Fatalf("expected conflict validation error")
	}
}

func TestSourcePolicyPermits(t *testing.T) {
	open := SourcePolicyConfig{Disallow: []string{"spam.com"}}.Normalize()
	if !open.Permits("https://www.nature.com/articles/1") {
		t.Fatalf("expected open policy to permit nature.com")
	}
	if open.Permits("https://blog.spam.com/post") {
		t.Fatalf("expected subdomain of disallowed host to be rejected")
	}
	if open.Permits("") {
		t.Fatalf("expected empty url to be rejected")
	}

	closed := SourcePolicyConfig{Allow: []string{"arxiv.org"}}.Normalize()
	if !closed.Permits("https://arxiv.org/abs/2401.00001") {
		t.Fatalf("expected allowed host to pass")
	}
	if closed.Permits("https://example.com/") {
		t.Fatalf("expected host outside allow list to be rejected")
	}
}
