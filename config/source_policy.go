package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SourcePolicyConfig restricts which hosts research may cite. An empty allow
// list permits every host that is not disallowed.
type SourcePolicyConfig struct {
	Allow    []string `mapstructure:"allow" json:"allow"`
	Disallow []string `mapstructure:"disallow" json:"disallow"`
}

// Normalize cleans entries and removes duplicates.
func (c SourcePolicyConfig) Normalize() SourcePolicyConfig {
	norm := c
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Disallow = sanitizeDomainList(norm.Disallow)
	return norm
}

// Validate ensures configured policy entries do not conflict.
func (c SourcePolicyConfig) Validate() error {
	norm := c.Normalize()
	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Disallow {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("source policy conflict: host %q present in both allow and disallow lists", host)
		}
	}
	return nil
}

// Permits reports whether a result URL may be used as a research source.
// Subdomains match their parent entry.
func (c SourcePolicyConfig) Permits(rawURL string) bool {
	host := normalizeHost(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = normalizeHost(u.Host)
	}
	if host == "" {
		return false
	}
	for _, blocked := range c.Disallow {
		if hostMatches(host, blocked) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, allowed := range c.Allow {
		if hostMatches(host, allowed) {
			return true
		}
	}
	return false
}

func hostMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	return strings.TrimPrefix(value, "www.")
}
