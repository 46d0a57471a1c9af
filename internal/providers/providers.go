// Package providers supplies optional real-world context for a user
// utterance. Providers are capability-tagged and selected at startup; each
// one matches on the utterance text and contributes a context string that
// is injected into the generation request as a system message.
package providers

import (
	"context"
	"log/slog"
	"strings"
)

// Provider contributes context for utterances it recognizes.
type Provider interface {
	Name() string
	Matches(text string) bool
	Provide(ctx context.Context, text string) (string, error)
}

// Registry is a static, ordered set of providers.
type Registry struct {
	providers []Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(ps ...Provider) *Registry {
	return &Registry{providers: ps}
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Context collects context from every matching provider. Provider failures
// are logged and skipped; an utterance with no matches yields "".
func (r *Registry) Context(ctx context.Context, text string) string {
	var parts []string
	for _, p := range r.providers {
		if !p.Matches(text) {
			continue
		}
		out, err := p.Provide(ctx, text)
		if err != nil {
			slog.Warn("context provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if out != "" {
			parts = append(parts, out)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Here's some real-world context: " + strings.Join(parts, " ")
}
