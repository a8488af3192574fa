package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider chains providers: each call goes to the first backend,
// and on failure walks down the chain until one answers. Context
// cancellation stops the walk immediately.
type FallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallbackProvider builds a chain from the given providers, tried in
// order. Panics when the chain is empty.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("fallback chain requires at least one provider")
	}
	return &FallbackProvider{chain: providers, logger: logger}
}

// SendMessage returns the first successful response from the chain.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.chain {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "fallback provider answered",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
		f.logger.WarnContext(ctx, "provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
			slog.Int("remaining", len(f.chain)-i-1),
		)
	}
	return nil, fmt.Errorf("all %d providers failed, last error: %w", len(f.chain), lastErr)
}

// Name reports the primary backend with a fallback marker.
func (f *FallbackProvider) Name() string {
	return f.chain[0].Name() + "+fallback"
}
