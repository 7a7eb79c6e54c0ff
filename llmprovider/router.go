package llmprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ForModel picks the concrete Provider for a model name by prefix,
// matching the naming convention each vendor's own model IDs use.
func ForModel(model string, anthropicKey, openaiKey, googleKey string) (Provider, error) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return AnthropicProvider{APIKey: anthropicKey}, nil
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		return OpenaiProvider{APIKey: openaiKey}, nil
	case strings.HasPrefix(model, "gemini-"):
		return GoogleProvider{APIKey: googleKey}, nil
	default:
		return nil, fmt.Errorf("no provider recognizes model %q", model)
	}
}

// RoutingProvider dispatches each request to the provider matching its
// model, so a single Runtime can serve sessions pinned to different
// vendors without per-session provider construction.
type RoutingProvider struct {
	AnthropicKey string
	OpenaiKey    string
	GoogleKey    string
}

func (r RoutingProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	p, err := ForModel(req.Model, r.AnthropicKey, r.OpenaiKey, r.GoogleKey)
	if err != nil {
		close(ch)
		return err
	}
	return p.Stream(ctx, req, ch)
}

// FailoverProvider tries each underlying Provider in priority order,
// falling back to the next on a stream-start error (rate limit, auth
// failure, transient network failure). The first provider to successfully
// start streaming serves the whole completion; Failover does not retry
// mid-stream.
type FailoverProvider struct {
	Label     string
	Providers []Provider
	Log       zerolog.Logger
}

// NewFailoverProvider builds a FailoverProvider trying providers in order,
// primary first.
func NewFailoverProvider(label string, log zerolog.Logger, providers ...Provider) *FailoverProvider {
	return &FailoverProvider{Label: label, Providers: providers, Log: log}
}

func (f *FailoverProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	if len(f.Providers) == 0 {
		close(ch)
		return fmt.Errorf("no providers configured in failover %q", f.Label)
	}

	var lastErr error
	for i, p := range f.Providers {
		attemptCh := make(chan Chunk)
		errCh := make(chan error, 1)
		go func() {
			errCh <- p.Stream(ctx, req, attemptCh)
		}()

		forwarded := false
		for chunk := range attemptCh {
			forwarded = true
			ch <- chunk
		}
		err := <-errCh

		if err == nil {
			close(ch)
			if i > 0 {
				f.Log.Info().Str("failover", f.Label).Int("attempt", i+1).Msg("failover succeeded")
			}
			return nil
		}
		if forwarded {
			// a partial stream already reached the caller; retrying would
			// duplicate content, so surface the failure as-is.
			close(ch)
			return err
		}

		f.Log.Warn().Err(err).Str("failover", f.Label).Int("attempt", i+1).Msg("provider failed, trying next")
		lastErr = err
	}

	close(ch)
	return lastErr
}
