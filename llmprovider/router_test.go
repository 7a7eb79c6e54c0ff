package llmprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForModelPicksProviderByPrefix(t *testing.T) {
	p, err := ForModel("claude-opus-4-5", "ak", "ok", "gk")
	require.NoError(t, err)
	assert.IsType(t, AnthropicProvider{}, p)

	p, err = ForModel("gpt-5", "ak", "ok", "gk")
	require.NoError(t, err)
	assert.IsType(t, OpenaiProvider{}, p)

	p, err = ForModel("gemini-2.5-pro", "ak", "ok", "gk")
	require.NoError(t, err)
	assert.IsType(t, GoogleProvider{}, p)
}

func TestForModelUnknownPrefixErrors(t *testing.T) {
	_, err := ForModel("mystery-model", "ak", "ok", "gk")
	assert.Error(t, err)
}

type stubProvider struct {
	chunks []Chunk
	err    error
}

func (s stubProvider) Stream(ctx context.Context, req CompletionRequest, ch chan<- Chunk) error {
	defer close(ch)
	for _, c := range s.chunks {
		ch <- c
	}
	return s.err
}

func TestFailoverProviderFallsBackOnError(t *testing.T) {
	failing := stubProvider{err: errors.New("rate limited")}
	ok := stubProvider{chunks: []Chunk{{Delta: "hi"}}}
	f := NewFailoverProvider("test", zerolog.Nop(), failing, ok)

	ch := make(chan Chunk, 4)
	err := f.Stream(context.Background(), CompletionRequest{}, ch)
	require.NoError(t, err)

	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Delta)
}

func TestFailoverProviderReturnsLastErrorWhenAllFail(t *testing.T) {
	f := NewFailoverProvider("test", zerolog.Nop(), stubProvider{err: errors.New("a")}, stubProvider{err: errors.New("b")})

	ch := make(chan Chunk, 1)
	err := f.Stream(context.Background(), CompletionRequest{}, ch)
	assert.EqualError(t, err, "b")
}

func TestRoutingProviderErrorsOnUnknownModel(t *testing.T) {
	r := RoutingProvider{AnthropicKey: "ak", OpenaiKey: "ok", GoogleKey: "gk"}
	ch := make(chan Chunk)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Stream(context.Background(), CompletionRequest{Model: "unknown-model"}, ch) }()
	for range ch {
	}
	assert.Error(t, <-errCh)
}

func TestFailoverProviderNoProvidersConfigured(t *testing.T) {
	f := NewFailoverProvider("empty", zerolog.Nop())
	ch := make(chan Chunk, 1)
	err := f.Stream(context.Background(), CompletionRequest{}, ch)
	assert.Error(t, err)
}
