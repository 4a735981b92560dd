package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	content string
	usage   Usage
	err     error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(ctx context.Context, _, _ string, _ int, _ float64) (string, Usage, error) {
	if s.err != nil {
		return "", Usage{}, s.err
	}
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}
	return s.content, s.usage, nil
}

func TestGenerateSuccess(t *testing.T) {
	gw := NewGateway(&stubProvider{
		content: "generated code",
		usage:   Usage{TokensIn: 120, TokensOut: 45},
	}, "gpt-4o-mini", "")

	resp := gw.Generate(context.Background(), Request{
		System: "You are a code generator.",
		User:   "Generate UserService.Create",
		Stage:  "Swarming",
	})

	require.True(t, resp.Success)
	assert.Equal(t, "generated code", resp.Content)
	assert.Equal(t, 120, resp.TokensIn)
	assert.Equal(t, 45, resp.TokensOut)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	// gpt-4o-mini: 0.00015 in / 0.0006 out per 1k tokens
	assert.InDelta(t, 120.0/1000*0.00015+45.0/1000*0.0006, resp.Cost, 1e-12)
}

func TestGenerateEstimatesTokensWhenProviderReportsNone(t *testing.T) {
	gw := NewGateway(&stubProvider{content: "one two three four"}, "other-model", "")

	resp := gw.Generate(context.Background(), Request{System: "sys", User: "user"})

	require.True(t, resp.Success)
	assert.Equal(t, EstimateTokens("sys user"), resp.TokensIn)
	assert.Equal(t, EstimateTokens("one two three four"), resp.TokensOut)
	// Unknown model uses the fallback rate.
	assert.InDelta(t, float64(resp.TokensIn)/1000*0.001+float64(resp.TokensOut)/1000*0.002, resp.Cost, 1e-12)
}

func TestGenerateProviderErrorDoesNotThrow(t *testing.T) {
	gw := NewGateway(&stubProvider{err: errors.New("connection refused")}, "gpt-4o-mini", "")

	resp := gw.Generate(context.Background(), Request{User: "hello"})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection refused")
	assert.Empty(t, resp.Content)
}

func TestGenerateTimeoutReportsTimeoutError(t *testing.T) {
	gw := NewGateway(&stubProvider{err: context.DeadlineExceeded}, "gpt-4o-mini", "")

	resp := gw.Generate(context.Background(), Request{User: "hello"})

	assert.False(t, resp.Success)
	assert.Equal(t, "Timeout", resp.Error)
}

func TestGenerateStoresArtifact(t *testing.T) {
	dir := t.TempDir()
	gw := NewGateway(&stubProvider{content: "# Design\ncontent"}, "gpt-4o-mini", dir)

	resp := gw.Generate(context.Background(), Request{
		User:      "design it",
		AgentType: "SystemArchitect",
		Stage:     "Designing",
	})
	require.True(t, resp.Success)

	files, err := filepath.Glob(filepath.Join(dir, "Designing", "SystemArchitect-*.md"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "# Design\ncontent", string(data))
}

func TestGenerateArtifactFailureDoesNotFailCall(t *testing.T) {
	// A file where the artifact directory should be makes MkdirAll fail.
	dir := t.TempDir()
	blocked := filepath.Join(dir, "artifacts")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	gw := NewGateway(&stubProvider{content: "ok"}, "gpt-4o-mini", blocked)

	resp := gw.Generate(context.Background(), Request{User: "go", Stage: "Planning"})
	assert.True(t, resp.Success)
}

func TestEstimateTokens(t *testing.T) {
	// Word count dominates for short words.
	assert.Equal(t, 5, EstimateTokens("a b c d e"))
	// Length/4 dominates for long unbroken text.
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
	assert.Equal(t, 0, EstimateTokens(""))
}
