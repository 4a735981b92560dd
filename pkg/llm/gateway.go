package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ensemble/maestro/pkg/metrics"
)

// CallTimeout is the hard per-call ceiling. A call that exceeds it returns
// Success=false with Error="Timeout".
const CallTimeout = 120 * time.Second

// Per-1k-token pricing by model. Models not listed fall back to
// fallbackPricing.
type modelPricing struct {
	inPer1K  float64
	outPer1K float64
}

var pricingTable = map[string]modelPricing{
	"gpt-4o-mini":   {inPer1K: 0.00015, outPer1K: 0.0006},
	"gpt-3.5-turbo": {inPer1K: 0.0015, outPer1K: 0.002},
}

var fallbackPricing = modelPricing{inPer1K: 0.001, outPer1K: 0.002}

// Gateway is the single LLM call surface. All agents go through it so that
// timeouts, accounting, and artifact capture are applied uniformly.
type Gateway struct {
	provider     Provider
	model        string
	artifactsDir string
	log          *slog.Logger
}

// NewGateway wraps a provider. artifactsDir may be empty to disable artifact
// capture.
func NewGateway(provider Provider, model, artifactsDir string) *Gateway {
	return &Gateway{
		provider:     provider,
		model:        model,
		artifactsDir: artifactsDir,
		log:          slog.With("component", "llm-gateway"),
	}
}

// Generate runs one call against the provider. It never returns a Go error:
// timeouts and provider failures come back as Success=false responses so
// agent loops stay simple.
func (g *Gateway) Generate(ctx context.Context, req Request) *Response {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	content, usage, err := g.provider.Generate(callCtx, req.System, req.User, req.MaxTokens, req.Temperature)
	duration := time.Since(start)
	metrics.LLMDuration.WithLabelValues(g.model, req.Stage).Observe(duration.Seconds())

	resp := &Response{
		Model:      g.model,
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		resp.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			resp.Error = "Timeout"
		}
		g.log.Warn("LLM call failed",
			"agent_type", req.AgentType, "stage", req.Stage,
			"duration_ms", resp.DurationMs, "error", resp.Error)
		return resp
	}

	resp.Success = true
	resp.Content = content

	resp.TokensIn = usage.TokensIn
	if resp.TokensIn == 0 {
		resp.TokensIn = EstimateTokens(req.System + " " + req.User)
	}
	resp.TokensOut = usage.TokensOut
	if resp.TokensOut == 0 {
		resp.TokensOut = EstimateTokens(content)
	}
	resp.Cost = costFor(g.model, resp.TokensIn, resp.TokensOut)

	g.storeArtifact(req, content)

	g.log.Debug("LLM call completed",
		"agent_type", req.AgentType, "stage", req.Stage,
		"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut,
		"cost", resp.Cost, "duration_ms", resp.DurationMs)
	return resp
}

// EstimateTokens gives an upper-bound token estimate: the larger of the word
// count and len/4.
func EstimateTokens(s string) int {
	byLength := len(s) / 4
	byWords := len(strings.Fields(s))
	if byWords > byLength {
		return byWords
	}
	return byLength
}

func costFor(model string, tokensIn, tokensOut int) float64 {
	pricing, ok := pricingTable[model]
	if !ok {
		pricing = fallbackPricing
	}
	return float64(tokensIn)/1000*pricing.inPer1K + float64(tokensOut)/1000*pricing.outPer1K
}

// storeArtifact writes the generated content to disk for audit. Storage
// failures are logged and swallowed; they never fail the call.
func (g *Gateway) storeArtifact(req Request, content string) {
	if g.artifactsDir == "" {
		return
	}

	dir := filepath.Join(g.artifactsDir, sanitizePathSegment(req.Stage))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		g.log.Warn("Failed to create artifact directory", "dir", dir, "error", err)
		return
	}

	name := fmt.Sprintf("%s-%s.md", sanitizePathSegment(req.AgentType), time.Now().UTC().Format("20060102T150405.000"))
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		g.log.Warn("Failed to store LLM artifact", "file", name, "error", err)
	}
}

func sanitizePathSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
