// Package middleware provides reusable provider.ModelProvider middlewares
// such as adaptive rate limiting.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rocisdk/agentcore/errs"
	"github.com/rocisdk/agentcore/message"
	"github.com/rocisdk/agentcore/provider"
)

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket on top
	// of a provider.ModelProvider. It estimates the token cost of each
	// request, blocks callers until capacity is available, and adjusts its
	// effective tokens-per-minute budget in response to rate-limiting
	// signals from the provider.
	//
	// The limiter is process-local and designed to sit at the provider
	// boundary. Callers construct a single instance per process and wrap the
	// underlying provider.ModelProvider with Middleware before registering
	// it with a provider.Registry.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64
	}

	limitedProvider struct {
		next    provider.ModelProvider
		limiter *AdaptiveRateLimiter
	}
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter configured with an
// initial tokens-per-minute budget and an upper bound.
//
// initialTPM and maxTPM are expressed in tokens per minute. When maxTPM is
// zero or less than initialTPM, it is clamped to initialTPM.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))

	return &AdaptiveRateLimiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware returns a provider.ModelProvider middleware that enforces the
// adaptive tokens-per-minute limit for both GenerateText and StreamText.
func (l *AdaptiveRateLimiter) Middleware() func(provider.ModelProvider) provider.ModelProvider {
	return func(next provider.ModelProvider) provider.ModelProvider {
		if next == nil {
			return nil
		}
		return &limitedProvider{next: next, limiter: l}
	}
}

func (p *limitedProvider) ProviderName() string               { return p.next.ProviderName() }
func (p *limitedProvider) ModelID() string                    { return p.next.ModelID() }
func (p *limitedProvider) Capabilities() provider.Capabilities { return p.next.Capabilities() }

// GenerateText enforces the limiter before delegating to the underlying
// provider.
func (p *limitedProvider) GenerateText(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return provider.Response{}, err
	}
	resp, err := p.next.GenerateText(ctx, req)
	p.limiter.observe(err)
	return resp, err
}

// StreamText enforces the limiter before delegating to the underlying
// provider.
func (p *limitedProvider) StreamText(ctx context.Context, req provider.Request) (provider.Stream, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := p.next.StreamText(ctx, req)
	p.limiter.observe(err)
	return stream, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req provider.Request) error {
	tokens := estimateTokens(req)
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var kind errs.Kind
	if k, ok := errs.KindOf(err); ok {
		kind = k
	}
	if kind == errs.KindRateLimited {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request transcript. It counts characters in text and tool result
// payloads, converts them to tokens using a fixed ratio, and adds a small
// buffer for system prompts and provider overhead.
func estimateTokens(req provider.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case message.TextPart:
				charCount += len(v.Text)
			case message.ToolResultPart:
				charCount += len(v.Result)
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
