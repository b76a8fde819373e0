// Package driver sends the per-iteration synthetic workload through the
// bound adapter and validates response content.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/soakfire/soakfire/internal/adapter"
	"github.com/soakfire/soakfire/internal/metrics"
)

// DefaultParams are the generation parameters applied to every payload
// unless overridden per run.
func DefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"max_tokens":  256,
		"temperature": 0,
	}
}

// Options configure one iteration's workload.
type Options struct {
	ChatURL        string
	Model          string
	Prompt         string
	RequestCount   int
	SuccessPattern string // case-insensitive substring; empty means no constraint
	DefaultParams  map[string]interface{}
	ExtraParams    map[string]interface{}
}

// Outcome aggregates the iteration's delivery and matching flags. Flags are
// combined at classification time, not used to short-circuit log scanning.
type Outcome struct {
	Sent         int
	AllDelivered bool
	AllMatched   bool
	// FirstFailure describes the delivery break when AllDelivered is false.
	FirstFailure error
}

// Driver issues bounded-timeout chat requests through an adapter.
type Driver struct {
	client  *http.Client
	adapter adapter.Adapter
	coll    *metrics.Collector
	limiter *rate.Limiter
}

// New builds a Driver. ratePerSecond of 0 disables pacing.
func New(client *http.Client, a adapter.Adapter, coll *metrics.Collector, ratePerSecond int) *Driver {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Driver{client: client, adapter: a, coll: coll, limiter: limiter}
}

// Drive sends opts.RequestCount prompts sequentially. A connectivity break
// is terminal for the iteration: the loop stops and AllDelivered is false.
// A success-pattern mismatch clears AllMatched but the remaining prompts are
// still attempted so the evidence log stays complete.
func (d *Driver) Drive(ctx context.Context, evidence io.Writer, opts Options) Outcome {
	if evidence == nil {
		evidence = io.Discard
	}
	outcome := Outcome{AllDelivered: true, AllMatched: true}

	for i := 1; i <= opts.RequestCount; i++ {
		if ctx.Err() != nil {
			outcome.AllDelivered = false
			outcome.FirstFailure = ctx.Err()
			return outcome
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				outcome.AllDelivered = false
				outcome.FirstFailure = err
				return outcome
			}
		}

		content, latency, err := d.sendPrompt(ctx, opts)
		d.coll.RecordPrompt(latency, err)
		outcome.Sent = i

		if err != nil {
			fmt.Fprintf(evidence, "[soakfire] prompt %d/%d failed after %s: %v\n", i, opts.RequestCount, latency.Round(time.Millisecond), err)
			outcome.AllDelivered = false
			outcome.FirstFailure = err
			return outcome
		}

		matched := true
		if opts.SuccessPattern != "" {
			matched = strings.Contains(strings.ToLower(content), strings.ToLower(opts.SuccessPattern))
			if !matched {
				outcome.AllMatched = false
			}
		}
		fmt.Fprintf(evidence, "[soakfire] prompt %d/%d ok in %s matched=%t: %s\n",
			i, opts.RequestCount, latency.Round(time.Millisecond), matched, snippet(content))
	}

	return outcome
}

// sendPrompt issues one bounded-timeout POST and parses the assistant text.
// An empty body or non-2xx status counts as a failed response; a parse
// failure does not, its content just carries the parse-error marker.
func (d *Driver) sendPrompt(ctx context.Context, opts Options) (string, time.Duration, error) {
	payload, err := d.adapter.BuildPayload(opts.Model, opts.Prompt, opts.DefaultParams, opts.ExtraParams)
	if err != nil {
		return "", 0, fmt.Errorf("build payload: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.ChatURL, bytes.NewReader(payload))
	if err != nil {
		return "", time.Since(start), err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return "", latency, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", latency, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", latency, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(string(body)))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", latency, fmt.Errorf("empty response body")
	}

	content, _ := d.adapter.ParseResponse(body)
	if strings.TrimSpace(content) == "" {
		return "", latency, fmt.Errorf("empty parsed content")
	}
	return content, latency, nil
}

func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}
