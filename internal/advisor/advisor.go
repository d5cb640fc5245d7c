// Package advisor produces triage recommendations for standby items using
// the Claude API. Recommendations are advisory only; applying one is a
// normal triage decision.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/triage"
)

const systemPrompt = `You are a triage assistant for a crypto market signal pipeline.
Given one standby signal, decide whether it should be escalated to the desk or dismissed.
Respond with a single JSON object: {"decision": "escalate" | "dismiss", "notes": "<one or two sentences>"}.
No prose outside the JSON.`

const maxTokens = 512

// Recommendation is the advisor's verdict for one standby item.
type Recommendation struct {
	Decision triage.Outcome `json:"decision"`
	Notes    string         `json:"notes"`
	Model    string         `json:"model"`
}

// Advisor wraps a Claude model behind a single-shot recommendation call.
type Advisor struct {
	client anthropic.Client
	model  string
	logger log.Logger
}

// New creates an advisor. Extra options are appended after the API key,
// so tests can redirect the base URL.
func New(apiKey, model string, logger log.Logger, opts ...option.RequestOption) *Advisor {
	if logger == nil {
		logger = log.Nop()
	}
	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Advisor{
		client: anthropic.NewClient(clientOpts...),
		model:  model,
		logger: logger,
	}
}

// Recommend asks the model for an escalate-or-dismiss verdict on one item.
func (a *Advisor) Recommend(ctx context.Context, it *triage.Item) (*Recommendation, error) {
	prompt := renderItem(it)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	rec, err := parseRecommendation(text.String())
	if err != nil {
		return nil, err
	}
	rec.Model = a.model

	a.logger.Info(ctx, "advisor recommendation",
		"signal_id", it.ID,
		"decision", string(rec.Decision),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return rec, nil
}

func renderItem(it *triage.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "namespace: %s\n", it.Namespace)
	fmt.Fprintf(&b, "source: %s\n", it.Source)
	fmt.Fprintf(&b, "title: %s\n", it.Title)
	if it.Summary != "" {
		fmt.Fprintf(&b, "summary: %s\n", it.Summary)
	}
	if it.Category != "" {
		fmt.Fprintf(&b, "category: %s\n", it.Category)
	}
	if len(it.Tickers) > 0 {
		fmt.Fprintf(&b, "tickers: %s\n", strings.Join(it.Tickers, ", "))
	}
	fmt.Fprintf(&b, "severity: %s\n", it.Severity)
	if it.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", it.Reason)
	}
	return b.String()
}

// parseRecommendation extracts the JSON verdict from the model output,
// tolerating surrounding prose or code fences.
func parseRecommendation(text string) (*Recommendation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("advisor: no JSON object in model output: %q", text)
	}

	var raw struct {
		Decision string `json:"decision"`
		Notes    string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("advisor: parse model output: %w", err)
	}

	var decision triage.Outcome
	switch strings.ToLower(strings.TrimSpace(raw.Decision)) {
	case "escalate", "escalated":
		decision = triage.OutcomeEscalated
	case "dismiss", "dismissed":
		decision = triage.OutcomeDismissed
	default:
		return nil, fmt.Errorf("advisor: unexpected decision %q", raw.Decision)
	}

	return &Recommendation{Decision: decision, Notes: raw.Notes}, nil
}
