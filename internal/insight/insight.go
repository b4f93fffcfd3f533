// Package insight generates narrative analysis of exam performance from an
// OpenAI-compatible chat endpoint. The endpoint is treated as optional:
// every result is an explicit available/unavailable value and callers
// render reports without narrative when the service is slow or down.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/compasslabs/compass/internal/analytics"
	"github.com/compasslabs/compass/internal/insight/prompts"
)

const systemPrompt = "You are an expert educational consultant. Provide practical, " +
	"actionable advice based on test analytics. Be concise and specific."

// Narrative is the optional result of a narrative generation call.
// Consumers must check Available before reading the text fields.
type Narrative struct {
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"` // why unavailable
	Summary     string `json:"summary,omitempty"`
	Strengths   string `json:"strengths,omitempty"`
	Weaknesses  string `json:"weaknesses,omitempty"`
	ActionItems string `json:"action_items,omitempty"`
}

// Unavailable builds a degraded Narrative carrying the failure reason.
func Unavailable(reason string) Narrative {
	return Narrative{Reason: reason}
}

// Client wraps an OpenAI-compatible API client with a per-call timeout.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a narrative client. An empty baseURL uses the default
// OpenAI endpoint.
func New(baseURL, apiKey, modelName string, timeout time.Duration) (*Client, error) {
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}, nil
}

// Ping checks that the endpoint answers at all. Used at startup as an
// advisory check only; a failing endpoint must not prevent serving.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM endpoint: %w", err)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ClassInsights asks for the four-part insight block over an analytics
// summary. It never returns an error: any failure degrades to an
// unavailable Narrative so report rendering continues.
func (c *Client) ClassInsights(ctx context.Context, sum analytics.Summary) Narrative {
	if !sum.HasData {
		return Unavailable("no submissions to analyze")
	}

	prompt, err := prompts.BuildClassInsights(prompts.ClassInsightsData{
		Mean:            sum.Mean,
		ReadinessStatus: sum.Readiness.Status,
		HighRiskCount:   len(sum.Risk.High),
		TotalStudents:   sum.SubmissionCount,
		StrongTopics:    topicNames(sum.StrongTopics, 3),
		WeakTopics:      topicNames(sum.WeakTopics, 3),
	})
	if err != nil {
		slog.Error("build insights prompt", "error", err)
		return Unavailable("internal error building prompt")
	}

	raw, err := c.complete(ctx, prompt, 0.7, true)
	if err != nil {
		slog.Warn("narrative generation failed", "error", err)
		return Unavailable(err.Error())
	}

	var parsed struct {
		Summary     string `json:"summary"`
		Strengths   string `json:"strengths"`
		Weaknesses  string `json:"weaknesses"`
		ActionItems string `json:"action_items"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		slog.Warn("narrative response not valid JSON", "error", err)
		// The prose is still useful; surface it as the summary.
		return Narrative{Available: true, Summary: raw}
	}

	return Narrative{
		Available:   true,
		Summary:     parsed.Summary,
		Strengths:   parsed.Strengths,
		Weaknesses:  parsed.Weaknesses,
		ActionItems: parsed.ActionItems,
	}
}

// RevisionPlan asks for a multi-week revision plan for the class.
func (c *Client) RevisionPlan(ctx context.Context, sum analytics.Summary) (string, error) {
	if !sum.HasData {
		return "", fmt.Errorf("no submissions to analyze")
	}
	weak := make([]prompts.TopicLine, 0, len(sum.WeakTopics))
	for i, t := range sum.WeakTopics {
		if i == 5 {
			break
		}
		weak = append(weak, prompts.TopicLine{Name: t.Topic, Accuracy: t.Accuracy})
	}
	prompt, err := prompts.BuildRevisionPlan(prompts.RevisionPlanData{
		TotalStudents:   sum.SubmissionCount,
		Mean:            sum.Mean,
		ReadinessStatus: sum.Readiness.Status,
		HighRiskCount:   len(sum.Risk.High),
		MediumRiskCount: len(sum.Risk.Medium),
		LowRiskCount:    len(sum.Risk.Low),
		WeakTopics:      weak,
	})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, 0.7, false)
}

// ReadinessAssessment asks whether the class should sit the exam yet.
func (c *Client) ReadinessAssessment(ctx context.Context, sum analytics.Summary) (string, error) {
	if !sum.HasData {
		return "", fmt.Errorf("no submissions to analyze")
	}
	prompt, err := prompts.BuildReadiness(prompts.ReadinessData{
		Score:             sum.Readiness.Score,
		Status:            sum.Readiness.Status,
		Mean:              sum.Mean,
		StdDev:            sum.StdDev,
		HighPerformersPct: sum.Readiness.HighPerformersPct,
		AtRiskPct:         sum.Readiness.AtRiskPct,
	})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, 0.7, false)
}

// StudentAdvice asks for intervention advice for one student.
func (c *Client) StudentAdvice(ctx context.Context, comp analytics.StudentComparison, weakTopics []string) (string, error) {
	riskLevel := "Low"
	switch {
	case comp.Percentage < analytics.HighRiskBelow:
		riskLevel = "High"
	case comp.Percentage < analytics.MediumRiskBelow:
		riskLevel = "Medium"
	}
	prompt, err := prompts.BuildStudentAdvice(prompts.StudentAdviceData{
		Name:       comp.StudentName,
		Percentage: comp.Percentage,
		RiskLevel:  riskLevel,
		WeakTopics: weakTopics,
	})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, 0.7, false)
}

// TopicTips asks for teaching tips for one weak topic.
func (c *Client) TopicTips(ctx context.Context, topic string, accuracy float64) (string, error) {
	prompt, err := prompts.BuildTopicTips(prompts.TopicTipsData{Topic: topic, Accuracy: accuracy})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, 0.7, false)
}

func topicNames(topics []analytics.TopicAccuracy, limit int) []string {
	var names []string
	for i, t := range topics {
		if i == limit {
			break
		}
		names = append(names, t.Topic)
	}
	return names
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return strings.TrimPrefix(strings.TrimSuffix(s, "```"), "```")
	}
	body := lines[1 : len(lines)-1]
	return strings.TrimSpace(strings.Join(body, "\n"))
}
