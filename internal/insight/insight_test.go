package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/compasslabs/compass/internal/analytics"
	"github.com/compasslabs/compass/internal/model"
)

// newTestClient points a Client at a stand-in chat endpoint.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, "test-key", "test-model", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// writeChatResponse encodes a minimal chat completion whose single
// choice carries the given content.
func writeChatResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode chat response: %v", err)
	}
}

func summaryWithData(t *testing.T) analytics.Summary {
	t.Helper()
	sum := analytics.Summarize(nil, []model.ScoreRecord{
		{StudentName: "Priya", Percentage: 80},
		{StudentName: "Marc", Percentage: 55},
	})
	if !sum.HasData {
		t.Fatal("summary should have data")
	}
	return sum
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripFences(tt.in); got != tt.want {
				t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassInsightsDegradesOnServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	})
	sum := summaryWithData(t)

	n := c.ClassInsights(context.Background(), sum)
	if n.Available {
		t.Error("narrative should be unavailable when the endpoint errors")
	}
	if n.Reason == "" {
		t.Error("degraded narrative should carry a reason")
	}

	if _, err := c.RevisionPlan(context.Background(), sum); err == nil {
		t.Error("RevisionPlan should return the endpoint error")
	}
	if _, err := c.ReadinessAssessment(context.Background(), sum); err == nil {
		t.Error("ReadinessAssessment should return the endpoint error")
	}
	if _, err := c.TopicTips(context.Background(), "algebra", 42.5); err == nil {
		t.Error("TopicTips should return the endpoint error")
	}
}

func TestClassInsightsParsesFencedJSON(t *testing.T) {
	content := "```json\n" +
		`{"summary":"Solid overall","strengths":"Geometry","weaknesses":"Algebra","action_items":"Reteach algebra"}` +
		"\n```"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatResponse(t, w, content)
	})

	n := c.ClassInsights(context.Background(), summaryWithData(t))
	if !n.Available {
		t.Fatalf("narrative unavailable: %s", n.Reason)
	}
	if n.Summary != "Solid overall" || n.Weaknesses != "Algebra" || n.ActionItems != "Reteach algebra" {
		t.Errorf("parsed narrative = %+v", n)
	}
}

func TestClassInsightsKeepsProseResponse(t *testing.T) {
	prose := "The class performed reasonably well, averaging 67%."
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatResponse(t, w, prose)
	})

	n := c.ClassInsights(context.Background(), summaryWithData(t))
	if !n.Available {
		t.Fatalf("narrative unavailable: %s", n.Reason)
	}
	if n.Summary != prose {
		t.Errorf("Summary = %q, want the raw prose", n.Summary)
	}
}

func TestClassInsightsWithoutData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty summary")
	})

	n := c.ClassInsights(context.Background(), analytics.Summary{})
	if n.Available {
		t.Error("narrative should be unavailable without submissions")
	}
	if n.Reason != "no submissions to analyze" {
		t.Errorf("Reason = %q", n.Reason)
	}
}

func TestRevisionPlanReturnsCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatResponse(t, w, "Week 1: fractions. Week 2: algebra.")
	})

	plan, err := c.RevisionPlan(context.Background(), summaryWithData(t))
	if err != nil {
		t.Fatalf("RevisionPlan: %v", err)
	}
	if plan != "Week 1: fractions. Week 2: algebra." {
		t.Errorf("plan = %q", plan)
	}
}

func TestUnavailable(t *testing.T) {
	n := Unavailable("endpoint down")
	if n.Available {
		t.Error("Unavailable narrative marked available")
	}
	if n.Reason != "endpoint down" {
		t.Errorf("Reason = %q", n.Reason)
	}
}

func TestTopicNames(t *testing.T) {
	topics := []analytics.TopicAccuracy{
		{Topic: "a"}, {Topic: "b"}, {Topic: "c"},
	}
	got := topicNames(topics, 2)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("topicNames = %v, want [a b]", got)
	}
	if got := topicNames(nil, 3); got != nil {
		t.Errorf("topicNames(nil) = %v, want nil", got)
	}
}
