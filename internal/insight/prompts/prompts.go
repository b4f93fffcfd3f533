// Package prompts builds the text sent to the narrative model. Prompt
// bodies live in embedded template files so they can be tuned without
// touching Go code.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

const (
	nameClassInsights = "class_insights"
	nameRevisionPlan  = "revision_plan"
	nameReadiness     = "readiness"
	nameStudentAdvice = "student_advice"
	nameTopicTips     = "topic_tips"
)

// Load parses all embedded prompt templates. Safe to call more than once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		names := []string{nameClassInsights, nameRevisionPlan, nameReadiness, nameStudentAdvice, nameTopicTips}
		for _, name := range names {
			file := "templates/" + name + ".tmpl"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func build(name string, data any) (string, error) {
	if templates == nil {
		return "", fmt.Errorf("templates not initialized: call Load first")
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TopicLine is one topic with its class accuracy, for prompt listings.
type TopicLine struct {
	Name     string
	Accuracy float64
}

// ClassInsightsData feeds the quick-insights prompt.
type ClassInsightsData struct {
	Mean            float64
	ReadinessStatus string
	HighRiskCount   int
	TotalStudents   int
	StrongTopics    []string
	WeakTopics      []string
}

// BuildClassInsights builds the prompt asking for the four-part JSON
// insight block (summary, strengths, weaknesses, action items).
func BuildClassInsights(data ClassInsightsData) (string, error) {
	return build(nameClassInsights, data)
}

// RevisionPlanData feeds the revision-plan prompt.
type RevisionPlanData struct {
	TotalStudents   int
	Mean            float64
	ReadinessStatus string
	HighRiskCount   int
	MediumRiskCount int
	LowRiskCount    int
	WeakTopics      []TopicLine
}

// BuildRevisionPlan builds the class revision plan prompt.
func BuildRevisionPlan(data RevisionPlanData) (string, error) {
	return build(nameRevisionPlan, data)
}

// ReadinessData feeds the readiness-assessment prompt.
type ReadinessData struct {
	Score             float64
	Status            string
	Mean              float64
	StdDev            float64
	HighPerformersPct float64
	AtRiskPct         float64
}

// BuildReadiness builds the exam readiness assessment prompt.
func BuildReadiness(data ReadinessData) (string, error) {
	return build(nameReadiness, data)
}

// StudentAdviceData feeds the per-student advice prompt.
type StudentAdviceData struct {
	Name       string
	Percentage float64
	RiskLevel  string
	WeakTopics []string
}

// BuildStudentAdvice builds the individual intervention advice prompt.
func BuildStudentAdvice(data StudentAdviceData) (string, error) {
	return build(nameStudentAdvice, data)
}

// TopicTipsData feeds the topic teaching tips prompt.
type TopicTipsData struct {
	Topic    string
	Accuracy float64
}

// BuildTopicTips builds the teaching tips prompt for one weak topic.
func BuildTopicTips(data TopicTipsData) (string, error) {
	return build(nameTopicTips, data)
}
