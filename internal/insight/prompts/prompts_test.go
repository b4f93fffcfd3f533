package prompts

import (
	"strings"
	"testing"
)

func mustLoad(t *testing.T) {
	t.Helper()
	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestBuildClassInsights(t *testing.T) {
	mustLoad(t)

	t.Run("with topics", func(t *testing.T) {
		prompt, err := BuildClassInsights(ClassInsightsData{
			Mean:            72.5,
			ReadinessStatus: "Borderline",
			HighRiskCount:   3,
			TotalStudents:   20,
			StrongTopics:    []string{"algebra", "fractions"},
			WeakTopics:      []string{"geometry"},
		})
		if err != nil {
			t.Fatalf("BuildClassInsights: %v", err)
		}
		if !strings.Contains(prompt, "72.5%") {
			t.Error("prompt should contain the class average")
		}
		if !strings.Contains(prompt, "3/20") {
			t.Error("prompt should contain the risk ratio")
		}
		if !strings.Contains(prompt, "algebra, fractions") {
			t.Error("prompt should list strong topics comma-separated")
		}
		if !strings.Contains(prompt, `"action_items"`) {
			t.Error("prompt should demand the action_items JSON key")
		}
	})

	t.Run("without topics", func(t *testing.T) {
		prompt, err := BuildClassInsights(ClassInsightsData{Mean: 50, ReadinessStatus: "Not Ready", TotalStudents: 5})
		if err != nil {
			t.Fatalf("BuildClassInsights: %v", err)
		}
		if strings.Contains(prompt, "Top Topics") {
			t.Error("prompt should omit the strong-topic line when empty")
		}
		if strings.Contains(prompt, "Weak Topics") {
			t.Error("prompt should omit the weak-topic line when empty")
		}
	})
}

func TestBuildRevisionPlan(t *testing.T) {
	mustLoad(t)

	prompt, err := BuildRevisionPlan(RevisionPlanData{
		TotalStudents:   18,
		Mean:            61.2,
		ReadinessStatus: "Borderline",
		HighRiskCount:   4,
		MediumRiskCount: 6,
		LowRiskCount:    8,
		WeakTopics:      []TopicLine{{Name: "trigonometry", Accuracy: 42.5}},
	})
	if err != nil {
		t.Fatalf("BuildRevisionPlan: %v", err)
	}
	if !strings.Contains(prompt, "Total Students: 18") {
		t.Error("prompt should contain student count")
	}
	if !strings.Contains(prompt, "trigonometry: 42.5%") {
		t.Error("prompt should list weak topics with accuracy")
	}
	if !strings.Contains(prompt, "3-week revision plan") {
		t.Error("prompt should ask for the revision plan")
	}
}

func TestBuildReadiness(t *testing.T) {
	mustLoad(t)

	prompt, err := BuildReadiness(ReadinessData{
		Score: 68.4, Status: "Borderline", Mean: 63.1, StdDev: 12.0,
		HighPerformersPct: 40, AtRiskPct: 15,
	})
	if err != nil {
		t.Fatalf("BuildReadiness: %v", err)
	}
	if !strings.Contains(prompt, "68.4/100") {
		t.Error("prompt should contain the readiness score")
	}
	if !strings.Contains(prompt, "STATUS: Borderline") {
		t.Error("prompt should contain the status")
	}
}

func TestBuildStudentAdvice(t *testing.T) {
	mustLoad(t)

	t.Run("with weak topics", func(t *testing.T) {
		prompt, err := BuildStudentAdvice(StudentAdviceData{
			Name: "Priya", Percentage: 38.5, RiskLevel: "High",
			WeakTopics: []string{"geometry", "ratios"},
		})
		if err != nil {
			t.Fatalf("BuildStudentAdvice: %v", err)
		}
		if !strings.Contains(prompt, "STUDENT: Priya") {
			t.Error("prompt should name the student")
		}
		if !strings.Contains(prompt, "geometry, ratios") {
			t.Error("prompt should list weak topics")
		}
	})

	t.Run("no weak topics", func(t *testing.T) {
		prompt, err := BuildStudentAdvice(StudentAdviceData{Name: "Ana", Percentage: 92, RiskLevel: "Low"})
		if err != nil {
			t.Fatalf("BuildStudentAdvice: %v", err)
		}
		if !strings.Contains(prompt, "None identified") {
			t.Error("prompt should note when no weak topics exist")
		}
	})
}

func TestBuildTopicTips(t *testing.T) {
	mustLoad(t)

	prompt, err := BuildTopicTips(TopicTipsData{Topic: "probability", Accuracy: 47.3})
	if err != nil {
		t.Fatalf("BuildTopicTips: %v", err)
	}
	if !strings.Contains(prompt, "TOPIC: probability") {
		t.Error("prompt should contain the topic")
	}
	if !strings.Contains(prompt, "47.3%") {
		t.Error("prompt should contain the accuracy")
	}
}
