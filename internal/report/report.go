// Package report renders an exam performance report as a standalone HTML
// document from analytics aggregates, per-student scores, and an optional
// AI narrative.
package report

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/compasslabs/compass/internal/analytics"
	appI18n "github.com/compasslabs/compass/internal/i18n"
	"github.com/compasslabs/compass/internal/insight"
	"github.com/compasslabs/compass/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTmpl = template.Must(
	template.New("report.html").Funcs(template.FuncMap{
		"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
		"f2":  func(f float64) string { return fmt.Sprintf("%.2f", f) },
	}).ParseFS(templateFS, "templates/report.html"),
)

// Data is everything the report template consumes. Narrative absence is
// expected and handled by the template; the report always renders.
type Data struct {
	Exam      model.Exam
	Summary   analytics.Summary
	Records   []model.ScoreRecord
	Narrative insight.Narrative
	Labels    map[string]string
	Generated time.Time
}

// labelIDs are the message IDs the template needs, resolved up front so
// the template stays free of localization plumbing.
var labelIDs = []string{
	"AppTitle", "ReportTitle", "KeyMetrics", "MeanScore", "MedianScore",
	"StdDev", "MinScore", "MaxScore", "ScoreDistribution", "Readiness",
	"TopicPerformance", "QuestionDifficulty", "RiskClassification",
	"HighRisk", "MediumRisk", "LowRisk", "AIInsights", "InsightUnavailable",
	"NoData", "StudentResults", "GeneratedAt",
}

// Render writes the HTML report. Localized labels come from the
// localizer in ctx.
func Render(ctx context.Context, w io.Writer, exam model.Exam, sum analytics.Summary, records []model.ScoreRecord, narrative insight.Narrative) error {
	labels := make(map[string]string, len(labelIDs))
	for _, id := range labelIDs {
		labels[id] = appI18n.T(ctx, id)
	}

	data := Data{
		Exam:      exam,
		Summary:   sum,
		Records:   records,
		Narrative: narrative,
		Labels:    labels,
		Generated: time.Now(),
	}
	if err := reportTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
