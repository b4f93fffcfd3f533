// Package scoring turns a submission plus an exam's answer key into a
// ScoreRecord. Scoring is pure and deterministic: the same inputs always
// produce the same record, so stored records can be rebuilt at any time.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/compasslabs/compass/internal/model"
)

// ValidationError reports a malformed submission or exam reference.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Config controls optional grading behavior.
type Config struct {
	// PartialCredit awards free-text questions a fraction of their points
	// proportional to how many answer-key words appear in the response.
	// When false, free-text answers are all-or-nothing.
	PartialCredit bool
}

// Score grades a submission against the exam's answer key.
//
// Choice questions match the answer key letter exactly, case-insensitively.
// Free-text questions match after whitespace/case normalization; with
// Config.PartialCredit a keyword-overlap fraction of the points is awarded.
// Unanswered questions score zero. A submission answer referencing a
// question not in the exam is a ValidationError, never silently zero.
//
// An exam with zero questions produces a zero record with Percentage 0 by
// convention (no NaN).
func Score(cfg Config, exam model.Exam, questions []model.Question, sub model.Submission) (model.ScoreRecord, error) {
	if sub.ExamID != exam.ID {
		return model.ScoreRecord{}, validationf("submission %d references exam %d, not %d", sub.ID, sub.ExamID, exam.ID)
	}

	questionByID := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		questionByID[q.ID] = q
	}

	responseByQuestion := make(map[int64]string, len(sub.Answers))
	for _, a := range sub.Answers {
		if _, ok := questionByID[a.QuestionID]; !ok {
			return model.ScoreRecord{}, validationf("answer references question %d not in exam %d", a.QuestionID, exam.ID)
		}
		if _, dup := responseByQuestion[a.QuestionID]; dup {
			return model.ScoreRecord{}, validationf("duplicate answer for question %d", a.QuestionID)
		}
		responseByQuestion[a.QuestionID] = a.Response
	}

	rec := model.ScoreRecord{
		SubmissionID: sub.ID,
		ExamID:       exam.ID,
		StudentName:  sub.StudentName,
	}

	maxPoints := 0
	for _, q := range questions {
		maxPoints += q.Points

		qs := model.QuestionScore{
			QuestionID: q.ID,
			Topic:      q.Topic,
			MaxPoints:  q.Points,
		}

		response := strings.TrimSpace(responseByQuestion[q.ID])
		if response != "" {
			qs.Answered = true
			qs.Correct, qs.PointsEarned = gradeAnswer(cfg, q, response)
		}

		if qs.Correct {
			rec.CorrectCount++
		}
		rec.TotalPoints += qs.PointsEarned
		rec.Questions = append(rec.Questions, qs)
	}

	rec.MaxPoints = maxPoints
	if maxPoints > 0 {
		rec.Percentage = round2(rec.TotalPoints / float64(maxPoints) * 100)
	}
	return rec, nil
}

func gradeAnswer(cfg Config, q model.Question, response string) (correct bool, points float64) {
	switch q.Kind {
	case model.KindText:
		return gradeText(cfg, q, response)
	default:
		if strings.EqualFold(response, strings.TrimSpace(q.AnswerKey)) {
			return true, float64(q.Points)
		}
		return false, 0
	}
}

func gradeText(cfg Config, q model.Question, response string) (bool, float64) {
	want := normalize(q.AnswerKey)
	got := normalize(response)
	if want == got {
		return true, float64(q.Points)
	}
	if !cfg.PartialCredit {
		return false, 0
	}

	keywords := strings.Fields(want)
	if len(keywords) == 0 {
		return false, 0
	}
	gotWords := make(map[string]bool)
	for _, w := range strings.Fields(got) {
		gotWords[w] = true
	}
	matched := 0
	for _, kw := range keywords {
		if gotWords[kw] {
			matched++
		}
	}
	fraction := float64(matched) / float64(len(keywords))
	return fraction == 1, round2(fraction * float64(q.Points))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
