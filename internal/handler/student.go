package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/compasslabs/compass/internal/analytics"
	"github.com/compasslabs/compass/internal/model"
	"github.com/compasslabs/compass/internal/scoring"
	"github.com/compasslabs/compass/internal/store"
)

func (h *Handler) handleJoinPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "join.html", "comPASS · Join", "", nil)
}

// openExamByCode resolves a join code to an exam that is currently
// accepting submissions, or returns a student-facing reason it is not.
func (h *Handler) openExamByCode(code string) (model.Exam, string, error) {
	exam, err := h.store.GetExamByJoinCode(code)
	if err != nil {
		return model.Exam{}, "", err
	}
	if exam.Status != model.StatusActive {
		return model.Exam{}, "This test is not open for submissions.", nil
	}
	if exam.Expired(time.Now()) {
		return model.Exam{}, "This test has expired.", nil
	}
	return exam, "", nil
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.FormValue("join_code")))
	name := strings.TrimSpace(r.FormValue("student_name"))
	if code == "" || name == "" {
		h.render(w, r, "join.html", "comPASS · Join", "Enter the test code and your name.", nil)
		return
	}

	_, reason, err := h.openExamByCode(code)
	if errors.Is(err, store.ErrNotFound) {
		h.render(w, r, "join.html", "comPASS · Join", "No test found for that code.", nil)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if reason != "" {
		h.render(w, r, "join.html", "comPASS · Join", reason, nil)
		return
	}

	dest := h.path("/take/" + code + "?student_name=" + url.QueryEscape(name))
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

type takeData struct {
	Exam        model.Exam
	Questions   []model.Question
	StudentName string
	StartedAt   int64
}

func (h *Handler) handleTakePage(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	name := strings.TrimSpace(r.URL.Query().Get("student_name"))
	if name == "" {
		http.Redirect(w, r, h.path("/join"), http.StatusSeeOther)
		return
	}

	exam, reason, err := h.openExamByCode(code)
	if err != nil {
		h.fail(w, err)
		return
	}
	if reason != "" {
		h.render(w, r, "join.html", "comPASS · Join", reason, nil)
		return
	}

	questions, err := h.store.ListQuestions(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.render(w, r, "take.html", "comPASS · "+exam.Title, "", takeData{
		Exam:        exam,
		Questions:   questions,
		StudentName: name,
		StartedAt:   time.Now().Unix(),
	})
}

type resultData struct {
	Exam       model.Exam
	Record     model.ScoreRecord
	Comparison *analytics.StudentComparison
	Advice     string // AI study advice, empty when unavailable
}

// missedTopics returns the distinct topic tags of questions the student
// did not get right, sorted for stable prompts.
func missedTopics(rec model.ScoreRecord) []string {
	seen := make(map[string]bool)
	for _, q := range rec.Questions {
		if q.Correct || q.Topic == "" {
			continue
		}
		seen[q.Topic] = true
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// handleSubmit is the one synchronous unit of the student flow:
// validate, score, persist submission and score record, then show the
// result. A storage failure is reported to the student so they can
// retry; the submission is never dropped quietly.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	exam, reason, err := h.openExamByCode(code)
	if err != nil {
		h.fail(w, err)
		return
	}
	if reason != "" {
		h.render(w, r, "join.html", "comPASS · Join", reason, nil)
		return
	}

	name := strings.TrimSpace(r.FormValue("student_name"))
	if name == "" {
		h.render(w, r, "join.html", "comPASS · Join", "Enter the test code and your name.", nil)
		return
	}

	questions, err := h.store.ListQuestions(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	sub := model.Submission{
		ExamID:      exam.ID,
		StudentName: name,
		SubmittedAt: time.Now(),
	}
	if startedAt, err := strconv.ParseInt(r.FormValue("started_at"), 10, 64); err == nil && startedAt > 0 {
		if taken := time.Now().Unix() - startedAt; taken > 0 {
			sub.TimeTaken = int(taken)
		}
	}
	for _, q := range questions {
		sub.Answers = append(sub.Answers, model.Answer{
			QuestionID: q.ID,
			Response:   strings.TrimSpace(r.FormValue(fmt.Sprintf("q%d", q.ID))),
		})
	}

	// Score before writing anything: a malformed submission must not
	// leave partial rows behind.
	rec, err := scoring.Score(h.scoring, exam, questions, sub)
	if err != nil {
		h.fail(w, err)
		return
	}

	subID, err := h.store.CreateSubmission(sub)
	if err != nil {
		slog.Error("failed to save submission", "exam", exam.ID, "student", name, "error", err)
		h.renderSubmitFailure(w, r, exam, questions, name)
		return
	}
	rec.SubmissionID = subID
	if err := h.store.UpsertScoreRecord(rec); err != nil {
		slog.Error("failed to save score record", "submission", subID, "error", err)
		h.renderSubmitFailure(w, r, exam, questions, name)
		return
	}
	if err := h.store.InvalidateSummary(exam.ID); err != nil {
		slog.Warn("failed to invalidate analytics cache", "exam", exam.ID, "error", err)
	}

	var comparison *analytics.StudentComparison
	if all, err := h.store.ListScoreRecords(exam.ID); err == nil {
		cmp := analytics.CompareStudent(rec, all)
		comparison = &cmp
	} else {
		slog.Warn("failed to load class records for comparison", "exam", exam.ID, "error", err)
	}

	// Study advice is best-effort: the result page renders without it.
	var advice string
	if h.narrative != nil && comparison != nil {
		text, err := h.narrative.StudentAdvice(r.Context(), *comparison, missedTopics(rec))
		if err != nil {
			slog.Warn("student advice unavailable", "submission", subID, "error", err)
		} else {
			advice = text
		}
	}

	slog.Info("submission scored", "exam", exam.ID, "submission", subID,
		"student", name, "percentage", rec.Percentage)
	h.render(w, r, "result.html", "comPASS · Result", "", resultData{
		Exam:       exam,
		Record:     rec,
		Comparison: comparison,
		Advice:     advice,
	})
}

func (h *Handler) renderSubmitFailure(w http.ResponseWriter, r *http.Request, exam model.Exam, questions []model.Question, name string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	h.render(w, r, "take.html", "comPASS · "+exam.Title,
		"Your answers could not be saved. Please submit again.", takeData{
			Exam:        exam,
			Questions:   questions,
			StudentName: name,
			StartedAt:   time.Now().Unix(),
		})
}
