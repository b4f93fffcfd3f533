package handler

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/compasslabs/compass/internal/analytics"
	"github.com/compasslabs/compass/internal/insight"
	"github.com/compasslabs/compass/internal/model"
	"github.com/compasslabs/compass/internal/report"
	"github.com/compasslabs/compass/internal/scoring"
)

// joinCodeAlphabet avoids characters students confuse when a code is
// read out loud or written on a whiteboard (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

func generateJoinCode() (string, error) {
	b := make([]byte, joinCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = joinCodeAlphabet[int(b[i])%len(joinCodeAlphabet)]
	}
	return string(b), nil
}

// examOwned loads an exam from the URL and checks the current user may
// manage it. Admins may manage any exam.
func (h *Handler) examOwned(w http.ResponseWriter, r *http.Request) (model.Exam, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		http.Error(w, "bad exam id", http.StatusBadRequest)
		return model.Exam{}, false
	}
	exam, err := h.store.GetExam(id)
	if err != nil {
		h.fail(w, err)
		return model.Exam{}, false
	}
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleAdmin && exam.InstructorID != user.ID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return model.Exam{}, false
	}
	return exam, true
}

func (h *Handler) handleNewExamPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "exam_new.html", "comPASS · New exam", "", nil)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	title := strings.TrimSpace(r.FormValue("title"))
	subject := strings.TrimSpace(r.FormValue("subject"))
	if title == "" || subject == "" {
		h.render(w, r, "exam_new.html", "comPASS · New exam", "Title and subject are required.", nil)
		return
	}
	duration, _ := strconv.Atoi(r.FormValue("duration"))
	if duration < 0 {
		duration = 0
	}
	expiresInDays, _ := strconv.Atoi(r.FormValue("expires_in_days"))
	if expiresInDays < 1 {
		expiresInDays = 7
	}

	questions, err := parseQuestionsJSON(r.FormValue("questions"))
	if err != nil {
		h.render(w, r, "exam_new.html", "comPASS · New exam", err.Error(), nil)
		return
	}

	code, err := generateJoinCode()
	if err != nil {
		h.fail(w, err)
		return
	}

	exam := model.Exam{
		InstructorID: user.ID,
		Title:        title,
		Subject:      subject,
		Duration:     duration,
		ExpiresAt:    time.Now().Add(time.Duration(expiresInDays) * 24 * time.Hour),
		JoinCode:     code,
		Status:       model.StatusDraft,
	}
	id, err := h.store.CreateExam(exam, questions)
	if err != nil {
		h.fail(w, err)
		return
	}

	slog.Info("exam created", "id", id, "title", title, "questions", len(questions), "instructor", user.Username)
	http.Redirect(w, r, h.path(fmt.Sprintf("/exams/%d", id)), http.StatusSeeOther)
}

// parseQuestionsJSON decodes the question list from the exam form and
// validates every entry before anything is written.
func parseQuestionsJSON(raw string) ([]model.Question, error) {
	var questions []model.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("questions are not valid JSON: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("an exam needs at least one question")
	}
	for i := range questions {
		q := &questions[i]
		q.Prompt = strings.TrimSpace(q.Prompt)
		if q.Prompt == "" {
			return nil, fmt.Errorf("question %d: empty prompt", i+1)
		}
		if q.Kind == "" {
			q.Kind = model.KindChoice
		}
		switch q.Kind {
		case model.KindChoice:
			key := strings.ToUpper(strings.TrimSpace(q.AnswerKey))
			if key != "A" && key != "B" && key != "C" && key != "D" {
				return nil, fmt.Errorf("question %d: answer_key must be A-D", i+1)
			}
			q.AnswerKey = key
		case model.KindText:
			if strings.TrimSpace(q.AnswerKey) == "" {
				return nil, fmt.Errorf("question %d: text question needs an expected answer", i+1)
			}
		default:
			return nil, fmt.Errorf("question %d: unknown kind %q", i+1, q.Kind)
		}
		if q.Points <= 0 {
			q.Points = 1
		}
	}
	return questions, nil
}

type examDetailData struct {
	Exam      model.Exam
	Questions []model.Question
	Records   []model.ScoreRecord
	Summary   analytics.Summary
}

func (h *Handler) handleExamDetail(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	questions, records, sum, err := h.examAnalytics(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.render(w, r, "exam_detail.html", "comPASS · "+exam.Title, "", examDetailData{
		Exam:      exam,
		Questions: questions,
		Records:   records,
		Summary:   sum,
	})
}

func (h *Handler) handleExamStatus(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	next := model.ExamStatus(r.FormValue("status"))
	valid := (exam.Status == model.StatusDraft && next == model.StatusActive) ||
		(exam.Status == model.StatusActive && next == model.StatusClosed)
	if !valid {
		http.Error(w, fmt.Sprintf("cannot move exam from %s to %s", exam.Status, next), http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateExamStatus(exam.ID, next); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("exam status changed", "id", exam.ID, "from", exam.Status, "to", next)
	http.Redirect(w, r, h.path(fmt.Sprintf("/exams/%d", exam.ID)), http.StatusSeeOther)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteExam(exam.ID); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("exam deleted", "id", exam.ID, "title", exam.Title)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleRescore(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	if err := h.rescoreExam(exam); err != nil {
		h.fail(w, err)
		return
	}
	http.Redirect(w, r, h.path(fmt.Sprintf("/exams/%d", exam.ID)), http.StatusSeeOther)
}

// rescoreExam recomputes every stored score record for an exam against
// the current answer key and drops the cached analytics summary.
func (h *Handler) rescoreExam(exam model.Exam) error {
	questions, err := h.store.ListQuestions(exam.ID)
	if err != nil {
		return err
	}
	subs, err := h.store.ListSubmissions(exam.ID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		rec, err := scoring.Score(h.scoring, exam, questions, sub)
		if err != nil {
			return fmt.Errorf("rescore submission %d: %w", sub.ID, err)
		}
		if err := h.store.UpsertScoreRecord(rec); err != nil {
			return fmt.Errorf("store rescored record %d: %w", sub.ID, err)
		}
	}
	if err := h.store.InvalidateSummary(exam.ID); err != nil {
		return err
	}
	slog.Info("exam rescored", "id", exam.ID, "submissions", len(subs))
	return nil
}

func (h *Handler) handleEditAnswerKey(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		http.Error(w, "bad question id", http.StatusBadRequest)
		return
	}
	question, err := h.store.GetQuestion(questionID)
	if err != nil {
		h.fail(w, err)
		return
	}
	exam, err := h.store.GetExam(question.ExamID)
	if err != nil {
		h.fail(w, err)
		return
	}
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleAdmin && exam.InstructorID != user.ID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	key := strings.TrimSpace(r.FormValue("answer_key"))
	if question.Kind == model.KindChoice {
		key = strings.ToUpper(key)
		if key != "A" && key != "B" && key != "C" && key != "D" {
			http.Error(w, "answer key must be A-D", http.StatusBadRequest)
			return
		}
	} else if key == "" {
		http.Error(w, "answer key must not be empty", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateAnswerKey(questionID, key); err != nil {
		h.fail(w, err)
		return
	}
	// A key edit makes every stored record stale.
	if err := h.rescoreExam(exam); err != nil {
		h.fail(w, err)
		return
	}
	slog.Info("answer key edited", "question", questionID, "exam", exam.ID, "by", user.Username)
	http.Redirect(w, r, h.path(fmt.Sprintf("/exams/%d", exam.ID)), http.StatusSeeOther)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	_, records, sum, err := h.examAnalytics(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	narrative := insight.Unavailable("narrative generation is not configured")
	if h.narrative != nil && sum.HasData {
		narrative = h.narrative.ClassInsights(r.Context(), sum)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(r.Context(), w, exam, sum, records, narrative); err != nil {
		slog.Error("report render error", "exam", exam.ID, "error", err)
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	export, err := h.store.ExportExam(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=exam-%d-results.json", exam.ID))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		slog.Error("export encode error", "exam", exam.ID, "error", err)
	}
}

// examAnalytics loads the questions, score records, and summary backing
// every analytics surface of one exam.
func (h *Handler) examAnalytics(examID int64) ([]model.Question, []model.ScoreRecord, analytics.Summary, error) {
	questions, err := h.store.ListQuestions(examID)
	if err != nil {
		return nil, nil, analytics.Summary{}, err
	}
	records, err := h.store.ListScoreRecords(examID)
	if err != nil {
		return nil, nil, analytics.Summary{}, err
	}
	return questions, records, h.summarize(examID, questions, records), nil
}

func (h *Handler) handleRevisionPlan(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.narrative == nil {
		fmt.Fprintln(w, "Revision plan unavailable: narrative generation is not configured.")
		return
	}
	_, _, sum, err := h.examAnalytics(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !sum.HasData {
		fmt.Fprintln(w, "Revision plan unavailable: no submissions yet.")
		return
	}
	plan, err := h.narrative.RevisionPlan(r.Context(), sum)
	if err != nil {
		slog.Warn("revision plan unavailable", "exam", exam.ID, "error", err)
		fmt.Fprintln(w, "Revision plan unavailable: the language model did not respond.")
		return
	}
	fmt.Fprintln(w, plan)
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.narrative == nil {
		fmt.Fprintln(w, "Readiness assessment unavailable: narrative generation is not configured.")
		return
	}
	_, _, sum, err := h.examAnalytics(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !sum.HasData {
		fmt.Fprintln(w, "Readiness assessment unavailable: no submissions yet.")
		return
	}
	text, err := h.narrative.ReadinessAssessment(r.Context(), sum)
	if err != nil {
		slog.Warn("readiness assessment unavailable", "exam", exam.ID, "error", err)
		fmt.Fprintln(w, "Readiness assessment unavailable: the language model did not respond.")
		return
	}
	fmt.Fprintln(w, text)
}

func (h *Handler) handleTopicTips(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOwned(w, r)
	if !ok {
		return
	}
	topic := strings.TrimSpace(r.FormValue("topic"))
	if topic == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.narrative == nil {
		fmt.Fprintln(w, "Teaching tips unavailable: narrative generation is not configured.")
		return
	}
	_, _, sum, err := h.examAnalytics(exam.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	accuracy := -1.0
	for _, t := range sum.Topics {
		if t.Topic == topic {
			accuracy = t.Accuracy
			break
		}
	}
	if accuracy < 0 {
		http.Error(w, "no such topic on this exam", http.StatusNotFound)
		return
	}
	tips, err := h.narrative.TopicTips(r.Context(), topic, accuracy)
	if err != nil {
		slog.Warn("topic tips unavailable", "exam", exam.ID, "topic", topic, "error", err)
		fmt.Fprintln(w, "Teaching tips unavailable: the language model did not respond.")
		return
	}
	fmt.Fprintln(w, tips)
}
