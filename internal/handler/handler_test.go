package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/compasslabs/compass/internal/analytics"
	appI18n "github.com/compasslabs/compass/internal/i18n"
	"github.com/compasslabs/compass/internal/insight"
	"github.com/compasslabs/compass/internal/model"
	"github.com/compasslabs/compass/internal/scoring"
	"github.com/compasslabs/compass/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, chi.Router, *store.Store) {
	return newTestHandlerWith(t, nil)
}

func newTestHandlerWith(t *testing.T, narrative NarrativeService) (*Handler, chi.Router, *store.Store) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, narrative, model.ServerConfig{}, scoring.Config{})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	return h, r, s
}

// stubNarrative returns canned text so handler tests can assert the
// narrative wiring without a language model.
type stubNarrative struct{}

func (stubNarrative) ClassInsights(ctx context.Context, sum analytics.Summary) insight.Narrative {
	return insight.Narrative{Available: true, Summary: "class is doing fine"}
}

func (stubNarrative) RevisionPlan(ctx context.Context, sum analytics.Summary) (string, error) {
	return "revise the weak topics", nil
}

func (stubNarrative) ReadinessAssessment(ctx context.Context, sum analytics.Summary) (string, error) {
	return "the class is nearly ready", nil
}

func (stubNarrative) StudentAdvice(ctx context.Context, cmp analytics.StudentComparison, weakTopics []string) (string, error) {
	return "focus on " + strings.Join(weakTopics, ", "), nil
}

func (stubNarrative) TopicTips(ctx context.Context, topic string, accuracy float64) (string, error) {
	return "reteach " + topic, nil
}

// instructorSession creates an instructor account with a live session
// and returns its cookie. Called before any exams exist so the account
// gets user ID 1, matching the InstructorID used by activeExam.
func instructorSession(t *testing.T, s *store.Store) *http.Cookie {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username: "teach", DisplayName: "Teach",
		PasswordHash: "unused", Role: model.UserRoleInstructor, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func activeExam(t *testing.T, s *store.Store, code string) (int64, []model.Question) {
	t.Helper()
	id, err := s.CreateExam(model.Exam{
		InstructorID: 1,
		Title:        "Geography Quiz",
		Subject:      "Geography",
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		JoinCode:     code,
		Status:       model.StatusActive,
	}, []model.Question{
		{Prompt: "Capital of France?", Kind: model.KindChoice, OptionA: "Paris", OptionB: "Lyon", OptionC: "Nice", OptionD: "Lille", AnswerKey: "A", Points: 1, Topic: "capitals"},
	})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	questions, err := s.ListQuestions(id)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	return id, questions
}

// csrfToken fetches a page and returns the CSRF cookie value for
// follow-up POSTs.
func csrfToken(t *testing.T, r chi.Router) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/join", nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf_token" {
			return c
		}
	}
	t.Fatal("no csrf cookie issued")
	return nil
}

func postForm(r chi.Router, path string, csrf *http.Cookie, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	form.Set("csrf_token", csrf.Value)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(csrf)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDashboardRequiresAuth(t *testing.T) {
	_, r, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("GET / = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("redirect = %q, want /login", loc)
	}
}

func TestPostWithoutCSRFRejected(t *testing.T) {
	_, r, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/join", strings.NewReader("join_code=ABC234"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("POST without CSRF = %d, want 403", rec.Code)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	_, r, _ := newTestHandler(t)
	csrf := csrfToken(t, r)

	rec := postForm(r, "/join", csrf, url.Values{
		"join_code":    {"ZZZZZZ"},
		"student_name": {"Priya"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /join = %d, want 200 with message", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No test found") {
		t.Error("response should say the code is unknown")
	}
}

func TestJoinDraftExamRejected(t *testing.T) {
	_, r, s := newTestHandler(t)
	if _, err := s.CreateExam(model.Exam{
		InstructorID: 1, Title: "Draft", Subject: "x",
		ExpiresAt: time.Now().Add(time.Hour), JoinCode: "DRF234", Status: model.StatusDraft,
	}, []model.Question{{Prompt: "?", Kind: model.KindChoice, AnswerKey: "A", Points: 1}}); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	csrf := csrfToken(t, r)

	rec := postForm(r, "/join", csrf, url.Values{
		"join_code":    {"DRF234"},
		"student_name": {"Priya"},
	})
	if !strings.Contains(rec.Body.String(), "not open") {
		t.Error("draft exam should not accept students")
	}
}

func TestJoinExpiredExamRejected(t *testing.T) {
	_, r, s := newTestHandler(t)
	if _, err := s.CreateExam(model.Exam{
		InstructorID: 1, Title: "Old", Subject: "x",
		ExpiresAt: time.Now().Add(-time.Hour), JoinCode: "OLD234", Status: model.StatusActive,
	}, []model.Question{{Prompt: "?", Kind: model.KindChoice, AnswerKey: "A", Points: 1}}); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	csrf := csrfToken(t, r)

	rec := postForm(r, "/join", csrf, url.Values{
		"join_code":    {"OLD234"},
		"student_name": {"Priya"},
	})
	if !strings.Contains(rec.Body.String(), "expired") {
		t.Error("expired exam should not accept students")
	}
}

func TestStudentSubmitFlow(t *testing.T) {
	_, r, s := newTestHandler(t)
	examID, questions := activeExam(t, s, "GEO234")
	csrf := csrfToken(t, r)

	// Join redirects to the take page.
	rec := postForm(r, "/join", csrf, url.Values{
		"join_code":    {"geo234"}, // join codes are case-insensitive
		"student_name": {"Priya"},
	})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("POST /join = %d, want 303", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "/take/GEO234") {
		t.Fatalf("redirect = %q, want take page", loc)
	}

	// Take page shows the questions.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, loc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d, want 200", loc, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Capital of France?") {
		t.Error("take page should show the question prompt")
	}

	// Submit a correct answer; the result page renders inline.
	rec = postForm(r, "/take/GEO234", csrf, url.Values{
		"student_name": {"Priya"},
		"started_at":   {strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)},
		"q" + strconv.FormatInt(questions[0].ID, 10): {"A"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /take = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "100.0%") {
		t.Errorf("result page should show 100%%: %s", rec.Body.String())
	}

	// Submission and score record are durably stored.
	subs, err := s.ListSubmissions(examID)
	if err != nil || len(subs) != 1 {
		t.Fatalf("ListSubmissions = %v, %v", subs, err)
	}
	if subs[0].TimeTaken < 50 {
		t.Errorf("TimeTaken = %d, want about a minute", subs[0].TimeTaken)
	}
	records, err := s.ListScoreRecords(examID)
	if err != nil || len(records) != 1 {
		t.Fatalf("ListScoreRecords = %v, %v", records, err)
	}
	if records[0].Percentage != 100 {
		t.Errorf("Percentage = %.2f, want 100", records[0].Percentage)
	}
}

func TestResultPageShowsStudentAdvice(t *testing.T) {
	_, r, s := newTestHandlerWith(t, stubNarrative{})
	_, questions := activeExam(t, s, "ADV234")
	csrf := csrfToken(t, r)

	// A wrong answer leaves "capitals" as a missed topic, which the
	// advice prompt is built from.
	rec := postForm(r, "/take/ADV234", csrf, url.Values{
		"student_name": {"Priya"},
		"q" + strconv.FormatInt(questions[0].ID, 10): {"B"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /take = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Study advice") {
		t.Error("result page should have a study advice section")
	}
	if !strings.Contains(body, "focus on capitals") {
		t.Errorf("result page should show advice built from the missed topics: %s", body)
	}
}

func TestResultPageWithoutNarrative(t *testing.T) {
	_, r, s := newTestHandler(t)
	_, questions := activeExam(t, s, "NON234")
	csrf := csrfToken(t, r)

	rec := postForm(r, "/take/NON234", csrf, url.Values{
		"student_name": {"Priya"},
		"q" + strconv.FormatInt(questions[0].ID, 10): {"B"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /take = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Study advice") {
		t.Error("result page should omit the advice section when narrative generation is off")
	}
}

func TestNarrativeEndpoints(t *testing.T) {
	_, r, s := newTestHandlerWith(t, stubNarrative{})
	session := instructorSession(t, s)
	examID, questions := activeExam(t, s, "NAR234")
	csrf := csrfToken(t, r)

	// One submission so the exam has analytics to narrate.
	rec := postForm(r, "/take/NAR234", csrf, url.Values{
		"student_name": {"Priya"},
		"q" + strconv.FormatInt(questions[0].ID, 10): {"B"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /take = %d, want 200", rec.Code)
	}

	base := "/exams/" + strconv.FormatInt(examID, 10)

	rec = postForm(r, base+"/revision-plan", csrf, url.Values{}, session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "revise the weak topics") {
		t.Errorf("revision plan = %d %q", rec.Code, rec.Body.String())
	}

	rec = postForm(r, base+"/readiness", csrf, url.Values{}, session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "the class is nearly ready") {
		t.Errorf("readiness = %d %q", rec.Code, rec.Body.String())
	}

	rec = postForm(r, base+"/topic-tips", csrf, url.Values{"topic": {"capitals"}}, session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "reteach capitals") {
		t.Errorf("topic tips = %d %q", rec.Code, rec.Body.String())
	}

	rec = postForm(r, base+"/topic-tips", csrf, url.Values{"topic": {"algebra"}}, session)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown topic = %d, want 404", rec.Code)
	}

	rec = postForm(r, base+"/topic-tips", csrf, url.Values{}, session)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing topic = %d, want 400", rec.Code)
	}
}

func TestNarrativeEndpointsUnconfigured(t *testing.T) {
	_, r, s := newTestHandler(t)
	session := instructorSession(t, s)
	examID, _ := activeExam(t, s, "OFF234")
	csrf := csrfToken(t, r)

	base := "/exams/" + strconv.FormatInt(examID, 10)

	rec := postForm(r, base+"/readiness", csrf, url.Values{}, session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("readiness = %d %q, want a not-configured notice", rec.Code, rec.Body.String())
	}

	rec = postForm(r, base+"/topic-tips", csrf, url.Values{"topic": {"capitals"}}, session)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("topic tips = %d %q, want a not-configured notice", rec.Code, rec.Body.String())
	}
}

func TestParseQuestionsJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		qs, err := parseQuestionsJSON(`[
			{"prompt":"2+2?","kind":"choice","option_a":"3","option_b":"4","answer_key":"b"},
			{"prompt":"Explain photosynthesis","kind":"text","answer_key":"plants convert light to energy","points":5}
		]`)
		if err != nil {
			t.Fatalf("parseQuestionsJSON: %v", err)
		}
		if len(qs) != 2 {
			t.Fatalf("len = %d, want 2", len(qs))
		}
		if qs[0].AnswerKey != "B" {
			t.Errorf("choice key = %q, want normalized B", qs[0].AnswerKey)
		}
		if qs[0].Points != 1 {
			t.Errorf("default points = %d, want 1", qs[0].Points)
		}
		if qs[1].Points != 5 {
			t.Errorf("points = %d, want 5", qs[1].Points)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := parseQuestionsJSON(`[{"prompt":"?","kind":"choice","answer_key":"E"}]`)
		if err == nil {
			t.Fatal("want error for answer key E")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := parseQuestionsJSON(`[]`)
		if err == nil {
			t.Fatal("want error for empty question list")
		}
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseQuestionsJSON(`nope`)
		if err == nil {
			t.Fatal("want error for invalid JSON")
		}
	})
}
