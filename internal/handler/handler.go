package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/compasslabs/compass/internal/analytics"
	"github.com/compasslabs/compass/internal/handler/views"
	"github.com/compasslabs/compass/internal/insight"
	"github.com/compasslabs/compass/internal/model"
	"github.com/compasslabs/compass/internal/scoring"
	"github.com/compasslabs/compass/internal/store"
)

// NarrativeService is the slice of the insight client the handlers use.
// It may be nil when no narrative endpoint is configured; every caller
// treats that as "insight unavailable".
type NarrativeService interface {
	ClassInsights(ctx context.Context, sum analytics.Summary) insight.Narrative
	RevisionPlan(ctx context.Context, sum analytics.Summary) (string, error)
	ReadinessAssessment(ctx context.Context, sum analytics.Summary) (string, error)
	StudentAdvice(ctx context.Context, comp analytics.StudentComparison, weakTopics []string) (string, error)
	TopicTips(ctx context.Context, topic string, accuracy float64) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	narrative NarrativeService
	config    model.ServerConfig
	scoring   scoring.Config
}

// New creates a new Handler. narrative may be nil.
func New(s *store.Store, narrative NarrativeService, cfg model.ServerConfig, scoringCfg scoring.Config) *Handler {
	return &Handler{store: s, narrative: narrative, config: cfg, scoring: scoringCfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)

	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	// Student surface: no account, join code only.
	r.Get("/join", h.handleJoinPage)
	r.Post("/join", h.handleJoin)
	r.Get("/take/{code}", h.handleTakePage)
	r.Post("/take/{code}", h.handleSubmit)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleDashboard)
		r.Get("/exams/new", h.handleNewExamPage)
		r.Post("/exams", h.handleCreateExam)
		r.Get("/exams/{examID}", h.handleExamDetail)
		r.Post("/exams/{examID}/status", h.handleExamStatus)
		r.Post("/exams/{examID}/delete", h.handleDeleteExam)
		r.Post("/exams/{examID}/rescore", h.handleRescore)
		r.Post("/questions/{questionID}/key", h.handleEditAnswerKey)
		r.Get("/exams/{examID}/report", h.handleReport)
		r.Get("/exams/{examID}/export", h.handleExport)
		r.Post("/exams/{examID}/revision-plan", h.handleRevisionPlan)
		r.Post("/exams/{examID}/readiness", h.handleReadiness)
		r.Post("/exams/{examID}/topic-tips", h.handleTopicTips)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleAdminUsersPage)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/active", h.handleSetUserActive)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request
// context so templates can build absolute links.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

// render writes a page, filling the envelope from the request context.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title, flash string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := views.Page{
		Title:     title,
		BasePath:  h.config.BasePath,
		CSRFToken: model.CSRFTokenFromContext(r.Context()),
		User:      model.UserFromContext(r.Context()),
		Flash:     flash,
		Data:      data,
	}
	if err := views.Render(w, name, page); err != nil {
		slog.Error("render error", "page", name, "error", err)
	}
}

// fail maps an error to the right HTTP status. Validation problems are
// the user's to fix; not-found is 404; anything else is a retryable
// server-side failure.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var ve *scoring.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		slog.Error("request failed", "error", err)
		http.Error(w, "temporary failure, please retry", http.StatusInternalServerError)
	}
}

type examRow struct {
	Exam            model.Exam
	SubmissionCount int
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.store.ListExamsByInstructor(user.ID)
	if err != nil {
		h.fail(w, err)
		return
	}

	rows := make([]examRow, 0, len(exams))
	for _, e := range exams {
		count, err := h.store.SubmissionCount(e.ID)
		if err != nil {
			h.fail(w, err)
			return
		}
		rows = append(rows, examRow{Exam: e, SubmissionCount: count})
	}

	h.render(w, r, "dashboard.html", "comPASS · Dashboard", "", struct{ Exams []examRow }{rows})
}

// summarize returns the analytics summary for an exam, using the cached
// copy when it still matches the submission count. Cache failures only
// cost a recompute; they never fail the request.
func (h *Handler) summarize(examID int64, questions []model.Question, records []model.ScoreRecord) analytics.Summary {
	payload, cachedCount, err := h.store.GetCachedSummary(examID)
	if err == nil && payload != nil && cachedCount == len(records) {
		var sum analytics.Summary
		if err := json.Unmarshal(payload, &sum); err == nil {
			return sum
		}
		slog.Warn("discarding unreadable analytics cache", "exam", examID, "error", err)
	}

	sum := analytics.Summarize(questions, records)
	if data, err := json.Marshal(sum); err == nil {
		if err := h.store.PutCachedSummary(examID, len(records), data); err != nil {
			slog.Warn("failed to cache analytics summary", "exam", examID, "error", err)
		}
	}
	return sum
}
