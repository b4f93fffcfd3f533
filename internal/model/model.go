package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleInstructor is a teacher account that owns exams.
	UserRoleInstructor UserRole = "instructor"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Students do not have accounts; they join
// exams with a join code and a display name.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// ExamStatus represents the lifecycle state of an exam.
type ExamStatus string

const (
	// StatusDraft means the exam is being edited and not yet open to students.
	StatusDraft ExamStatus = "draft"
	// StatusActive means students can join and submit.
	StatusActive ExamStatus = "active"
	// StatusClosed means the exam no longer accepts submissions.
	StatusClosed ExamStatus = "closed"
)

// QuestionKind distinguishes multiple-choice from free-text questions.
type QuestionKind string

const (
	// KindChoice is a multiple-choice question with options A-D.
	KindChoice QuestionKind = "choice"
	// KindText is a free-text question graded against an expected answer.
	KindText QuestionKind = "text"
)

// Exam represents a named, ordered set of questions with an answer key.
type Exam struct {
	ID           int64      `json:"id"`
	InstructorID int64      `json:"instructor_id"`
	Title        string     `json:"title"`
	Subject      string     `json:"subject"`
	Duration     int        `json:"duration_minutes"` // 0 means untimed
	ExpiresAt    time.Time  `json:"expires_at"`
	JoinCode     string     `json:"join_code"`
	Status       ExamStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired reports whether the exam's expiry time has passed.
func (e Exam) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Question represents one exam question with its answer key.
type Question struct {
	ID       int64        `json:"id"`
	ExamID   int64        `json:"exam_id"`
	Position int          `json:"position"`
	Prompt   string       `json:"prompt"`
	Kind     QuestionKind `json:"kind"`
	OptionA  string       `json:"option_a,omitempty"`
	OptionB  string       `json:"option_b,omitempty"`
	OptionC  string       `json:"option_c,omitempty"`
	OptionD  string       `json:"option_d,omitempty"`
	// AnswerKey is the correct option letter for choice questions,
	// or the expected answer text for free-text questions.
	AnswerKey string `json:"answer_key"`
	Points    int    `json:"points"`
	Topic     string `json:"topic,omitempty"`
}

// Answer is one (question, response) pair inside a submission.
type Answer struct {
	QuestionID int64  `json:"question_id"`
	Response   string `json:"response"` // empty means unanswered
}

// Submission records one student's answers to an exam. Created once at
// submit time and append-only thereafter.
type Submission struct {
	ID          int64     `json:"id"`
	ExamID      int64     `json:"exam_id"`
	StudentName string    `json:"student_name"`
	Answers     []Answer  `json:"answers"`
	SubmittedAt time.Time `json:"submitted_at"`
	TimeTaken   int       `json:"time_taken_seconds"`
}

// QuestionScore holds per-question correctness for one submission.
type QuestionScore struct {
	QuestionID   int64   `json:"question_id"`
	Topic        string  `json:"topic,omitempty"`
	Answered     bool    `json:"answered"`
	Correct      bool    `json:"correct"`
	PointsEarned float64 `json:"points_earned"`
	MaxPoints    int     `json:"max_points"`
}

// ScoreRecord is the computed result of scoring a Submission against an
// Exam's answer key. It is persisted only as a cache; it is always
// reproducible from the Submission plus the key, and exam key edits
// trigger rescoring.
type ScoreRecord struct {
	SubmissionID int64           `json:"submission_id"`
	ExamID       int64           `json:"exam_id"`
	StudentName  string          `json:"student_name"`
	Questions    []QuestionScore `json:"questions"`
	CorrectCount int             `json:"correct_count"`
	TotalPoints  float64         `json:"total_points"`
	MaxPoints    int             `json:"max_points"`
	Percentage   float64         `json:"percentage"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/compass")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	Lang          string        // UI language tag
	InsightModel  string        // LLM model name, shown on reports
	LLMTimeout    time.Duration // per-call budget for narrative generation
}
