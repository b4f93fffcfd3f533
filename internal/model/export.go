package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID       int64           `json:"exam_id"`
	Title        string          `json:"title"`
	Subject      string          `json:"subject"`
	ExportedAt   time.Time       `json:"exported_at"`
	NumQuestions int             `json:"num_questions"`
	Results      []StudentResult `json:"results"`
}

// StudentResult holds one student's submission data for export.
type StudentResult struct {
	StudentName  string           `json:"student_name"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	TimeTaken    int              `json:"time_taken_seconds"`
	Questions    []QuestionResult `json:"questions"`
	CorrectCount int              `json:"correct_count"`
	TotalPoints  float64          `json:"total_points"`
	MaxPoints    int              `json:"max_points"`
	Percentage   float64          `json:"percentage"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	Prompt       string       `json:"prompt"`
	Topic        string       `json:"topic,omitempty"`
	Kind         QuestionKind `json:"kind"`
	AnswerKey    string       `json:"answer_key"`
	Response     string       `json:"response"`
	Correct      bool         `json:"correct"`
	PointsEarned float64      `json:"points_earned"`
	MaxPoints    int          `json:"max_points"`
}
