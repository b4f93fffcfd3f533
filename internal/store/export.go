package store

import (
	"fmt"
	"time"

	"github.com/compasslabs/compass/internal/model"
)

// ExportExam builds an export-ready result set for one exam, combining each
// submission with its stored score breakdown.
func (s *Store) ExportExam(examID int64) (model.ExamExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("get exam %d: %w", examID, err)
	}
	questions, err := s.ListQuestions(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list questions: %w", err)
	}
	questionByID := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		questionByID[q.ID] = q
	}

	subs, err := s.ListSubmissions(examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list submissions: %w", err)
	}

	export := model.ExamExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		Subject:      exam.Subject,
		ExportedAt:   time.Now(),
		NumQuestions: len(questions),
	}

	for _, sub := range subs {
		rec, err := s.GetScoreRecord(sub.ID)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("get score for submission %d: %w", sub.ID, err)
		}

		result := model.StudentResult{
			StudentName: sub.StudentName,
			SubmittedAt: sub.SubmittedAt,
			TimeTaken:   sub.TimeTaken,
		}
		if rec != nil {
			result.CorrectCount = rec.CorrectCount
			result.TotalPoints = rec.TotalPoints
			result.MaxPoints = rec.MaxPoints
			result.Percentage = rec.Percentage
		}

		responseByQuestion := make(map[int64]string, len(sub.Answers))
		for _, a := range sub.Answers {
			responseByQuestion[a.QuestionID] = a.Response
		}

		for _, q := range questions {
			qr := model.QuestionResult{
				Prompt:    q.Prompt,
				Topic:     q.Topic,
				Kind:      q.Kind,
				AnswerKey: q.AnswerKey,
				Response:  responseByQuestion[q.ID],
				MaxPoints: q.Points,
			}
			if rec != nil {
				for _, qs := range rec.Questions {
					if qs.QuestionID == q.ID {
						qr.Correct = qs.Correct
						qr.PointsEarned = qs.PointsEarned
						break
					}
				}
			}
			result.Questions = append(result.Questions, qr)
		}

		export.Results = append(export.Results, result)
	}

	return export, nil
}
