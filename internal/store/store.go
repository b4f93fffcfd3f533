package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/compasslabs/compass/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instructor_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		subject TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME NOT NULL,
		join_code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (instructor_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'choice',
		option_a TEXT NOT NULL DEFAULT '',
		option_b TEXT NOT NULL DEFAULT '',
		option_c TEXT NOT NULL DEFAULT '',
		option_d TEXT NOT NULL DEFAULT '',
		answer_key TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 1,
		topic TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_name TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		time_taken INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS score_records (
		submission_id INTEGER PRIMARY KEY,
		exam_id INTEGER NOT NULL,
		student_name TEXT NOT NULL,
		correct_count INTEGER NOT NULL DEFAULT 0,
		total_points REAL NOT NULL DEFAULT 0,
		max_points INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		breakdown TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS analytics_cache (
		exam_id INTEGER PRIMARY KEY,
		submission_count INTEGER NOT NULL,
		payload TEXT NOT NULL,
		computed_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam inserts an exam and its questions in one transaction.
// Question positions are assigned from slice order.
func (s *Store) CreateExam(exam model.Exam, questions []model.Question) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO exams (instructor_id, title, subject, duration, expires_at, join_code, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exam.InstructorID, exam.Title, exam.Subject, exam.Duration,
		exam.ExpiresAt, exam.JoinCode, exam.Status, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range questions {
		_, err := tx.Exec(
			`INSERT INTO questions (exam_id, position, prompt, kind, option_a, option_b, option_c, option_d, answer_key, points, topic)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			examID, i+1, q.Prompt, q.Kind, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
			q.AnswerKey, q.Points, q.Topic,
		)
		if err != nil {
			return 0, err
		}
	}

	return examID, tx.Commit()
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, instructor_id, title, subject, duration, expires_at, join_code, status, created_at
		 FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.InstructorID, &e.Title, &e.Subject, &e.Duration, &e.ExpiresAt, &e.JoinCode, &e.Status, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// GetExamByJoinCode returns an exam by its join code (case-insensitive).
func (s *Store) GetExamByJoinCode(code string) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, instructor_id, title, subject, duration, expires_at, join_code, status, created_at
		 FROM exams WHERE join_code = ? COLLATE NOCASE`, code,
	).Scan(&e.ID, &e.InstructorID, &e.Title, &e.Subject, &e.Duration, &e.ExpiresAt, &e.JoinCode, &e.Status, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// ListExamsByInstructor returns all exams owned by an instructor, newest first.
func (s *Store) ListExamsByInstructor(instructorID int64) ([]model.Exam, error) {
	rows, err := s.db.Query(
		`SELECT id, instructor_id, title, subject, duration, expires_at, join_code, status, created_at
		 FROM exams WHERE instructor_id = ? ORDER BY id DESC`, instructorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.InstructorID, &e.Title, &e.Subject, &e.Duration, &e.ExpiresAt, &e.JoinCode, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateExamStatus updates the exam lifecycle status.
func (s *Store) UpdateExamStatus(id int64, status model.ExamStatus) error {
	_, err := s.db.Exec(`UPDATE exams SET status = ? WHERE id = ?`, status, id)
	return err
}

// DeleteExam removes an exam and everything hanging off it.
func (s *Store) DeleteExam(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM analytics_cache WHERE exam_id = ?`,
		`DELETE FROM score_records WHERE exam_id = ?`,
		`DELETE FROM answers WHERE submission_id IN (SELECT id FROM submissions WHERE exam_id = ?)`,
		`DELETE FROM submissions WHERE exam_id = ?`,
		`DELETE FROM questions WHERE exam_id = ?`,
		`DELETE FROM exams WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListQuestions returns an exam's questions in position order.
func (s *Store) ListQuestions(examID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, position, prompt, kind, option_a, option_b, option_c, option_d, answer_key, points, topic
		 FROM questions WHERE exam_id = ? ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Position, &q.Prompt, &q.Kind,
			&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.AnswerKey, &q.Points, &q.Topic); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT id, exam_id, position, prompt, kind, option_a, option_b, option_c, option_d, answer_key, points, topic
		 FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.ExamID, &q.Position, &q.Prompt, &q.Kind,
		&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.AnswerKey, &q.Points, &q.Topic)
	if errors.Is(err, sql.ErrNoRows) {
		return q, ErrNotFound
	}
	return q, err
}

// UpdateAnswerKey changes a question's answer key. Callers must follow up
// with rescoring; stored score records are stale after this.
func (s *Store) UpdateAnswerKey(questionID int64, key string) error {
	res, err := s.db.Exec(`UPDATE questions SET answer_key = ? WHERE id = ?`, key, questionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSubmission inserts a submission and its answers in one transaction.
func (s *Store) CreateSubmission(sub model.Submission) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO submissions (exam_id, student_name, submitted_at, time_taken) VALUES (?, ?, ?, ?)`,
		sub.ExamID, sub.StudentName, time.Now(), sub.TimeTaken,
	)
	if err != nil {
		return 0, err
	}
	subID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, a := range sub.Answers {
		_, err := tx.Exec(
			`INSERT INTO answers (submission_id, question_id, response) VALUES (?, ?, ?)`,
			subID, a.QuestionID, a.Response,
		)
		if err != nil {
			return 0, err
		}
	}

	return subID, tx.Commit()
}

// GetSubmission returns a submission with its answers.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	var sub model.Submission
	err := s.db.QueryRow(
		`SELECT id, exam_id, student_name, submitted_at, time_taken FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.ExamID, &sub.StudentName, &sub.SubmittedAt, &sub.TimeTaken)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, ErrNotFound
	}
	if err != nil {
		return sub, err
	}
	sub.Answers, err = s.listAnswers(sub.ID)
	return sub, err
}

func (s *Store) listAnswers(submissionID int64) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, response FROM answers WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.Response); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListSubmissions returns all submissions for an exam with answers, newest first.
func (s *Store) ListSubmissions(examID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, student_name, submitted_at, time_taken
		 FROM submissions WHERE exam_id = ? ORDER BY id DESC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.ExamID, &sub.StudentName, &sub.SubmittedAt, &sub.TimeTaken); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		answers, err := s.listAnswers(subs[i].ID)
		if err != nil {
			return nil, err
		}
		subs[i].Answers = answers
	}
	return subs, nil
}

// ListSubmissionsByStudent returns one student's submissions to an exam,
// matched case-insensitively, newest first. Students can submit more than
// once; callers decide which attempt counts.
func (s *Store) ListSubmissionsByStudent(examID int64, studentName string) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, student_name, submitted_at, time_taken
		 FROM submissions WHERE exam_id = ? AND student_name = ? COLLATE NOCASE ORDER BY id DESC`,
		examID, studentName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.ExamID, &sub.StudentName, &sub.SubmittedAt, &sub.TimeTaken); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		answers, err := s.listAnswers(subs[i].ID)
		if err != nil {
			return nil, err
		}
		subs[i].Answers = answers
	}
	return subs, nil
}

// SubmissionCount returns the number of submissions for an exam.
func (s *Store) SubmissionCount(examID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE exam_id = ?`, examID).Scan(&count)
	return count, err
}

// UpsertScoreRecord stores the computed score for a submission.
func (s *Store) UpsertScoreRecord(rec model.ScoreRecord) error {
	breakdown, err := json.Marshal(rec.Questions)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO score_records (submission_id, exam_id, student_name, correct_count, total_points, max_points, percentage, breakdown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id) DO UPDATE SET
		   correct_count = excluded.correct_count,
		   total_points = excluded.total_points,
		   max_points = excluded.max_points,
		   percentage = excluded.percentage,
		   breakdown = excluded.breakdown`,
		rec.SubmissionID, rec.ExamID, rec.StudentName, rec.CorrectCount,
		rec.TotalPoints, rec.MaxPoints, rec.Percentage, string(breakdown),
	)
	return err
}

// GetScoreRecord returns the stored score for a submission, or nil if absent.
func (s *Store) GetScoreRecord(submissionID int64) (*model.ScoreRecord, error) {
	var rec model.ScoreRecord
	var breakdown string
	err := s.db.QueryRow(
		`SELECT submission_id, exam_id, student_name, correct_count, total_points, max_points, percentage, breakdown
		 FROM score_records WHERE submission_id = ?`, submissionID,
	).Scan(&rec.SubmissionID, &rec.ExamID, &rec.StudentName, &rec.CorrectCount,
		&rec.TotalPoints, &rec.MaxPoints, &rec.Percentage, &breakdown)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breakdown), &rec.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return &rec, nil
}

// ListScoreRecords returns all stored scores for an exam ordered by submission ID.
func (s *Store) ListScoreRecords(examID int64) ([]model.ScoreRecord, error) {
	rows, err := s.db.Query(
		`SELECT submission_id, exam_id, student_name, correct_count, total_points, max_points, percentage, breakdown
		 FROM score_records WHERE exam_id = ? ORDER BY submission_id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.ScoreRecord
	for rows.Next() {
		var rec model.ScoreRecord
		var breakdown string
		if err := rows.Scan(&rec.SubmissionID, &rec.ExamID, &rec.StudentName, &rec.CorrectCount,
			&rec.TotalPoints, &rec.MaxPoints, &rec.Percentage, &breakdown); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(breakdown), &rec.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal breakdown: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteScoreRecords drops all stored scores for an exam. Used before a
// rescore pass after an answer key edit.
func (s *Store) DeleteScoreRecords(examID int64) error {
	_, err := s.db.Exec(`DELETE FROM score_records WHERE exam_id = ?`, examID)
	return err
}
