// Package analytics rolls a set of score records up into the aggregate
// statistics shown on exam dashboards and reports. All formulas are simple
// and transparent; every output slice is sorted so the result is identical
// regardless of input or map iteration order.
package analytics

import (
	"math"
	"sort"
	"strconv"

	"github.com/compasslabs/compass/internal/model"
)

// Risk thresholds and topic cutoffs, in percent.
const (
	HighRiskBelow   = 40.0
	MediumRiskBelow = 65.0
	WeakTopicBelow  = 60.0
	StrongTopicFrom = 80.0
)

// Bucket is one histogram bar of the score distribution.
type Bucket struct {
	Label string  `json:"label"` // e.g. "70-79"
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Count int     `json:"count"`
}

// QuestionDifficulty is the fraction of attempting students who answered
// a question correctly. 1.0 means everyone got it right.
type QuestionDifficulty struct {
	QuestionID int64   `json:"question_id"`
	Position   int     `json:"position"`
	Topic      string  `json:"topic,omitempty"`
	Attempted  int     `json:"attempted"`
	Correct    int     `json:"correct"`
	Difficulty float64 `json:"difficulty"` // correct / attempted, 0 when unattempted
}

// TopicAccuracy aggregates difficulty across questions sharing a topic tag.
type TopicAccuracy struct {
	Topic     string  `json:"topic"`
	Questions int     `json:"questions"`
	Attempted int     `json:"attempted"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"` // mean question difficulty, percent
}

// StudentStanding places one student in a risk band.
type StudentStanding struct {
	StudentName string  `json:"student_name"`
	Percentage  float64 `json:"percentage"`
}

// RiskBreakdown groups students by how urgently they need intervention.
type RiskBreakdown struct {
	High   []StudentStanding `json:"high"`   // below HighRiskBelow
	Medium []StudentStanding `json:"medium"` // below MediumRiskBelow
	Low    []StudentStanding `json:"low"`
}

// Readiness is the class-level exam readiness indicator.
type Readiness struct {
	Score             float64 `json:"score"` // 0-100
	Status            string  `json:"status"`
	HighPerformersPct float64 `json:"high_performers_pct"` // >= 70%
	AtRiskPct         float64 `json:"at_risk_pct"`         // < 40%
	Recommendation    string  `json:"recommendation"`
}

// Readiness status values.
const (
	ReadinessReady      = "Exam Ready"
	ReadinessBorderline = "Borderline"
	ReadinessNotReady   = "Not Ready"
	ReadinessNoData     = "No Data"
)

// Quartiles holds the score distribution quartiles.
type Quartiles struct {
	Q1 float64 `json:"q1"`
	Q2 float64 `json:"q2"`
	Q3 float64 `json:"q3"`
}

// Summary is the full aggregate over all score records of one exam.
// HasData is false when there are no submissions; consumers must check it
// before reading the statistics.
type Summary struct {
	HasData         bool                 `json:"has_data"`
	SubmissionCount int                  `json:"submission_count"`
	QuestionCount   int                  `json:"question_count"`
	Mean            float64              `json:"mean"`
	Median          float64              `json:"median"`
	StdDev          float64              `json:"std_dev"`
	Min             float64              `json:"min"`
	Max             float64              `json:"max"`
	Quartiles       Quartiles            `json:"quartiles"`
	Histogram       []Bucket             `json:"histogram"`
	Questions       []QuestionDifficulty `json:"questions"`
	Topics          []TopicAccuracy      `json:"topics"`
	WeakTopics      []TopicAccuracy      `json:"weak_topics"`
	StrongTopics    []TopicAccuracy      `json:"strong_topics"`
	Risk            RiskBreakdown        `json:"risk"`
	Readiness       Readiness            `json:"readiness"`
}

// Summarize aggregates score records into a Summary. A nil or empty record
// set yields HasData=false and zero statistics; nothing divides by zero.
func Summarize(questions []model.Question, records []model.ScoreRecord) Summary {
	sum := Summary{
		QuestionCount: len(questions),
		Readiness:     Readiness{Status: ReadinessNoData, Recommendation: "No submissions to analyze"},
	}
	if len(records) == 0 {
		return sum
	}

	sum.HasData = true
	sum.SubmissionCount = len(records)

	percentages := make([]float64, 0, len(records))
	for _, r := range records {
		percentages = append(percentages, r.Percentage)
	}
	sort.Float64s(percentages)

	sum.Mean = round2(mean(percentages))
	sum.Median = round2(percentile(percentages, 50))
	sum.StdDev = round2(stdDev(percentages))
	sum.Min = percentages[0]
	sum.Max = percentages[len(percentages)-1]
	sum.Quartiles = Quartiles{
		Q1: round2(percentile(percentages, 25)),
		Q2: round2(percentile(percentages, 50)),
		Q3: round2(percentile(percentages, 75)),
	}
	sum.Histogram = histogram(percentages)
	sum.Questions = questionDifficulties(questions, records)
	sum.Topics = topicAccuracy(sum.Questions)
	sum.WeakTopics, sum.StrongTopics = splitTopics(sum.Topics)
	sum.Risk = classifyRisk(records)
	sum.Readiness = readiness(percentages)
	return sum
}

func questionDifficulties(questions []model.Question, records []model.ScoreRecord) []QuestionDifficulty {
	byID := make(map[int64]*QuestionDifficulty, len(questions))
	out := make([]QuestionDifficulty, len(questions))
	for i, q := range questions {
		out[i] = QuestionDifficulty{QuestionID: q.ID, Position: q.Position, Topic: q.Topic}
		byID[q.ID] = &out[i]
	}

	for _, r := range records {
		for _, qs := range r.Questions {
			d, ok := byID[qs.QuestionID]
			if !ok || !qs.Answered {
				continue
			}
			d.Attempted++
			if qs.Correct {
				d.Correct++
			}
		}
	}

	for i := range out {
		if out[i].Attempted > 0 {
			out[i].Difficulty = round2(float64(out[i].Correct) / float64(out[i].Attempted))
		}
	}
	return out
}

// topicAccuracy is the mean per-question difficulty across questions that
// share a topic tag, expressed as a percentage. Untagged questions are
// left out.
func topicAccuracy(questions []QuestionDifficulty) []TopicAccuracy {
	byTopic := make(map[string]*TopicAccuracy)
	for _, q := range questions {
		if q.Topic == "" {
			continue
		}
		t, ok := byTopic[q.Topic]
		if !ok {
			t = &TopicAccuracy{Topic: q.Topic}
			byTopic[q.Topic] = t
		}
		t.Questions++
		t.Attempted += q.Attempted
		t.Correct += q.Correct
		t.Accuracy += q.Difficulty
	}

	topics := make([]TopicAccuracy, 0, len(byTopic))
	for _, t := range byTopic {
		t.Accuracy = round2(t.Accuracy / float64(t.Questions) * 100)
		topics = append(topics, *t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })
	return topics
}

func splitTopics(topics []TopicAccuracy) (weak, strong []TopicAccuracy) {
	for _, t := range topics {
		switch {
		case t.Accuracy < WeakTopicBelow:
			weak = append(weak, t)
		case t.Accuracy >= StrongTopicFrom:
			strong = append(strong, t)
		}
	}
	// Weakest first; strongest first.
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].Accuracy < weak[j].Accuracy })
	sort.SliceStable(strong, func(i, j int) bool { return strong[i].Accuracy > strong[j].Accuracy })
	return weak, strong
}

func classifyRisk(records []model.ScoreRecord) RiskBreakdown {
	var rb RiskBreakdown
	for _, r := range records {
		st := StudentStanding{StudentName: r.StudentName, Percentage: r.Percentage}
		switch {
		case r.Percentage < HighRiskBelow:
			rb.High = append(rb.High, st)
		case r.Percentage < MediumRiskBelow:
			rb.Medium = append(rb.Medium, st)
		default:
			rb.Low = append(rb.Low, st)
		}
	}
	byPctAsc := func(s []StudentStanding) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].Percentage != s[j].Percentage {
				return s[i].Percentage < s[j].Percentage
			}
			return s[i].StudentName < s[j].StudentName
		}
	}
	sort.SliceStable(rb.High, byPctAsc(rb.High))
	sort.SliceStable(rb.Medium, byPctAsc(rb.Medium))
	sort.SliceStable(rb.Low, func(i, j int) bool {
		if rb.Low[i].Percentage != rb.Low[j].Percentage {
			return rb.Low[i].Percentage > rb.Low[j].Percentage
		}
		return rb.Low[i].StudentName < rb.Low[j].StudentName
	})
	return rb
}

// readiness scores the class: base is the mean percentage, +5 for
// consistent scores (stddev < 15), +3 when more than half the class is at
// 70% or above, -10 when over 30% of the class is below 40%. Clamped to
// [0, 100].
func readiness(percentages []float64) Readiness {
	n := float64(len(percentages))
	avg := mean(percentages)
	sd := stdDev(percentages)

	high, atRisk := 0, 0
	for _, p := range percentages {
		if p >= 70 {
			high++
		}
		if p < HighRiskBelow {
			atRisk++
		}
	}
	highPct := float64(high) / n * 100
	atRiskPct := float64(atRisk) / n * 100

	score := avg
	if sd < 15 {
		score += 5
	}
	if highPct > 50 {
		score += 3
	}
	if atRiskPct > 30 {
		score -= 10
	}
	score = math.Min(100, math.Max(0, score))

	r := Readiness{
		Score:             round2(score),
		HighPerformersPct: round2(highPct),
		AtRiskPct:         round2(atRiskPct),
	}
	switch {
	case score >= 75:
		r.Status = ReadinessReady
		r.Recommendation = "Class is well-prepared. Focus on revision and practice."
	case score >= 60:
		r.Status = ReadinessBorderline
		r.Recommendation = "Targeted intervention on weak topics recommended before the exam."
	default:
		r.Status = ReadinessNotReady
		r.Recommendation = "Significant gaps identified. Conduct intensive revision sessions."
	}
	return r
}

// StudentComparison places one student's result against the whole class.
type StudentComparison struct {
	StudentName   string  `json:"student_name"`
	Percentage    float64 `json:"percentage"`
	ClassAverage  float64 `json:"class_average"`
	Difference    float64 `json:"difference"` // positive = above average
	Percentile    float64 `json:"percentile"`
	Rank          int     `json:"rank"` // 1 = best
	TotalStudents int     `json:"total_students"`
	Category      string  `json:"category"`
}

// Performance categories by percentile.
const (
	CategoryTop          = "Top Performer"
	CategoryAboveAverage = "Above Average"
	CategoryBelowAverage = "Below Average"
	CategoryNeedsSupport = "Needs Support"
)

// CompareStudent computes rank and percentile for one record among all
// records for the exam (which must include the student's own).
func CompareStudent(rec model.ScoreRecord, all []model.ScoreRecord) StudentComparison {
	percentages := make([]float64, 0, len(all))
	for _, r := range all {
		percentages = append(percentages, r.Percentage)
	}
	n := len(percentages)

	atOrBelow := 0
	rank := 1
	for _, p := range percentages {
		if p <= rec.Percentage {
			atOrBelow++
		}
		if p > rec.Percentage {
			rank++
		}
	}

	avg := mean(percentages)
	pct := float64(atOrBelow) / float64(n) * 100

	c := StudentComparison{
		StudentName:   rec.StudentName,
		Percentage:    rec.Percentage,
		ClassAverage:  round2(avg),
		Difference:    round2(rec.Percentage - avg),
		Percentile:    round2(pct),
		Rank:          rank,
		TotalStudents: n,
	}
	switch {
	case pct >= 75:
		c.Category = CategoryTop
	case pct >= 50:
		c.Category = CategoryAboveAverage
	case pct >= 25:
		c.Category = CategoryBelowAverage
	default:
		c.Category = CategoryNeedsSupport
	}
	return c
}

// histogram distributes percentages into fixed 10-point buckets. The top
// bucket is closed at 100 so a perfect score lands in 90-100.
func histogram(sorted []float64) []Bucket {
	buckets := make([]Bucket, 10)
	for i := range buckets {
		from := float64(i * 10)
		to := from + 10
		label := strconv.Itoa(int(from)) + "-" + strconv.Itoa(int(to)-1)
		if i == 9 {
			label = "90-100"
		}
		buckets[i] = Bucket{Label: label, From: from, To: to}
	}
	for _, p := range sorted {
		idx := int(p / 10)
		if idx > 9 {
			idx = 9
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx].Count++
	}
	return buckets
}

func mean(vals []float64) float64 {
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

// stdDev is the population standard deviation.
func stdDev(vals []float64) float64 {
	m := mean(vals)
	var sq float64
	for _, v := range vals {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)))
}

// percentile uses linear interpolation between closest ranks over a
// sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
