package school

import (
	"fmt"
	"math"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/trigger"
)

// Collection names, shared by every document store backend.
const (
	CollectionSchools     = "schools"
	CollectionBatches     = "batches"
	CollectionSubjects    = "subjects"
	CollectionExams       = "exams"
	CollectionExamResults = "examResults"
	CollectionStudents    = "students"
)

type (
	// School is the root of the hierarchy. ActiveBatchID selects the batch
	// whose students count against exam grading backlogs.
	School struct {
		ID            string      `json:"id"`
		Name          string      `json:"name"`
		ActiveBatchID null.String `json:"activeBatchId"`
		CreatedAt     time.Time   `json:"createdAt"`
		UpdatedAt     time.Time   `json:"updatedAt"`
	}

	Batch struct {
		ID        string    `json:"id"`
		SchoolID  string    `json:"schoolId"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Subject carries rollup fields derived exclusively from its single
	// oldest not-done Exam; all zeros when no such exam exists.
	Subject struct {
		ID                  string    `json:"id"`
		SchoolID            string    `json:"schoolId"`
		Name                string    `json:"name"`
		PendingReview       int       `json:"pendingReview"`
		TotalStudentsPassed int       `json:"totalStudentsPassed"`
		TotalStudentsFailed int       `json:"totalStudentsFailed"`
		CreatedAt           time.Time `json:"createdAt"`
		UpdatedAt           time.Time `json:"updatedAt"`
	}

	Exam struct {
		ID           string       `json:"id"`
		SchoolID     string       `json:"schoolId"`
		SubjectID    string       `json:"subjectId"`
		Name         string       `json:"name"`
		PassingScore null.Float64 `json:"passingScore,omitempty"`

		// derived
		PendingReview       int  `json:"pendingReview"`
		IsDone              bool `json:"isDone"`
		TotalStudentsPassed int  `json:"totalStudentsPassed"`
		TotalStudentsFailed int  `json:"totalStudentsFailed"`

		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// ExamResult is keyed by the student it belongs to: its document id is
	// the studentId. Score is null while ungraded. SchoolID is optional;
	// the schema evolved to sometimes carry it for cross-hierarchy queries.
	ExamResult struct {
		ID        string       `json:"id"`
		SchoolID  null.String  `json:"schoolId,omitempty"`
		SubjectID string       `json:"subjectId"`
		ExamID    string       `json:"examId"`
		StudentID string       `json:"studentId"`
		Score     null.Float64 `json:"score,omitempty"`
		Comment   null.String  `json:"comment,omitempty"`
		CreatedAt time.Time    `json:"createdAt"`
		UpdatedAt time.Time    `json:"updatedAt"`
	}

	Student struct {
		ID           string       `json:"id"`
		SchoolID     string       `json:"schoolId"`
		Name         string       `json:"name"`
		PhotoURL     null.String  `json:"photoURL,omitempty"`
		BatchID      null.String  `json:"batchId,omitempty"`
		AverageScore null.Float64 `json:"averageScore,omitempty"`
		CreatedAt    time.Time    `json:"createdAt"`
		UpdatedAt    time.Time    `json:"updatedAt"`
	}
)

// ExamRef locates one exam in the hierarchy.
type ExamRef struct {
	SchoolID  string
	SubjectID string
	ExamID    string
}

func (r ExamRef) Path() string {
	return fmt.Sprintf("schools/%s/subjects/%s/exams/%s", r.SchoolID, r.SubjectID, r.ExamID)
}

func (e Exam) Ref() ExamRef {
	return ExamRef{SchoolID: e.SchoolID, SubjectID: e.SubjectID, ExamID: e.ID}
}

func (e Exam) Path() string { return e.Ref().Path() }

func (r ExamResult) Path() string {
	return fmt.Sprintf("schools/%s/subjects/%s/exams/%s/examResults/%s",
		r.SchoolID.String, r.SubjectID, r.ExamID, r.ID)
}

func SubjectPath(schoolID, subjectID string) string {
	return fmt.Sprintf("schools/%s/subjects/%s", schoolID, subjectID)
}

func StudentPath(schoolID, studentID string) string {
	return fmt.Sprintf("schools/%s/students/%s", schoolID, studentID)
}

// ExamCounters is the derived state the exam result aggregator writes onto
// an Exam, always as one partial update.
type ExamCounters struct {
	PendingReview       int
	IsDone              bool
	TotalStudentsPassed int
	TotalStudentsFailed int
}

// SubjectRollup mirrors the counters of the subject's oldest not-done exam.
type SubjectRollup struct {
	PendingReview       int
	TotalStudentsPassed int
	TotalStudentsFailed int
}

// ScoreOp selects a score comparison for server-side result counting.
type ScoreOp int

const (
	ScoreAbove   ScoreOp = iota // score > value
	ScoreAtLeast                // score >= value
	ScoreBelow                  // score < value
)

// ScoreCond is a single score filter; documents without a score never match.
type ScoreCond struct {
	Op    ScoreOp
	Value float64
}

// Matches evaluates the condition against a concrete score.
func (c ScoreCond) Matches(score float64) bool {
	switch c.Op {
	case ScoreAbove:
		return score > c.Value
	case ScoreAtLeast:
		return score >= c.Value
	case ScoreBelow:
		return score < c.Value
	default:
		return false
	}
}

// Snapshot encodes the result for change events.
func (r ExamResult) Snapshot() trigger.Snapshot {
	snap := trigger.Snapshot{
		"id":        r.ID,
		"subjectId": r.SubjectID,
		"examId":    r.ExamID,
		"studentId": r.StudentID,
	}
	if r.SchoolID.Valid {
		snap["schoolId"] = r.SchoolID.String
	}
	if r.Score.Valid {
		snap["score"] = r.Score.Float64
	}
	if r.Comment.Valid {
		snap["comment"] = r.Comment.String
	}
	return snap
}

func (e Exam) Snapshot() trigger.Snapshot {
	snap := trigger.Snapshot{
		"id":                  e.ID,
		"schoolId":            e.SchoolID,
		"subjectId":           e.SubjectID,
		"name":                e.Name,
		"pendingReview":       e.PendingReview,
		"isDone":              e.IsDone,
		"totalStudentsPassed": e.TotalStudentsPassed,
		"totalStudentsFailed": e.TotalStudentsFailed,
	}
	if e.PassingScore.Valid {
		snap["passingScore"] = e.PassingScore.Float64
	}
	return snap
}

// ResultScore decodes and normalizes a score off an event snapshot: absent,
// null or non-finite values all normalize to null.
func ResultScore(snap trigger.Snapshot) null.Float64 {
	v, ok := snap.Float64("score")
	if !ok || !IsFinite(v) {
		return null.Float64{}
	}
	return null.Float64From(v)
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
