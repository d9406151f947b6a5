package grading

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/school"
	"github.com/dadanisme/shule/core/trigger"
)

var (
	// errors
	ErrSchoolNotFound  = errors.New("school not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrExamNotFound    = errors.New("exam not found")
	ErrStudentNotFound = errors.New("student not found")
)

type (
	Repository interface {
		GetSchool(ctx context.Context, schoolID string) (school.School, error)
		GetExam(ctx context.Context, ref school.ExamRef) (school.Exam, error)
		// CountStudentsInBatch counts the school's students whose batchId matches.
		CountStudentsInBatch(ctx context.Context, schoolID, batchID string) (int, error)
		// CountExamResults counts the exam's results matching the score condition.
		CountExamResults(ctx context.Context, ref school.ExamRef, cond school.ScoreCond) (int, error)
		// OldestPendingExam returns the subject's oldest (createdAt asc) exam
		// with isDone == false, or nil when every exam is done.
		OldestPendingExam(ctx context.Context, schoolID, subjectID string) (*school.Exam, error)
		// FindStudentScores returns the score of every examResult carrying one
		// for this student. scopeBySchool narrows the query to the given school;
		// without it the store's own per-school partitioning is relied upon.
		FindStudentScores(ctx context.Context, studentID, schoolID string, scopeBySchool bool) ([]float64, error)

		UpdateExamCounters(ctx context.Context, ref school.ExamRef, counters school.ExamCounters) error
		UpdateSubjectRollup(ctx context.Context, schoolID, subjectID string, rollup school.SubjectRollup) error
		UpdateStudentAverage(ctx context.Context, schoolID, studentID string, avg null.Float64) error

		ListSubjects(ctx context.Context, schoolID string) ([]school.Subject, error)
		ListExams(ctx context.Context, schoolID, subjectID string) ([]school.Exam, error)
		ListStudents(ctx context.Context, schoolID string) ([]school.Student, error)
	}

	Service struct {
		repo          Repository
		logger        core.Logger
		scopeBySchool bool
	}
)

func NewService(repo Repository, logger core.Logger, conf core.AggregatorConfig) *Service {
	return &Service{
		repo:          repo,
		logger:        logger,
		scopeBySchool: conf.ScopeAveragesBySchool,
	}
}

// Trigger path templates. The student-average binding re-reads the result
// document id as the studentId: results are keyed by student.
const (
	resultWritePattern  = "schools/{schoolId}/subjects/{subjectId}/exams/{examId}/examResults/{examResultId}"
	studentScorePattern = "schools/{schoolId}/subjects/{subjectId}/exams/{examId}/examResults/{studentId}"
	examWritePattern    = "schools/{schoolId}/subjects/{subjectId}/exams/{examId}"
)

func (svc *Service) Bindings() []trigger.Binding {
	return []trigger.Binding{
		{
			Name:    "exam-counters",
			Pattern: trigger.MustCompile(resultWritePattern),
			On:      trigger.OnWrite,
			Handle:  svc.handleResultWrite,
		},
		{
			Name:    "student-average",
			Pattern: trigger.MustCompile(studentScorePattern),
			On:      trigger.OnWrite,
			Handle:  svc.handleStudentScoreWrite,
		},
		{
			Name:    "subject-rollup",
			Pattern: trigger.MustCompile(examWritePattern),
			On:      trigger.OnWrite,
			Handle:  svc.handleExamWrite,
		},
	}
}

func (svc *Service) handleResultWrite(ctx context.Context, _ trigger.Event, params trigger.Params) error {
	ref := school.ExamRef{
		SchoolID:  params["schoolId"],
		SubjectID: params["subjectId"],
		ExamID:    params["examId"],
	}
	_, err := svc.SyncExamCounters(ctx, ref)
	return err
}

func (svc *Service) handleStudentScoreWrite(ctx context.Context, evt trigger.Event, params trigger.Params) error {
	schoolID, studentID := params["schoolId"], params["studentId"]

	// The only payload read anywhere in the aggregators: skipping work when
	// the score did not change. Recomputing would yield the same answer.
	beforeScore := school.ResultScore(evt.Before)
	afterScore := school.ResultScore(evt.After)
	if scoresEqual(beforeScore, afterScore) {
		svc.logger.Debug("skipped average recompute: score unchanged", studentID, schoolID)
		return nil
	}

	_, err := svc.SyncStudentAverage(ctx, schoolID, studentID)
	return err
}

func (svc *Service) handleExamWrite(ctx context.Context, _ trigger.Event, params trigger.Params) error {
	_, err := svc.SyncSubjectRollup(ctx, params["schoolId"], params["subjectId"])
	return err
}

// SyncExamCounters recomputes an exam's derived counters from authoritative
// source data and writes them as one partial update. Re-running it against
// unchanged data writes the same values, making retries harmless.
func (svc *Service) SyncExamCounters(ctx context.Context, ref school.ExamRef) (school.ExamCounters, error) {
	sch, err := svc.repo.GetSchool(ctx, ref.SchoolID)
	if err != nil {
		return school.ExamCounters{}, errors.Wrapf(err, "reading school %s", ref.SchoolID)
	}

	var totalStudents int
	if sch.ActiveBatchID.Valid {
		totalStudents, err = svc.repo.CountStudentsInBatch(ctx, ref.SchoolID, sch.ActiveBatchID.String)
		if err != nil {
			return school.ExamCounters{}, errors.Wrapf(err, "counting students in batch %s", sch.ActiveBatchID.String)
		}
	}

	exam, err := svc.repo.GetExam(ctx, ref)
	if err != nil {
		return school.ExamCounters{}, errors.Wrapf(err, "reading exam %s", ref.ExamID)
	}

	// A score of exactly 0 does not count as graded. Intentionally kept: the
	// dashboards in the field depend on this exact count (see DESIGN.md).
	graded, err := svc.repo.CountExamResults(ctx, ref, school.ScoreCond{Op: school.ScoreAbove, Value: 0})
	if err != nil {
		return school.ExamCounters{}, errors.Wrapf(err, "counting graded results of exam %s", ref.ExamID)
	}

	var passed, failed int
	if exam.PassingScore.Valid {
		if passed, err = svc.repo.CountExamResults(ctx, ref, school.ScoreCond{Op: school.ScoreAtLeast, Value: exam.PassingScore.Float64}); err != nil {
			return school.ExamCounters{}, errors.Wrapf(err, "counting passed results of exam %s", ref.ExamID)
		}
		if failed, err = svc.repo.CountExamResults(ctx, ref, school.ScoreCond{Op: school.ScoreBelow, Value: exam.PassingScore.Float64}); err != nil {
			return school.ExamCounters{}, errors.Wrapf(err, "counting failed results of exam %s", ref.ExamID)
		}
	}

	// May go negative when results outnumber the active batch; not floored.
	pendingReview := totalStudents - graded
	counters := school.ExamCounters{
		PendingReview:       pendingReview,
		IsDone:              pendingReview == 0 && totalStudents > 0,
		TotalStudentsPassed: passed,
		TotalStudentsFailed: failed,
	}

	if err = svc.repo.UpdateExamCounters(ctx, ref, counters); err != nil {
		return school.ExamCounters{}, errors.Wrapf(err, "updating exam %s", ref.ExamID)
	}
	svc.logger.Info("updated exam counters", ref.Path(), counters)
	return counters, nil
}

// SyncSubjectRollup mirrors the counters of the subject's oldest not-done
// exam onto the subject; all zeros when every exam is done. The headline
// deliberately reflects only the earliest outstanding exam so graders clear
// the oldest backlog first.
func (svc *Service) SyncSubjectRollup(ctx context.Context, schoolID, subjectID string) (school.SubjectRollup, error) {
	oldest, err := svc.repo.OldestPendingExam(ctx, schoolID, subjectID)
	if err != nil {
		return school.SubjectRollup{}, errors.Wrapf(err, "finding oldest pending exam of subject %s", subjectID)
	}

	var rollup school.SubjectRollup
	if oldest != nil {
		rollup = school.SubjectRollup{
			PendingReview:       oldest.PendingReview,
			TotalStudentsPassed: oldest.TotalStudentsPassed,
			TotalStudentsFailed: oldest.TotalStudentsFailed,
		}
	}

	if err = svc.repo.UpdateSubjectRollup(ctx, schoolID, subjectID, rollup); err != nil {
		return school.SubjectRollup{}, errors.Wrapf(err, "updating subject %s", subjectID)
	}
	svc.logger.Info("updated subject rollup", school.SubjectPath(schoolID, subjectID), rollup)
	return rollup, nil
}

// SyncStudentAverage recomputes one student's mean score across every graded
// result in the school and writes it to the student document; null when no
// graded result exists.
func (svc *Service) SyncStudentAverage(ctx context.Context, schoolID, studentID string) (null.Float64, error) {
	scores, err := svc.repo.FindStudentScores(ctx, studentID, schoolID, svc.scopeBySchool)
	if err != nil {
		// A missing composite index surfaces here; it must reach the operator.
		return null.Float64{}, errors.Wrapf(err, "querying scores of student %s in school %s", studentID, schoolID)
	}

	var sum float64
	var count int
	for _, score := range scores {
		if !school.IsFinite(score) {
			// One bad result must not block averaging the rest.
			svc.logger.Warn("ignoring non-finite score", studentID, schoolID)
			continue
		}
		sum += score
		count++
	}

	var avg null.Float64
	if count > 0 {
		avg = null.Float64From(sum / float64(count))
	}

	if err = svc.repo.UpdateStudentAverage(ctx, schoolID, studentID, avg); err != nil {
		return null.Float64{}, errors.Wrapf(err, "updating student %s in school %s", studentID, schoolID)
	}
	svc.logger.Info("updated student average", school.StudentPath(schoolID, studentID), avg)
	return avg, nil
}

// RecomputeSchool re-runs every grading aggregator for one school. It is the
// operational self-heal for the staleness windows the trigger model accepts.
func (svc *Service) RecomputeSchool(ctx context.Context, schoolID string) error {
	subjects, err := svc.repo.ListSubjects(ctx, schoolID)
	if err != nil {
		return errors.Wrapf(err, "listing subjects of school %s", schoolID)
	}
	for _, subj := range subjects {
		exams, err := svc.repo.ListExams(ctx, schoolID, subj.ID)
		if err != nil {
			return errors.Wrapf(err, "listing exams of subject %s", subj.ID)
		}
		for _, exam := range exams {
			if _, err = svc.SyncExamCounters(ctx, exam.Ref()); err != nil {
				return err
			}
		}
		if _, err = svc.SyncSubjectRollup(ctx, schoolID, subj.ID); err != nil {
			return err
		}
	}

	students, err := svc.repo.ListStudents(ctx, schoolID)
	if err != nil {
		return errors.Wrapf(err, "listing students of school %s", schoolID)
	}
	for _, student := range students {
		if _, err = svc.SyncStudentAverage(ctx, schoolID, student.ID); err != nil {
			return err
		}
	}
	return nil
}

func scoresEqual(a, b null.Float64) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Float64 == b.Float64
}
