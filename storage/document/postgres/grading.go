package pgdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/school"
)

// The postgres backend keeps every document in one jsonb table keyed by its
// logical path; the collection column denormalizes the path's last segment
// for indexed filtering.

type gradingRepository struct {
	db *sqlx.DB
}

var _ grading.Repository = (*gradingRepository)(nil)

func NewGradingRepository(db *sqlx.DB) *gradingRepository {
	return &gradingRepository{db: db}
}

func getDoc(ctx context.Context, db *sqlx.DB, path string, dest interface{}) error {
	var body []byte
	err := db.QueryRowxContext(ctx, "SELECT body FROM documents WHERE path = $1", path).Scan(&body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

func (repo *gradingRepository) GetSchool(ctx context.Context, schoolID string) (school.School, error) {
	var sch school.School
	if err := getDoc(ctx, repo.db, "schools/"+schoolID, &sch); err != nil {
		if err == sql.ErrNoRows {
			return school.School{}, grading.ErrSchoolNotFound
		}
		return school.School{}, errors.Wrap(err, "getting school")
	}
	return sch, nil
}

func (repo *gradingRepository) GetExam(ctx context.Context, ref school.ExamRef) (school.Exam, error) {
	var exam school.Exam
	if err := getDoc(ctx, repo.db, ref.Path(), &exam); err != nil {
		if err == sql.ErrNoRows {
			return school.Exam{}, grading.ErrExamNotFound
		}
		return school.Exam{}, errors.Wrap(err, "getting exam")
	}
	return exam, nil
}

func (repo *gradingRepository) CountStudentsInBatch(ctx context.Context, schoolID, batchID string) (int, error) {
	const q = `SELECT count(*) FROM documents
		WHERE collection = $1 AND body ->> 'schoolId' = $2 AND body ->> 'batchId' = $3`
	var n int
	err := repo.db.QueryRowxContext(ctx, q, school.CollectionStudents, schoolID, batchID).Scan(&n)
	return n, errors.Wrap(err, "counting batch students")
}

func (repo *gradingRepository) CountExamResults(ctx context.Context, ref school.ExamRef, cond school.ScoreCond) (int, error) {
	q := `SELECT count(*) FROM documents
		WHERE collection = $1 AND body ->> 'examId' = $2
		AND jsonb_typeof(body -> 'score') = 'number'
		AND (body ->> 'score')::float8 ` + scoreOperator(cond.Op) + ` $3`
	var n int
	err := repo.db.QueryRowxContext(ctx, q, school.CollectionExamResults, ref.ExamID, cond.Value).Scan(&n)
	return n, errors.Wrap(err, "counting exam results")
}

func scoreOperator(op school.ScoreOp) string {
	switch op {
	case school.ScoreAtLeast:
		return ">="
	case school.ScoreBelow:
		return "<"
	default:
		return ">"
	}
}

func (repo *gradingRepository) OldestPendingExam(ctx context.Context, schoolID, subjectID string) (*school.Exam, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'schoolId' = $2 AND body ->> 'subjectId' = $3
		AND NOT (body ->> 'isDone')::boolean
		ORDER BY body ->> 'createdAt' ASC LIMIT 1`
	var body []byte
	err := repo.db.QueryRowxContext(ctx, q, school.CollectionExams, schoolID, subjectID).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "finding oldest pending exam")
	}
	var exam school.Exam
	if err = json.Unmarshal(body, &exam); err != nil {
		return nil, errors.Wrap(err, "decoding exam")
	}
	return &exam, nil
}

func (repo *gradingRepository) FindStudentScores(ctx context.Context, studentID, schoolID string, scopeBySchool bool) ([]float64, error) {
	q := `SELECT (body ->> 'score')::float8 FROM documents
		WHERE collection = $1 AND body ->> 'studentId' = $2
		AND jsonb_typeof(body -> 'score') = 'number'`
	args := []interface{}{school.CollectionExamResults, studentID}
	if scopeBySchool {
		q += ` AND body ->> 'schoolId' = $3`
		args = append(args, schoolID)
	}

	var scores []float64
	err := repo.db.SelectContext(ctx, &scores, q, args...)
	return scores, errors.Wrap(err, "finding student scores")
}

func patchDoc(ctx context.Context, db *sqlx.DB, path string, fields map[string]interface{}) (bool, error) {
	fields["updatedAt"] = time.Now().UTC()
	patch, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx,
		"UPDATE documents SET body = body || $2::jsonb, updated_at = now() WHERE path = $1",
		path, patch)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (repo *gradingRepository) UpdateExamCounters(ctx context.Context, ref school.ExamRef, counters school.ExamCounters) error {
	matched, err := patchDoc(ctx, repo.db, ref.Path(), map[string]interface{}{
		"pendingReview":       counters.PendingReview,
		"isDone":              counters.IsDone,
		"totalStudentsPassed": counters.TotalStudentsPassed,
		"totalStudentsFailed": counters.TotalStudentsFailed,
	})
	if err != nil {
		return errors.Wrap(err, "updating exam counters")
	}
	if !matched {
		return grading.ErrExamNotFound
	}
	return nil
}

func (repo *gradingRepository) UpdateSubjectRollup(ctx context.Context, schoolID, subjectID string, rollup school.SubjectRollup) error {
	matched, err := patchDoc(ctx, repo.db, school.SubjectPath(schoolID, subjectID), map[string]interface{}{
		"pendingReview":       rollup.PendingReview,
		"totalStudentsPassed": rollup.TotalStudentsPassed,
		"totalStudentsFailed": rollup.TotalStudentsFailed,
	})
	if err != nil {
		return errors.Wrap(err, "updating subject rollup")
	}
	if !matched {
		return grading.ErrSubjectNotFound
	}
	return nil
}

func (repo *gradingRepository) UpdateStudentAverage(ctx context.Context, schoolID, studentID string, avg null.Float64) error {
	path := school.StudentPath(schoolID, studentID)
	if !avg.Valid {
		res, err := repo.db.ExecContext(ctx,
			"UPDATE documents SET body = body - 'averageScore', updated_at = now() WHERE path = $1", path)
		if err != nil {
			return errors.Wrap(err, "clearing student average")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "clearing student average")
		}
		if n == 0 {
			return grading.ErrStudentNotFound
		}
		return nil
	}

	matched, err := patchDoc(ctx, repo.db, path, map[string]interface{}{"averageScore": avg.Float64})
	if err != nil {
		return errors.Wrap(err, "updating student average")
	}
	if !matched {
		return grading.ErrStudentNotFound
	}
	return nil
}

func listDocs(ctx context.Context, db *sqlx.DB, q string, args []interface{}, decode func([]byte) error) error {
	rows, err := db.QueryxContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var body []byte
		if err = rows.Scan(&body); err != nil {
			return err
		}
		if err = decode(body); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (repo *gradingRepository) ListSubjects(ctx context.Context, schoolID string) ([]school.Subject, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'schoolId' = $2
		ORDER BY body ->> 'createdAt' ASC`
	var subjects []school.Subject
	err := listDocs(ctx, repo.db, q, []interface{}{school.CollectionSubjects, schoolID}, func(body []byte) error {
		var sub school.Subject
		if err := json.Unmarshal(body, &sub); err != nil {
			return err
		}
		subjects = append(subjects, sub)
		return nil
	})
	return subjects, errors.Wrap(err, "listing subjects")
}

func (repo *gradingRepository) ListExams(ctx context.Context, schoolID, subjectID string) ([]school.Exam, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'schoolId' = $2 AND body ->> 'subjectId' = $3
		ORDER BY body ->> 'createdAt' ASC`
	var exams []school.Exam
	err := listDocs(ctx, repo.db, q, []interface{}{school.CollectionExams, schoolID, subjectID}, func(body []byte) error {
		var exam school.Exam
		if err := json.Unmarshal(body, &exam); err != nil {
			return err
		}
		exams = append(exams, exam)
		return nil
	})
	return exams, errors.Wrap(err, "listing exams")
}

func (repo *gradingRepository) ListStudents(ctx context.Context, schoolID string) ([]school.Student, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'schoolId' = $2
		ORDER BY body ->> 'id' ASC`
	var students []school.Student
	err := listDocs(ctx, repo.db, q, []interface{}{school.CollectionStudents, schoolID}, func(body []byte) error {
		var st school.Student
		if err := json.Unmarshal(body, &st); err != nil {
			return err
		}
		students = append(students, st)
		return nil
	})
	return students, errors.Wrap(err, "listing students")
}
