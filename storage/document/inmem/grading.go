package inmemdoc

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/school"
	"github.com/dadanisme/shule/core/trigger"
)

type gradingRepository struct {
	db *DB
}

var _ grading.Repository = (*gradingRepository)(nil) // interface compliance check

func NewGradingRepository(db *DB) grading.Repository {
	return &gradingRepository{db: db}
}

func (repo *gradingRepository) GetSchool(_ context.Context, schoolID string) (school.School, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	sch, ok := repo.db.schools[schoolID]
	if !ok {
		return school.School{}, grading.ErrSchoolNotFound
	}
	return sch, nil
}

func (repo *gradingRepository) GetExam(_ context.Context, ref school.ExamRef) (school.Exam, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	exam, ok := repo.db.exams[ref.ExamID]
	if !ok || exam.SchoolID != ref.SchoolID || exam.SubjectID != ref.SubjectID {
		return school.Exam{}, grading.ErrExamNotFound
	}
	return exam, nil
}

func (repo *gradingRepository) CountStudentsInBatch(_ context.Context, schoolID, batchID string) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	var count int
	for _, st := range repo.db.students {
		if st.SchoolID == schoolID && st.BatchID.Valid && st.BatchID.String == batchID {
			count++
		}
	}
	return count, nil
}

func (repo *gradingRepository) CountExamResults(_ context.Context, ref school.ExamRef, cond school.ScoreCond) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	var count int
	for _, res := range repo.db.results {
		if res.ExamID != ref.ExamID {
			continue
		}
		if res.Score.Valid && cond.Matches(res.Score.Float64) {
			count++
		}
	}
	return count, nil
}

func (repo *gradingRepository) OldestPendingExam(_ context.Context, schoolID, subjectID string) (*school.Exam, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	var oldest *school.Exam
	for _, exam := range repo.db.exams {
		if exam.SchoolID != schoolID || exam.SubjectID != subjectID || exam.IsDone {
			continue
		}
		exam := exam
		if oldest == nil || exam.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &exam
		}
	}
	return oldest, nil
}

func (repo *gradingRepository) FindStudentScores(_ context.Context, studentID, schoolID string, scopeBySchool bool) ([]float64, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	scores := make([]float64, 0)
	for _, res := range repo.db.results {
		if res.StudentID != studentID {
			continue
		}
		if scopeBySchool && res.SchoolID.String != schoolID {
			continue
		}
		if res.Score.Valid {
			scores = append(scores, res.Score.Float64)
		}
	}
	return scores, nil
}

func (repo *gradingRepository) UpdateExamCounters(_ context.Context, ref school.ExamRef, counters school.ExamCounters) error {
	repo.db.mu.Lock()
	exam, ok := repo.db.exams[ref.ExamID]
	if !ok {
		repo.db.mu.Unlock()
		return grading.ErrExamNotFound
	}
	before := exam.Snapshot()
	exam.PendingReview = counters.PendingReview
	exam.IsDone = counters.IsDone
	exam.TotalStudentsPassed = counters.TotalStudentsPassed
	exam.TotalStudentsFailed = counters.TotalStudentsFailed
	exam.UpdatedAt = time.Now().UTC()
	repo.db.exams[ref.ExamID] = exam
	repo.db.mu.Unlock()

	// the aggregator's own write re-triggers the subject rollup
	repo.db.emit(exam.Path(), trigger.KindUpdate, before, exam.Snapshot())
	return nil
}

func (repo *gradingRepository) UpdateSubjectRollup(_ context.Context, schoolID, subjectID string, rollup school.SubjectRollup) error {
	repo.db.mu.Lock()
	subj, ok := repo.db.subjects[subjectID]
	if !ok || subj.SchoolID != schoolID {
		repo.db.mu.Unlock()
		return grading.ErrSubjectNotFound
	}
	subj.PendingReview = rollup.PendingReview
	subj.TotalStudentsPassed = rollup.TotalStudentsPassed
	subj.TotalStudentsFailed = rollup.TotalStudentsFailed
	subj.UpdatedAt = time.Now().UTC()
	repo.db.subjects[subjectID] = subj
	repo.db.mu.Unlock()

	repo.db.emit(school.SubjectPath(schoolID, subjectID), trigger.KindUpdate, nil, nil)
	return nil
}

func (repo *gradingRepository) UpdateStudentAverage(_ context.Context, schoolID, studentID string, avg null.Float64) error {
	repo.db.mu.Lock()
	st, ok := repo.db.students[studentID]
	if !ok || st.SchoolID != schoolID {
		repo.db.mu.Unlock()
		return grading.ErrStudentNotFound
	}
	st.AverageScore = avg
	st.UpdatedAt = time.Now().UTC()
	repo.db.students[studentID] = st
	repo.db.mu.Unlock()

	repo.db.emit(school.StudentPath(schoolID, studentID), trigger.KindUpdate, nil, nil)
	return nil
}

func (repo *gradingRepository) ListSubjects(_ context.Context, schoolID string) ([]school.Subject, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	subjects := make([]school.Subject, 0)
	for _, subj := range repo.db.subjects {
		if subj.SchoolID == schoolID {
			subjects = append(subjects, subj)
		}
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].CreatedAt.Before(subjects[j].CreatedAt) })
	return subjects, nil
}

func (repo *gradingRepository) ListExams(_ context.Context, schoolID, subjectID string) ([]school.Exam, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	exams := make([]school.Exam, 0)
	for _, exam := range repo.db.exams {
		if exam.SchoolID == schoolID && exam.SubjectID == subjectID {
			exams = append(exams, exam)
		}
	}
	sort.Slice(exams, func(i, j int) bool { return exams[i].CreatedAt.Before(exams[j].CreatedAt) })
	return exams, nil
}

func (repo *gradingRepository) ListStudents(_ context.Context, schoolID string) ([]school.Student, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	students := make([]school.Student, 0)
	for _, st := range repo.db.students {
		if st.SchoolID == schoolID {
			students = append(students, st)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students, nil
}
