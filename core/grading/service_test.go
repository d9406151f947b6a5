package grading_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/school"
	"github.com/dadanisme/shule/core/trigger"
	inmemdoc "github.com/dadanisme/shule/storage/document/inmem"
	testutil "github.com/dadanisme/shule/tests"
)

func setup(t *testing.T) (*inmemdoc.DB, grading.Repository, *grading.Service) {
	db, err := inmemdoc.Open()
	if err != nil {
		t.Fatalf("inmemdoc.Open() failed: %v", err)
	}
	repo := inmemdoc.NewGradingRepository(db)
	svc := grading.NewService(repo, testutil.Logger{}, testutil.NewConfig().Aggregator)
	return db, repo, svc
}

// seedExam populates one school with an active batch of 10 students, one
// subject and one exam (passing score 60) graded as follows: scores 90, 45,
// 60, 0, 70 plus one ungraded result.
func seedExam(db *inmemdoc.DB) school.ExamRef {
	now := time.Now().UTC()
	db.PutSchool(school.School{ID: "s1", Name: "Shule Yetu", ActiveBatchID: null.StringFrom("b1"), CreatedAt: now, UpdatedAt: now})
	db.PutBatch(school.Batch{ID: "b1", SchoolID: "s1", Name: "2026", CreatedAt: now, UpdatedAt: now})
	db.PutSubject(school.Subject{ID: "sub1", SchoolID: "s1", Name: "Math", CreatedAt: now, UpdatedAt: now})
	db.PutExam(school.Exam{
		ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm",
		PassingScore: null.Float64From(60), CreatedAt: now, UpdatedAt: now,
	})

	for i, id := range []string{"st1", "st2", "st3", "st4", "st5", "st6", "st7", "st8", "st9", "st10"} {
		db.PutStudent(school.Student{
			ID: id, SchoolID: "s1", Name: "Student " + id, BatchID: null.StringFrom("b1"),
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		})
	}

	scores := []null.Float64{
		null.Float64From(90),
		null.Float64From(45),
		null.Float64From(60),
		null.Float64From(0),
		null.Float64From(70),
		{}, // submitted, not graded yet
	}
	for i, score := range scores {
		id := []string{"st1", "st2", "st3", "st4", "st5", "st6"}[i]
		db.PutExamResult(school.ExamResult{
			ID: id, SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
			StudentID: id, Score: score, CreatedAt: now, UpdatedAt: now,
		})
	}
	return school.ExamRef{SchoolID: "s1", SubjectID: "sub1", ExamID: "e1"}
}

func TestService_SyncExamCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("derives counters from batch size and score ranges", func(t *testing.T) {
		db, _, svc := setup(t)
		ref := seedExam(db)

		counters, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() error = %v", err)
		}

		// 10 batch students, 4 graded (a 0 score is not graded), 3 at or
		// above 60, 2 below it (the 0 counts as failed).
		want := school.ExamCounters{PendingReview: 6, IsDone: false, TotalStudentsPassed: 3, TotalStudentsFailed: 2}
		if counters != want {
			t.Errorf("SyncExamCounters() = %+v, want %+v", counters, want)
		}

		exam, _ := db.GetExam("e1")
		if exam.PendingReview != want.PendingReview || exam.IsDone != want.IsDone ||
			exam.TotalStudentsPassed != want.TotalStudentsPassed || exam.TotalStudentsFailed != want.TotalStudentsFailed {
			t.Errorf("stored exam counters = %+v, want %+v", exam, want)
		}
	})

	t.Run("rerun writes the same counters", func(t *testing.T) {
		db, _, svc := setup(t)
		ref := seedExam(db)

		first, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() error = %v", err)
		}
		second, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() rerun error = %v", err)
		}
		if first != second {
			t.Errorf("rerun counters = %+v, want %+v", second, first)
		}
	})

	t.Run("no active batch leaves the backlog negative", func(t *testing.T) {
		db, _, svc := setup(t)
		ref := seedExam(db)
		now := time.Now().UTC()
		db.PutSchool(school.School{ID: "s1", Name: "Shule Yetu", CreatedAt: now, UpdatedAt: now})

		counters, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() error = %v", err)
		}
		if counters.PendingReview != -4 {
			t.Errorf("PendingReview = %d, want -4", counters.PendingReview)
		}
		if counters.IsDone {
			t.Error("IsDone = true, want false: an empty roster never completes an exam")
		}
	})

	t.Run("fully graded batch marks the exam done", func(t *testing.T) {
		db, _, svc := setup(t)
		ref := seedExam(db)
		now := time.Now().UTC()
		for i, id := range []string{"st7", "st8", "st9", "st10"} {
			db.PutExamResult(school.ExamResult{
				ID: id, SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
				StudentID: id, Score: null.Float64From(float64(61 + i)), CreatedAt: now, UpdatedAt: now,
			})
		}
		db.PutExamResult(school.ExamResult{
			ID: "st4", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
			StudentID: "st4", Score: null.Float64From(10), CreatedAt: now, UpdatedAt: now,
		})
		db.PutExamResult(school.ExamResult{
			ID: "st6", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
			StudentID: "st6", Score: null.Float64From(80), CreatedAt: now, UpdatedAt: now,
		})

		counters, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() error = %v", err)
		}
		if counters.PendingReview != 0 || !counters.IsDone {
			t.Errorf("counters = %+v, want PendingReview 0 and IsDone true", counters)
		}
	})

	t.Run("no passing score skips pass and fail counts", func(t *testing.T) {
		db, _, svc := setup(t)
		ref := seedExam(db)
		now := time.Now().UTC()
		db.PutExam(school.Exam{ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm", CreatedAt: now, UpdatedAt: now})

		counters, err := svc.SyncExamCounters(ctx, ref)
		if err != nil {
			t.Fatalf("SyncExamCounters() error = %v", err)
		}
		if counters.TotalStudentsPassed != 0 || counters.TotalStudentsFailed != 0 {
			t.Errorf("counters = %+v, want zero passed and failed", counters)
		}
	})

	t.Run("unknown school", func(t *testing.T) {
		_, _, svc := setup(t)
		_, err := svc.SyncExamCounters(ctx, school.ExamRef{SchoolID: "nope", SubjectID: "sub1", ExamID: "e1"})
		if errors.Cause(err) != grading.ErrSchoolNotFound {
			t.Errorf("SyncExamCounters() error = %v, want %v", err, grading.ErrSchoolNotFound)
		}
	})
}

func TestService_SyncSubjectRollup(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors the oldest pending exam", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		now := time.Now().UTC()
		db.PutExam(school.Exam{
			ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm",
			PendingReview: 6, TotalStudentsPassed: 3, TotalStudentsFailed: 2,
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
		})
		db.PutExam(school.Exam{
			ID: "e2", SchoolID: "s1", SubjectID: "sub1", Name: "Final",
			PendingReview: 10, CreatedAt: now, UpdatedAt: now,
		})

		rollup, err := svc.SyncSubjectRollup(ctx, "s1", "sub1")
		if err != nil {
			t.Fatalf("SyncSubjectRollup() error = %v", err)
		}
		want := school.SubjectRollup{PendingReview: 6, TotalStudentsPassed: 3, TotalStudentsFailed: 2}
		if rollup != want {
			t.Errorf("SyncSubjectRollup() = %+v, want %+v", rollup, want)
		}

		subj, _ := db.GetSubject("sub1")
		if subj.PendingReview != want.PendingReview {
			t.Errorf("stored subject PendingReview = %d, want %d", subj.PendingReview, want.PendingReview)
		}
	})

	t.Run("all exams done resets the rollup", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		now := time.Now().UTC()
		db.PutSubject(school.Subject{
			ID: "sub1", SchoolID: "s1", Name: "Math",
			PendingReview: 6, TotalStudentsPassed: 3, TotalStudentsFailed: 2,
			CreatedAt: now, UpdatedAt: now,
		})
		db.PutExam(school.Exam{
			ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm",
			IsDone: true, TotalStudentsPassed: 8, TotalStudentsFailed: 2,
			CreatedAt: now, UpdatedAt: now,
		})

		rollup, err := svc.SyncSubjectRollup(ctx, "s1", "sub1")
		if err != nil {
			t.Fatalf("SyncSubjectRollup() error = %v", err)
		}
		if rollup != (school.SubjectRollup{}) {
			t.Errorf("SyncSubjectRollup() = %+v, want all zeros", rollup)
		}
	})

	t.Run("unknown subject", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		_, err := svc.SyncSubjectRollup(ctx, "s1", "nope")
		if errors.Cause(err) != grading.ErrSubjectNotFound {
			t.Errorf("SyncSubjectRollup() error = %v, want %v", err, grading.ErrSubjectNotFound)
		}
	})
}

func TestService_SyncStudentAverage(t *testing.T) {
	ctx := context.Background()

	t.Run("averages every graded result", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)

		// st1 scored 90 on e1; add a second graded result and an ungraded one
		now := time.Now().UTC()
		db.PutExam(school.Exam{ID: "e2", SchoolID: "s1", SubjectID: "sub1", Name: "Final", CreatedAt: now, UpdatedAt: now})
		db.PutExamResult(school.ExamResult{
			ID: "st1", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e2",
			StudentID: "st1", Score: null.Float64From(70), CreatedAt: now, UpdatedAt: now,
		})

		avg, err := svc.SyncStudentAverage(ctx, "s1", "st1")
		if err != nil {
			t.Fatalf("SyncStudentAverage() error = %v", err)
		}
		if !avg.Valid || avg.Float64 != 80 {
			t.Errorf("SyncStudentAverage() = %+v, want 80", avg)
		}

		st, _ := db.GetStudent("st1")
		if !st.AverageScore.Valid || st.AverageScore.Float64 != 80 {
			t.Errorf("stored AverageScore = %+v, want 80", st.AverageScore)
		}
		if !st.UpdatedAt.After(now) {
			t.Errorf("UpdatedAt = %s, want after %s: partial updates stamp it", st.UpdatedAt, now)
		}
	})

	t.Run("a zero score drags the average down", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)

		// st4's only result is the 0: graded counters skip it, averages do not
		avg, err := svc.SyncStudentAverage(ctx, "s1", "st4")
		if err != nil {
			t.Fatalf("SyncStudentAverage() error = %v", err)
		}
		if !avg.Valid || avg.Float64 != 0 {
			t.Errorf("SyncStudentAverage() = %+v, want 0", avg)
		}
	})

	t.Run("no graded result clears the average", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		now := time.Now().UTC()
		db.PutStudent(school.Student{
			ID: "st6", SchoolID: "s1", Name: "Student st6", BatchID: null.StringFrom("b1"),
			AverageScore: null.Float64From(55), CreatedAt: now, UpdatedAt: now,
		})

		avg, err := svc.SyncStudentAverage(ctx, "s1", "st6")
		if err != nil {
			t.Fatalf("SyncStudentAverage() error = %v", err)
		}
		if avg.Valid {
			t.Errorf("SyncStudentAverage() = %+v, want null", avg)
		}
		st, _ := db.GetStudent("st6")
		if st.AverageScore.Valid {
			t.Errorf("stored AverageScore = %+v, want null", st.AverageScore)
		}
	})

	t.Run("non-finite scores are skipped", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		now := time.Now().UTC()
		db.PutExam(school.Exam{ID: "e2", SchoolID: "s1", SubjectID: "sub1", Name: "Final", CreatedAt: now, UpdatedAt: now})
		db.PutExamResult(school.ExamResult{
			ID: "st1", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e2",
			StudentID: "st1", Score: null.Float64From(math.Inf(1)), CreatedAt: now, UpdatedAt: now,
		})

		avg, err := svc.SyncStudentAverage(ctx, "s1", "st1")
		if err != nil {
			t.Fatalf("SyncStudentAverage() error = %v", err)
		}
		if !avg.Valid || avg.Float64 != 90 {
			t.Errorf("SyncStudentAverage() = %+v, want 90", avg)
		}
	})

	t.Run("scoping excludes results without a schoolId", func(t *testing.T) {
		db, _, svc := setup(t)
		seedExam(db)
		now := time.Now().UTC()
		db.PutExam(school.Exam{ID: "e2", SchoolID: "s1", SubjectID: "sub1", Name: "Final", CreatedAt: now, UpdatedAt: now})
		db.PutExamResult(school.ExamResult{
			ID: "st1", SubjectID: "sub1", ExamID: "e2",
			StudentID: "st1", Score: null.Float64From(10), CreatedAt: now, UpdatedAt: now,
		})

		avg, err := svc.SyncStudentAverage(ctx, "s1", "st1")
		if err != nil {
			t.Fatalf("SyncStudentAverage() error = %v", err)
		}
		if !avg.Valid || avg.Float64 != 90 {
			t.Errorf("SyncStudentAverage() = %+v, want 90", avg)
		}
	})
}

// countingRepository observes how often the student average recompute hits
// the store.
type countingRepository struct {
	grading.Repository

	mu         sync.Mutex
	scoreReads int
}

func (repo *countingRepository) FindStudentScores(ctx context.Context, studentID, schoolID string, scopeBySchool bool) ([]float64, error) {
	repo.mu.Lock()
	repo.scoreReads++
	repo.mu.Unlock()
	return repo.Repository.FindStudentScores(ctx, studentID, schoolID, scopeBySchool)
}

func TestService_studentAverageSkipsUnchangedScores(t *testing.T) {
	db, repo, _ := setup(t)
	seedExam(db)
	counting := &countingRepository{Repository: repo}
	svc := grading.NewService(counting, testutil.Logger{}, testutil.NewConfig().Aggregator)

	var binding trigger.Binding
	for _, b := range svc.Bindings() {
		if b.Name == "student-average" {
			binding = b
		}
	}
	if binding.Handle == nil {
		t.Fatal("student-average binding not registered")
	}

	ctx := context.Background()
	params := trigger.Params{"schoolId": "s1", "subjectId": "sub1", "examId": "e1", "studentId": "st1"}
	resultPath := "schools/s1/subjects/sub1/exams/e1/examResults/st1"

	tests := []struct {
		name      string
		before    trigger.Snapshot
		after     trigger.Snapshot
		wantReads int
	}{
		{
			name:      "unchanged score skips the recompute",
			before:    trigger.Snapshot{"id": "st1", "score": 90.0},
			after:     trigger.Snapshot{"id": "st1", "score": 90.0, "comment": "well done"},
			wantReads: 0,
		},
		{
			name:      "both sides ungraded skips the recompute",
			before:    trigger.Snapshot{"id": "st1"},
			after:     trigger.Snapshot{"id": "st1", "comment": "pending"},
			wantReads: 0,
		},
		{
			name:      "changed score recomputes",
			before:    trigger.Snapshot{"id": "st1", "score": 90.0},
			after:     trigger.Snapshot{"id": "st1", "score": 95.0},
			wantReads: 1,
		},
		{
			name:      "grading a result recomputes",
			before:    trigger.Snapshot{"id": "st1"},
			after:     trigger.Snapshot{"id": "st1", "score": 90.0},
			wantReads: 1,
		},
		{
			name:      "deleting a graded result recomputes",
			before:    trigger.Snapshot{"id": "st1", "score": 90.0},
			after:     nil,
			wantReads: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counting.mu.Lock()
			counting.scoreReads = 0
			counting.mu.Unlock()

			evt := trigger.Event{Path: resultPath, Kind: trigger.KindUpdate, Before: tt.before, After: tt.after}
			if err := binding.Handle(ctx, evt, params); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			counting.mu.Lock()
			defer counting.mu.Unlock()
			if counting.scoreReads != tt.wantReads {
				t.Errorf("score reads = %d, want %d", counting.scoreReads, tt.wantReads)
			}
		})
	}
}

func TestService_RecomputeSchool(t *testing.T) {
	db, _, svc := setup(t)
	seedExam(db)

	// corrupt every derived field; the recompute must repair all of them
	now := time.Now().UTC()
	db.PutExam(school.Exam{
		ID: "e1", SchoolID: "s1", SubjectID: "sub1", Name: "Midterm",
		PassingScore: null.Float64From(60), PendingReview: 99, IsDone: true,
		TotalStudentsPassed: 99, TotalStudentsFailed: 99,
		CreatedAt: now, UpdatedAt: now,
	})
	db.PutSubject(school.Subject{
		ID: "sub1", SchoolID: "s1", Name: "Math",
		PendingReview: 99, TotalStudentsPassed: 99, TotalStudentsFailed: 99,
		CreatedAt: now, UpdatedAt: now,
	})
	db.PutStudent(school.Student{
		ID: "st1", SchoolID: "s1", Name: "Student st1", BatchID: null.StringFrom("b1"),
		AverageScore: null.Float64From(1), CreatedAt: now, UpdatedAt: now,
	})

	if err := svc.RecomputeSchool(context.Background(), "s1"); err != nil {
		t.Fatalf("RecomputeSchool() error = %v", err)
	}

	exam, _ := db.GetExam("e1")
	if exam.PendingReview != 6 || exam.IsDone || exam.TotalStudentsPassed != 3 || exam.TotalStudentsFailed != 2 {
		t.Errorf("exam counters not repaired: %+v", exam)
	}
	subj, _ := db.GetSubject("sub1")
	if subj.PendingReview != 6 || subj.TotalStudentsPassed != 3 || subj.TotalStudentsFailed != 2 {
		t.Errorf("subject rollup not repaired: %+v", subj)
	}
	st, _ := db.GetStudent("st1")
	if !st.AverageScore.Valid || st.AverageScore.Float64 != 90 {
		t.Errorf("student average not repaired: %+v", st.AverageScore)
	}
}

// TestService_eventCascade runs the full pipeline: a result write flows
// through the dispatcher into the exam counters, whose own write re-triggers
// the subject rollup.
func TestService_eventCascade(t *testing.T) {
	db, _, svc := setup(t)
	seedExam(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := trigger.NewDispatcher(testutil.Logger{}, testutil.NewConfig().Aggregator)
	d.Register(svc.Bindings()...)
	go func() { _ = d.Run(ctx, db) }()

	now := time.Now().UTC()
	db.PutExamResult(school.ExamResult{
		ID: "st6", SchoolID: null.StringFrom("s1"), SubjectID: "sub1", ExamID: "e1",
		StudentID: "st6", Score: null.Float64From(85), CreatedAt: now, UpdatedAt: now,
	})

	testutil.WaitFor(t, 2*time.Second, func() bool {
		exam, _ := db.GetExam("e1")
		return exam.PendingReview == 5 && exam.TotalStudentsPassed == 4
	})
	testutil.WaitFor(t, 2*time.Second, func() bool {
		subj, _ := db.GetSubject("sub1")
		return subj.PendingReview == 5 && subj.TotalStudentsPassed == 4
	})
	testutil.WaitFor(t, 2*time.Second, func() bool {
		st, _ := db.GetStudent("st6")
		return st.AverageScore.Valid && st.AverageScore.Float64 == 85
	})
}
