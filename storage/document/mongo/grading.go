package mongodoc

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/school"
)

type gradingRepository struct {
	db *mongo.Database
}

var _ grading.Repository = (*gradingRepository)(nil)

func NewGradingRepository(db *mongo.Database) *gradingRepository {
	return &gradingRepository{db: db}
}

func (repo *gradingRepository) GetSchool(ctx context.Context, schoolID string) (school.School, error) {
	var doc schoolDoc
	err := repo.db.Collection(school.CollectionSchools).
		FindOne(ctx, bson.M{"_id": schoolID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return school.School{}, grading.ErrSchoolNotFound
		}
		return school.School{}, errors.Wrap(err, "getting school")
	}
	return doc.model(), nil
}

func (repo *gradingRepository) GetExam(ctx context.Context, ref school.ExamRef) (school.Exam, error) {
	var doc examDoc
	err := repo.db.Collection(school.CollectionExams).
		FindOne(ctx, bson.M{"_id": ref.ExamID, "schoolId": ref.SchoolID, "subjectId": ref.SubjectID}).
		Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return school.Exam{}, grading.ErrExamNotFound
		}
		return school.Exam{}, errors.Wrap(err, "getting exam")
	}
	return doc.model(), nil
}

func (repo *gradingRepository) CountStudentsInBatch(ctx context.Context, schoolID, batchID string) (int, error) {
	n, err := repo.db.Collection(school.CollectionStudents).
		CountDocuments(ctx, bson.M{"schoolId": schoolID, "batchId": batchID})
	if err != nil {
		return 0, errors.Wrap(err, "counting batch students")
	}
	return int(n), nil
}

func (repo *gradingRepository) CountExamResults(ctx context.Context, ref school.ExamRef, cond school.ScoreCond) (int, error) {
	n, err := repo.db.Collection(school.CollectionExamResults).
		CountDocuments(ctx, bson.M{"examId": ref.ExamID, "score": bson.M{scoreOperator(cond.Op): cond.Value}})
	if err != nil {
		return 0, errors.Wrap(err, "counting exam results")
	}
	return int(n), nil
}

// scoreOperator maps a score condition onto its mongo comparison operator.
// Comparisons never match documents whose score is absent or null, matching
// the repository contract.
func scoreOperator(op school.ScoreOp) string {
	switch op {
	case school.ScoreAtLeast:
		return "$gte"
	case school.ScoreBelow:
		return "$lt"
	default:
		return "$gt"
	}
}

func (repo *gradingRepository) OldestPendingExam(ctx context.Context, schoolID, subjectID string) (*school.Exam, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	var doc examDoc
	err := repo.db.Collection(school.CollectionExams).
		FindOne(ctx, bson.M{"schoolId": schoolID, "subjectId": subjectID, "isDone": false}, opts).
		Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, errors.Wrap(err, "finding oldest pending exam")
	}
	exam := doc.model()
	return &exam, nil
}

func (repo *gradingRepository) FindStudentScores(ctx context.Context, studentID, schoolID string, scopeBySchool bool) ([]float64, error) {
	filter := bson.M{"studentId": studentID, "score": bson.M{"$type": "number"}}
	if scopeBySchool {
		filter["schoolId"] = schoolID
	}
	opts := options.Find().SetProjection(bson.M{"score": 1})
	cur, err := repo.db.Collection(school.CollectionExamResults).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "finding student scores")
	}
	defer cur.Close(ctx)

	var scores []float64
	for cur.Next(ctx) {
		var doc struct {
			Score float64 `bson:"score"`
		}
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding score")
		}
		scores = append(scores, doc.Score)
	}
	if err = cur.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating student scores")
	}
	return scores, nil
}

func (repo *gradingRepository) UpdateExamCounters(ctx context.Context, ref school.ExamRef, counters school.ExamCounters) error {
	res, err := repo.db.Collection(school.CollectionExams).UpdateOne(ctx,
		bson.M{"_id": ref.ExamID, "schoolId": ref.SchoolID, "subjectId": ref.SubjectID},
		setFields(bson.M{
			"pendingReview":       counters.PendingReview,
			"isDone":              counters.IsDone,
			"totalStudentsPassed": counters.TotalStudentsPassed,
			"totalStudentsFailed": counters.TotalStudentsFailed,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "updating exam counters")
	}
	if res.MatchedCount == 0 {
		return grading.ErrExamNotFound
	}
	return nil
}

func (repo *gradingRepository) UpdateSubjectRollup(ctx context.Context, schoolID, subjectID string, rollup school.SubjectRollup) error {
	res, err := repo.db.Collection(school.CollectionSubjects).UpdateOne(ctx,
		bson.M{"_id": subjectID, "schoolId": schoolID},
		setFields(bson.M{
			"pendingReview":       rollup.PendingReview,
			"totalStudentsPassed": rollup.TotalStudentsPassed,
			"totalStudentsFailed": rollup.TotalStudentsFailed,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "updating subject rollup")
	}
	if res.MatchedCount == 0 {
		return grading.ErrSubjectNotFound
	}
	return nil
}

func (repo *gradingRepository) UpdateStudentAverage(ctx context.Context, schoolID, studentID string, avg null.Float64) error {
	update := setFields(bson.M{"averageScore": avg.Float64})
	if !avg.Valid {
		update = unsetField("averageScore")
	}
	res, err := repo.db.Collection(school.CollectionStudents).UpdateOne(ctx,
		bson.M{"_id": studentID, "schoolId": schoolID}, update)
	if err != nil {
		return errors.Wrap(err, "updating student average")
	}
	if res.MatchedCount == 0 {
		return grading.ErrStudentNotFound
	}
	return nil
}

func (repo *gradingRepository) ListSubjects(ctx context.Context, schoolID string) ([]school.Subject, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := repo.db.Collection(school.CollectionSubjects).Find(ctx, bson.M{"schoolId": schoolID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing subjects")
	}
	defer cur.Close(ctx)

	var subjects []school.Subject
	for cur.Next(ctx) {
		var doc subjectDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding subject")
		}
		subjects = append(subjects, doc.model())
	}
	return subjects, errors.Wrap(cur.Err(), "iterating subjects")
}

func (repo *gradingRepository) ListExams(ctx context.Context, schoolID, subjectID string) ([]school.Exam, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := repo.db.Collection(school.CollectionExams).
		Find(ctx, bson.M{"schoolId": schoolID, "subjectId": subjectID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing exams")
	}
	defer cur.Close(ctx)

	var exams []school.Exam
	for cur.Next(ctx) {
		var doc examDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding exam")
		}
		exams = append(exams, doc.model())
	}
	return exams, errors.Wrap(cur.Err(), "iterating exams")
}

func (repo *gradingRepository) ListStudents(ctx context.Context, schoolID string) ([]school.Student, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := repo.db.Collection(school.CollectionStudents).Find(ctx, bson.M{"schoolId": schoolID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing students")
	}
	defer cur.Close(ctx)

	var students []school.Student
	for cur.Next(ctx) {
		var doc studentDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding student")
		}
		students = append(students, doc.model())
	}
	return students, errors.Wrap(cur.Err(), "iterating students")
}
