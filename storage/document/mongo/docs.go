package mongodoc

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/school"
)

// The bson doc types below shadow the domain models: null/v8 has no bson
// codec, so optional fields travel as pointers and are converted at the
// repository boundary.

type schoolDoc struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	ActiveBatchID *string   `bson:"activeBatchId,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (d schoolDoc) model() school.School {
	return school.School{
		ID:            d.ID,
		Name:          d.Name,
		ActiveBatchID: null.StringFromPtr(d.ActiveBatchID),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type subjectDoc struct {
	ID                  string    `bson:"_id"`
	SchoolID            string    `bson:"schoolId"`
	Name                string    `bson:"name"`
	PendingReview       int       `bson:"pendingReview"`
	TotalStudentsPassed int       `bson:"totalStudentsPassed"`
	TotalStudentsFailed int       `bson:"totalStudentsFailed"`
	CreatedAt           time.Time `bson:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt"`
}

func (d subjectDoc) model() school.Subject {
	return school.Subject{
		ID:                  d.ID,
		SchoolID:            d.SchoolID,
		Name:                d.Name,
		PendingReview:       d.PendingReview,
		TotalStudentsPassed: d.TotalStudentsPassed,
		TotalStudentsFailed: d.TotalStudentsFailed,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type examDoc struct {
	ID                  string    `bson:"_id"`
	SchoolID            string    `bson:"schoolId"`
	SubjectID           string    `bson:"subjectId"`
	Name                string    `bson:"name"`
	PassingScore        *float64  `bson:"passingScore,omitempty"`
	PendingReview       int       `bson:"pendingReview"`
	IsDone              bool      `bson:"isDone"`
	TotalStudentsPassed int       `bson:"totalStudentsPassed"`
	TotalStudentsFailed int       `bson:"totalStudentsFailed"`
	CreatedAt           time.Time `bson:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt"`
}

func (d examDoc) model() school.Exam {
	return school.Exam{
		ID:                  d.ID,
		SchoolID:            d.SchoolID,
		SubjectID:           d.SubjectID,
		Name:                d.Name,
		PassingScore:        null.Float64FromPtr(d.PassingScore),
		PendingReview:       d.PendingReview,
		IsDone:              d.IsDone,
		TotalStudentsPassed: d.TotalStudentsPassed,
		TotalStudentsFailed: d.TotalStudentsFailed,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type userDoc struct {
	ID                    string    `bson:"_id"`
	Email                 string    `bson:"email"`
	DisplayName           *string   `bson:"displayName,omitempty"`
	PhotoURL              *string   `bson:"photoURL,omitempty"`
	SchoolID              *string   `bson:"schoolId,omitempty"`
	DidCompleteOnboarding bool      `bson:"didCompleteOnboarding"`
	Admin                 bool      `bson:"admin,omitempty"`
	CreatedAt             time.Time `bson:"createdAt"`
	UpdatedAt             time.Time `bson:"updatedAt"`
}

func newUserDoc(usr identity.User) userDoc {
	return userDoc{
		ID:                    usr.ID,
		Email:                 usr.Email,
		DisplayName:           usr.DisplayName.Ptr(),
		PhotoURL:              usr.PhotoURL.Ptr(),
		SchoolID:              usr.SchoolID.Ptr(),
		DidCompleteOnboarding: usr.DidCompleteOnboarding,
		Admin:                 usr.Admin,
		CreatedAt:             usr.CreatedAt.UTC(),
		UpdatedAt:             usr.UpdatedAt.UTC(),
	}
}

func (d userDoc) model() identity.User {
	return identity.User{
		ID:                    d.ID,
		Email:                 d.Email,
		DisplayName:           null.StringFromPtr(d.DisplayName),
		PhotoURL:              null.StringFromPtr(d.PhotoURL),
		SchoolID:              null.StringFromPtr(d.SchoolID),
		DidCompleteOnboarding: d.DidCompleteOnboarding,
		Admin:                 d.Admin,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

type registrationDoc struct {
	ID              string    `bson:"_id"`
	UserID          string    `bson:"userId"`
	UserEmail       string    `bson:"userEmail"`
	UserName        *string   `bson:"userName,omitempty"`
	Status          string    `bson:"status"`
	SchoolID        *string   `bson:"schoolId,omitempty"`
	ApprovedBy      *string   `bson:"approvedBy,omitempty"`
	RejectedBy      *string   `bson:"rejectedBy,omitempty"`
	RejectionReason *string   `bson:"rejectionReason,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

func newRegistrationDoc(reg identity.Registration) registrationDoc {
	return registrationDoc{
		ID:              reg.ID,
		UserID:          reg.UserID,
		UserEmail:       reg.UserEmail,
		UserName:        reg.UserName.Ptr(),
		Status:          string(reg.Status),
		SchoolID:        reg.SchoolID.Ptr(),
		ApprovedBy:      reg.ApprovedBy.Ptr(),
		RejectedBy:      reg.RejectedBy.Ptr(),
		RejectionReason: reg.RejectionReason.Ptr(),
		CreatedAt:       reg.CreatedAt.UTC(),
		UpdatedAt:       reg.UpdatedAt.UTC(),
	}
}

func (d registrationDoc) model() identity.Registration {
	return identity.Registration{
		ID:              d.ID,
		UserID:          d.UserID,
		UserEmail:       d.UserEmail,
		UserName:        null.StringFromPtr(d.UserName),
		Status:          identity.Status(d.Status),
		SchoolID:        null.StringFromPtr(d.SchoolID),
		ApprovedBy:      null.StringFromPtr(d.ApprovedBy),
		RejectedBy:      null.StringFromPtr(d.RejectedBy),
		RejectionReason: null.StringFromPtr(d.RejectionReason),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type studentDoc struct {
	ID           string    `bson:"_id"`
	SchoolID     string    `bson:"schoolId"`
	Name         string    `bson:"name"`
	PhotoURL     *string   `bson:"photoURL,omitempty"`
	BatchID      *string   `bson:"batchId,omitempty"`
	AverageScore *float64  `bson:"averageScore,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d studentDoc) model() school.Student {
	return school.Student{
		ID:           d.ID,
		SchoolID:     d.SchoolID,
		Name:         d.Name,
		PhotoURL:     null.StringFromPtr(d.PhotoURL),
		BatchID:      null.StringFromPtr(d.BatchID),
		AverageScore: null.Float64FromPtr(d.AverageScore),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
