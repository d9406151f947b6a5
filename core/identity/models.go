package identity

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/trigger"
)

const (
	CollectionUsers         = "users"
	CollectionRegistrations = "registrations"
)

// Status is a registration's lifecycle state. The only legal transitions are
// pending→approved and pending→rejected; approved and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransitionTo validates a status change request.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

type (
	// User is created on first sign-in; authentication itself is handled by
	// the external identity provider.
	User struct {
		ID                    string      `json:"id"`
		Email                 string      `json:"email"`
		DisplayName           null.String `json:"displayName,omitempty"`
		PhotoURL              null.String `json:"photoURL,omitempty"`
		SchoolID              null.String `json:"schoolId,omitempty"`
		DidCompleteOnboarding bool        `json:"didCompleteOnboarding"`
		Admin                 bool        `json:"admin,omitempty"`
		CreatedAt             time.Time   `json:"createdAt"`
		UpdatedAt             time.Time   `json:"updatedAt"`
	}

	// NewUser is the payload the identity provider hands over on first sign-in.
	NewUser struct {
		ID          string
		Email       string
		DisplayName null.String
		PhotoURL    null.String
	}

	// Registration tracks a teacher's access request or invitation. UserID is
	// empty until the invited person signs up; UserEmail serves as the
	// near-unique key before then.
	Registration struct {
		ID              string      `json:"id"`
		UserID          string      `json:"userId"`
		UserEmail       string      `json:"userEmail"`
		UserName        null.String `json:"userName,omitempty"`
		Status          Status      `json:"status"`
		SchoolID        null.String `json:"schoolId,omitempty"`
		ApprovedBy      null.String `json:"approvedBy,omitempty"`
		RejectedBy      null.String `json:"rejectedBy,omitempty"`
		RejectionReason null.String `json:"rejectionReason,omitempty"`
		CreatedAt       time.Time   `json:"createdAt"`
		UpdatedAt       time.Time   `json:"updatedAt"`
	}

	// Claims is the admin identity claim pair managed by the operator CLI.
	Claims struct {
		Admin    bool   `json:"admin"`
		SchoolID string `json:"schoolId"`
	}
)

func (u User) Claims() Claims {
	return Claims{Admin: u.Admin, SchoolID: u.SchoolID.String}
}

func UserPath(userID string) string { return "users/" + userID }

func RegistrationPath(registrationID string) string { return "registrations/" + registrationID }

func (u User) Path() string { return UserPath(u.ID) }

func (r Registration) Path() string { return RegistrationPath(r.ID) }

func (u User) Snapshot() trigger.Snapshot {
	snap := trigger.Snapshot{
		"id":                    u.ID,
		"email":                 u.Email,
		"didCompleteOnboarding": u.DidCompleteOnboarding,
	}
	if u.DisplayName.Valid {
		snap["displayName"] = u.DisplayName.String
	}
	if u.PhotoURL.Valid {
		snap["photoURL"] = u.PhotoURL.String
	}
	if u.SchoolID.Valid {
		snap["schoolId"] = u.SchoolID.String
	}
	if u.Admin {
		snap["admin"] = true
	}
	return snap
}

func (r Registration) Snapshot() trigger.Snapshot {
	snap := trigger.Snapshot{
		"id":        r.ID,
		"userId":    r.UserID,
		"userEmail": r.UserEmail,
		"status":    string(r.Status),
	}
	if r.UserName.Valid {
		snap["userName"] = r.UserName.String
	}
	if r.SchoolID.Valid {
		snap["schoolId"] = r.SchoolID.String
	}
	if r.ApprovedBy.Valid {
		snap["approvedBy"] = r.ApprovedBy.String
	}
	if r.RejectedBy.Valid {
		snap["rejectedBy"] = r.RejectedBy.String
	}
	if r.RejectionReason.Valid {
		snap["rejectionReason"] = r.RejectionReason.String
	}
	return snap
}
