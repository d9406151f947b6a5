package identity

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/trigger"
)

var (
	// errors
	ErrUserNotFound         = errors.New("user not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrEmailInvited         = errors.New("this email has already been invited")
	ErrNotSignedUp          = errors.New("user has not signed up yet")
)

type (
	Repository interface {
		GetUser(ctx context.Context, userID string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		CreateUser(ctx context.Context, usr User) (User, error)
		UpdateUserSchool(ctx context.Context, userID string, schoolID null.String) error
		UpdateUserAdmin(ctx context.Context, userID string, admin bool) error

		GetRegistration(ctx context.Context, registrationID string) (Registration, error)
		FilterRegistrationsByUserID(ctx context.Context, userID string) ([]Registration, error)
		FilterRegistrationsByStatus(ctx context.Context, status Status) ([]Registration, error)
		// GetRegistrationByEmail returns nil when no registration carries the email.
		GetRegistrationByEmail(ctx context.Context, email string) (*Registration, error)
		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		UpdateRegistration(ctx context.Context, reg Registration) (Registration, error)
		// UpdateRegistrationSchools sets schoolId on every given registration
		// atomically, as one all-or-nothing batch write.
		UpdateRegistrationSchools(ctx context.Context, registrationIDs []string, schoolID null.String) error
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger
		conf    *core.Config
	}

	// Invitation is an admin's "invite by email" request, made before the
	// invited teacher ever signs up.
	Invitation struct {
		Email      string
		Name       string
		SchoolID   string
		SchoolName string
	}
)

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, logger: logger, conf: conf}
}

const (
	userWritePattern         = "users/{userId}"
	registrationWritePattern = "registrations/{registrationId}"
)

func (svc *Service) Bindings() []trigger.Binding {
	return []trigger.Binding{
		{
			Name:    "registration-school-sync",
			Pattern: trigger.MustCompile(userWritePattern),
			On:      trigger.OnUpdate,
			Handle:  svc.handleUserUpdate,
		},
		{
			Name:    "registration-bootstrap",
			Pattern: trigger.MustCompile(userWritePattern),
			On:      trigger.OnCreate,
			Handle:  svc.handleUserCreate,
		},
		{
			Name:    "user-school-sync",
			Pattern: trigger.MustCompile(registrationWritePattern),
			On:      trigger.OnUpdate,
			Handle:  svc.handleRegistrationUpdate,
		},
	}
}

func (svc *Service) handleUserUpdate(ctx context.Context, evt trigger.Event, params trigger.Params) error {
	userID := params["userId"]
	beforeSchool, _ := evt.Before.String("schoolId")
	afterSchool, afterOK := evt.After.String("schoolId")
	if beforeSchool == afterSchool {
		svc.logger.Debug("skipped registration sync: schoolId unchanged", userID)
		return nil
	}
	return svc.SyncUserSchoolToRegistrations(ctx, userID, null.NewString(afterSchool, afterOK))
}

func (svc *Service) handleUserCreate(ctx context.Context, evt trigger.Event, params trigger.Params) error {
	email, _ := evt.After.String("email")
	name, nameOK := evt.After.String("displayName")
	return svc.BootstrapRegistration(ctx, params["userId"], email, null.NewString(name, nameOK))
}

func (svc *Service) handleRegistrationUpdate(ctx context.Context, evt trigger.Event, params trigger.Params) error {
	registrationID := params["registrationId"]
	beforeSchool, _ := evt.Before.String("schoolId")
	afterSchool, afterOK := evt.After.String("schoolId")
	userID, _ := evt.After.String("userId")

	if beforeSchool == afterSchool || userID == "" || !afterOK {
		svc.logger.Debug("skipped user sync: schoolId unchanged or registration incomplete", registrationID)
		return nil
	}
	return svc.SyncRegistrationSchoolToUser(ctx, userID, afterSchool)
}

// SyncUserSchoolToRegistrations pushes a user's schoolId onto all of that
// user's registrations, atomically as one batch.
func (svc *Service) SyncUserSchoolToRegistrations(ctx context.Context, userID string, schoolID null.String) error {
	regs, err := svc.repo.FilterRegistrationsByUserID(ctx, userID)
	if err != nil {
		return errors.Wrapf(err, "finding registrations of user %s", userID)
	}
	if len(regs) == 0 {
		svc.logger.Info("no registrations found for user", userID)
		return nil
	}

	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.ID)
	}
	if err = svc.repo.UpdateRegistrationSchools(ctx, ids, schoolID); err != nil {
		return errors.Wrapf(err, "batch-updating %d registrations of user %s", len(ids), userID)
	}
	svc.logger.Info("synced schoolId to registrations", userID, schoolID, len(ids))
	return nil
}

// SyncRegistrationSchoolToUser pushes a registration's schoolId back onto the
// user it references. With both halves firing independently, a transient
// disagreement between user and registration is expected; convergence is
// eventual, not immediate.
func (svc *Service) SyncRegistrationSchoolToUser(ctx context.Context, userID, schoolID string) error {
	if err := svc.repo.UpdateUserSchool(ctx, userID, null.StringFrom(schoolID)); err != nil {
		return errors.Wrapf(err, "updating schoolId of user %s", userID)
	}
	svc.logger.Info("synced schoolId to user", userID, schoolID)
	return nil
}

// BootstrapRegistration creates the pending registration backing a freshly
// created user. A retried delivery finds the first attempt's registration and
// skips.
func (svc *Service) BootstrapRegistration(ctx context.Context, userID, email string, name null.String) error {
	existing, err := svc.repo.FilterRegistrationsByUserID(ctx, userID)
	if err != nil {
		return errors.Wrapf(err, "checking registrations of user %s", userID)
	}
	if len(existing) > 0 {
		svc.logger.Info("registration already exists for user, skipping creation", userID)
		return nil
	}

	now := time.Now().UTC()
	reg := Registration{
		UserID:    userID,
		UserEmail: email,
		UserName:  name,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err = svc.repo.CreateRegistration(ctx, reg); err != nil {
		return errors.Wrapf(err, "creating registration for user %s", userID)
	}
	svc.logger.Info("created pending registration for user", userID)
	return nil
}

// EnsureUser creates the user document on first authentication. When an
// invitation (a registration matching the email, carrying a schoolId)
// pre-dates the sign-in, the new user is pre-seeded with that school and the
// registration flips to approved with the now-known userId.
func (svc *Service) EnsureUser(ctx context.Context, nu NewUser) (User, error) {
	if usr, err := svc.repo.GetUser(ctx, nu.ID); err == nil {
		return usr, nil
	} else if errors.Cause(err) != ErrUserNotFound {
		return User{}, errors.Wrapf(err, "reading user %s", nu.ID)
	}

	email := core.CleanString(nu.Email, true)
	reg, err := svc.repo.GetRegistrationByEmail(ctx, email)
	if err != nil {
		return User{}, errors.Wrapf(err, "finding registration by email %s", email)
	}

	now := time.Now().UTC()
	usr := User{
		ID:          nu.ID,
		Email:       email,
		DisplayName: nu.DisplayName,
		PhotoURL:    nu.PhotoURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if invited := reg != nil && reg.SchoolID.Valid; invited {
		usr.SchoolID = reg.SchoolID

		// Claim the invitation before the user document exists: the create
		// event fans out to the registration bootstrap, whose lookup by
		// userId must find this registration rather than insert a second one.
		reg.Status = StatusApproved
		reg.UserID = nu.ID
		reg.UpdatedAt = now
		if _, err = svc.repo.UpdateRegistration(ctx, *reg); err != nil {
			return User{}, errors.Wrapf(err, "activating invitation %s", reg.ID)
		}
		svc.logger.Info("activated invitation on sign-up", nu.ID, reg.ID)
	}

	usr, err = svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrapf(err, "creating user %s", nu.ID)
	}
	return usr, nil
}

// Invite creates a pending registration carrying the target school before the
// invited teacher has an account, and mails them about it.
func (svc *Service) Invite(ctx context.Context, inv Invitation) (Registration, error) {
	email := core.CleanString(inv.Email, true)
	existing, err := svc.repo.GetRegistrationByEmail(ctx, email)
	if err != nil {
		return Registration{}, errors.Wrapf(err, "finding registration by email %s", email)
	}
	if existing != nil {
		return Registration{}, core.NewValidationError(ErrEmailInvited,
			core.FieldError{Field: "email", Error: ErrEmailInvited.Error()})
	}

	now := time.Now().UTC()
	reg := Registration{
		UserEmail: email,
		UserName:  null.NewString(inv.Name, inv.Name != ""),
		Status:    StatusPending,
		SchoolID:  null.StringFrom(inv.SchoolID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	reg, err = svc.repo.CreateRegistration(ctx, reg)
	if err != nil {
		return Registration{}, errors.Wrapf(err, "creating invitation for %s", email)
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: inv.Name, Address: email}},
		Subject:      "You have been invited",
		TemplateName: "invitation",
		TemplateData: core.ContextData{
			FrontendBaseURL: svc.conf.FrontendBaseURL,
			Data: struct{ Name, SchoolName string }{
				Name:       inv.Name,
				SchoolName: inv.SchoolName,
			},
		},
	})
	svc.logger.Info("invited email to school", email, inv.SchoolID)
	return reg, nil
}

// Approve moves a pending registration to approved and assigns the user to
// the school. The user existence check is sequenced before any write so a
// dangling userId aborts with nothing applied.
func (svc *Service) Approve(ctx context.Context, registrationID, schoolID, approvedBy string) (Registration, error) {
	reg, err := svc.repo.GetRegistration(ctx, registrationID)
	if err != nil {
		return Registration{}, errors.Wrapf(err, "reading registration %s", registrationID)
	}
	if !reg.Status.CanTransitionTo(StatusApproved) {
		return Registration{}, core.NewValidationError(
			errors.Errorf("registration is already %s", reg.Status),
			core.FieldError{Field: "status", Error: "only pending registrations can be approved"})
	}
	if reg.UserID == "" {
		return Registration{}, core.NewValidationError(ErrNotSignedUp,
			core.FieldError{Field: "userId", Error: ErrNotSignedUp.Error()})
	}
	if _, err = svc.repo.GetUser(ctx, reg.UserID); err != nil {
		return Registration{}, errors.Wrapf(err, "reading user %s of registration %s", reg.UserID, registrationID)
	}

	reg.Status = StatusApproved
	reg.SchoolID = null.StringFrom(schoolID)
	reg.ApprovedBy = null.StringFrom(approvedBy)
	reg.UpdatedAt = time.Now().UTC()
	if reg, err = svc.repo.UpdateRegistration(ctx, reg); err != nil {
		return Registration{}, errors.Wrapf(err, "updating registration %s", registrationID)
	}

	if err = svc.repo.UpdateUserSchool(ctx, reg.UserID, reg.SchoolID); err != nil {
		return Registration{}, errors.Wrapf(err, "assigning user %s to school %s", reg.UserID, schoolID)
	}
	svc.logger.Info("approved registration", registrationID, schoolID, approvedBy)
	return reg, nil
}

// Reject moves a pending registration to rejected.
func (svc *Service) Reject(ctx context.Context, registrationID, rejectedBy, reason string) (Registration, error) {
	reg, err := svc.repo.GetRegistration(ctx, registrationID)
	if err != nil {
		return Registration{}, errors.Wrapf(err, "reading registration %s", registrationID)
	}
	if !reg.Status.CanTransitionTo(StatusRejected) {
		return Registration{}, core.NewValidationError(
			errors.Errorf("registration is already %s", reg.Status),
			core.FieldError{Field: "status", Error: "only pending registrations can be rejected"})
	}

	reg.Status = StatusRejected
	reg.RejectedBy = null.StringFrom(rejectedBy)
	reg.RejectionReason = null.NewString(reason, reason != "")
	reg.UpdatedAt = time.Now().UTC()
	if reg, err = svc.repo.UpdateRegistration(ctx, reg); err != nil {
		return Registration{}, errors.Wrapf(err, "updating registration %s", registrationID)
	}
	svc.logger.Info("rejected registration", registrationID, rejectedBy)
	return reg, nil
}

// PendingRegistrations lists registrations awaiting review.
func (svc *Service) PendingRegistrations(ctx context.Context) ([]Registration, error) {
	return svc.repo.FilterRegistrationsByStatus(ctx, StatusPending)
}

// UserByEmail returns the account matching email.
func (svc *Service) UserByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true))
}

// GetClaims returns the admin claim pair of the account matching email.
func (svc *Service) GetClaims(ctx context.Context, email string) (Claims, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true))
	if err != nil {
		return Claims{}, err
	}
	return usr.Claims(), nil
}

// SetAdminClaims grants the admin claim pair {admin: true, schoolId} to the
// account matching email.
func (svc *Service) SetAdminClaims(ctx context.Context, email, schoolID string) (Claims, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true))
	if err != nil {
		return Claims{}, err
	}
	if err = svc.repo.UpdateUserAdmin(ctx, usr.ID, true); err != nil {
		return Claims{}, errors.Wrapf(err, "setting admin claim of user %s", usr.ID)
	}
	if err = svc.repo.UpdateUserSchool(ctx, usr.ID, null.StringFrom(schoolID)); err != nil {
		return Claims{}, errors.Wrapf(err, "setting schoolId claim of user %s", usr.ID)
	}
	return Claims{Admin: true, SchoolID: schoolID}, nil
}

// RemoveAdminClaims revokes the admin claim of the account matching email.
func (svc *Service) RemoveAdminClaims(ctx context.Context, email string) error {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true))
	if err != nil {
		return err
	}
	return errors.Wrapf(svc.repo.UpdateUserAdmin(ctx, usr.ID, false), "removing admin claim of user %s", usr.ID)
}
