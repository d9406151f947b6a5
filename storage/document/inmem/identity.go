package inmemdoc

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/trigger"
)

type identityRepository struct {
	db *DB
}

var _ identity.Repository = (*identityRepository)(nil) // interface compliance check

func NewIdentityRepository(db *DB) identity.Repository {
	return &identityRepository{db: db}
}

func (repo *identityRepository) GetUser(_ context.Context, userID string) (identity.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	usr, ok := repo.db.users[userID]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return usr, nil
}

func (repo *identityRepository) GetUserByEmail(_ context.Context, email string) (identity.User, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	for _, usr := range repo.db.users {
		if usr.Email == email {
			return usr, nil
		}
	}
	return identity.User{}, identity.ErrUserNotFound
}

func (repo *identityRepository) CreateUser(_ context.Context, usr identity.User) (identity.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	repo.db.mu.Lock()
	repo.db.users[usr.ID] = usr
	repo.db.mu.Unlock()

	repo.db.emit(usr.Path(), trigger.KindCreate, nil, usr.Snapshot())
	return usr, nil
}

func (repo *identityRepository) UpdateUserSchool(_ context.Context, userID string, schoolID null.String) error {
	repo.db.mu.Lock()
	usr, ok := repo.db.users[userID]
	if !ok {
		repo.db.mu.Unlock()
		return identity.ErrUserNotFound
	}
	before := usr.Snapshot()
	usr.SchoolID = schoolID
	usr.UpdatedAt = time.Now().UTC()
	repo.db.users[userID] = usr
	repo.db.mu.Unlock()

	repo.db.emit(usr.Path(), trigger.KindUpdate, before, usr.Snapshot())
	return nil
}

func (repo *identityRepository) UpdateUserAdmin(_ context.Context, userID string, admin bool) error {
	repo.db.mu.Lock()
	usr, ok := repo.db.users[userID]
	if !ok {
		repo.db.mu.Unlock()
		return identity.ErrUserNotFound
	}
	before := usr.Snapshot()
	usr.Admin = admin
	usr.UpdatedAt = time.Now().UTC()
	repo.db.users[userID] = usr
	repo.db.mu.Unlock()

	repo.db.emit(usr.Path(), trigger.KindUpdate, before, usr.Snapshot())
	return nil
}

func (repo *identityRepository) GetRegistration(_ context.Context, registrationID string) (identity.Registration, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	reg, ok := repo.db.registrations[registrationID]
	if !ok {
		return identity.Registration{}, identity.ErrRegistrationNotFound
	}
	return reg, nil
}

func (repo *identityRepository) FilterRegistrationsByUserID(_ context.Context, userID string) ([]identity.Registration, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	regs := make([]identity.Registration, 0)
	for _, reg := range repo.db.registrations {
		if reg.UserID == userID {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
	return regs, nil
}

func (repo *identityRepository) FilterRegistrationsByStatus(_ context.Context, status identity.Status) ([]identity.Registration, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	regs := make([]identity.Registration, 0)
	for _, reg := range repo.db.registrations {
		if reg.Status == status {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
	return regs, nil
}

func (repo *identityRepository) GetRegistrationByEmail(_ context.Context, email string) (*identity.Registration, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	matches := make([]identity.Registration, 0, 1)
	for _, reg := range repo.db.registrations {
		if reg.UserEmail == email {
			matches = append(matches, reg)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return &matches[0], nil
}

func (repo *identityRepository) CreateRegistration(_ context.Context, reg identity.Registration) (identity.Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	repo.db.mu.Lock()
	repo.db.registrations[reg.ID] = reg
	repo.db.mu.Unlock()

	repo.db.emit(reg.Path(), trigger.KindCreate, nil, reg.Snapshot())
	return reg, nil
}

func (repo *identityRepository) UpdateRegistration(_ context.Context, reg identity.Registration) (identity.Registration, error) {
	repo.db.mu.Lock()
	prev, ok := repo.db.registrations[reg.ID]
	if !ok {
		repo.db.mu.Unlock()
		return identity.Registration{}, identity.ErrRegistrationNotFound
	}
	repo.db.registrations[reg.ID] = reg
	repo.db.mu.Unlock()

	repo.db.emit(reg.Path(), trigger.KindUpdate, prev.Snapshot(), reg.Snapshot())
	return reg, nil
}

func (repo *identityRepository) UpdateRegistrationSchools(_ context.Context, registrationIDs []string, schoolID null.String) error {
	now := time.Now().UTC()
	updates := make([]trigger.Event, 0, len(registrationIDs))

	// all-or-nothing: verify every id before touching any document
	repo.db.mu.Lock()
	for _, id := range registrationIDs {
		if _, ok := repo.db.registrations[id]; !ok {
			repo.db.mu.Unlock()
			return identity.ErrRegistrationNotFound
		}
	}
	for _, id := range registrationIDs {
		reg := repo.db.registrations[id]
		before := reg.Snapshot()
		reg.SchoolID = schoolID
		reg.UpdatedAt = now
		repo.db.registrations[id] = reg
		updates = append(updates, trigger.Event{
			Path: reg.Path(), Kind: trigger.KindUpdate, Before: before, After: reg.Snapshot(), At: now,
		})
	}
	repo.db.mu.Unlock()

	for _, evt := range updates {
		repo.db.emit(evt.Path, evt.Kind, evt.Before, evt.After)
	}
	return nil
}
