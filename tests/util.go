package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/identity"
)

// Logger discards everything; tests assert on state, not log output.
type Logger struct{}

var _ core.Logger = Logger{}

func (Logger) Enable(bool)                  {}
func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}

func NewConfig() *core.Config {
	return &core.Config{
		TestMode:        true,
		Env:             "TEST",
		AppName:         "Shule",
		SecretKey:       "secret",
		FrontendBaseURL: "https://shule.test",
		Server: core.ServerConfig{
			Host:               "localhost",
			Port:               "8000",
			JWTExpirationDelta: 10 * time.Minute,
		},
		Aggregator: core.AggregatorConfig{
			MaxAttempts:           3,
			RetryBackoff:          time.Millisecond,
			ScopeAveragesBySchool: true,
		},
	}
}

func CreateUser(
	t *testing.T,
	repo identity.Repository,
	id, email, name, schoolID string,
	admin bool,
) identity.User {
	now := time.Now().UTC()
	usr := identity.User{
		ID:          id,
		Email:       email,
		DisplayName: null.NewString(name, name != ""),
		SchoolID:    null.NewString(schoolID, schoolID != ""),
		Admin:       admin,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateRegistration(
	t *testing.T,
	repo identity.Repository,
	userID, email string,
	status identity.Status,
	schoolID string,
	createdAt ...time.Time,
) identity.Registration {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	reg := identity.Registration{
		UserID:    userID,
		UserEmail: email,
		Status:    status,
		SchoolID:  null.NewString(schoolID, schoolID != ""),
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	reg, err := repo.CreateRegistration(context.Background(), reg)
	if err != nil {
		t.Fatalf("createRegistration() failed: %v", err)
	}
	return reg
}

// WaitFor polls cond until it holds or the deadline passes. Aggregator
// handlers run asynchronously, so assertions on their writes must wait.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
