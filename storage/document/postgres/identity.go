package pgdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/dadanisme/shule/core/identity"
)

type identityRepository struct {
	db *sqlx.DB
}

var _ identity.Repository = (*identityRepository)(nil)

func NewIdentityRepository(db *sqlx.DB) *identityRepository {
	return &identityRepository{db: db}
}

func insertDoc(ctx context.Context, db *sqlx.DB, path, collection string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO documents (path, collection, body) VALUES ($1, $2, $3)",
		path, collection, body)
	return err
}

func (repo *identityRepository) GetUser(ctx context.Context, userID string) (identity.User, error) {
	var usr identity.User
	if err := getDoc(ctx, repo.db, identity.UserPath(userID), &usr); err != nil {
		if err == sql.ErrNoRows {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, errors.Wrap(err, "getting user")
	}
	return usr, nil
}

func (repo *identityRepository) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'email' = $2 LIMIT 1`
	var body []byte
	err := repo.db.QueryRowxContext(ctx, q, identity.CollectionUsers, email).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, errors.Wrap(err, "getting user by email")
	}
	var usr identity.User
	if err = json.Unmarshal(body, &usr); err != nil {
		return identity.User{}, errors.Wrap(err, "decoding user")
	}
	return usr, nil
}

func (repo *identityRepository) CreateUser(ctx context.Context, usr identity.User) (identity.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	if err := insertDoc(ctx, repo.db, usr.Path(), identity.CollectionUsers, usr); err != nil {
		return identity.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *identityRepository) UpdateUserSchool(ctx context.Context, userID string, schoolID null.String) error {
	path := identity.UserPath(userID)
	if !schoolID.Valid {
		res, err := repo.db.ExecContext(ctx,
			"UPDATE documents SET body = body - 'schoolId', updated_at = now() WHERE path = $1", path)
		if err != nil {
			return errors.Wrap(err, "clearing user school")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "clearing user school")
		}
		if n == 0 {
			return identity.ErrUserNotFound
		}
		return nil
	}

	matched, err := patchDoc(ctx, repo.db, path, map[string]interface{}{"schoolId": schoolID.String})
	if err != nil {
		return errors.Wrap(err, "updating user school")
	}
	if !matched {
		return identity.ErrUserNotFound
	}
	return nil
}

func (repo *identityRepository) UpdateUserAdmin(ctx context.Context, userID string, admin bool) error {
	matched, err := patchDoc(ctx, repo.db, identity.UserPath(userID), map[string]interface{}{"admin": admin})
	if err != nil {
		return errors.Wrap(err, "updating user admin claim")
	}
	if !matched {
		return identity.ErrUserNotFound
	}
	return nil
}

func (repo *identityRepository) GetRegistration(ctx context.Context, registrationID string) (identity.Registration, error) {
	var reg identity.Registration
	if err := getDoc(ctx, repo.db, identity.RegistrationPath(registrationID), &reg); err != nil {
		if err == sql.ErrNoRows {
			return identity.Registration{}, identity.ErrRegistrationNotFound
		}
		return identity.Registration{}, errors.Wrap(err, "getting registration")
	}
	return reg, nil
}

func (repo *identityRepository) FilterRegistrationsByUserID(ctx context.Context, userID string) ([]identity.Registration, error) {
	return repo.filterRegistrations(ctx, "body ->> 'userId' = $2", userID)
}

func (repo *identityRepository) FilterRegistrationsByStatus(ctx context.Context, status identity.Status) ([]identity.Registration, error) {
	return repo.filterRegistrations(ctx, "body ->> 'status' = $2", string(status))
}

func (repo *identityRepository) filterRegistrations(ctx context.Context, cond string, arg interface{}) ([]identity.Registration, error) {
	q := `SELECT body FROM documents WHERE collection = $1 AND ` + cond +
		` ORDER BY body ->> 'createdAt' ASC`
	var regs []identity.Registration
	err := listDocs(ctx, repo.db, q, []interface{}{identity.CollectionRegistrations, arg}, func(body []byte) error {
		var reg identity.Registration
		if err := json.Unmarshal(body, &reg); err != nil {
			return err
		}
		regs = append(regs, reg)
		return nil
	})
	return regs, errors.Wrap(err, "filtering registrations")
}

func (repo *identityRepository) GetRegistrationByEmail(ctx context.Context, email string) (*identity.Registration, error) {
	const q = `SELECT body FROM documents
		WHERE collection = $1 AND body ->> 'userEmail' = $2
		ORDER BY body ->> 'createdAt' ASC LIMIT 1`
	var body []byte
	err := repo.db.QueryRowxContext(ctx, q, identity.CollectionRegistrations, email).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting registration by email")
	}
	var reg identity.Registration
	if err = json.Unmarshal(body, &reg); err != nil {
		return nil, errors.Wrap(err, "decoding registration")
	}
	return &reg, nil
}

func (repo *identityRepository) CreateRegistration(ctx context.Context, reg identity.Registration) (identity.Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if err := insertDoc(ctx, repo.db, reg.Path(), identity.CollectionRegistrations, reg); err != nil {
		return identity.Registration{}, errors.Wrap(err, "creating registration")
	}
	return reg, nil
}

func (repo *identityRepository) UpdateRegistration(ctx context.Context, reg identity.Registration) (identity.Registration, error) {
	reg.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(reg)
	if err != nil {
		return identity.Registration{}, errors.Wrap(err, "encoding registration")
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE documents SET body = $2, updated_at = now() WHERE path = $1", reg.Path(), body)
	if err != nil {
		return identity.Registration{}, errors.Wrap(err, "updating registration")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identity.Registration{}, errors.Wrap(err, "updating registration")
	}
	if n == 0 {
		return identity.Registration{}, identity.ErrRegistrationNotFound
	}
	return reg, nil
}

// UpdateRegistrationSchools runs as one transaction so a partial batch never
// becomes visible.
func (repo *identityRepository) UpdateRegistrationSchools(ctx context.Context, registrationIDs []string, schoolID null.String) error {
	if len(registrationIDs) == 0 {
		return nil
	}
	paths := make([]string, len(registrationIDs))
	for i, id := range registrationIDs {
		paths[i] = identity.RegistrationPath(id)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var q string
	args := []interface{}{pq.Array(paths)}
	if schoolID.Valid {
		patch, err := json.Marshal(map[string]interface{}{
			"schoolId":  schoolID.String,
			"updatedAt": time.Now().UTC(),
		})
		if err != nil {
			return errors.Wrap(err, "encoding patch")
		}
		q = "UPDATE documents SET body = body || $2::jsonb, updated_at = now() WHERE path = ANY($1)"
		args = append(args, patch)
	} else {
		q = "UPDATE documents SET body = body - 'schoolId', updated_at = now() WHERE path = ANY($1)"
	}

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "updating registration schools")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "updating registration schools")
	}
	if int(n) != len(registrationIDs) {
		return identity.ErrRegistrationNotFound
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
