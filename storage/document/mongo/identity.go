package mongodoc

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dadanisme/shule/core/identity"
)

type identityRepository struct {
	db *mongo.Database
}

var _ identity.Repository = (*identityRepository)(nil)

func NewIdentityRepository(db *mongo.Database) *identityRepository {
	return &identityRepository{db: db}
}

func (repo *identityRepository) users() *mongo.Collection {
	return repo.db.Collection(identity.CollectionUsers)
}

func (repo *identityRepository) registrations() *mongo.Collection {
	return repo.db.Collection(identity.CollectionRegistrations)
}

func (repo *identityRepository) GetUser(ctx context.Context, userID string) (identity.User, error) {
	var doc userDoc
	if err := repo.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, errors.Wrap(err, "getting user")
	}
	return doc.model(), nil
}

func (repo *identityRepository) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	var doc userDoc
	if err := repo.users().FindOne(ctx, bson.M{"email": email}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, errors.Wrap(err, "getting user by email")
	}
	return doc.model(), nil
}

func (repo *identityRepository) CreateUser(ctx context.Context, usr identity.User) (identity.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	if _, err := repo.users().InsertOne(ctx, newUserDoc(usr)); err != nil {
		return identity.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *identityRepository) UpdateUserSchool(ctx context.Context, userID string, schoolID null.String) error {
	update := setFields(bson.M{"schoolId": schoolID.String})
	if !schoolID.Valid {
		update = unsetField("schoolId")
	}
	res, err := repo.users().UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return errors.Wrap(err, "updating user school")
	}
	if res.MatchedCount == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (repo *identityRepository) UpdateUserAdmin(ctx context.Context, userID string, admin bool) error {
	res, err := repo.users().UpdateOne(ctx,
		bson.M{"_id": userID}, setFields(bson.M{"admin": admin}))
	if err != nil {
		return errors.Wrap(err, "updating user admin claim")
	}
	if res.MatchedCount == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (repo *identityRepository) GetRegistration(ctx context.Context, registrationID string) (identity.Registration, error) {
	var doc registrationDoc
	if err := repo.registrations().FindOne(ctx, bson.M{"_id": registrationID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return identity.Registration{}, identity.ErrRegistrationNotFound
		}
		return identity.Registration{}, errors.Wrap(err, "getting registration")
	}
	return doc.model(), nil
}

func (repo *identityRepository) FilterRegistrationsByUserID(ctx context.Context, userID string) ([]identity.Registration, error) {
	return repo.filterRegistrations(ctx, bson.M{"userId": userID})
}

func (repo *identityRepository) FilterRegistrationsByStatus(ctx context.Context, status identity.Status) ([]identity.Registration, error) {
	return repo.filterRegistrations(ctx, bson.M{"status": string(status)})
}

func (repo *identityRepository) filterRegistrations(ctx context.Context, filter bson.M) ([]identity.Registration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := repo.registrations().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "filtering registrations")
	}
	defer cur.Close(ctx)

	var regs []identity.Registration
	for cur.Next(ctx) {
		var doc registrationDoc
		if err = cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decoding registration")
		}
		regs = append(regs, doc.model())
	}
	return regs, errors.Wrap(cur.Err(), "iterating registrations")
}

func (repo *identityRepository) GetRegistrationByEmail(ctx context.Context, email string) (*identity.Registration, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	var doc registrationDoc
	err := repo.registrations().FindOne(ctx, bson.M{"userEmail": email}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting registration by email")
	}
	reg := doc.model()
	return &reg, nil
}

func (repo *identityRepository) CreateRegistration(ctx context.Context, reg identity.Registration) (identity.Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if _, err := repo.registrations().InsertOne(ctx, newRegistrationDoc(reg)); err != nil {
		return identity.Registration{}, errors.Wrap(err, "creating registration")
	}
	return reg, nil
}

func (repo *identityRepository) UpdateRegistration(ctx context.Context, reg identity.Registration) (identity.Registration, error) {
	doc := newRegistrationDoc(reg)
	res, err := repo.registrations().ReplaceOne(ctx, bson.M{"_id": reg.ID}, doc)
	if err != nil {
		return identity.Registration{}, errors.Wrap(err, "updating registration")
	}
	if res.MatchedCount == 0 {
		return identity.Registration{}, identity.ErrRegistrationNotFound
	}
	return reg, nil
}

// UpdateRegistrationSchools runs as a single multi-document transaction so a
// partial batch never becomes visible.
func (repo *identityRepository) UpdateRegistrationSchools(ctx context.Context, registrationIDs []string, schoolID null.String) error {
	if len(registrationIDs) == 0 {
		return nil
	}
	update := setFields(bson.M{"schoolId": schoolID.String})
	if !schoolID.Valid {
		update = unsetField("schoolId")
	}

	session, err := repo.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		res, err := repo.registrations().UpdateMany(sessCtx,
			bson.M{"_id": bson.M{"$in": registrationIDs}}, update)
		if err != nil {
			return nil, err
		}
		if int(res.MatchedCount) != len(registrationIDs) {
			return nil, identity.ErrRegistrationNotFound
		}
		return nil, nil
	})
	return errors.Wrap(err, "updating registration schools")
}
