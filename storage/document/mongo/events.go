package mongodoc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/school"
	"github.com/dadanisme/shule/core/trigger"
)

// Source feeds the dispatcher off a database-wide change stream. Requires a
// replica set; pre-images (fullDocumentBeforeChange) need server 6.0 with
// changeStreamPreAndPostImages enabled on the watched collections.
type Source struct {
	db     *mongo.Database
	logger core.Logger
}

var _ trigger.Source = (*Source)(nil)

func NewSource(db *mongo.Database, logger core.Logger) *Source {
	return &Source{db: db, logger: logger}
}

type changeEvent struct {
	OperationType            string `bson:"operationType"`
	FullDocument             bson.M `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M `bson:"fullDocumentBeforeChange"`
	DocumentKey              struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	ClusterTime primitive.Timestamp `bson:"clusterTime"`
}

func (src *Source) Events(ctx context.Context) (<-chan trigger.Event, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{
		"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}},
	}}}}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	stream, err := src.db.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening change stream")
	}

	ch := make(chan trigger.Event, 256)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change changeEvent
			if err := stream.Decode(&change); err != nil {
				src.logger.Error("decoding change event", "error", err)
				continue
			}
			evt, ok := src.translate(change)
			if !ok {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			src.logger.Error("change stream closed", "error", err)
		}
	}()
	return ch, nil
}

func (src *Source) translate(change changeEvent) (trigger.Event, bool) {
	var kind trigger.Kind
	switch change.OperationType {
	case "insert":
		kind = trigger.KindCreate
	case "update", "replace":
		kind = trigger.KindUpdate
	case "delete":
		kind = trigger.KindDelete
	default:
		return trigger.Event{}, false
	}

	// The path's parent segments live in the document body; for deletes only
	// the pre-image carries them.
	body := change.FullDocument
	if body == nil {
		body = change.FullDocumentBeforeChange
	}
	path, ok := docPath(change.NS.Coll, change.DocumentKey.ID, body)
	if !ok {
		src.logger.Warn("skipping change event without a resolvable path",
			"collection", change.NS.Coll, "id", change.DocumentKey.ID, "op", change.OperationType)
		return trigger.Event{}, false
	}

	return trigger.Event{
		Path:   path,
		Kind:   kind,
		Before: snapshot(change.FullDocumentBeforeChange),
		After:  snapshot(change.FullDocument),
		At:     time.Unix(int64(change.ClusterTime.T), 0).UTC(),
	}, true
}

func docPath(coll, id string, body bson.M) (string, bool) {
	str := func(key string) (string, bool) {
		v, ok := body[key].(string)
		return v, ok && v != ""
	}
	switch coll {
	case identity.CollectionUsers:
		return identity.UserPath(id), true
	case identity.CollectionRegistrations:
		return identity.RegistrationPath(id), true
	case school.CollectionSchools:
		return "schools/" + id, true
	case school.CollectionBatches:
		schoolID, ok := str("schoolId")
		if !ok {
			return "", false
		}
		return fmt.Sprintf("schools/%s/batches/%s", schoolID, id), true
	case school.CollectionSubjects:
		schoolID, ok := str("schoolId")
		if !ok {
			return "", false
		}
		return school.SubjectPath(schoolID, id), true
	case school.CollectionStudents:
		schoolID, ok := str("schoolId")
		if !ok {
			return "", false
		}
		return school.StudentPath(schoolID, id), true
	case school.CollectionExams:
		schoolID, ok := str("schoolId")
		subjectID, ok2 := str("subjectId")
		if !ok || !ok2 {
			return "", false
		}
		return school.ExamRef{SchoolID: schoolID, SubjectID: subjectID, ExamID: id}.Path(), true
	case school.CollectionExamResults:
		schoolID, ok := str("schoolId")
		subjectID, ok2 := str("subjectId")
		examID, ok3 := str("examId")
		if !ok || !ok2 || !ok3 {
			return "", false
		}
		return fmt.Sprintf("schools/%s/subjects/%s/exams/%s/examResults/%s",
			schoolID, subjectID, examID, id), true
	}
	return "", false
}

// snapshot converts a raw change document into the dispatcher's payload form,
// renaming _id to id.
func snapshot(doc bson.M) trigger.Snapshot {
	if doc == nil {
		return nil
	}
	snap := make(trigger.Snapshot, len(doc))
	for k, v := range doc {
		if k == "_id" {
			snap["id"] = v
			continue
		}
		snap[k] = v
	}
	return snap
}
