package mongodoc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// setFields builds a partial $set update document, stamping updatedAt the
// way the other backends do on their partial writes.
func setFields(fields bson.M) bson.M {
	fields["updatedAt"] = time.Now().UTC()
	return bson.M{"$set": fields}
}

// unsetField clears one optional field while still advancing updatedAt.
func unsetField(field string) bson.M {
	return bson.M{
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
		"$unset": bson.M{field: ""},
	}
}
