package mongodoc

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func updatedAtOf(t *testing.T, update bson.M) time.Time {
	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("update %v has no $set document", update)
	}
	stamp, ok := set["updatedAt"].(time.Time)
	if !ok {
		t.Fatalf("$set %v has no updatedAt time", set)
	}
	return stamp
}

func TestSetFields(t *testing.T) {
	before := time.Now().UTC()
	update := setFields(bson.M{"pendingReview": 6, "isDone": false})

	set := update["$set"].(bson.M)
	if set["pendingReview"] != 6 || set["isDone"] != false {
		t.Errorf("$set = %v, want the given fields preserved", set)
	}
	if stamp := updatedAtOf(t, update); stamp.Before(before) {
		t.Errorf("updatedAt = %s, want at or after %s", stamp, before)
	}
	if _, ok := update["$unset"]; ok {
		t.Errorf("update = %v, want no $unset", update)
	}
}

func TestUnsetField(t *testing.T) {
	before := time.Now().UTC()
	update := unsetField("averageScore")

	unset, ok := update["$unset"].(bson.M)
	if !ok {
		t.Fatalf("update %v has no $unset document", update)
	}
	if _, ok = unset["averageScore"]; !ok {
		t.Errorf("$unset = %v, want averageScore cleared", unset)
	}
	// clearing a field is still a mutation; updatedAt must advance with it
	if stamp := updatedAtOf(t, update); stamp.Before(before) {
		t.Errorf("updatedAt = %s, want at or after %s", stamp, before)
	}
}
