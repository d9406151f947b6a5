package inmemdoc

import (
	"context"
	"sync"
	"time"

	"github.com/dadanisme/shule/core/identity"
	"github.com/dadanisme/shule/core/school"
	"github.com/dadanisme/shule/core/trigger"
)

// DB is an in-memory document store with change-event fanout. It backs the
// tests and local development; writes emit the same at-least-once events the
// production backends surface through their native change feeds.
type DB struct {
	mu sync.RWMutex

	schools       map[string]school.School
	batches       map[string]school.Batch
	subjects      map[string]school.Subject
	exams         map[string]school.Exam
	results       map[string]school.ExamResult // keyed by examID+"/"+resultID
	students      map[string]school.Student
	users         map[string]identity.User
	registrations map[string]identity.Registration

	sendMu sync.Mutex // serializes sends against subscription teardown
	subs   []*subscription
}

// subscription is one Events consumer. done unblocks in-flight sends when
// the consumer's context ends, so the channel can be closed safely.
type subscription struct {
	ch   chan trigger.Event
	done chan struct{}
}

func Open() (*DB, error) {
	return &DB{
		schools:       make(map[string]school.School),
		batches:       make(map[string]school.Batch),
		subjects:      make(map[string]school.Subject),
		exams:         make(map[string]school.Exam),
		results:       make(map[string]school.ExamResult),
		students:      make(map[string]school.Student),
		users:         make(map[string]identity.User),
		registrations: make(map[string]identity.Registration),
	}, nil
}

var _ trigger.Source = (*DB)(nil) // interface compliance check

// Events implements trigger.Source. The channel is buffered; it closes when
// ctx is done.
func (db *DB) Events(ctx context.Context) (<-chan trigger.Event, error) {
	sub := &subscription{ch: make(chan trigger.Event, 256), done: make(chan struct{})}
	db.mu.Lock()
	db.subs = append(db.subs, sub)
	db.mu.Unlock()

	go func() {
		<-ctx.Done()
		db.mu.Lock()
		for i, s := range db.subs {
			if s == sub {
				db.subs = append(db.subs[:i], db.subs[i+1:]...)
				break
			}
		}
		db.mu.Unlock()
		close(sub.done)
		db.sendMu.Lock()
		close(sub.ch)
		db.sendMu.Unlock()
	}()
	return sub.ch, nil
}

// emit must be called without holding db.mu: handlers triggered by the event
// re-enter the store. Sends block when a subscriber's buffer is full; the
// feed is at-least-once, so a slow consumer must backpressure the writer
// rather than lose the event.
func (db *DB) emit(path string, kind trigger.Kind, before, after trigger.Snapshot) {
	evt := trigger.Event{Path: path, Kind: kind, Before: before, After: after, At: time.Now().UTC()}
	db.mu.RLock()
	subs := make([]*subscription, len(db.subs))
	copy(subs, db.subs)
	db.mu.RUnlock()

	db.sendMu.Lock()
	defer db.sendMu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}
}

func writeKind(existed bool) trigger.Kind {
	if existed {
		return trigger.KindUpdate
	}
	return trigger.KindCreate
}

// PutSchool emulates an admin CRUD write.
func (db *DB) PutSchool(sch school.School) {
	db.mu.Lock()
	_, existed := db.schools[sch.ID]
	db.schools[sch.ID] = sch
	db.mu.Unlock()
	db.emit("schools/"+sch.ID, writeKind(existed), nil, nil)
}

func (db *DB) PutBatch(b school.Batch) {
	db.mu.Lock()
	_, existed := db.batches[b.ID]
	db.batches[b.ID] = b
	db.mu.Unlock()
	db.emit("schools/"+b.SchoolID+"/batches/"+b.ID, writeKind(existed), nil, nil)
}

func (db *DB) PutSubject(subj school.Subject) {
	db.mu.Lock()
	_, existed := db.subjects[subj.ID]
	db.subjects[subj.ID] = subj
	db.mu.Unlock()
	db.emit(school.SubjectPath(subj.SchoolID, subj.ID), writeKind(existed), nil, nil)
}

func (db *DB) PutExam(exam school.Exam) {
	db.mu.Lock()
	prev, existed := db.exams[exam.ID]
	db.exams[exam.ID] = exam
	db.mu.Unlock()

	var before trigger.Snapshot
	if existed {
		before = prev.Snapshot()
	}
	db.emit(exam.Path(), writeKind(existed), before, exam.Snapshot())
}

func (db *DB) DeleteExam(exam school.Exam) {
	db.mu.Lock()
	prev, existed := db.exams[exam.ID]
	delete(db.exams, exam.ID)
	db.mu.Unlock()
	if existed {
		db.emit(prev.Path(), trigger.KindDelete, prev.Snapshot(), nil)
	}
}

func resultKey(examID, resultID string) string { return examID + "/" + resultID }

func (db *DB) PutExamResult(res school.ExamResult) {
	db.mu.Lock()
	prev, existed := db.results[resultKey(res.ExamID, res.ID)]
	db.results[resultKey(res.ExamID, res.ID)] = res
	db.mu.Unlock()

	var before trigger.Snapshot
	if existed {
		before = prev.Snapshot()
	}
	db.emit(db.resultPath(res), writeKind(existed), before, res.Snapshot())
}

func (db *DB) DeleteExamResult(res school.ExamResult) {
	db.mu.Lock()
	prev, existed := db.results[resultKey(res.ExamID, res.ID)]
	delete(db.results, resultKey(res.ExamID, res.ID))
	db.mu.Unlock()
	if existed {
		db.emit(db.resultPath(prev), trigger.KindDelete, prev.Snapshot(), nil)
	}
}

// resultPath reconstructs the hierarchical path of a result whose document
// may not carry a schoolId, from its parent exam.
func (db *DB) resultPath(res school.ExamResult) string {
	schoolID := res.SchoolID.String
	if schoolID == "" {
		db.mu.RLock()
		if exam, ok := db.exams[res.ExamID]; ok {
			schoolID = exam.SchoolID
		}
		db.mu.RUnlock()
	}
	ref := school.ExamRef{SchoolID: schoolID, SubjectID: res.SubjectID, ExamID: res.ExamID}
	return ref.Path() + "/examResults/" + res.ID
}

func (db *DB) PutStudent(st school.Student) {
	db.mu.Lock()
	_, existed := db.students[st.ID]
	db.students[st.ID] = st
	db.mu.Unlock()
	db.emit(school.StudentPath(st.SchoolID, st.ID), writeKind(existed), nil, nil)
}

func (db *DB) PutUser(usr identity.User) {
	db.mu.Lock()
	prev, existed := db.users[usr.ID]
	db.users[usr.ID] = usr
	db.mu.Unlock()

	var before trigger.Snapshot
	if existed {
		before = prev.Snapshot()
	}
	db.emit(usr.Path(), writeKind(existed), before, usr.Snapshot())
}

func (db *DB) PutRegistration(reg identity.Registration) {
	db.mu.Lock()
	prev, existed := db.registrations[reg.ID]
	db.registrations[reg.ID] = reg
	db.mu.Unlock()

	var before trigger.Snapshot
	if existed {
		before = prev.Snapshot()
	}
	db.emit(reg.Path(), writeKind(existed), before, reg.Snapshot())
}

// GetStudent reads back a student; test helper.
func (db *DB) GetStudent(studentID string) (school.Student, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	st, ok := db.students[studentID]
	return st, ok
}

// GetSubject reads back a subject; test helper.
func (db *DB) GetSubject(subjectID string) (school.Subject, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	subj, ok := db.subjects[subjectID]
	return subj, ok
}

// GetExam reads back an exam; test helper.
func (db *DB) GetExam(examID string) (school.Exam, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	exam, ok := db.exams[examID]
	return exam, ok
}
