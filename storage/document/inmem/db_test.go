package inmemdoc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dadanisme/shule/core/school"
)

func TestDB_Events_deliversEveryWrite(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := db.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	const writes = 300 // more than the channel buffer holds
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			db.PutSchool(school.School{ID: fmt.Sprintf("s%d", i), Name: "Shule"})
		}
	}()

	got := 0
	timeout := time.After(5 * time.Second)
	for got < writes {
		select {
		case <-events:
			got++
		case <-timeout:
			t.Fatalf("received %d events, want %d", got, writes)
		}
	}
	<-done
}

func TestDB_Events_closesOnCancel(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	events, err := db.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	cancel()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestDB_Events_cancelledSubscriberUnblocksWrites(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err = db.Events(ctx); err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	// Fill the subscriber's buffer without draining it, then cancel; a
	// subsequent write must not hang on the abandoned channel.
	for i := 0; i < 256; i++ {
		db.PutSchool(school.School{ID: fmt.Sprintf("s%d", i), Name: "Shule"})
	}
	cancel()

	done := make(chan struct{})
	go func() {
		db.PutSchool(school.School{ID: "s-after", Name: "Shule"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write blocked after subscriber cancelled")
	}
}
