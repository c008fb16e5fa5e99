package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.SQLiteStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	alice, err := db.CreateUser(ctx, "pk-a", "alice")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := db.CreateUser(ctx, "pk-b", "bob")
	if err != nil {
		t.Fatal(err)
	}
	thread, err := db.CreateThread(ctx, []uuid.UUID{alice.ID, bob.ID})
	if err != nil {
		t.Fatal(err)
	}

	s := New(db, nil, "", 0, zerolog.Nop())
	t.Cleanup(s.Stop)
	return s, db, thread.ID, alice.ID
}

func insertSeenMessage(t *testing.T, db *store.SQLiteStore, threadID, senderID uuid.UUID, deleteAfter time.Time) string {
	t.Helper()
	ctx := context.Background()
	msg := &models.Message{
		ID:        ulid.Make().String(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Body:      "ct",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageSeen(ctx, msg.ID, time.Now().UTC(), deleteAfter); err != nil {
		t.Fatal(err)
	}
	return msg.ID
}

func waitForDeletion(t *testing.T, db *store.SQLiteStore, id string, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		msg, err := db.GetMessage(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("message %s still present after %v", id, within)
}

func TestTimerDeletesAtDeadline(t *testing.T) {
	s, db, threadID, senderID := newTestScheduler(t)

	id := insertSeenMessage(t, db, threadID, senderID, time.Now().Add(30*time.Millisecond))
	s.Arm(id, time.Now().Add(30*time.Millisecond))

	waitForDeletion(t, db, id, 2*time.Second)
}

func TestRearmReplacesTimer(t *testing.T) {
	s, db, threadID, senderID := newTestScheduler(t)

	id := insertSeenMessage(t, db, threadID, senderID, time.Now().Add(time.Hour))
	s.Arm(id, time.Now().Add(time.Hour))
	// The second arm supersedes the first; only one timer remains.
	s.Arm(id, time.Now().Add(30*time.Millisecond))

	waitForDeletion(t, db, id, 2*time.Second)

	s.mu.Lock()
	pending := len(s.timers)
	s.mu.Unlock()
	if pending != 0 {
		t.Fatalf("expected no pending timers, got %d", pending)
	}
}

func TestTimerOnDeletedMessageIsNoop(t *testing.T) {
	s, db, threadID, senderID := newTestScheduler(t)
	ctx := context.Background()

	id := insertSeenMessage(t, db, threadID, senderID, time.Now().Add(30*time.Millisecond))
	s.Arm(id, time.Now().Add(30*time.Millisecond))

	// Sweep wins the race; the timer firing afterwards must not fail.
	if _, err := db.DeleteExpiredMessages(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	msg, err := db.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if msg != nil {
		t.Fatal("message should be gone")
	}
}

func TestSweepDeletesOnlyOverdue(t *testing.T) {
	s, db, threadID, senderID := newTestScheduler(t)
	ctx := context.Background()

	overdue := insertSeenMessage(t, db, threadID, senderID, time.Now().UTC().Add(-time.Minute))
	future := insertSeenMessage(t, db, threadID, senderID, time.Now().UTC().Add(time.Hour))

	s.Sweep(ctx)

	if msg, err := db.GetMessage(ctx, overdue); err != nil {
		t.Fatal(err)
	} else if msg != nil {
		t.Fatal("overdue message survived the sweep")
	}
	if msg, err := db.GetMessage(ctx, future); err != nil {
		t.Fatal(err)
	} else if msg == nil {
		t.Fatal("future message was deleted early")
	}
}

type countingCleaner struct{ calls int }

func (c *countingCleaner) DeleteEmptyThreads(ctx context.Context) (int64, error) {
	c.calls++
	return 0, nil
}

func TestSweepPrunesEmptyThreads(t *testing.T) {
	db, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	cleaner := &countingCleaner{}
	s := New(db, cleaner, "", 0, zerolog.Nop())
	t.Cleanup(s.Stop)

	s.Sweep(context.Background())
	if cleaner.calls != 1 {
		t.Fatalf("empty-thread cleanup ran %d times, want 1", cleaner.calls)
	}
}

func TestStopCancelsPendingTimers(t *testing.T) {
	s, db, threadID, senderID := newTestScheduler(t)
	ctx := context.Background()

	id := insertSeenMessage(t, db, threadID, senderID, time.Now().Add(50*time.Millisecond))
	s.Start(ctx)
	s.Arm(id, time.Now().Add(50*time.Millisecond))
	s.Stop()

	time.Sleep(150 * time.Millisecond)
	msg, err := db.GetMessage(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if msg == nil {
		t.Fatal("stopped scheduler should not fire timers")
	}
}
