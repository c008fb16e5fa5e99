package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/crypto"
	"github.com/Tausifislam01/CloakPost/internal/models"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

type testEnv struct {
	db       *store.SQLiteStore
	deriver  *crypto.Deriver
	registry *Registry
	messages *Messages
	alice    *models.User
	bob      *models.User
	eve      *models.User
	thread   *models.Thread
}

// armRecorder captures one-shot deletion requests.
type armRecorder struct {
	mu    sync.Mutex
	calls map[string]time.Time
}

func (a *armRecorder) Arm(messageID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = make(map[string]time.Time)
	}
	a.calls[messageID] = at
}

func (a *armRecorder) get(messageID string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.calls[messageID]
	return at, ok
}

func newTestEnv(t *testing.T, sched Scheduler) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	deriver, err := crypto.NewDeriver(make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}

	logger := zerolog.Nop()
	env := &testEnv{
		db:       db,
		deriver:  deriver,
		registry: NewRegistry(db, deriver, 0, logger),
		messages: NewMessages(db, deriver, sched, 5*time.Minute, 0, logger),
	}

	for _, u := range []struct {
		dst  **models.User
		name string
	}{
		{&env.alice, "alice"},
		{&env.bob, "bob"},
		{&env.eve, "eve"},
	} {
		user, err := db.CreateUser(ctx, "pk-"+u.name, u.name)
		if err != nil {
			t.Fatal(err)
		}
		*u.dst = user
	}

	thread, _, err := env.registry.GetOrCreateDirect(ctx, env.alice.ID, env.bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	env.thread = thread
	return env
}

func TestAppendAndReadAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "hello bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.messages.Append(ctx, env.thread.ID, env.bob.ID, "hi alice")
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := env.messages.ReadAll(ctx, env.thread.ID, env.bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Fatal("messages not in creation order")
	}
	if msgs[0].Body != "hello bob" || msgs[1].Body != "hi alice" {
		t.Fatalf("bodies did not round-trip: %q, %q", msgs[0].Body, msgs[1].Body)
	}
}

func TestAppendStoresOnlyCiphertext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "attack at dawn")
	if err != nil {
		t.Fatal(err)
	}

	stored, err := env.db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stored.Body, "attack at dawn") || strings.Contains(stored.Body, "dawn") {
		t.Fatal("plaintext leaked into storage")
	}
}

func TestAppendRejectsNonMember(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.messages.Append(context.Background(), env.thread.ID, env.eve.ID, "let me in")
	if err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAppendValidatesBody(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, ""); err != ErrValidation {
		t.Fatalf("empty body: expected ErrValidation, got %v", err)
	}

	long := strings.Repeat("x", MaxBodyRunes+1)
	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, long); err != ErrValidation {
		t.Fatalf("oversized body: expected ErrValidation, got %v", err)
	}

	// The limit counts runes, not bytes.
	exact := strings.Repeat("é", MaxBodyRunes)
	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, exact); err != nil {
		t.Fatalf("body at the rune limit should pass: %v", err)
	}
}

func TestReadAllRejectsNonMember(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "secret"); err != nil {
		t.Fatal(err)
	}
	_, err := env.messages.ReadAll(ctx, env.thread.ID, env.eve.ID)
	if err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReadAllSkipsCorruptMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "intact"); err != nil {
		t.Fatal(err)
	}

	// A row whose blob is not valid ciphertext must not break the listing.
	corrupt := &models.Message{
		ID:        "00000000000000000000000000",
		ThreadID:  env.thread.ID,
		SenderID:  env.alice.ID,
		Body:      "bm90LXJlYWwtY2lwaGVydGV4dA==",
		CreatedAt: time.Now().UTC(),
	}
	if err := env.db.InsertMessage(ctx, corrupt); err != nil {
		t.Fatal(err)
	}

	msgs, err := env.messages.ReadAll(ctx, env.thread.ID, env.alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 readable message, got %d", len(msgs))
	}
	if msgs[0].Body != "intact" {
		t.Fatalf("unexpected body %q", msgs[0].Body)
	}
}

func TestMarkSeenSetsDeadlineAndArmsTimer(t *testing.T) {
	rec := &armRecorder{}
	env := newTestEnv(t, rec)
	ctx := context.Background()

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "read me")
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now().UTC()
	threadID, deadline, err := env.messages.MarkSeen(ctx, msg.ID, env.bob.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if threadID != env.thread.ID {
		t.Fatalf("reported thread %s, want %s", threadID, env.thread.ID)
	}
	after := time.Now().UTC()

	if deadline.Before(before.Add(5*time.Minute)) || deadline.After(after.Add(5*time.Minute)) {
		t.Fatalf("deadline %v not now+5m", deadline)
	}

	armed, ok := rec.get(msg.ID)
	if !ok {
		t.Fatal("timer was not armed")
	}
	if !armed.Equal(deadline) {
		t.Fatalf("armed at %v, deadline %v", armed, deadline)
	}

	stored, err := env.db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.SeenAt == nil || stored.DeleteAfter == nil {
		t.Fatal("seen state not persisted")
	}
}

func TestMarkSeenCustomTTL(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "short lived")
	if err != nil {
		t.Fatal(err)
	}

	_, deadline, err := env.messages.MarkSeen(ctx, msg.ID, env.bob.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(deadline); until > time.Minute || until < 50*time.Second {
		t.Fatalf("deadline %v not ~1m out", deadline)
	}
}

func TestMarkSeenAgainResetsDeadline(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "seen twice")
	if err != nil {
		t.Fatal(err)
	}

	_, first, err := env.messages.MarkSeen(ctx, msg.ID, env.bob.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := env.messages.MarkSeen(ctx, msg.ID, env.bob.ID, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !second.After(first) {
		t.Fatalf("second seen did not extend the deadline: %v then %v", first, second)
	}

	stored, err := env.db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.DeleteAfter.Equal(second) {
		t.Fatalf("persisted deadline %v, want %v", stored.DeleteAfter, second)
	}
}

func TestMarkSeenErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, _, err := env.messages.MarkSeen(ctx, "01AN4Z07BY79KA1307SR9X4MV3", env.alice.ID, 0); err != ErrNotFound {
		t.Fatalf("unknown message: expected ErrNotFound, got %v", err)
	}

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "private")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.messages.MarkSeen(ctx, msg.ID, env.eve.ID, 0); err != ErrForbidden {
		t.Fatalf("outsider: expected ErrForbidden, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	msg, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "ephemeral")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.messages.Delete(ctx, msg.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.messages.Delete(ctx, msg.ID); err != nil {
		t.Fatal(err)
	}

	msgs, err := env.messages.ReadAll(ctx, env.thread.ID, env.alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after delete, got %d", len(msgs))
	}
}

// reconcileSpy is a DataStore that always reports a freshly created
// thread, the view every caller gets when concurrent creators race, and
// records duplicate cleanup so it can be observed.
type reconcileSpy struct {
	store.DataStore
	thread  *models.Thread
	deletes chan uuid.UUID
}

func (f *reconcileSpy) GetOrCreateDirectThread(ctx context.Context, a, b uuid.UUID) (*models.Thread, bool, error) {
	return f.thread, true, nil
}

func (f *reconcileSpy) DeleteEmptyDuplicateThreads(ctx context.Context, keep uuid.UUID, a, b uuid.UUID) (int64, error) {
	select {
	case f.deletes <- keep:
	default:
	}
	return 1, nil
}

func TestGetOrCreateDirectReconcilesOnCreate(t *testing.T) {
	thread := &models.Thread{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	spy := &reconcileSpy{thread: thread, deletes: make(chan uuid.UUID, 1)}
	registry := NewRegistry(spy, nil, 0, zerolog.Nop())

	got, created, err := registry.GetOrCreateDirect(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("spy reports every resolution as created")
	}
	if got.ID != thread.ID {
		t.Fatalf("resolved %s, want %s", got.ID, thread.ID)
	}

	// Two racing creators both see created == true, so the duplicate
	// cleanup must run on this path as well; otherwise both empty threads
	// survive until each collects messages and can never be merged.
	select {
	case keep := <-spy.deletes:
		if keep != thread.ID {
			t.Fatalf("reconcile kept %s, want canonical %s", keep, thread.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate reconcile never ran after a create")
	}
}

func TestRegistryCreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.registry.Create(context.Background(), []uuid.UUID{env.alice.ID})
	if err != ErrValidation {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestListForParticipantPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.messages.Append(ctx, env.thread.ID, env.alice.ID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.messages.Append(ctx, env.thread.ID, env.bob.ID, "latest"); err != nil {
		t.Fatal(err)
	}

	summaries, err := env.registry.ListForParticipant(ctx, env.alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(summaries))
	}
	if summaries[0].Preview == nil || *summaries[0].Preview != "latest" {
		t.Fatalf("expected preview of latest message, got %v", summaries[0].Preview)
	}

	// An outsider has no threads and therefore sees nothing.
	none, err := env.registry.ListForParticipant(ctx, env.eve.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no threads for outsider, got %d", len(none))
	}
}
