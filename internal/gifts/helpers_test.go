package gifts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("gift-%03d", g.next), nil
}

type prefixHasher struct {
	calls int
}

func (h *prefixHasher) Hash(_ context.Context, pin string) (string, error) {
	h.calls++
	return "hash:" + pin, nil
}

type categoryPolicy struct{}

func (categoryPolicy) SetupRequired(project, productType string) bool {
	switch ResolveCategory(project, productType) {
	case CategoryMug, CategoryMemoria:
		return true
	default:
		return false
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type stubRemover struct {
	mu      sync.Mutex
	fail    map[string]bool
	removed []string
}

func (r *stubRemover) Remove(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[ref] {
		return errors.New("bucket unavailable")
	}
	r.removed = append(r.removed, ref)
	return nil
}

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMutableClock() *mutableClock {
	return &mutableClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:keepsake_gifts_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &Contribution{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, clock *mutableClock, assets AssetRemover) (*Store, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	cfg := StoreConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
		Retry:      RetryPolicy{Attempts: 2, Base: 0, MaxWait: time.Millisecond},
	}
	if assets != nil {
		cfg.Assets = assets
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

type lifecycleFixture struct {
	lifecycle *Lifecycle
	store     *Store
	db        *gorm.DB
	hasher    *prefixHasher
	publisher *recordingPublisher
	clock     *mutableClock
}

func newLifecycleFixture(t *testing.T) lifecycleFixture {
	t.Helper()
	clock := newMutableClock()
	store, db := newTestStore(t, clock, nil)
	hasher := &prefixHasher{}
	publisher := &recordingPublisher{}
	lifecycle, err := NewLifecycle(LifecycleConfig{
		Store:  store,
		Hasher: hasher,
		Policy: categoryPolicy{},
		Events: publisher,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}
	return lifecycleFixture{
		lifecycle: lifecycle,
		store:     store,
		db:        db,
		hasher:    hasher,
		publisher: publisher,
		clock:     clock,
	}
}

func (f lifecycleFixture) mustCreate(t *testing.T, request CreateRequest) *Record {
	t.Helper()
	record, err := f.lifecycle.Create(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return record
}

func errorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func textMessage(id, content string) Message {
	return Message{ID: id, Type: MessageTypeText, Author: "Lina", Content: content}
}

func longString(length int) string {
	return strings.Repeat("a", length)
}
