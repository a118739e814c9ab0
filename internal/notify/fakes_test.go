package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/carecircle/internal/db"
	"github.com/lalithlochan/carecircle/internal/worker"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*db.User
	calls int
}

func newFakeUsers(users ...*db.User) *fakeUsers {
	f := &fakeUsers{users: make(map[uuid.UUID]*db.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

type fakeMarkers struct {
	mu       sync.Mutex
	keys     map[string]bool
	released []string
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{keys: make(map[string]bool)}
}

func (f *fakeMarkers) Claim(ctx context.Context, key, kind string, entityID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeMarkers) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	f.released = append(f.released, key)
	return nil
}

func (f *fakeMarkers) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

type recordingSender struct {
	mu        sync.Mutex
	failOn    map[string]bool
	delivered []*worker.Delivery
}

func (s *recordingSender) Send(ctx context.Context, d *worker.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[d.Channel] {
		return errors.New(d.Channel + " provider down")
	}
	s.delivered = append(s.delivered, d)
	return nil
}

func (s *recordingSender) SupportsChannel(channel string) bool { return true }

func (s *recordingSender) byChannel(channel string) []*worker.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*worker.Delivery
	for _, d := range s.delivered {
		if d.Channel == channel {
			out = append(out, d)
		}
	}
	return out
}

type fakeAlerts struct {
	forwarded map[uuid.UUID]time.Time
}

func (f *fakeAlerts) MarkAlertForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.forwarded == nil {
		f.forwarded = make(map[uuid.UUID]time.Time)
	}
	f.forwarded[id] = at
	return nil
}

// family builds a senior with a care manager and two family members.
func family() (senior, manager, son, daughter *db.User) {
	manager = &db.User{ID: uuid.New(), Name: "Meera", Role: db.RoleCareManager, Email: "meera@agency.in", DeviceTokens: []string{"tok-cm"}}
	son = &db.User{ID: uuid.New(), Name: "Arjun", Role: db.RoleFamily, DeviceTokens: []string{"tok-son", "tok-shared"}}
	daughter = &db.User{ID: uuid.New(), Name: "Kavya", Role: db.RoleFamily, DeviceTokens: []string{"tok-shared", "tok-daughter"}}
	senior = &db.User{
		ID:            uuid.New(),
		Name:          "Lakshmi",
		Role:          db.RoleSenior,
		CareManagerID: &manager.ID,
		LinkedFamily:  []uuid.UUID{son.ID, daughter.ID},
		DeviceTokens:  []string{"tok-senior"},
		Timezone:      "Asia/Kolkata",
	}
	return senior, manager, son, daughter
}
