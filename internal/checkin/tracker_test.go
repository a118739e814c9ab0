package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu        sync.Mutex
	times     []string
	completed map[string]bool
	err       error
}

func (f *fakeSource) CheckInSnapshot(ctx context.Context, seniorID uuid.UUID, now time.Time) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	completed := make(map[string]bool, len(f.completed))
	for k, v := range f.completed {
		completed[k] = v
	}
	return &Snapshot{Times: f.times, Completed: completed, Location: time.UTC}, nil
}

func (f *fakeSource) complete(slot string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[slot] = true
}

func fixedNow(hhmm string) func() time.Time {
	return func() time.Time { return at(hhmm) }
}

func recv(t *testing.T, ch <-chan Window) Window {
	t.Helper()
	select {
	case w, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for window")
		return Window{}
	}
}

func TestTracker_Current(t *testing.T) {
	src := &fakeSource{times: []string{"08:00"}, completed: map[string]bool{}}
	tr := NewTracker(src, TrackerConfig{Now: fixedNow("07:50")}, zap.NewNop())

	w, err := tr.Current(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, w.Status)
	assert.Equal(t, "08:00", w.CurrentSlot)
}

func TestTracker_CurrentPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("store unavailable")}
	tr := NewTracker(src, TrackerConfig{}, zap.NewNop())

	_, err := tr.Current(context.Background(), uuid.New())
	assert.Error(t, err)

	_, err = tr.Subscribe(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestTracker_RefreshAfterSubmission(t *testing.T) {
	src := &fakeSource{times: []string{"08:00"}, completed: map[string]bool{}}
	tr := NewTracker(src, TrackerConfig{RefreshInterval: time.Hour, Now: fixedNow("08:10")}, zap.NewNop())
	senior := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Subscribe(ctx, senior)
	require.NoError(t, err)

	first := recv(t, ch)
	assert.Equal(t, StatusAvailable, first.Status)

	src.complete("08:00")
	tr.Refresh(senior)

	second := recv(t, ch)
	assert.True(t, second.Done(), "expected all done, got %+v", second)
}

func TestTracker_TicksWithoutRefresh(t *testing.T) {
	src := &fakeSource{times: []string{"08:00"}, completed: map[string]bool{}}
	tr := NewTracker(src, TrackerConfig{RefreshInterval: 10 * time.Millisecond, Now: fixedNow("07:00")}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	recv(t, ch)
	w := recv(t, ch)
	assert.Equal(t, "08:00", w.NextSlot)
}

func TestTracker_UnsubscribeClosesChannel(t *testing.T) {
	src := &fakeSource{times: []string{"08:00"}, completed: map[string]bool{}}
	tr := NewTracker(src, TrackerConfig{RefreshInterval: time.Hour, Now: fixedNow("07:00")}, zap.NewNop())
	senior := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := tr.Subscribe(ctx, senior)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Subscribers(senior))

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				assert.Eventually(t, func() bool { return tr.Subscribers(senior) == 0 }, time.Second, 5*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after cancel")
		}
	}
}

func TestTracker_RefreshOnlyTouchesSenior(t *testing.T) {
	src := &fakeSource{times: []string{"08:00"}, completed: map[string]bool{}}
	tr := NewTracker(src, TrackerConfig{RefreshInterval: time.Hour, Now: fixedNow("07:00")}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := uuid.New(), uuid.New()
	chA, err := tr.Subscribe(ctx, a)
	require.NoError(t, err)
	chB, err := tr.Subscribe(ctx, b)
	require.NoError(t, err)
	recv(t, chA)
	recv(t, chB)

	tr.Refresh(a)
	recv(t, chA)

	select {
	case w := <-chB:
		t.Fatalf("unexpected update for other senior: %+v", w)
	case <-time.After(50 * time.Millisecond):
	}
}
