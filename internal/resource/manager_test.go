package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager([]Capacity{
		{Type: models.ResourceMemory, Total: 512, Unit: "MB"},
		{Type: models.ResourceTokens, Total: 1000},
	}, opts...)
	require.NoError(t, err)
	return m
}

func mem(amount float64) models.ResourceRequirement {
	return models.ResourceRequirement{Type: models.ResourceMemory, Amount: amount}
}

func TestNewManager_RejectsBadPool(t *testing.T) {
	_, err := NewManager([]Capacity{{Type: models.ResourceMemory, Total: -1}})
	assert.ErrorIs(t, err, swarmerr.ErrValidation)

	_, err = NewManager([]Capacity{
		{Type: models.ResourceCPU, Total: 1},
		{Type: models.ResourceCPU, Total: 2},
	})
	assert.ErrorIs(t, err, swarmerr.ErrValidation)
}

func TestAllocate_OverCapacityNamesTypeAndAmounts(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Allocate([]models.ResourceRequirement{mem(1024)}, Constraints{OwnerID: "caller"})
	require.Error(t, err)

	var rue *swarmerr.ResourceUnavailableError
	require.True(t, errors.As(err, &rue))
	assert.Equal(t, "memory", rue.Type)
	assert.Equal(t, 1024.0, rue.Requested)
	assert.Equal(t, 512.0, rue.Available)
	assert.ErrorIs(t, err, swarmerr.ErrResourceUnavailable)
}

func TestAllocate_IsAtomic(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Allocate([]models.ResourceRequirement{
		mem(256),
		{Type: models.ResourceTokens, Amount: 5000},
	}, Constraints{OwnerID: "a"})
	require.Error(t, err)

	var rue *swarmerr.ResourceUnavailableError
	require.True(t, errors.As(err, &rue))
	assert.Equal(t, "tokens", rue.Type)

	// Nothing was reserved.
	assert.Equal(t, 512.0, m.Available(models.ResourceMemory))
	assert.Equal(t, 0, m.ActiveLeases())
}

func TestAllocate_FirstInsufficientTypeInRequestOrder(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Allocate([]models.ResourceRequirement{
		{Type: models.ResourceTokens, Amount: 2000},
		mem(2048),
	}, Constraints{})

	var rue *swarmerr.ResourceUnavailableError
	require.True(t, errors.As(err, &rue))
	assert.Equal(t, "tokens", rue.Type)
}

func TestAllocate_Validation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		reqs []models.ResourceRequirement
	}{
		{"empty", nil},
		{"zero amount", []models.ResourceRequirement{mem(0)}},
		{"negative amount", []models.ResourceRequirement{mem(-5)}},
		{"unknown type", []models.ResourceRequirement{{Type: "gpu", Amount: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Allocate(tt.reqs, Constraints{})
			assert.ErrorIs(t, err, swarmerr.ErrValidation)
		})
	}
}

func TestRelease_Idempotent(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Allocate([]models.ResourceRequirement{mem(512)}, Constraints{OwnerID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Available(models.ResourceMemory))
	assert.Equal(t, "MB", lease.Grants[0].Unit)

	require.NoError(t, m.Release(lease.ID))
	require.NoError(t, m.Release(lease.ID))
	assert.Equal(t, 512.0, m.Available(models.ResourceMemory))

	err = m.Release("never-issued")
	assert.ErrorIs(t, err, swarmerr.ErrNotFound)
}

func TestAllocate_SharedGroupConsumesMax(t *testing.T) {
	m := newTestManager(t)
	shared := func(amount float64) []models.ResourceRequirement {
		return []models.ResourceRequirement{{Type: models.ResourceMemory, Amount: amount, Shared: true, ShareKey: "ctx"}}
	}

	a, err := m.Allocate(shared(300), Constraints{OwnerID: "a"})
	require.NoError(t, err)
	b, err := m.Allocate(shared(400), Constraints{OwnerID: "b"})
	require.NoError(t, err)

	// The group consumes 400, leaving 112 for exclusive use.
	assert.InDelta(t, 112.0, m.Available(models.ResourceMemory), 1e-9)

	_, err = m.Allocate([]models.ResourceRequirement{mem(200)}, Constraints{})
	assert.ErrorIs(t, err, swarmerr.ErrResourceUnavailable)

	require.NoError(t, m.Release(b.ID))
	assert.InDelta(t, 212.0, m.Available(models.ResourceMemory), 1e-9)
	require.NoError(t, m.Release(a.ID))
	assert.InDelta(t, 512.0, m.Available(models.ResourceMemory), 1e-9)
}

func TestReleaseOwnerAndCoordination(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Allocate([]models.ResourceRequirement{mem(100)}, Constraints{OwnerID: "a", CoordinationID: "c1"})
	require.NoError(t, err)
	_, err = m.Allocate([]models.ResourceRequirement{mem(100)}, Constraints{OwnerID: "b", CoordinationID: "c1"})
	require.NoError(t, err)
	_, err = m.Allocate([]models.ResourceRequirement{mem(100)}, Constraints{OwnerID: "a", CoordinationID: "c2"})
	require.NoError(t, err)

	assert.Len(t, m.ReleaseOwner("a"), 2)
	assert.Len(t, m.ReleaseCoordination("c1"), 1)
	assert.Equal(t, 0, m.ActiveLeases())
}

func TestSweep_ReleasesExpiredAndNotifiesWatchers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	m := newTestManager(t, WithClock(clock), WithDefaultTTL(time.Minute))

	short, err := m.Allocate([]models.ResourceRequirement{mem(100)}, Constraints{OwnerID: "a"})
	require.NoError(t, err)
	forever, err := m.Allocate([]models.ResourceRequirement{mem(100)}, Constraints{OwnerID: "b", TTL: -1})
	require.NoError(t, err)
	assert.True(t, forever.ExpiresAt.IsZero())

	var notified []string
	cancel := m.Watch(func(l models.Lease) { notified = append(notified, l.ID) })
	defer cancel()

	assert.Empty(t, m.Sweep())

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	expired := m.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].ID)
	assert.Equal(t, []string{short.ID}, notified)

	// Releasing an expired lease is still a no-op.
	assert.NoError(t, m.Release(short.ID))
	_, err = m.Lease(forever.ID)
	assert.NoError(t, err)
}

func TestSweep_ForgetsReleasedIDsAfterRetention(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, WithClock(func() time.Time { return now }), WithReleaseRetention(time.Minute))

	first, err := m.Allocate([]models.ResourceRequirement{mem(10)}, Constraints{OwnerID: "a", CoordinationID: "c1"})
	require.NoError(t, err)
	second, err := m.Allocate([]models.ResourceRequirement{mem(10)}, Constraints{OwnerID: "b"})
	require.NoError(t, err)
	require.NoError(t, m.Release(first.ID))

	now = now.Add(30 * time.Second)
	assert.Equal(t, []string{second.ID}, m.ReleaseOwner("b"))
	m.Sweep()
	assert.Len(t, m.released, 2)

	now = now.Add(45 * time.Second)
	m.Sweep()
	assert.Len(t, m.released, 1, "only the id released within the window is kept")
	assert.ErrorIs(t, m.Release(first.ID), swarmerr.ErrNotFound)
	assert.NoError(t, m.Release(second.ID))

	now = now.Add(time.Minute)
	m.Sweep()
	assert.Empty(t, m.released)
}

func TestStart_ReaperSweepsInBackground(t *testing.T) {
	m := newTestManager(t, WithReapInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan string, 1)
	m.Watch(func(l models.Lease) { expired <- l.ID })

	lease, err := m.Allocate([]models.ResourceRequirement{mem(10)}, Constraints{TTL: time.Millisecond})
	require.NoError(t, err)
	m.Start(ctx)

	select {
	case id := <-expired:
		assert.Equal(t, lease.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not release the expired lease")
	}
}

func TestSnapshot(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Allocate([]models.ResourceRequirement{mem(128)}, Constraints{})
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, models.ResourceMemory, snap[0].Type)
	assert.Equal(t, 128.0, snap[0].Used)
	assert.Equal(t, 384.0, snap[0].Available)
	assert.Equal(t, models.ResourceTokens, snap[1].Type)
}

// The sum of live lease amounts never exceeds capacity, whatever sequence of
// allocations and releases is applied.
func TestCapacityInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := float64(rapid.IntRange(1, 1000).Draw(t, "total"))
		m, err := NewManager([]Capacity{{Type: models.ResourceMemory, Total: total}})
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}

		var live []string
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "release") {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "idx")
				if err := m.Release(live[idx]); err != nil {
					t.Fatalf("Release: %v", err)
				}
				live = append(live[:idx], live[idx+1:]...)
			} else {
				req := models.ResourceRequirement{
					Type:   models.ResourceMemory,
					Amount: float64(rapid.IntRange(1, 400).Draw(t, "amount")),
					Shared: rapid.Bool().Draw(t, "shared"),
				}
				if req.Shared {
					req.ShareKey = rapid.SampledFrom([]string{"x", "y"}).Draw(t, "key")
				}
				before := m.Available(models.ResourceMemory)
				lease, err := m.Allocate([]models.ResourceRequirement{req}, Constraints{})
				if err != nil {
					if !errors.Is(err, swarmerr.ErrResourceUnavailable) {
						t.Fatalf("unexpected error: %v", err)
					}
					if m.Available(models.ResourceMemory) != before {
						t.Fatalf("failed allocation changed availability")
					}
				} else {
					live = append(live, lease.ID)
				}
			}

			snap := m.Snapshot()[0]
			if snap.Used > snap.Total+epsilon {
				t.Fatalf("used %g exceeds capacity %g", snap.Used, snap.Total)
			}
		}
	})
}
