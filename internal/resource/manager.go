// Package resource implements the capacity pool and the lease ledger.
//
// Every lease is a time-bounded, revocable grant against a typed capacity pool.
// The manager guarantees that, per resource type, the sum of live lease amounts
// never exceeds the configured capacity. Shared grants that carry the same share
// key overlap: a share group consumes only the largest amount among its members.
package resource

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// epsilon absorbs float noise when comparing amounts against capacity.
const epsilon = 1e-9

// DefaultReleaseRetention is how long released lease ids are remembered.
const DefaultReleaseRetention = time.Hour

// Capacity is the total amount of one resource type in the pool.
type Capacity struct {
	Type  models.ResourceType `mapstructure:"type" yaml:"type"`
	Total float64             `mapstructure:"total" yaml:"total"`
	Unit  string              `mapstructure:"unit" yaml:"unit"`
}

// Constraints qualify an allocation request.
type Constraints struct {
	// OwnerID is the agent (or caller) the lease is issued to.
	OwnerID string
	// CoordinationID ties the lease to a coordination for bulk release.
	CoordinationID string
	// TTL overrides the manager's default lease lifetime. Negative means no expiry.
	TTL time.Duration
	// ShareKey groups shared requirements that do not carry their own key.
	ShareKey string
}

// ExpiryFunc is notified with every lease that was force-released on expiry.
type ExpiryFunc func(lease models.Lease)

// Manager owns the capacity pool and every live lease.
type Manager struct {
	mu       sync.Mutex
	order    []models.ResourceType
	capacity map[models.ResourceType]Capacity
	leases   map[string]*models.Lease
	// released maps ids that were issued and later released to their release
	// time. Sweep forgets them after retention.
	released  map[string]time.Time
	retention time.Duration

	watchers    map[int]ExpiryFunc
	nextWatcher int

	defaultTTL   time.Duration
	reapInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger

	startOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTTL sets the lease lifetime used when a request carries no TTL.
// Zero means leases never expire by default.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = d }
}

// WithReapInterval sets how often the background reaper sweeps expired leases.
func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reapInterval = d
		}
	}
}

// WithReleaseRetention sets how long a released lease id keeps answering
// Release as a no-op. Older ids are forgotten on Sweep.
func WithReleaseRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("resource")
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager for the given capacity pool.
func NewManager(pool []Capacity, opts ...Option) (*Manager, error) {
	m := &Manager{
		capacity:     make(map[models.ResourceType]Capacity, len(pool)),
		leases:       make(map[string]*models.Lease),
		released:     make(map[string]time.Time),
		retention:    DefaultReleaseRetention,
		watchers:     make(map[int]ExpiryFunc),
		reapInterval: time.Second,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, c := range pool {
		if c.Type == "" {
			return nil, swarmerr.Invalid("capacity.type", "must not be empty")
		}
		if _, dup := m.capacity[c.Type]; dup {
			return nil, swarmerr.Invalid("capacity.type", "duplicate resource type %s", c.Type)
		}
		if c.Total < 0 || math.IsNaN(c.Total) || math.IsInf(c.Total, 0) {
			return nil, swarmerr.Invalid("capacity.total", "%s capacity must be a finite non-negative number", c.Type)
		}
		m.capacity[c.Type] = c
		m.order = append(m.order, c.Type)
	}
	return m, nil
}

// Allocate reserves every requirement atomically and returns the lease.
// Either all requirements are granted or none are.
func (m *Manager) Allocate(reqs []models.ResourceRequirement, c Constraints) (*models.Lease, error) {
	if len(reqs) == 0 {
		return nil, swarmerr.Invalid("requirements", "at least one requirement is needed")
	}
	for i, r := range reqs {
		if r.Amount <= 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
			return nil, swarmerr.Invalid("requirements", "requirement %d (%s) must have a positive amount", i, r.Type)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range reqs {
		if _, ok := m.capacity[r.Type]; !ok {
			return nil, swarmerr.Invalid("requirements", "unknown resource type %s", r.Type)
		}
	}

	grants := make([]models.Grant, 0, len(reqs))
	for _, r := range reqs {
		unit := r.Unit
		if unit == "" {
			unit = m.capacity[r.Type].Unit
		}
		g := models.Grant{Type: r.Type, Amount: r.Amount, Unit: unit}
		if r.Shared {
			if key := shareKey(r, c); key != "" {
				g.Shared = true
				g.ShareKey = key
			}
		}
		grants = append(grants, g)
	}

	// Check every type the request touches, in request order.
	checked := make(map[models.ResourceType]bool)
	for _, g := range grants {
		if checked[g.Type] {
			continue
		}
		checked[g.Type] = true

		used := m.usedLocked(g.Type, nil)
		after := m.usedLocked(g.Type, grants)
		if after > m.capacity[g.Type].Total+epsilon {
			requested := 0.0
			for _, o := range grants {
				if o.Type == g.Type {
					requested += o.Amount
				}
			}
			return nil, &swarmerr.ResourceUnavailableError{
				Type:      string(g.Type),
				Requested: requested,
				Available: math.Max(0, m.capacity[g.Type].Total-used),
			}
		}
	}

	now := m.now()
	lease := &models.Lease{
		ID:             uuid.New().String(),
		OwnerID:        c.OwnerID,
		CoordinationID: c.CoordinationID,
		Grants:         grants,
		CreatedAt:      now,
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl > 0 {
		lease.ExpiresAt = now.Add(ttl)
	}
	m.leases[lease.ID] = lease

	m.logger.Debug("lease granted",
		zap.String("lease", lease.ID),
		zap.String("owner", c.OwnerID),
		zap.String("coordination", c.CoordinationID),
		zap.Int("grants", len(grants)))

	out := copyLease(lease)
	return &out, nil
}

// shareKey resolves the group a shared requirement belongs to.
// Shared requirements without any key are treated as exclusive.
func shareKey(r models.ResourceRequirement, c Constraints) string {
	if r.ShareKey != "" {
		return r.ShareKey
	}
	if c.ShareKey != "" {
		return c.ShareKey
	}
	return c.CoordinationID
}

// usedLocked computes consumption of one type over live leases plus the extra
// grants, if any. The caller holds the lock.
func (m *Manager) usedLocked(t models.ResourceType, extra []models.Grant) float64 {
	var exclusive float64
	groups := make(map[string]float64)

	add := func(g models.Grant) {
		if g.Type != t {
			return
		}
		if !g.Shared {
			exclusive += g.Amount
			return
		}
		if g.Amount > groups[g.ShareKey] {
			groups[g.ShareKey] = g.Amount
		}
	}

	for _, l := range m.leases {
		for _, g := range l.Grants {
			add(g)
		}
	}
	for _, g := range extra {
		add(g)
	}

	total := exclusive
	for _, v := range groups {
		total += v
	}
	return total
}

// Release frees a lease. Releasing an already released lease is a no-op
// within the retention window; an id that was never issued, or was released
// longer ago than that, yields a NotFoundError.
func (m *Manager) Release(leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leases[leaseID]; ok {
		delete(m.leases, leaseID)
		m.released[leaseID] = m.now()
		m.logger.Debug("lease released", zap.String("lease", leaseID))
		return nil
	}
	if _, ok := m.released[leaseID]; ok {
		return nil
	}
	return swarmerr.NotFound("lease", leaseID)
}

// ReleaseOwner frees every lease issued to owner and returns their ids.
func (m *Manager) ReleaseOwner(ownerID string) []string {
	return m.releaseWhere(func(l *models.Lease) bool { return l.OwnerID == ownerID })
}

// ReleaseCoordination frees every lease tied to a coordination and returns their ids.
func (m *Manager) ReleaseCoordination(coordinationID string) []string {
	return m.releaseWhere(func(l *models.Lease) bool { return l.CoordinationID == coordinationID })
}

func (m *Manager) releaseWhere(match func(*models.Lease) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var ids []string
	for id, l := range m.leases {
		if match(l) {
			delete(m.leases, id)
			m.released[id] = now
			ids = append(ids, id)
		}
	}
	return ids
}

// Lease returns a copy of a live lease.
func (m *Manager) Lease(leaseID string) (models.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[leaseID]
	if !ok {
		return models.Lease{}, swarmerr.NotFound("lease", leaseID)
	}
	return copyLease(l), nil
}

// ActiveLeases returns the number of live leases.
func (m *Manager) ActiveLeases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Available returns the unreserved amount of a resource type.
func (m *Manager) Available(t models.ResourceType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.capacity[t]
	if !ok {
		return 0
	}
	return math.Max(0, c.Total-m.usedLocked(t, nil))
}

// Snapshot returns the capacity status of every pool type, in configuration order.
func (m *Manager) Snapshot() []models.CapacityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.CapacityStatus, 0, len(m.order))
	for _, t := range m.order {
		c := m.capacity[t]
		used := m.usedLocked(t, nil)
		out = append(out, models.CapacityStatus{
			Type:      t,
			Unit:      c.Unit,
			Total:     c.Total,
			Used:      used,
			Available: math.Max(0, c.Total-used),
		})
	}
	return out
}

// Watch registers fn to be told about leases released on expiry.
// The returned function unregisters it.
func (m *Manager) Watch(fn ExpiryFunc) (cancel func()) {
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Sweep force-releases every expired lease and notifies the watchers.
// It also forgets lease ids released longer ago than the retention window.
// It returns the leases released on expiry.
func (m *Manager) Sweep() []models.Lease {
	m.mu.Lock()
	now := m.now()
	var expired []models.Lease
	for id, l := range m.leases {
		if l.Expired(now) {
			expired = append(expired, copyLease(l))
			delete(m.leases, id)
			m.released[id] = now
		}
	}
	for id, at := range m.released {
		if now.Sub(at) > m.retention {
			delete(m.released, id)
		}
	}
	watchers := make([]ExpiryFunc, 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	for _, l := range expired {
		m.logger.Warn("lease expired",
			zap.String("lease", l.ID),
			zap.String("owner", l.OwnerID),
			zap.String("coordination", l.CoordinationID))
		for _, fn := range watchers {
			fn(l)
		}
	}
	return expired
}

// Start runs the expiry reaper until ctx is done. Calling Start more than once
// has no further effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(m.reapInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.Sweep()
				}
			}
		}()
	})
}

func copyLease(l *models.Lease) models.Lease {
	out := *l
	out.Grants = append([]models.Grant(nil), l.Grants...)
	return out
}
