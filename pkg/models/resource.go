package models

import "time"

// ResourceType names a capacity pool dimension (memory, cpu, tokens, ...).
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourceCPU    ResourceType = "cpu"
	ResourceTokens ResourceType = "tokens"
)

// ResourceRequirement is a requested amount of one resource type.
type ResourceRequirement struct {
	Type   ResourceType `json:"type" yaml:"type"`
	Amount float64      `json:"amount" yaml:"amount"`
	Unit   string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Shared requirements may overlap with other leases in the same share group.
	Shared bool `json:"shared,omitempty" yaml:"shared,omitempty"`
	// ShareKey groups shared requirements. Empty keys fall back to the lease constraints.
	ShareKey string `json:"share_key,omitempty" yaml:"share_key,omitempty"`
}

// Grant is one resource line inside a lease.
type Grant struct {
	Type     ResourceType `json:"type"`
	Amount   float64      `json:"amount"`
	Unit     string       `json:"unit,omitempty"`
	Shared   bool         `json:"shared,omitempty"`
	ShareKey string       `json:"share_key,omitempty"`
}

// Lease is a time-bounded, revocable resource grant.
type Lease struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	CoordinationID string    `json:"coordination_id,omitempty"`
	Grants         []Grant   `json:"grants"`
	CreatedAt      time.Time `json:"created_at"`
	// ExpiresAt is the zero time for leases that never expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lease has passed its expiry at now.
func (l *Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Amount returns the total granted amount of the given type.
func (l *Lease) Amount(t ResourceType) float64 {
	var total float64
	for _, g := range l.Grants {
		if g.Type == t {
			total += g.Amount
		}
	}
	return total
}

// ResourceUsage is what an agent has consumed so far.
type ResourceUsage struct {
	MemoryMB  int64         `json:"memory_mb"`
	CPUMillis int64         `json:"cpu_millis"`
	Tokens    int64         `json:"tokens"`
	ToolCalls int           `json:"tool_calls"`
	WallTime  time.Duration `json:"wall_time"`
}

// Add accumulates another usage sample.
func (u *ResourceUsage) Add(o ResourceUsage) {
	if o.MemoryMB > u.MemoryMB {
		u.MemoryMB = o.MemoryMB
	}
	u.CPUMillis += o.CPUMillis
	u.Tokens += o.Tokens
	u.ToolCalls += o.ToolCalls
	u.WallTime += o.WallTime
}

// CapacityStatus is a point-in-time view of one resource type.
type CapacityStatus struct {
	Type      ResourceType `json:"type"`
	Unit      string       `json:"unit,omitempty"`
	Total     float64      `json:"total"`
	Used      float64      `json:"used"`
	Available float64      `json:"available"`
}
