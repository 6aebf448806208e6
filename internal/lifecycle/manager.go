// Package lifecycle constructs, monitors and tears down isolated sub-agent instances.
package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/resource"
	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// RequiredConfig contains the collaborators a Manager cannot work without.
type RequiredConfig struct {
	// Resources reserves leases for every spawned agent.
	Resources *resource.Manager
	// Executor runs subtasks on behalf of the workers.
	Executor Executor
}

// Provisioner prepares the isolation environment of a new instance. An error
// aborts the spawn and rolls back its leases.
type Provisioner func(ctx context.Context, inst *models.SubAgentInstance) error

// Observer is told about every status change. It must not block.
type Observer func(inst models.SubAgentInstance)

// Option configures a Manager.
type Option func(*Manager)

// WithPermissions sets the permission evaluator. Defaults to AllowAll.
func WithPermissions(p PermissionChecker) Option {
	return func(m *Manager) {
		if p != nil {
			m.permissions = p
		}
	}
}

// WithProvisioner sets the isolation provisioner.
func WithProvisioner(p Provisioner) Option {
	return func(m *Manager) { m.provision = p }
}

// WithObserver sets the status change observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observe = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("lifecycle")
		}
	}
}

// entry is the live record of one agent.
type entry struct {
	inst   models.SubAgentInstance
	worker Worker
}

// Manager owns every sub-agent instance it spawned.
type Manager struct {
	resources   *resource.Manager
	executor    Executor
	permissions PermissionChecker
	provision   Provisioner
	observe     Observer
	logger      *zap.Logger

	mu sync.RWMutex
	// active holds agents that have not been terminated.
	active map[string]*entry
	// retired keeps terminated agents so late lookups still resolve.
	retired map[string]models.SubAgentInstance
}

// NewManager creates a lifecycle Manager.
func NewManager(cfg RequiredConfig, opts ...Option) *Manager {
	m := &Manager{
		resources:   cfg.Resources,
		executor:    cfg.Executor,
		permissions: AllowAll{},
		logger:      zap.NewNop(),
		active:      make(map[string]*entry),
		retired:     make(map[string]models.SubAgentInstance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateSpec checks a specification without touching any state.
func ValidateSpec(spec models.AgentSpecification) error {
	if len(spec.Capabilities) == 0 {
		return swarmerr.Invalid("capabilities", "at least one capability is required")
	}
	for _, c := range spec.Capabilities {
		if c == "" {
			return swarmerr.Invalid("capabilities", "capability names must not be empty")
		}
	}
	if !spec.Isolation.Valid() {
		return swarmerr.Invalid("isolation", "unknown isolation level %q", spec.Isolation)
	}
	if spec.Type != "" && !validAgentType(spec.Type) {
		return swarmerr.Invalid("type", "unknown agent type %q", spec.Type)
	}
	l := spec.Limits
	switch {
	case l.MemoryMB <= 0:
		return swarmerr.Invalid("limits.memory_mb", "must be positive")
	case l.CPUMillis <= 0:
		return swarmerr.Invalid("limits.cpu_millis", "must be positive")
	case l.Tokens <= 0:
		return swarmerr.Invalid("limits.tokens", "must be positive")
	case l.MaxToolCalls <= 0:
		return swarmerr.Invalid("limits.max_tool_calls", "must be positive")
	case l.Timeout <= 0:
		return swarmerr.Invalid("limits.timeout", "must be positive")
	}
	return nil
}

// Spawn constructs an isolated agent. Resources are reserved before anything is
// built; any failure after that releases them again and nothing is registered.
func (m *Manager) Spawn(ctx context.Context, spec models.AgentSpecification, parent models.ParentContext) (*models.SubAgentInstance, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	if err := m.permissions.Check(ctx, spec); err != nil {
		return nil, &swarmerr.SpawnError{Stage: "permission", Err: err}
	}

	id := uuid.New().String()
	var leaseIDs []string
	if len(spec.Resources) > 0 {
		lease, err := m.resources.Allocate(spec.Resources, resource.Constraints{
			OwnerID:        id,
			CoordinationID: parent.CoordinationID,
		})
		if err != nil {
			return nil, err
		}
		leaseIDs = append(leaseIDs, lease.ID)
	}

	rollback := func() {
		for _, lid := range leaseIDs {
			if err := m.resources.Release(lid); err != nil {
				m.logger.Warn("rollback release failed", zap.String("lease", lid), zap.Error(err))
			}
		}
	}

	capped := spec
	capped.Limits = capLimits(spec.Limits, parent.Limits)
	capped.Security = capSecurity(spec.Security, parent.Security)
	if capped.Type == "" {
		capped.Type = VariantFor(spec.Capabilities)
	}
	if capped.SecurityLevel == "" {
		capped.SecurityLevel = models.SecurityLow
	}

	inst := models.SubAgentInstance{
		ID:             id,
		CoordinationID: parent.CoordinationID,
		AllocationID:   spec.AllocationID,
		ParentID:       parent.ID,
		Spec:           capped,
		Status:         models.AgentStatusInitializing,
		LeaseIDs:       leaseIDs,
		CreatedAt:      time.Now(),
	}

	w := newWorker(capped.Type, baseWorker{
		executor:     m.executor,
		capabilities: append([]string(nil), capped.Capabilities...),
		level:        capped.SecurityLevel,
		allowedTools: append([]string(nil), capped.Security.AllowedTools...),
	})

	if err := ctx.Err(); err != nil {
		rollback()
		return nil, &swarmerr.SpawnError{Stage: "construct", Err: err}
	}
	if m.provision != nil {
		if err := m.provision(ctx, &inst); err != nil {
			rollback()
			return nil, &swarmerr.SpawnError{Stage: "isolation", Err: err}
		}
	}

	inst.Status = models.AgentStatusReady
	m.mu.Lock()
	m.active[id] = &entry{inst: inst, worker: w}
	m.mu.Unlock()

	m.logger.Debug("agent spawned",
		zap.String("agent", id),
		zap.String("type", string(capped.Type)),
		zap.String("allocation", spec.AllocationID),
		zap.String("isolation", string(capped.Isolation)))
	m.notify(inst)

	out := cloneInstance(inst)
	return &out, nil
}

// capLimits returns the element-wise minimum. A zero parent field imposes no ceiling.
func capLimits(spec, parent models.ResourceLimits) models.ResourceLimits {
	out := spec
	if parent.MemoryMB > 0 && parent.MemoryMB < out.MemoryMB {
		out.MemoryMB = parent.MemoryMB
	}
	if parent.CPUMillis > 0 && parent.CPUMillis < out.CPUMillis {
		out.CPUMillis = parent.CPUMillis
	}
	if parent.Tokens > 0 && parent.Tokens < out.Tokens {
		out.Tokens = parent.Tokens
	}
	if parent.MaxToolCalls > 0 && parent.MaxToolCalls < out.MaxToolCalls {
		out.MaxToolCalls = parent.MaxToolCalls
	}
	if parent.Timeout > 0 && parent.Timeout < out.Timeout {
		out.Timeout = parent.Timeout
	}
	return out
}

// capSecurity never grants more than the parent holds. A parent without an
// allow-list or access tier imposes no ceiling on that field.
func capSecurity(spec, parent models.SecurityConstraints) models.SecurityConstraints {
	out := spec
	if parent.AllowedTools != nil {
		out.AllowedTools = intersect(spec.AllowedTools, parent.AllowedTools)
	}
	if parent.Network != "" {
		out.Network = models.MinAccess(spec.Network, parent.Network)
	}
	if parent.FileSystem != "" {
		out.FileSystem = models.MinAccess(spec.FileSystem, parent.FileSystem)
	}
	out.Sandbox = spec.Sandbox || parent.Sandbox
	return out
}

func intersect(a, b []string) []string {
	out := []string{}
	for _, s := range a {
		if slices.Contains(b, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Terminate tears an agent down: its leases are released and it leaves the
// active set. Terminating an agent twice is a no-op.
func (m *Manager) Terminate(id, reason string) error {
	m.mu.Lock()
	e, ok := m.active[id]
	if !ok {
		_, retired := m.retired[id]
		m.mu.Unlock()
		if retired {
			return nil
		}
		return swarmerr.NotFound("agent", id)
	}
	delete(m.active, id)
	now := time.Now()
	e.inst.Status = models.AgentStatusTerminated
	e.inst.TerminatedAt = &now
	e.inst.TerminateReason = reason
	m.retired[id] = e.inst
	inst := cloneInstance(e.inst)
	m.mu.Unlock()

	for _, lid := range inst.LeaseIDs {
		if err := m.resources.Release(lid); err != nil {
			m.logger.Warn("lease release failed", zap.String("agent", id), zap.String("lease", lid), zap.Error(err))
		}
	}
	// Leases reserved later on the agent's behalf go too.
	m.resources.ReleaseOwner(id)

	m.logger.Debug("agent terminated", zap.String("agent", id), zap.String("reason", reason))
	m.notify(inst)
	return nil
}

// TerminateCoordination terminates every active agent of a coordination and
// returns their ids.
func (m *Manager) TerminateCoordination(coordinationID, reason string) []string {
	return m.terminateWhere(reason, func(inst *models.SubAgentInstance) bool {
		return inst.CoordinationID == coordinationID
	})
}

// TerminateAll terminates every active agent and returns their ids.
func (m *Manager) TerminateAll(reason string) []string {
	return m.terminateWhere(reason, func(*models.SubAgentInstance) bool { return true })
}

func (m *Manager) terminateWhere(reason string, match func(*models.SubAgentInstance) bool) []string {
	m.mu.RLock()
	var ids []string
	for id, e := range m.active {
		if match(&e.inst) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		_ = m.Terminate(id, reason)
	}
	return ids
}

// Transition moves an agent to the next status. Only forward moves are accepted.
func (m *Manager) Transition(id string, next models.AgentStatus) error {
	m.mu.Lock()
	e, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return swarmerr.NotFound("agent", id)
	}
	if next == models.AgentStatusTerminated {
		m.mu.Unlock()
		return swarmerr.Invalid("status", "use Terminate to terminate agent %s", id)
	}
	if !e.inst.Status.CanTransition(next) {
		cur := e.inst.Status
		m.mu.Unlock()
		return swarmerr.Invalid("status", "agent %s cannot move from %s to %s", id, cur, next)
	}
	changed := e.inst.Status != next
	e.inst.Status = next
	inst := cloneInstance(e.inst)
	m.mu.Unlock()

	if changed {
		m.notify(inst)
	}
	return nil
}

// RecordUsage accounts a finished subtask run against the agent. It returns a
// resource-exhaustion failure once any limit is exceeded.
func (m *Manager) RecordUsage(id string, res *models.SubtaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.active[id]
	if !ok {
		return swarmerr.NotFound("agent", id)
	}
	e.inst.Usage.Add(res.Usage)
	e.inst.Metrics.SubtasksRun++
	if !res.Success {
		e.inst.Metrics.SubtasksFailed++
	}
	e.inst.Metrics.BusyTime += res.Duration()

	u, l := e.inst.Usage, e.inst.Spec.Limits
	var violation string
	switch {
	case u.MemoryMB > l.MemoryMB:
		violation = fmt.Sprintf("memory %dMB over limit %dMB", u.MemoryMB, l.MemoryMB)
	case u.CPUMillis > l.CPUMillis:
		violation = fmt.Sprintf("cpu %dms over limit %dms", u.CPUMillis, l.CPUMillis)
	case u.Tokens > l.Tokens:
		violation = fmt.Sprintf("tokens %d over limit %d", u.Tokens, l.Tokens)
	case u.ToolCalls > l.MaxToolCalls:
		violation = fmt.Sprintf("tool calls %d over limit %d", u.ToolCalls, l.MaxToolCalls)
	}
	if violation == "" {
		return nil
	}
	m.logger.Warn("agent exceeded limits", zap.String("agent", id), zap.String("violation", violation))
	return &swarmerr.ExecutionFailure{
		AllocationID: e.inst.AllocationID,
		SubtaskID:    res.SubtaskID,
		Trigger:      swarmerr.TriggerResourceExhaustion,
		Err:          fmt.Errorf("agent %s: %s", id, violation),
	}
}

// Get returns a snapshot of an agent, active or terminated.
func (m *Manager) Get(id string) (models.SubAgentInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.active[id]; ok {
		return cloneInstance(e.inst), nil
	}
	if inst, ok := m.retired[id]; ok {
		return cloneInstance(inst), nil
	}
	return models.SubAgentInstance{}, swarmerr.NotFound("agent", id)
}

// Worker returns the worker of an active agent.
func (m *Manager) Worker(id string) (Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.active[id]
	if !ok {
		return nil, swarmerr.NotFound("agent", id)
	}
	return e.worker, nil
}

// Active returns snapshots of every active agent ordered by creation time.
func (m *Manager) Active() []models.SubAgentInstance {
	m.mu.RLock()
	out := make([]models.SubAgentInstance, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, cloneInstance(e.inst))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of active agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) notify(inst models.SubAgentInstance) {
	if m.observe != nil {
		m.observe(inst)
	}
}

func cloneInstance(inst models.SubAgentInstance) models.SubAgentInstance {
	out := inst
	out.LeaseIDs = append([]string(nil), inst.LeaseIDs...)
	out.Spec.Capabilities = append([]string(nil), inst.Spec.Capabilities...)
	out.Spec.Security.AllowedTools = append([]string(nil), inst.Spec.Security.AllowedTools...)
	if inst.TerminatedAt != nil {
		t := *inst.TerminatedAt
		out.TerminatedAt = &t
	}
	return out
}
