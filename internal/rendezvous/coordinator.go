// Package rendezvous implements the synchronization points agents meet at:
// barriers, checkpoints, decisions and aggregations.
//
// A point resolves when every participant has arrived, or when its timeout
// (started by the first arrival) fires under the proceed or fail policy. Once
// resolved, a point keeps its outcome; late arrivals receive it immediately.
package rendezvous

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/pkg/models"
	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Report is what a participant brings to a point.
type Report struct {
	Participant string
	// Failed marks participants whose work failed, was skipped or was cancelled.
	Failed bool
	// Status is recorded by checkpoints. Empty defaults to completed or failed.
	Status string
	// Value is the vote at a decision point or the partial result at an aggregation point.
	Value any
}

// point is the runtime state of one synchronization point.
type point struct {
	def     models.SynchronizationPoint
	reports map[string]Report
	timer   *time.Timer
	done    chan struct{}
	outcome *models.SyncOutcome
	err     error
}

func (p *point) resolved() bool {
	return p.outcome != nil
}

// Coordinator holds the synchronization points of one coordination.
type Coordinator struct {
	mu     sync.Mutex
	order  []string
	points map[string]*point
	merges map[string]MergeFunc
	logger *zap.Logger
	closed bool
	// defaultTimeout applies to points that can time out but set no timeout.
	defaultTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l.Named("rendezvous")
		}
	}
}

// WithMerge registers a custom merge function under name.
func WithMerge(name string, fn MergeFunc) Option {
	return func(c *Coordinator) {
		if name != "" && fn != nil {
			c.merges[name] = fn
		}
	}
}

// WithDefaultTimeout sets the timeout of points whose policy is proceed or
// fail but which declare no timeout of their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// NewCoordinator creates a Coordinator with the built-in merge functions.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		points: make(map[string]*point),
		merges: builtinMerges(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasMerge reports whether a merge function is registered under name.
func (c *Coordinator) HasMerge(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.merges[name]
	return ok
}

// ValidatePoint checks a point definition without registering it.
func ValidatePoint(p models.SynchronizationPoint) error {
	if p.ID == "" {
		return swarmerr.Invalid("sync_point.id", "must not be empty")
	}
	if !p.Type.Valid() {
		return swarmerr.Invalid("sync_point.type", "point %s has unknown type %q", p.ID, p.Type)
	}
	if p.OnTimeout != "" && !p.OnTimeout.Valid() {
		return swarmerr.Invalid("sync_point.on_timeout", "point %s has unknown policy %q", p.ID, p.OnTimeout)
	}
	if p.Timeout < 0 {
		return swarmerr.Invalid("sync_point.timeout", "point %s has a negative timeout", p.ID)
	}
	switch p.Type {
	case models.SyncDecision:
		if !p.Rule.Valid() {
			return swarmerr.Invalid("sync_point.rule", "decision point %s needs an explicit rule (majority, unanimity or leader)", p.ID)
		}
		if p.Rule == models.DecisionLeader && p.Leader == "" {
			return swarmerr.Invalid("sync_point.leader", "decision point %s uses the leader rule without a leader", p.ID)
		}
	case models.SyncAggregation:
		if p.Merge == "" {
			return swarmerr.Invalid("sync_point.merge", "aggregation point %s needs a merge function", p.ID)
		}
	}
	return nil
}

// Register adds a point. Participants must already be resolved to concrete ids.
func (c *Coordinator) Register(def models.SynchronizationPoint) error {
	if err := ValidatePoint(def); err != nil {
		return err
	}
	if len(def.Participants) == 0 {
		return swarmerr.Invalid("sync_point.participants", "point %s has no participants", def.ID)
	}
	seen := make(map[string]bool, len(def.Participants))
	for _, id := range def.Participants {
		if id == "" {
			return swarmerr.Invalid("sync_point.participants", "point %s has an empty participant", def.ID)
		}
		if seen[id] {
			return swarmerr.Invalid("sync_point.participants", "point %s lists %s twice", def.ID, id)
		}
		seen[id] = true
	}
	if def.Rule == models.DecisionLeader && !def.HasParticipant(def.Leader) {
		return swarmerr.Invalid("sync_point.leader", "leader %s is not a participant of %s", def.Leader, def.ID)
	}
	if def.OnTimeout == "" {
		def.OnTimeout = models.OnTimeoutWait
	}
	if def.Timeout == 0 && def.OnTimeout != models.OnTimeoutWait {
		def.Timeout = c.defaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if def.Type == models.SyncAggregation {
		if _, ok := c.merges[def.Merge]; !ok {
			return swarmerr.Invalid("sync_point.merge", "point %s names unknown merge function %q", def.ID, def.Merge)
		}
	}
	if _, dup := c.points[def.ID]; dup {
		return swarmerr.Invalid("sync_point.id", "duplicate point %s", def.ID)
	}
	def.Participants = append([]string(nil), def.Participants...)
	c.points[def.ID] = &point{
		def:     def,
		reports: make(map[string]Report),
		done:    make(chan struct{}),
	}
	c.order = append(c.order, def.ID)
	return nil
}

// Signal records an arrival without waiting for the point to resolve.
func (c *Coordinator) Signal(pointID string, r Report) error {
	_, err := c.signal(pointID, r)
	return err
}

// Arrive records an arrival and blocks until the point resolves or ctx ends.
// A point that timed out under the fail policy returns a SyncTimeoutError
// together with its outcome.
func (c *Coordinator) Arrive(ctx context.Context, pointID string, r Report) (*models.SyncOutcome, error) {
	p, err := c.signal(pointID, r)
	if err != nil {
		return nil, err
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := cloneOutcome(p.outcome)
	return &out, p.err
}

func (c *Coordinator) signal(pointID string, r Report) (*point, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[pointID]
	if !ok {
		return nil, swarmerr.NotFound("sync point", pointID)
	}
	if !p.def.HasParticipant(r.Participant) {
		return nil, swarmerr.Invalid("participant", "%s does not take part in %s", r.Participant, pointID)
	}
	if p.resolved() {
		return p, nil
	}
	if _, again := p.reports[r.Participant]; again {
		return p, nil
	}

	first := len(p.reports) == 0
	p.reports[r.Participant] = r
	c.logger.Debug("arrived",
		zap.String("point", pointID),
		zap.String("participant", r.Participant),
		zap.Bool("failed", r.Failed),
		zap.Int("arrived", len(p.reports)),
		zap.Int("expected", len(p.def.Participants)))

	if len(p.reports) == len(p.def.Participants) {
		c.resolveLocked(p, false)
		return p, nil
	}
	if first && !c.closed && p.def.Timeout > 0 && p.def.OnTimeout != models.OnTimeoutWait {
		p.timer = time.AfterFunc(p.def.Timeout, func() { c.expire(pointID) })
	}
	return p, nil
}

// expire fires when a point's timeout elapses.
func (c *Coordinator) expire(pointID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[pointID]
	if !ok || p.resolved() {
		return
	}
	c.logger.Warn("synchronization point timed out",
		zap.String("point", pointID),
		zap.String("policy", string(p.def.OnTimeout)))
	c.resolveLocked(p, true)
}

// resolveLocked computes the outcome and releases every waiter. The caller holds the lock.
func (c *Coordinator) resolveLocked(p *point, timedOut bool) {
	if p.timer != nil {
		p.timer.Stop()
	}

	out := &models.SyncOutcome{
		PointID:  p.def.ID,
		Type:     p.def.Type,
		TimedOut: timedOut,
		Arrived:  []string{},
	}
	var voters []string
	for _, id := range p.def.Participants {
		r, ok := p.reports[id]
		switch {
		case !ok:
			out.Absent = append(out.Absent, id)
		case r.Failed:
			out.Arrived = append(out.Arrived, id)
			out.Failed = append(out.Failed, id)
		default:
			out.Arrived = append(out.Arrived, id)
			voters = append(voters, id)
		}
	}

	if timedOut && p.def.OnTimeout == models.OnTimeoutFail {
		p.err = &swarmerr.SyncTimeoutError{PointID: p.def.ID, Absent: append([]string(nil), out.Absent...)}
		out.Error = p.err.Error()
	} else {
		switch p.def.Type {
		case models.SyncCheckpoint:
			out.Statuses = make(map[string]string, len(p.reports))
			for id, r := range p.reports {
				status := r.Status
				if status == "" {
					status = "completed"
					if r.Failed {
						status = "failed"
					}
				}
				out.Statuses[id] = status
			}
		case models.SyncDecision:
			value, err := decide(p.def, p.reports, voters)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Value = value
			}
		case models.SyncAggregation:
			values := make([]any, 0, len(voters))
			for _, id := range voters {
				values = append(values, p.reports[id].Value)
			}
			merged, err := c.merges[p.def.Merge](values)
			if err != nil {
				out.Error = fmt.Sprintf("merge %s: %v", p.def.Merge, err)
			} else {
				out.Value = merged
			}
		}
	}

	p.outcome = out
	close(p.done)
	c.logger.Debug("synchronization point resolved",
		zap.String("point", p.def.ID),
		zap.Int("arrived", len(out.Arrived)),
		zap.Int("absent", len(out.Absent)),
		zap.Bool("timed_out", timedOut))
}

// decide applies the point's decision rule to the votes of non-failed participants.
func decide(def models.SynchronizationPoint, reports map[string]Report, voters []string) (any, error) {
	switch def.Rule {
	case models.DecisionLeader:
		if !slices.Contains(voters, def.Leader) {
			return nil, fmt.Errorf("leader %s did not vote", def.Leader)
		}
		return reports[def.Leader].Value, nil

	case models.DecisionUnanimity:
		if len(voters) == 0 {
			return nil, fmt.Errorf("no votes")
		}
		first := reports[voters[0]].Value
		key := voteKey(first)
		for _, id := range voters[1:] {
			if voteKey(reports[id].Value) != key {
				return nil, fmt.Errorf("no unanimous value")
			}
		}
		return first, nil

	case models.DecisionMajority:
		counts := make(map[string]int)
		values := make(map[string]any)
		for _, id := range voters {
			v := reports[id].Value
			k := voteKey(v)
			counts[k]++
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
		for k, n := range counts {
			if n*2 > len(voters) {
				return values[k], nil
			}
		}
		return nil, fmt.Errorf("no majority among %d votes", len(voters))
	}
	return nil, fmt.Errorf("unknown rule %q", def.Rule)
}

func voteKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

// Outcome returns the outcome of a resolved point.
func (c *Coordinator) Outcome(pointID string) (*models.SyncOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[pointID]
	if !ok || !p.resolved() {
		return nil, false
	}
	out := cloneOutcome(p.outcome)
	return &out, true
}

// Outcomes returns the outcomes of every resolved point in registration order.
func (c *Coordinator) Outcomes() []models.SyncOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.SyncOutcome
	for _, id := range c.order {
		if p := c.points[id]; p.resolved() {
			out = append(out, cloneOutcome(p.outcome))
		}
	}
	return out
}

// PointsFor returns the ids of points a participant takes part in, in registration order.
func (c *Coordinator) PointsFor(participant string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for _, id := range c.order {
		if c.points[id].def.HasParticipant(participant) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close stops every pending timer. Waiters still unblock through their contexts.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, p := range c.points {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
}

func cloneOutcome(o *models.SyncOutcome) models.SyncOutcome {
	out := *o
	out.Arrived = append([]string{}, o.Arrived...)
	out.Failed = append([]string(nil), o.Failed...)
	out.Absent = append([]string(nil), o.Absent...)
	if o.Statuses != nil {
		out.Statuses = make(map[string]string, len(o.Statuses))
		for k, v := range o.Statuses {
			out.Statuses[k] = v
		}
	}
	return out
}
