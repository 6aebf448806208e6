package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/internal/rendezvous"
	"github.com/ShayCichocki/swarm/internal/resource"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// RequiredConfig contains the minimal required configuration for an Engine.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Lifecycle spawns and terminates the agents of every coordination.
	Lifecycle *lifecycle.Manager
	// Resources is the pool leases are drawn from.
	Resources *resource.Manager
}

// AgentDefaults shape the specification of every agent the engine spawns.
type AgentDefaults struct {
	Limits    models.ResourceLimits      `mapstructure:"limits" yaml:"limits"`
	Security  models.SecurityConstraints `mapstructure:"security" yaml:"security"`
	Isolation models.IsolationLevel      `mapstructure:"isolation" yaml:"isolation"`
}

// DefaultAgentDefaults returns the limits used when none are configured.
func DefaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Limits: models.ResourceLimits{
			MemoryMB:     512,
			CPUMillis:    600_000,
			Tokens:       200_000,
			MaxToolCalls: 100,
			Timeout:      5 * time.Minute,
		},
		Security: models.SecurityConstraints{
			Network:    models.AccessRestricted,
			FileSystem: models.AccessReadOnly,
			Sandbox:    true,
		},
		Isolation: models.IsolationSandbox,
	}
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	logger      *zap.Logger
	emitter     *EventEmitter
	parent      models.ParentContext
	defaults    AgentDefaults
	merges      map[string]rendezvous.MergeFunc
	timeout     time.Duration
	syncTimeout time.Duration
	retainLimit int
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithEmitter sets the event emitter coordination events are sent to.
func WithEmitter(e *EventEmitter) Option {
	return func(o *engineOptions) { o.emitter = e }
}

// WithParentLimits sets the ceiling every spawned agent is capped to.
// Zero limits mean no ceiling for that field.
func WithParentLimits(limits models.ResourceLimits, security models.SecurityConstraints) Option {
	return func(o *engineOptions) {
		o.parent.Limits = limits
		o.parent.Security = security
	}
}

// WithAgentDefaults sets the limits, security and isolation of spawned agents.
func WithAgentDefaults(d AgentDefaults) Option {
	return func(o *engineOptions) { o.defaults = d }
}

// WithMerge registers a named merge function for aggregation points.
func WithMerge(name string, fn rendezvous.MergeFunc) Option {
	return func(o *engineOptions) {
		if o.merges == nil {
			o.merges = make(map[string]rendezvous.MergeFunc)
		}
		o.merges[name] = fn
	}
}

// WithCoordinationTimeout bounds every coordination. Zero means unbounded.
func WithCoordinationTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.timeout = d }
}

// WithSyncTimeout sets the timeout of synchronization points that may time
// out but declare no timeout.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.syncTimeout = d }
}

// WithRetention sets how many finished coordinations stay visible to MonitorExecution.
func WithRetention(n int) Option {
	return func(o *engineOptions) { o.retainLimit = n }
}
