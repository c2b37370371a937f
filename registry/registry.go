package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// Availability represents an agent's availability for new work.
type Availability string

const (
	// AvailabilityAvailable indicates the agent can accept new tasks.
	AvailabilityAvailable Availability = "available"
	// AvailabilityBusy indicates the agent is working but still reachable.
	AvailabilityBusy Availability = "busy"
	// AvailabilityOffline indicates the agent is deactivated and must not be
	// selected as a candidate.
	AvailabilityOffline Availability = "offline"
)

// AgentProfile describes a registered agent.
type AgentProfile struct {
	// ID is the unique, stable agent identifier.
	ID string `json:"id"`

	// Capabilities is the agent's declared capability set.
	Capabilities []string `json:"capabilities"`

	// CurrentWorkload is the count of tasks currently in progress on this
	// agent. Never negative.
	CurrentWorkload int `json:"current_workload"`

	// SuccessRate is the exponentially-weighted task success rate in [0,1].
	SuccessRate float64 `json:"success_rate"`

	// AvgResponseTime is the exponentially-weighted task latency.
	AvgResponseTime time.Duration `json:"avg_response_time"`

	// Availability is the agent's availability flag.
	Availability Availability `json:"availability"`

	// RegisteredAt is when the profile was registered.
	RegisteredAt time.Time `json:"registered_at"`

	// UpdatedAt is when the profile was last mutated.
	UpdatedAt time.Time `json:"updated_at"`

	// outcomes counts recorded outcomes; the first sample seeds the moving
	// averages instead of being blended with the defaults.
	outcomes int64
}

// HasCapabilities reports whether the profile covers every required
// capability. An empty requirement is covered by any agent.
func (p *AgentProfile) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	caps := make(map[string]struct{}, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := caps[r]; !ok {
			return false
		}
	}
	return true
}

// CapabilitySource supplies initial or updated capability sets and
// availability flags for agents. The integrator decides whether it is
// polled or pushed; Refresh implements the pull side.
type CapabilitySource interface {
	// Capabilities returns the declared capability set and availability for
	// the given agent.
	Capabilities(ctx context.Context, agentID string) (capabilities []string, availability Availability, err error)
}

// Config holds registry configuration.
type Config struct {
	// Alpha is the exponential-moving-average weight applied to new
	// outcome samples.
	Alpha float64 `json:"alpha" yaml:"alpha"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Alpha: 0.2}
}

// Registry is an in-memory agent registry with lock-protected entries.
type Registry struct {
	mu sync.RWMutex

	// agents stores registered profiles by ID.
	agents map[string]*AgentProfile

	// capabilityIndex indexes agent IDs by capability name.
	capabilityIndex map[string]map[string]struct{}

	config Config
	logger *zap.Logger
}

// New creates a new agent registry.
func New(config Config, logger *zap.Logger) *Registry {
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = DefaultConfig().Alpha
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:          make(map[string]*AgentProfile),
		capabilityIndex: make(map[string]map[string]struct{}),
		config:          config,
		logger:          logger.With(zap.String("component", "agent_registry")),
	}
}

// Register registers an agent profile. Returns Conflict if the ID is
// already registered.
func (r *Registry) Register(profile *AgentProfile) error {
	if profile == nil || profile.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "agent profile requires an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[profile.ID]; exists {
		return types.ConflictError("agent already registered: " + profile.ID).WithEntity(profile.ID)
	}

	now := time.Now()
	p := copyProfile(profile)
	p.CurrentWorkload = 0
	p.RegisteredAt = now
	p.UpdatedAt = now
	if p.Availability == "" {
		p.Availability = AvailabilityAvailable
	}
	if p.SuccessRate == 0 {
		// Fresh agents rank as fully reliable until outcomes say otherwise.
		p.SuccessRate = 1.0
	}
	p.Capabilities = dedupe(p.Capabilities)

	r.agents[p.ID] = p
	for _, c := range p.Capabilities {
		r.indexCapability(c, p.ID)
	}

	r.logger.Info("agent registered",
		zap.String("agent_id", p.ID),
		zap.Int("capabilities", len(p.Capabilities)),
	)
	return nil
}

// Get retrieves a copy of an agent profile by ID.
func (r *Registry) Get(agentID string) (*AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.agents[agentID]
	if !exists {
		return nil, types.NotFoundError("agent", agentID)
	}
	return copyProfile(p), nil
}

// List returns copies of all registered profiles, ordered by ID.
func (r *Registry) List() []*AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentProfile, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deactivate marks an agent offline. Profiles are never deleted, so
// historical counters survive deactivation.
func (r *Registry) Deactivate(agentID string) error {
	return r.SetAvailability(agentID, AvailabilityOffline)
}

// SetAvailability updates an agent's availability flag.
func (r *Registry) SetAvailability(agentID string, availability Availability) error {
	switch availability {
	case AvailabilityAvailable, AvailabilityBusy, AvailabilityOffline:
	default:
		return types.NewErrorf(types.ErrInvalidRequest, "unknown availability: %s", availability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.agents[agentID]
	if !exists {
		return types.NotFoundError("agent", agentID)
	}

	old := p.Availability
	p.Availability = availability
	p.UpdatedAt = time.Now()

	r.logger.Debug("agent availability updated",
		zap.String("agent_id", agentID),
		zap.String("old", string(old)),
		zap.String("new", string(availability)),
	)
	return nil
}

// UpdateWorkload atomically adjusts an agent's workload counter by delta.
// Fails with InvalidState if the adjustment would drive the counter
// negative, leaving the counter unchanged.
func (r *Registry) UpdateWorkload(agentID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateWorkloadLocked(agentID, delta)
}

// updateWorkloadLocked applies a workload delta with r.mu already held.
// Exposed within the package so cross-entity operations (handoff) can move
// two counters inside one critical section.
func (r *Registry) updateWorkloadLocked(agentID string, delta int) error {
	p, exists := r.agents[agentID]
	if !exists {
		return types.NotFoundError("agent", agentID)
	}
	next := p.CurrentWorkload + delta
	if next < 0 {
		return types.InvalidStateError("workload cannot go negative for agent " + agentID).WithEntity(agentID)
	}
	p.CurrentWorkload = next
	p.UpdatedAt = time.Now()
	return nil
}

// TransferWorkload atomically moves one unit of workload from one agent to
// another. Either both counters change or neither does.
func (r *Registry) TransferWorkload(fromAgent, toAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.updateWorkloadLocked(fromAgent, -1); err != nil {
		return err
	}
	if err := r.updateWorkloadLocked(toAgent, +1); err != nil {
		// Roll the first half back; the counter was just positive.
		_ = r.updateWorkloadLocked(fromAgent, +1)
		return err
	}
	return nil
}

// RecordOutcome records a task outcome for an agent, updating the success
// rate and average response time via exponential moving average.
func (r *Registry) RecordOutcome(agentID string, success bool, latency time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.agents[agentID]
	if !exists {
		return types.NotFoundError("agent", agentID)
	}

	sample := 0.0
	if success {
		sample = 1.0
	}

	alpha := r.config.Alpha
	if p.outcomes == 0 {
		p.SuccessRate = sample
		p.AvgResponseTime = latency
	} else {
		p.SuccessRate = p.SuccessRate*(1-alpha) + sample*alpha
		p.AvgResponseTime = time.Duration(
			float64(p.AvgResponseTime)*(1-alpha) + float64(latency)*alpha,
		)
	}
	p.outcomes++
	p.UpdatedAt = time.Now()

	r.logger.Debug("agent outcome recorded",
		zap.String("agent_id", agentID),
		zap.Bool("success", success),
		zap.Duration("latency", latency),
		zap.Float64("success_rate", p.SuccessRate),
	)
	return nil
}

// ListCandidates returns agents covering every required capability, ranked
// for delegation. Agents with partial coverage, offline agents, and agents
// in the exclusion set are omitted.
//
// Ranking: ascending current workload, then descending success rate, then
// ascending agent ID for determinism.
func (r *Registry) ListCandidates(required []string, exclude []string) []*AgentProfile {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	r.mu.RLock()
	candidates := make([]*AgentProfile, 0)
	for _, p := range r.agents {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		if p.Availability == AvailabilityOffline {
			continue
		}
		if !p.HasCapabilities(required) {
			continue
		}
		candidates = append(candidates, copyProfile(p))
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CurrentWorkload != b.CurrentWorkload {
			return a.CurrentWorkload < b.CurrentWorkload
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.ID < b.ID
	})
	return candidates
}

// Refresh pulls capability sets and availability from the capability
// source for every registered agent. Individual failures are logged and
// skipped so one unreachable agent does not abort the refresh.
func (r *Registry) Refresh(ctx context.Context, source CapabilitySource) error {
	if source == nil {
		return types.NewError(types.ErrInvalidRequest, "capability source is nil")
	}

	for _, p := range r.List() {
		caps, availability, err := source.Capabilities(ctx, p.ID)
		if err != nil {
			r.logger.Warn("capability refresh failed",
				zap.String("agent_id", p.ID),
				zap.Error(err),
			)
			continue
		}
		r.applyCapabilities(p.ID, caps, availability)
	}
	return nil
}

func (r *Registry) applyCapabilities(agentID string, caps []string, availability Availability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.agents[agentID]
	if !exists {
		return
	}

	for _, c := range p.Capabilities {
		r.removeFromIndex(c, agentID)
	}
	p.Capabilities = dedupe(caps)
	for _, c := range p.Capabilities {
		r.indexCapability(c, agentID)
	}
	if availability != "" {
		p.Availability = availability
	}
	p.UpdatedAt = time.Now()
}

// AgentsWithCapability returns the IDs of agents declaring the capability,
// ordered for determinism.
func (r *Registry) AgentsWithCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.capabilityIndex[capability]))
	for id := range r.capabilityIndex[capability] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) indexCapability(capability, agentID string) {
	if r.capabilityIndex[capability] == nil {
		r.capabilityIndex[capability] = make(map[string]struct{})
	}
	r.capabilityIndex[capability][agentID] = struct{}{}
}

func (r *Registry) removeFromIndex(capability, agentID string) {
	if agents, exists := r.capabilityIndex[capability]; exists {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(r.capabilityIndex, capability)
		}
	}
}

func copyProfile(p *AgentProfile) *AgentProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Capabilities = make([]string, len(p.Capabilities))
	copy(cp.Capabilities, p.Capabilities)
	return &cp
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
