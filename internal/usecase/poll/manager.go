package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// Process lifecycle states, reported to the coordinator and health endpoint.
const (
	StateStopped  = "STOPPED"
	StateStarting = "STARTING"
	StateReady    = "READY"
)

// DefaultScheduleName is the schedule that claims every source no custom
// schedule's keywords match.
const DefaultScheduleName = "default"

// VipScheduleName is the faster schedule sources of guilds with a refresh
// rate entitlement are assigned to. Only present when a vip interval is
// configured.
const VipScheduleName = "vip"

// ScheduleConfig is one custom schedule definition from deployment
// configuration. Declaration order is assignment-scan order.
type ScheduleConfig struct {
	Name                   string   `yaml:"name"`
	RefreshIntervalMinutes int      `yaml:"refreshIntervalMinutes"`
	Keywords               []string `yaml:"keywords"`
}

// Manager owns the schedule set: it builds schedules from configuration,
// assigns sources to them by keyword, and drives their timers. All schedule
// mutation flows through the manager.
type Manager struct {
	deps        Deps
	concurrency int
	// gate is shared by every schedule the manager owns, so a source moved
	// between schedules by Assign is still processed by one cycle at a time.
	gate *sourceGate

	defaultSchedule *Schedule
	vipSchedule     *Schedule
	// customs in declared order; assignment scans them before falling back
	// to the default schedule.
	customs []*Schedule
	byName  map[string]*Schedule

	mu        sync.Mutex
	state     string
	cron      *cron.Cron
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewManager builds the schedule set from configuration. Custom schedule
// names must be unique and must not collide with the default or vip schedule.
// A zero vipInterval disables the vip schedule.
func NewManager(deps Deps, defaultInterval, vipInterval time.Duration, concurrency int, customs []ScheduleConfig) (*Manager, error) {
	m := &Manager{
		deps:        deps,
		concurrency: concurrency,
		gate:        newSourceGate(),
		byName:      make(map[string]*Schedule),
		state:       StateStopped,
	}

	m.defaultSchedule = NewSchedule(DefaultScheduleName, defaultInterval, nil, concurrency, deps)
	m.defaultSchedule.gate = m.gate
	m.byName[DefaultScheduleName] = m.defaultSchedule

	if vipInterval > 0 {
		m.vipSchedule = NewSchedule(VipScheduleName, vipInterval, nil, concurrency, deps)
		m.vipSchedule.gate = m.gate
		m.byName[VipScheduleName] = m.vipSchedule
	}

	for _, cfg := range customs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("custom schedule with empty name")
		}
		if _, exists := m.byName[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate schedule name %q", cfg.Name)
		}
		if cfg.RefreshIntervalMinutes <= 0 {
			return nil, fmt.Errorf("schedule %q: refresh interval must be positive", cfg.Name)
		}
		if len(cfg.Keywords) == 0 {
			return nil, fmt.Errorf("schedule %q: at least one keyword is required", cfg.Name)
		}
		sched := NewSchedule(cfg.Name,
			time.Duration(cfg.RefreshIntervalMinutes)*time.Minute,
			cfg.Keywords, concurrency, deps)
		sched.gate = m.gate
		m.customs = append(m.customs, sched)
		m.byName[cfg.Name] = sched
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Schedule returns the schedule with the given name.
func (m *Manager) Schedule(name string) (*Schedule, error) {
	if sched, ok := m.byName[name]; ok {
		return sched, nil
	}
	return nil, fmt.Errorf("schedule %q: %w", name, entity.ErrNotFound)
}

// Schedules returns every schedule, default first.
func (m *Manager) Schedules() []*Schedule {
	out := make([]*Schedule, 0, len(m.customs)+2)
	out = append(out, m.defaultSchedule)
	if m.vipSchedule != nil {
		out = append(out, m.vipSchedule)
	}
	out = append(out, m.customs...)
	return out
}

// Assign recomputes source-to-schedule assignment from scratch. An explicit
// schedule name on the source pins it when that schedule exists; otherwise
// guilds with a refresh rate entitlement go to the vip schedule, then the
// custom schedules are scanned in declared order for the first keyword with a
// substring match against the source URL, and unmatched sources fall to the
// default schedule. Recomputing is idempotent.
func (m *Manager) Assign(ctx context.Context) error {
	guilds, err := m.deps.Guilds.List(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}

	buckets := make(map[string][]*entity.FeedSource, len(m.byName))
	for _, guild := range guilds {
		for _, source := range guild.Sources {
			name := m.assignName(source)
			buckets[name] = append(buckets[name], source)
		}
	}

	for name, sched := range m.byName {
		sched.SetSources(buckets[name])
		recordAssignedSources(name, len(buckets[name]))
	}

	m.deps.Logger.Info("schedule assignment recomputed",
		slog.Int("schedules", len(m.byName)),
		slog.Int("default_sources", len(buckets[DefaultScheduleName])))
	return nil
}

func (m *Manager) assignName(source *entity.FeedSource) string {
	if source.ScheduleName != "" {
		if _, ok := m.byName[source.ScheduleName]; ok {
			return source.ScheduleName
		}
	}
	if m.vipSchedule != nil && m.deps.Entitlements != nil {
		if _, ok := m.deps.Entitlements.RefreshRateOverride(source.GuildID); ok {
			return VipScheduleName
		}
	}
	for _, sched := range m.customs {
		for _, keyword := range sched.Keywords() {
			if keyword != "" && strings.Contains(source.URL, keyword) {
				return sched.Name()
			}
		}
	}
	return DefaultScheduleName
}

// Start assigns sources and starts one cron timer per schedule. Timers begin
// from zero; a previous stop's partial cycles are not resumed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", m.state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	if err := m.Assign(ctx); err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	for _, sched := range m.Schedules() {
		s := sched
		spec := fmt.Sprintf("@every %s", s.Interval())
		if _, err := c.AddFunc(spec, func() { s.RunCycle(runCtx) }); err != nil {
			cancel()
			m.mu.Lock()
			m.state = StateStopped
			m.mu.Unlock()
			return fmt.Errorf("register timer for schedule %q: %w", s.Name(), err)
		}
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.runCtx = runCtx
	m.runCancel = cancel
	m.state = StateReady
	m.mu.Unlock()

	m.deps.Logger.Info("schedule timers started",
		slog.Int("schedules", len(m.byName)))
	return nil
}

// Stop disables all timers and halts further source dispatch in running
// cycles. In-flight fetches complete; Stop returns once entries are removed,
// without waiting for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	c := m.cron
	cancel := m.runCancel
	m.cron = nil
	m.runCtx = nil
	m.runCancel = nil
	m.state = StateStopped
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Stop()
	}
	m.deps.Logger.Info("schedule timers stopped")
}

// RunScheduleOnce triggers a single cycle of the named schedule outside its
// timer, for coordinator-driven runs in sharded deployments.
func (m *Manager) RunScheduleOnce(ctx context.Context, name string) (CycleStats, error) {
	sched, err := m.Schedule(name)
	if err != nil {
		return CycleStats{}, err
	}
	return sched.RunCycle(ctx), nil
}
