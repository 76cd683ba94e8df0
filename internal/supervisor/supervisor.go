// Package supervisor is the process-fleet manager, expressed as an
// in-process task fleet rather than OS processes: every role in this
// repo (scheduler, dispatcher, parser workers) shares one badger store
// opened exclusively by the host process, so a real OS-process fleet
// would need each role in its own process holding its own handle to the
// same directory — something badger's file lock does not allow without
// a network-facing broker in front of it. An in-process fleet gets the
// declared-fleet/liveness/restart contract without that constraint, at
// the cost of a shared crash domain — acceptable here since
// common.SafeGoWithContext already isolates one role's panic from the
// rest of the fleet.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/healthcheck"
)

// RunFunc is one fleet instance's body: a blocking loop that returns when
// ctx is canceled (clean shutdown) or when it exits early (a crash the
// Supervisor should restart, if Role.Restart is set).
type RunFunc func(ctx context.Context, instanceID int) error

// Role is one declared {role × instance-count} entry in the fleet.
type Role struct {
	Name      string
	Instances int
	Required  bool // startup fails if this role can't be started at all
	Restart   bool // relaunch a crashed instance with the same instance id
	Run       RunFunc
}

// Config drives the Supervisor's health loop and shutdown timeout.
type Config struct {
	HealthInterval  time.Duration // default 60s
	ShutdownTimeout time.Duration // default 30s grace before the fleet is considered stuck
	BrokerProbeTube string        // any tube name; used only as a liveness probe target
	DiskPath        string        // optional, for the disk-free system probe
}

// Supervisor owns a declared fleet of roles, restarts crashed instances,
// and runs periodic broker/database/system health probes.
type Supervisor struct {
	cfg    Config
	roles  []Role
	client broker.Client
	store  *badgerhold.Store
	logger arbor.ILogger

	mu       sync.Mutex
	live     map[string]int // role -> count of currently-running instances
	shutdown chan struct{}
	stopOnce sync.Once
}

// New builds a Supervisor over its declared fleet and health-probe
// collaborators.
func New(cfg Config, roles []Role, client broker.Client, store *badgerhold.Store, logger arbor.ILogger) *Supervisor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Supervisor{
		cfg: cfg, roles: roles, client: client, store: store, logger: logger,
		live:     make(map[string]int),
		shutdown: make(chan struct{}),
	}
}

// PreflightCheck runs the boot-time broker/database probes the
// Supervisor's startup ordering requires: it refuses to start its fleet
// if either is unreachable. System-resource warnings never block
// startup.
func (s *Supervisor) PreflightCheck(ctx context.Context) error {
	if err := healthcheck.ProbeBroker(ctx, s.client, s.cfg.BrokerProbeTube); err != nil {
		return err
	}
	if err := healthcheck.ProbeDatabase(s.store); err != nil {
		return err
	}
	return nil
}

// Run starts every declared instance, then blocks running the health
// loop until ctx is canceled or Shutdown is called, at which point it
// signals every instance to stop and waits up to cfg.ShutdownTimeout.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.PreflightCheck(ctx); err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Msg("supervisor: preflight check failed, refusing to start fleet")
		}
		return err
	}

	fleetCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, role := range s.roles {
		for instanceID := 0; instanceID < role.Instances; instanceID++ {
			s.startInstance(fleetCtx, &wg, role, instanceID)
		}
	}

	s.healthLoop(fleetCtx)

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if s.logger != nil {
			s.logger.Info().Msg("supervisor: fleet shut down cleanly")
		}
	case <-time.After(s.cfg.ShutdownTimeout):
		if s.logger != nil {
			s.logger.Warn().Dur("timeout", s.cfg.ShutdownTimeout).
				Msg("supervisor: shutdown timeout exceeded, some instances may still be running")
		}
	}
	return nil
}

// Shutdown signals the health loop (and, transitively, the whole fleet)
// to stop. Safe to call multiple times.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.shutdown) })
}

func (s *Supervisor) startInstance(ctx context.Context, wg *sync.WaitGroup, role Role, instanceID int) {
	wg.Add(1)
	s.mu.Lock()
	s.live[role.Name]++
	s.mu.Unlock()

	common.SafeGoWithContext(ctx, s.logger, "supervisor-"+role.Name, func() {
		defer wg.Done()
		defer func() {
			s.mu.Lock()
			s.live[role.Name]--
			s.mu.Unlock()
		}()
		s.runLoop(ctx, role, instanceID)
	})
}

// runLoop runs role.Run, and relaunches it in place if it returns early
// while ctx is still live and role.Restart is set — this is the
// Supervisor's restart policy, expressed as a loop around a single
// SafeGoWithContext-wrapped goroutine rather than a separate monitor
// re-spawning a new OS process.
func (s *Supervisor) runLoop(ctx context.Context, role Role, instanceID int) {
	for {
		err := role.Run(ctx, instanceID)

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err != nil && s.logger != nil {
			s.logger.Error().Err(err).Str("role", role.Name).Int("instance", instanceID).
				Msg("supervisor: instance exited with error")
		}

		if !role.Restart {
			if s.logger != nil {
				s.logger.Warn().Str("role", role.Name).Int("instance", instanceID).
					Msg("supervisor: instance exited and restart=false, not relaunching")
			}
			return
		}

		if s.logger != nil {
			s.logger.Info().Str("role", role.Name).Int("instance", instanceID).
				Msg("supervisor: restarting crashed instance")
		}
		// Brief backoff so a fast-crashing instance doesn't spin the CPU.
		time.Sleep(time.Second)
	}
}

// healthLoop runs ProbeBroker/ProbeDatabase/ProbeSystem on cfg.HealthInterval
// until ctx is canceled or Shutdown is called, logging a structured report
// each tick and warning when an expected role has fewer live instances
// than declared.
func (s *Supervisor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			report := healthcheck.Run(ctx, s.client, s.cfg.BrokerProbeTube, s.store, s.cfg.DiskPath)
			s.logReport(report)
			s.checkFleetHealth()
		}
	}
}

func (s *Supervisor) logReport(r healthcheck.Report) {
	if s.logger == nil {
		return
	}
	event := s.logger.Info()
	if !r.BrokerOK || !r.DatabaseOK {
		event = s.logger.Warn()
	}
	event.
		Bool("broker_ok", r.BrokerOK).
		Bool("database_ok", r.DatabaseOK).
		Int("goroutines", r.System.NumGoroutine).
		Uint64("alloc_mb", r.System.AllocMB).
		Msg("supervisor: health probe")
}

func (s *Supervisor) checkFleetHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if s.live[role.Name] < role.Instances && s.logger != nil {
			s.logger.Warn().Str("role", role.Name).
				Int("expected", role.Instances).Int("live", s.live[role.Name]).
				Msg("supervisor: role running below declared instance count")
		}
	}
}
