// Package broker is a persistent, priority-ordered job queue modeled on
// beanstalkd's tube semantics (put/reserve/touch/delete/release/bury) but
// backed by an embedded badgerhold store instead of a network daemon.
// Every caller in this repo — the Queue Manager, the schedulers, the
// dispatchers — talks to the broker only through the Client interface.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/time/rate"
)

// reservePollRate caps how often Reserve re-polls the store while waiting
// for a ready job — 10/s, the same cadence the fixed 100ms poll used
// before, now expressed as a rate.Limiter so bursts of concurrent
// Reserve calls don't hammer badger in lockstep.
const reservePollRate = 10

// ErrNoJob is returned by Reserve when no tube in the reservation has a
// ready job before the reservation timeout elapses.
var ErrNoJob = errors.New("broker: no ready job")

// ErrNotFound is returned by Touch/Delete/Release/Bury for an id the
// broker no longer holds (already deleted, or never existed).
var ErrNotFound = errors.New("broker: job not found")

// State is a job's position in the beanstalkd-style state machine.
type State string

const (
	StateReady    State = "ready"
	StateDelayed  State = "delayed"
	StateReserved State = "reserved"
	StateBuried   State = "buried"
)

// Job is a single enqueued unit of work. Body is an opaque payload — the
// broker never interprets it; jobcodec.Record is what callers put inside.
type Job struct {
	ID       string        `json:"id" badgerhold:"key"`
	Tube     string        `json:"tube" badgerhold:"index"`
	Priority int           `json:"priority"`
	Body     []byte        `json:"body"`
	TTR      time.Duration `json:"ttr"` // time-to-run; how long a reserve lease lasts before auto-release

	State State `json:"state" badgerhold:"index"`

	Reserves int `json:"reserves"` // times this job has been reserved
	Releases int `json:"releases"` // times a worker released it back

	ReadyAt       time.Time `json:"ready_at" badgerhold:"index"`
	ReservedUntil time.Time `json:"reserved_until,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobStats mirrors beanstalkd's stats-job: the handful of per-job fields a
// Dispatcher needs to decide whether to start a keep-alive task and how
// many times a job has already been released.
type JobStats struct {
	ID            string
	Tube          string
	State         State
	TTR           time.Duration
	Releases      int
	Reserves      int
	ReservedUntil time.Time
}

// TubeStats mirrors beanstalkd's stats-tube: coarse counts a caller can
// poll to size an admission batch or report health.
type TubeStats struct {
	Tube          string
	Ready         int
	Delayed       int
	Reserved      int
	Buried        int
	TotalJobs     int
}

// Client is the broker's full surface. The Badger-backed implementation
// below is the only production implementation; tests may swap in a fake
// satisfying the same interface.
type Client interface {
	Put(ctx context.Context, tube string, priority int, delay, ttr time.Duration, body []byte) (string, error)
	Reserve(ctx context.Context, tubes []string, timeout time.Duration) (*Job, error)
	Touch(ctx context.Context, id string, ttr time.Duration) error
	Delete(ctx context.Context, id string) error
	Release(ctx context.Context, id string, priority int, delay time.Duration) error
	Bury(ctx context.Context, id string) error
	PeekReady(ctx context.Context, tube string) (*Job, error)
	PeekDelayed(ctx context.Context, tube string) (*Job, error)
	PeekBuried(ctx context.Context, tube string) (*Job, error)
	StatsTube(ctx context.Context, tube string) (TubeStats, error)
	StatsJob(ctx context.Context, id string) (JobStats, error)
	Close() error
}

// Broker is the badgerhold-backed Client implementation. One Broker owns
// one store; tubes are just an indexed field within it, not separate
// stores, so Reserve can fan a single poll across several tubes at once.
type Broker struct {
	store       *badgerhold.Store
	reservedTTR time.Duration
	pollLimiter *rate.Limiter
}

// New wraps an already-open badgerhold store. The store's lifecycle
// (including Close) belongs to whoever opened it — Broker.Close is a
// no-op, matching how the teacher's queue managers treat a shared DB.
func New(store *badgerhold.Store) *Broker {
	return &Broker{
		store:       store,
		reservedTTR: 30 * time.Second,
		pollLimiter: rate.NewLimiter(rate.Limit(reservePollRate), 1),
	}
}

// jobKey encodes priority and enqueue order into the primary key so a
// plain SortBy("ID") query returns jobs in beanstalkd's priority-then-FIFO
// order without a secondary composite index.
func jobKey(priority int, t time.Time) string {
	return fmt.Sprintf("%010d:%019d:%s", priority, t.UnixNano(), uuid.New().String())
}

// Put inserts a new job. A positive delay leaves it in StateDelayed until
// ReadyAt elapses; Reserve never sees it before then. ttr <= 0 falls back
// to the broker's default reservation window.
func (b *Broker) Put(ctx context.Context, tube string, priority int, delay, ttr time.Duration, body []byte) (string, error) {
	now := time.Now()
	readyAt := now
	state := StateReady
	if delay > 0 {
		readyAt = now.Add(delay)
		state = StateDelayed
	}
	if ttr <= 0 {
		ttr = b.reservedTTR
	}

	job := Job{
		ID:        jobKey(priority, now),
		Tube:      tube,
		Priority:  priority,
		Body:      body,
		TTR:       ttr,
		State:     state,
		ReadyAt:   readyAt,
		CreatedAt: now,
	}

	if err := b.store.Insert(job.ID, &job); err != nil {
		return "", fmt.Errorf("broker: put: %w", err)
	}
	return job.ID, nil
}

// Reserve pulls the highest-priority ready job across any of the given
// tubes, flips delayed jobs whose ReadyAt has elapsed back to ready, and
// marks the winner reserved for its own TTR, or the broker default when the
// job has none (callers extend it via Touch for long-running work). It polls the store at pollLimiter's rate
// up to timeout rather than blocking on a channel, matching the broker's
// single-process, single-store design.
func (b *Broker) Reserve(ctx context.Context, tubes []string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, err := b.tryReserve(tubes)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNoJob
		}
		if err := b.pollLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (b *Broker) tryReserve(tubes []string) (*Job, error) {
	now := time.Now()

	var delayed []Job
	if err := b.store.Find(&delayed, badgerhold.Where("Tube").In(toIface(tubes)...).
		And("State").Eq(StateDelayed).And("ReadyAt").Le(now)); err != nil {
		return nil, fmt.Errorf("broker: promote delayed: %w", err)
	}
	for i := range delayed {
		delayed[i].State = StateReady
		if err := b.store.Update(delayed[i].ID, &delayed[i]); err != nil {
			return nil, fmt.Errorf("broker: promote delayed: %w", err)
		}
	}

	if err := b.reapExpiredReservations(tubes, now); err != nil {
		return nil, err
	}

	var candidates []Job
	if err := b.store.Find(&candidates, badgerhold.Where("Tube").In(toIface(tubes)...).
		And("State").Eq(StateReady).And("ReadyAt").Le(now).
		SortBy("ID").Limit(1)); err != nil {
		return nil, fmt.Errorf("broker: reserve: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	job := candidates[0]
	job.State = StateReserved
	job.Reserves++
	ttr := job.TTR
	if ttr <= 0 {
		ttr = b.reservedTTR
	}
	job.ReservedUntil = now.Add(ttr)
	if err := b.store.Update(job.ID, &job); err != nil {
		return nil, fmt.Errorf("broker: reserve: %w", err)
	}
	return &job, nil
}

// reapExpiredReservations auto-releases any job still StateReserved past
// its ReservedUntil lease — a worker that crashed or hung without
// touching, completing, or releasing it. It returns the job straight to
// ready (no delay) and bumps Releases exactly as an explicit Release
// call would, so policy above the broker (queuemgr's retry/bury
// thresholds) sees the same counter either way. Run on every tryReserve
// so a reserve attempt on a tube always first reclaims its own stuck
// leases.
func (b *Broker) reapExpiredReservations(tubes []string, now time.Time) error {
	var expired []Job
	if err := b.store.Find(&expired, badgerhold.Where("Tube").In(toIface(tubes)...).
		And("State").Eq(StateReserved).And("ReservedUntil").Le(now)); err != nil {
		return fmt.Errorf("broker: reap expired: %w", err)
	}
	for i := range expired {
		expired[i].State = StateReady
		expired[i].ReadyAt = now
		expired[i].Releases++
		if err := b.store.Update(expired[i].ID, &expired[i]); err != nil {
			return fmt.Errorf("broker: reap expired: %w", err)
		}
	}
	return nil
}

// Touch extends a reserved job's TTR, for workers whose handler runs
// longer than the default reservation window.
func (b *Broker) Touch(ctx context.Context, id string, ttr time.Duration) error {
	var job Job
	if err := b.store.Get(id, &job); err != nil {
		return translateGetErr(err)
	}
	job.ReservedUntil = time.Now().Add(ttr)
	if err := b.store.Update(id, &job); err != nil {
		return fmt.Errorf("broker: touch: %w", err)
	}
	return nil
}

// Delete removes a job outright. Call it once a reserved job's handler
// has finished successfully.
func (b *Broker) Delete(ctx context.Context, id string) error {
	if err := b.store.Delete(id, &Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("broker: delete: %w", err)
	}
	return nil
}

// Release puts a reserved job back to ready (or delayed, if delay > 0)
// under a possibly new priority, and bumps its release counter so policy
// above the broker can decide when to bury instead of retry.
func (b *Broker) Release(ctx context.Context, id string, priority int, delay time.Duration) error {
	var job Job
	if err := b.store.Get(id, &job); err != nil {
		return translateGetErr(err)
	}

	now := time.Now()
	job.Priority = priority
	job.Releases++
	if delay > 0 {
		job.State = StateDelayed
		job.ReadyAt = now.Add(delay)
	} else {
		job.State = StateReady
		job.ReadyAt = now
	}

	if err := b.store.Update(id, &job); err != nil {
		return fmt.Errorf("broker: release: %w", err)
	}
	return nil
}

// Bury parks a job outside the ready/delayed rotation. A buried job is
// never returned by Reserve again; it stays for operator inspection via
// PeekBuried until explicitly deleted.
func (b *Broker) Bury(ctx context.Context, id string) error {
	var job Job
	if err := b.store.Get(id, &job); err != nil {
		return translateGetErr(err)
	}
	job.State = StateBuried
	if err := b.store.Update(id, &job); err != nil {
		return fmt.Errorf("broker: bury: %w", err)
	}
	return nil
}

func (b *Broker) peekState(tube string, state State) (*Job, error) {
	var jobs []Job
	err := b.store.Find(&jobs, badgerhold.Where("Tube").Eq(tube).
		And("State").Eq(state).SortBy("ID").Limit(1))
	if err != nil {
		return nil, fmt.Errorf("broker: peek: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

func (b *Broker) PeekReady(ctx context.Context, tube string) (*Job, error) {
	return b.peekState(tube, StateReady)
}

func (b *Broker) PeekDelayed(ctx context.Context, tube string) (*Job, error) {
	return b.peekState(tube, StateDelayed)
}

func (b *Broker) PeekBuried(ctx context.Context, tube string) (*Job, error) {
	return b.peekState(tube, StateBuried)
}

// StatsTube reports counts per state for one tube, the way beanstalkd's
// stats-tube command does, so the Ingestion Scheduler can size an
// admission batch off current-jobs-ready.
func (b *Broker) StatsTube(ctx context.Context, tube string) (TubeStats, error) {
	stats := TubeStats{Tube: tube}
	for _, s := range []State{StateReady, StateDelayed, StateReserved, StateBuried} {
		n, err := b.store.Count(&Job{}, badgerhold.Where("Tube").Eq(tube).And("State").Eq(s))
		if err != nil {
			return stats, fmt.Errorf("broker: stats: %w", err)
		}
		switch s {
		case StateReady:
			stats.Ready = n
		case StateDelayed:
			stats.Delayed = n
		case StateReserved:
			stats.Reserved = n
		case StateBuried:
			stats.Buried = n
		}
	}
	stats.TotalJobs = stats.Ready + stats.Delayed + stats.Reserved + stats.Buried
	return stats, nil
}

// StatsJob reports a single job's lease bookkeeping, the way beanstalkd's
// stats-job command does. Its TTR and Releases are the same values Reserve
// returns on the job itself, which is where the Crawl Dispatcher takes them
// from (via queuemgr.Reserved).
func (b *Broker) StatsJob(ctx context.Context, id string) (JobStats, error) {
	var job Job
	if err := b.store.Get(id, &job); err != nil {
		return JobStats{}, translateGetErr(err)
	}
	return JobStats{
		ID:            job.ID,
		Tube:          job.Tube,
		State:         job.State,
		TTR:           job.TTR,
		Releases:      job.Releases,
		Reserves:      job.Reserves,
		ReservedUntil: job.ReservedUntil,
	}, nil
}

// Close is a no-op: the underlying store's lifecycle is owned by whoever
// opened it, matching BadgerManager's convention in the storage layer.
func (b *Broker) Close() error { return nil }

func translateGetErr(err error) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("broker: %w", err)
}

func toIface(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ Client = (*Broker)(nil)
