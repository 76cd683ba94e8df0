// Package healthcheck implements the Supervisor's periodic broker/
// database/system probes. Each probe is cheap and side-effect-free so it
// can run every health interval without competing with real traffic for
// broker or database resources.
package healthcheck

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"golang.org/x/sys/unix"

	"github.com/ternarybob/quaero/internal/broker"
)

// Report is the structured health snapshot the Supervisor logs and
// exposes each health-loop tick.
type Report struct {
	CheckedAt   time.Time `json:"checked_at"`
	BrokerOK    bool      `json:"broker_ok"`
	BrokerErr   string    `json:"broker_error,omitempty"`
	DatabaseOK  bool      `json:"database_ok"`
	DatabaseErr string    `json:"database_error,omitempty"`
	System      System    `json:"system"`
}

// System is a coarse snapshot of process-local resource usage — enough
// for an operator dashboard to flag a leaking process, not a full metrics
// pipeline.
type System struct {
	NumGoroutine int     `json:"num_goroutines"`
	AllocMB      uint64  `json:"alloc_mb"`
	SysMB        uint64  `json:"sys_mb"`
	NumCPU       int     `json:"num_cpu"`
	DiskFreeMB   uint64  `json:"disk_free_mb,omitempty"`
	DiskFreePct  float64 `json:"disk_free_pct,omitempty"`
}

// ProbeBroker confirms the broker can answer a stats query. A tube that
// doesn't exist yet still answers with zero counts, so any tube name is
// fine as a liveness probe — failure here means the underlying store
// itself is unreachable, not that the tube is empty.
func ProbeBroker(ctx context.Context, client broker.Client, probeTube string) error {
	if _, err := client.StatsTube(ctx, probeTube); err != nil {
		return fmt.Errorf("healthcheck: broker probe: %w", err)
	}
	return nil
}

// ProbeDatabase confirms the badgerhold store's underlying badger.DB will
// still serve a transaction — the embedded-store equivalent of a
// connection ping.
func ProbeDatabase(store *badgerhold.Store) error {
	if store == nil {
		return fmt.Errorf("healthcheck: database probe: store is nil")
	}
	err := store.Badger().View(func(txn *badger.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("healthcheck: database probe: %w", err)
	}
	return nil
}

// ProbeSystem snapshots process-local resource usage. diskPath, if
// non-empty, adds a free-space reading for the volume backing the
// content store and state store.
func ProbeSystem(diskPath string) System {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	sys := System{
		NumGoroutine: runtime.NumGoroutine(),
		AllocMB:      mem.Alloc / 1024 / 1024,
		SysMB:        mem.Sys / 1024 / 1024,
		NumCPU:       runtime.NumCPU(),
	}

	if diskPath != "" {
		var stat unix.Statfs_t
		if err := unix.Statfs(diskPath, &stat); err == nil {
			free := stat.Bavail * uint64(stat.Bsize)
			total := stat.Blocks * uint64(stat.Bsize)
			sys.DiskFreeMB = free / 1024 / 1024
			if total > 0 {
				sys.DiskFreePct = float64(free) / float64(total) * 100
			}
		}
	}

	return sys
}

// Run performs all three probes and assembles a Report. It never returns
// an error itself — probe failures are recorded in the Report fields so
// the Supervisor can log a warning and keep running rather than treat a
// post-boot health dip as fatal (only the boot-time preflight check
// refuses to start the fleet).
func Run(ctx context.Context, client broker.Client, probeTube string, store *badgerhold.Store, diskPath string) Report {
	report := Report{CheckedAt: time.Now(), System: ProbeSystem(diskPath)}

	if err := ProbeBroker(ctx, client, probeTube); err != nil {
		report.BrokerErr = err.Error()
	} else {
		report.BrokerOK = true
	}

	if err := ProbeDatabase(store); err != nil {
		report.DatabaseErr = err.Error()
	} else {
		report.DatabaseOK = true
	}

	return report
}
