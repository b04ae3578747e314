// Package automation manages virtual devices and runs their transitions.
//
// A virtual device is a named set of action chains, one per transition.
// Triggering a transition hands its chain to a chain.Executor bound to the
// state bus, and the run is logged, measured and broadcast as it settles.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│              Controller (controller.go)               │
//	│  one in-flight run per device; new trigger preempts   │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │   Registry   │───▶│  Repository  │                 │
//	│  │(registry.go) │    │(repository.go)│                │
//	│  └──────────────┘    └──────────────┘                 │
//	│        ▲                                              │
//	│        │ ImportYAML / SeedWatcher (seed.go)           │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Run Pipeline                                 │    │
//	│  │  1. Resolve device + transition (cached)      │    │
//	│  │  2. Abort the device's previous run           │    │
//	│  │  3. Log run record (running)                  │    │
//	│  │  4. Wait for previous run to settle           │    │
//	│  │  5. chain.Executor.Run against the bus        │    │
//	│  │  6. Update record, telemetry, metrics         │    │
//	│  │  7. Broadcast chain.settled                   │    │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: virtual device with its transitions
//   - RunRecord: persisted log entry of a chain run
//   - Registry: thread-safe in-memory cache wrapping Repository
//   - Controller: triggers, aborts and tracks runs
//   - SeedWatcher: re-imports a YAML seed file when it changes
//
// # Thread Safety
//
// Registry and Controller are safe for concurrent use from multiple goroutines.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db.DB)
//	registry := automation.NewRegistry(repo, automation.Limits{MaxSteps: 64})
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	ctrl := automation.NewController(registry, stateBus, repo,
//	    automation.WithHub(hub),
//	    automation.WithControllerLogger(log),
//	)
//	run, err := ctrl.Trigger(ctx, "pump-1", "on", "manual", "api")
package automation
