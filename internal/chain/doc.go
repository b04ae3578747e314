// Package chain provides the action chain execution engine for Gray Logic VDev.
//
// A chain is the ordered list of datapoint writes that carries a virtual
// device through one logical transition ("turn the pump on"). Each step may
// wait before its write, either for a fixed delay or until another datapoint
// reports an expected value.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│              Executor (executor.go)                  │
//	│  Idle ─▶ Running ─▶ Completed | Failed | Aborted      │
//	│                                                      │
//	│  for each step:                                      │
//	│    1. abort requested?      ─▶ Aborted               │
//	│    2. wait_before (wait.go)                          │
//	│         delay  ─ timer                               │
//	│         state  ─ ReadCurrent, then notify/timeout    │
//	│    3. Bus.Write             ─▶ Failed on error       │
//	└──────────────────────────────────────────────────────┘
//	              │                        ▲
//	              ▼                        │ Notify / Watcher
//	┌──────────────────────────────────────────────────────┐
//	│          Bus (MQTT, in-memory, ...)                   │
//	└──────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Chain, Step, WaitCondition: pure data, JSON and YAML friendly
//   - Executor: runs exactly one chain, cancellable with Abort
//   - Bus, Watcher: the external datapoint layer
//   - Matches: tolerant comparison of observed and expected values
//
// # Thread Safety
//
// Abort, Notify, State and Position are safe to call from any goroutine
// while Run is in progress. Settlement happens exactly once: whichever of
// timer, notification or abort resolves a pending wait first wins and the
// others are no-ops.
//
// # Usage
//
//	exec := chain.NewExecutor(bus, chain.WithLogger(log), chain.WithName("pump-1/on"))
//	done := exec.Start(ctx, chain.Chain{
//	    {Target: "relay", Value: true},
//	    {Target: "speed", Value: 2, WaitBefore: chain.StateMatch("relay", true, 1000)},
//	})
//
//	// elsewhere, when the user hits stop:
//	exec.Abort()
//
//	if err := <-done; errors.Is(err, chain.ErrAborted) {
//	    // cancelled, not a fault
//	}
package chain
