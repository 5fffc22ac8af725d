// Package scheduler runs cron schedules against registered job handlers.
//
// # Overview
//
// The service owns a single tick loop. On each tick it asks the store for
// due schedules (enabled, next run reached, run budget left) and launches
// each one asynchronously up to a concurrency cap. There is no queue: when
// the cap is reached, due schedules are simply picked up again on a later
// tick. A schedule is never launched twice concurrently; it becomes eligible
// again only after its run has completed and a new next-run time has been
// persisted.
//
// # Handlers
//
// Jobs are registered under a logical name via RegisterHandler (last
// registration wins). The registry is instance state, not process-global, so
// multiple schedulers can coexist in tests without cross-contamination.
//
// # Failure semantics
//
// Handler errors and timeouts never propagate out of the tick loop; they are
// recorded as failed history rows and emitted as events. A timed-out handler
// is not cancelled forcibly: the scheduler only stops waiting, the handler
// goroutine keeps running until it observes its context. There is no
// automatic retry; a failed job waits for its next natural run time.
package scheduler
