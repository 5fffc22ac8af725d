// Package heartbeat runs periodic proactive behaviors for bot configs.
//
// # Overview
//
// Each enabled config owns exactly one interval timer, keyed by config id.
// On every fire the engine re-reads the config from the store, assembles an
// execution context (static config context merged with an optional async
// context provider), and runs the config's enabled behaviors sequentially in
// priority order (higher first, ties kept stable). Sequential execution is
// deliberate: later behaviors may depend on earlier side effects, and it
// keeps ordering deterministic.
//
// Behaviors produce proactive actions (notifications, alerts, suggestions)
// which are forwarded one by one to an injected action sink. A failing
// behavior, provider or sink never aborts the rest of the tick; failures are
// captured per behavior and emitted as heartbeat.error events.
//
// # Updates
//
// Updating a config always stops its timer and, if the config is still
// enabled, restarts it, so a new interval or behavior set applies atomically
// on the next fire without restarting the engine.
package heartbeat
