// Package session implements the per-session turn orchestrator.
//
// A Session owns a FIFO turn queue (internal/turnqueue), a single-active-turn
// drain loop, and the per-session event log (internal/eventstore) that
// backs replay. Submit enqueues a turn and returns immediately; drainLoop
// pulls turns off the queue one at a time, in ingress order, and runs each
// through an injected AgentDriver. Only one turn runs at a time per
// session — concurrent sessions run independently.
//
// Manager tracks the set of live sessions, creates them lazily on first
// reference, and evicts idle ones on a cron sweep.
package session
