// Package redis provides Redis-backed checkpoint storage, interrupt registry,
// distributed session locks and a job-status outcome classifier.
//
// All four share one client and a key prefix, so several orchestrator
// replicas can serve the same sessions.
package redis
