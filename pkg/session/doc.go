/*
Package session serializes work on a session key.

Turns of the same session must never interleave: each one reads the committed
checkpoint, runs nodes and commits a new one. The Manager hands out one
reference-counted mutex per key, and can additionally hold a distributed lock
so several replicas sharing a Redis backend stay single-writer per session.
Work on distinct keys proceeds in parallel.
*/
package session
