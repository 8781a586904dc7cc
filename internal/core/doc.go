// Package core provides the domain model shared by the graph loader, cache,
// and executor: Task and its value types, resolved Input/Artifact sets, the
// content-addressed Cache, and output normalization.
//
// Design principles:
//
//  1. No implied fields that could affect a task's fingerprint (e.g. timestamps).
//  2. Every field that participates in scheduling or caching is explicit.
//  3. Structures support exact, reproducible hashing and replay.
package core
