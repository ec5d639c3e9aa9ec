// Package graph implements the state-machine engine that drives the
// conversation-gluer workflows: a directed graph of named steps over a
// single typed state record, with conditional routing, per-step
// checkpointing keyed by session, and interrupt-before nodes where
// execution suspends pending an operator verdict.
//
// Build a graph with NewGraph, wire nodes and edges, Compile it, then
// Run. A suspended run is continued with Resume, optionally overriding
// the persisted state (this is how a human approval enters the machine).
package graph
