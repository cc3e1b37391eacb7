// Package operations implements the bulk-operation orchestrator: an
// in-memory store of operations and their work items, a per-operation
// executor that processes items sequentially with failure isolation and
// cooperative cancellation, and an orchestrator facade exposing the
// create/start/cancel/query surface.
//
// The executor publishes progress through the EventSink port and never
// touches the transport directly; the websocket package provides the
// concrete sink. All state mutation funnels through Store.Mutate, which
// serializes writers per operation id.
package operations
