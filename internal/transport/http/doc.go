// Package http contains the HTTP transport layer: chi handlers for
// bulk operations, the websocket upgrade endpoint and health.
package http
