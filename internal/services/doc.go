// Package services contains the application services behind the HTTP
// and websocket surfaces: invoice storage and the health aggregator.
package services
