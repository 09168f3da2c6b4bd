// Package api serves the fleet session over HTTP and WebSocket.
//
// REST endpoints under /api/v1 expose devices, their bounded telemetry
// series, the command lifecycle (send, stage, confirm, cancel, broadcast)
// and the notification log. /metrics serves Prometheus metrics.
//
// # Change feed
//
// Clients connect to /api/v1/ws and subscribe to the "devices" and
// "notifications" channels. A snapshot of the channel follows each
// subscribe response; afterwards every session batch is relayed as at
// most one event per channel, so a burst of telemetry reaches a client
// as one message per flush.
//
// The server has no authentication. It is meant to sit behind whatever
// fronts the deployment.
package api
