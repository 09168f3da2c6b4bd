// Package session wires the reconciliation core into one running unit.
//
// A Session receives raw transport messages through HandleMessage and
// routes them by topic kind:
//
//	telemetry       -> series store (and the optional InfluxDB mirror)
//	status/state/meta -> device registry
//	ack             -> command correlator
//	event           -> registry last-seen plus an info notification
//	cmd             -> registry Ensure only
//
// A liveness pass runs on a fixed cadence and turns every Online, Stale or
// Offline transition into exactly one notification. Device changes and new
// notifications are coalesced by the update scheduler so subscribers see
// at most one Batch per tick, whatever the inbound message rate.
package session
