// Package device provides the Device Registry for fleetlink.
//
// The registry is the authoritative map of every device ever named by an
// inbound message. It owns each device's retained state and metadata, the
// raw status payload, the commands still in flight and a capped history of
// completed commands.
//
// # Liveness
//
// Liveness is derived, never set. With staleAfter = S:
//
//	now - lastSeen <  S                 Online
//	now - lastSeen <  max(3S, 15s)      Stale
//	otherwise, or never seen            Offline
//
// Recompute runs on a fixed cadence and reports each change once. A new
// record starts as Offline, so the pass after its first message reports
// Offline to Online.
//
// # Merge Semantics
//
// State and meta are last-write-wins per key. A message on
// state/calibration replaces State["calibration"] wholesale; a message on
// state with a JSON object merges its top-level keys. Nested values are
// never deep-merged.
//
// # Commands
//
// The registry only does bookkeeping for commands. The command package
// drives the lifecycle and relies on CompletePending being the single point
// that removes a pending command.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Devices returned by Get and List
// are deep copies.
package device
