// Package command correlates outbound device commands with their
// asynchronous acknowledgements.
//
// A command is published on {root}/{device}/cmd/{action} as
//
//	{"id": "<uuid>", "action": "relay.set", "payload": {...}, "ts": 1767225600000}
//
// and the device answers on {root}/{device}/ack/{action} with
//
//	{"id": "<uuid>", "ok": true}   or   {"id": "<uuid>", "ok": false, "error": "relay stuck"}
//
// Acks are matched by id, never by device and action, so several in-flight
// commands with the same action stay distinct. Each sent command has its own
// deadline timer; whichever of ack, timeout, cancel or publish failure
// happens first decides the terminal state, and the others do nothing.
//
// SQLiteLog keeps an audit trail of terminal commands beyond the capped
// per-device history held in the registry.
package command
