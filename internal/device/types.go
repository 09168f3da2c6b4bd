package device

import (
	"encoding/json"
	"time"
)

// Liveness is the derived health classification of a device.
type Liveness string

// Liveness states.
const (
	LivenessOnline  Liveness = "online"
	LivenessStale   Liveness = "stale"
	LivenessOffline Liveness = "offline"
)

// MinOfflineAfter is the floor for the stale-to-offline threshold.
const MinOfflineAfter = 15 * time.Second

// OfflineAfter returns the age beyond which a device is Offline:
// max(3*staleAfter, MinOfflineAfter).
func OfflineAfter(staleAfter time.Duration) time.Duration {
	if d := 3 * staleAfter; d > MinOfflineAfter {
		return d
	}
	return MinOfflineAfter
}

// DeriveLiveness classifies a device from the time it was last seen.
// A zero lastSeen means the device was only referenced, never heard from.
func DeriveLiveness(lastSeen, now time.Time, staleAfter time.Duration) Liveness {
	if lastSeen.IsZero() {
		return LivenessOffline
	}
	age := now.Sub(lastSeen)
	switch {
	case age < staleAfter:
		return LivenessOnline
	case age < OfflineAfter(staleAfter):
		return LivenessStale
	default:
		return LivenessOffline
	}
}

// CommandStatus is the lifecycle state of an outbound command.
type CommandStatus string

// Command lifecycle states. Staged and Sent are live; the rest are terminal.
const (
	CommandStaged    CommandStatus = "staged"
	CommandSent      CommandStatus = "sent"
	CommandAcked     CommandStatus = "acked"
	CommandTimeout   CommandStatus = "timeout"
	CommandFailed    CommandStatus = "failed"
	CommandCancelled CommandStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandAcked, CommandTimeout, CommandFailed, CommandCancelled:
		return true
	default:
		return false
	}
}

// PendingCommand is an outbound command that has not reached a terminal
// state. It is owned by the device record it targets.
type PendingCommand struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Action    string        `json:"action"`
	Payload   any           `json:"payload,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Timeout   time.Duration `json:"-"`
	Status    CommandStatus `json:"status"`
}

// MarshalJSON encodes Timeout as whole milliseconds under "timeout_ms".
func (p PendingCommand) MarshalJSON() ([]byte, error) {
	type plain PendingCommand
	return json.Marshal(struct {
		plain
		TimeoutMs int64 `json:"timeout_ms"`
	}{plain(p), p.Timeout.Milliseconds()})
}

// CommandRecord is the terminal, append-only form of a command.
type CommandRecord struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"device_id"`
	Action      string        `json:"action"`
	Payload     any           `json:"payload,omitempty"`
	Status      CommandStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Device is a remote device as reconstructed from the inbound stream.
//
// Liveness and Role are projections filled in when a copy is handed out;
// the registry never stores them as settable fields.
type Device struct {
	ID          string                    `json:"id"`
	Liveness    Liveness                  `json:"liveness"`
	Role        string                    `json:"role"`
	FirstSeenAt time.Time                 `json:"first_seen_at"`
	LastSeenAt  *time.Time                `json:"last_seen_at,omitempty"`
	State       map[string]any            `json:"state"`
	Meta        map[string]any            `json:"meta"`
	Status      any                       `json:"status,omitempty"`
	Pending     map[string]PendingCommand `json:"pending"`
	History     []CommandRecord           `json:"history"`
}

// Transition is one observed liveness change.
type Transition struct {
	DeviceID string   `json:"device_id"`
	From     Liveness `json:"from"`
	To       Liveness `json:"to"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the registry.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	cpy.State = deepCopyMap(d.State)
	cpy.Meta = deepCopyMap(d.Meta)
	cpy.Status = deepCopyValue(d.Status)

	if d.Pending != nil {
		cpy.Pending = make(map[string]PendingCommand, len(d.Pending))
		for id, pc := range d.Pending {
			pc.Payload = deepCopyValue(pc.Payload)
			cpy.Pending[id] = pc
		}
	}

	if d.History != nil {
		cpy.History = make([]CommandRecord, len(d.History))
		for i, rec := range d.History {
			rec.Payload = deepCopyValue(rec.Payload)
			cpy.History[i] = rec
		}
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// InferRole reads meta.capabilities.device_type, or "unknown".
func InferRole(d *Device) string {
	if s, ok := capability(d, "device_type").(string); ok && s != "" {
		return s
	}
	return RoleUnknown
}

// RoleUnknown is reported when a device has not declared its type.
const RoleUnknown = "unknown"

// Features reads meta.capabilities.features as a list of strings.
// Non-string entries are skipped.
func Features(d *Device) []string {
	list, ok := capability(d, "features").([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, f := range list {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func capability(d *Device, key string) any {
	if d == nil {
		return nil
	}
	caps, ok := d.Meta["capabilities"].(map[string]any)
	if !ok {
		return nil
	}
	return caps[key]
}
