// Package topic parses and builds fleet MQTT topics.
//
// Every fleet topic has the shape:
//
//	{root}/{deviceID}/{kind}/{optional/sub/path}
//
// for example "fleet/pump-7/telemetry/flow" or "fleet/pump-7/state/calibration".
// Parse never fails loudly: topics that do not match are reported as not
// applicable and callers ignore them.
package topic

import (
	"fmt"
	"strings"
)

// Kind classifies a fleet topic by its third segment.
type Kind string

// Known topic kinds.
const (
	KindTelemetry Kind = "telemetry"
	KindStatus    Kind = "status"
	KindState     Kind = "state"
	KindMeta      Kind = "meta"
	KindAck       Kind = "ack"
	KindEvent     Kind = "event"
	KindCmd       Kind = "cmd"
)

// allKinds is used for validation.
var allKinds = map[Kind]struct{}{
	KindTelemetry: {},
	KindStatus:    {},
	KindState:     {},
	KindMeta:      {},
	KindAck:       {},
	KindEvent:     {},
	KindCmd:       {},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := allKinds[k]
	return ok
}

// Parsed is a structured fleet topic.
type Parsed struct {
	DeviceID string
	Kind     Kind
	// Path is the remaining segments joined with "/", empty if absent.
	Path string
}

// Parse splits topic into its parts. ok is false when the topic does not
// start with root, is missing the device or kind segment, names an unknown
// kind, or contains empty segments.
func Parse(root, topic string) (Parsed, bool) {
	if root == "" || topic == "" {
		return Parsed{}, false
	}

	segments := strings.Split(topic, "/")
	if len(segments) < 3 || segments[0] != root {
		return Parsed{}, false
	}
	for _, s := range segments[1:] {
		if s == "" {
			return Parsed{}, false
		}
	}

	kind := Kind(segments[2])
	if !kind.Valid() {
		return Parsed{}, false
	}

	return Parsed{
		DeviceID: segments[1],
		Kind:     kind,
		Path:     strings.Join(segments[3:], "/"),
	}, true
}

// Build assembles a topic. Empty path segments are skipped, so
// Build(root, id, kind) and Build(root, id, kind, "") are the same topic.
func Build(root, deviceID string, kind Kind, path ...string) string {
	var b strings.Builder
	b.WriteString(root)
	b.WriteByte('/')
	b.WriteString(deviceID)
	b.WriteByte('/')
	b.WriteString(string(kind))
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	return b.String()
}

// Codec binds Parse and Build to a configured root.
//
//	codec := topic.Codec{Root: "fleet"}
//	codec.Build("pump-7", topic.KindCmd, "relay.set")
//	// Returns: "fleet/pump-7/cmd/relay.set"
type Codec struct {
	Root string
}

// Parse is Parse(c.Root, t).
func (c Codec) Parse(t string) (Parsed, bool) {
	return Parse(c.Root, t)
}

// Build is Build(c.Root, ...).
func (c Codec) Build(deviceID string, kind Kind, path ...string) string {
	return Build(c.Root, deviceID, kind, path...)
}

// Command returns the outbound command topic for a device action.
//
// Example: fleet/pump-7/cmd/relay.set
func (c Codec) Command(deviceID, action string) string {
	return c.Build(deviceID, KindCmd, action)
}

// Subscription returns the wildcard pattern matching all fleet traffic.
//
// Pattern: fleet/+/#
func (c Codec) Subscription() string {
	return fmt.Sprintf("%s/+/#", c.Root)
}

// DeviceSubscription returns the pattern matching one device's traffic.
//
// Pattern: fleet/pump-7/#
func (c Codec) DeviceSubscription(deviceID string) string {
	return fmt.Sprintf("%s/%s/#", c.Root, deviceID)
}
