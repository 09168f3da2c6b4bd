package topic

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		want   Parsed
		wantOK bool
	}{
		{
			name:   "telemetry without path",
			topic:  "fleet/pump-7/telemetry",
			want:   Parsed{DeviceID: "pump-7", Kind: KindTelemetry},
			wantOK: true,
		},
		{
			name:   "state with sub-key",
			topic:  "fleet/pump-7/state/calibration",
			want:   Parsed{DeviceID: "pump-7", Kind: KindState, Path: "calibration"},
			wantOK: true,
		},
		{
			name:   "deep path is joined",
			topic:  "fleet/gw-1/meta/capabilities/radio",
			want:   Parsed{DeviceID: "gw-1", Kind: KindMeta, Path: "capabilities/radio"},
			wantOK: true,
		},
		{
			name:   "ack with action",
			topic:  "fleet/gw-1/ack/relay.set",
			want:   Parsed{DeviceID: "gw-1", Kind: KindAck, Path: "relay.set"},
			wantOK: true,
		},
		{name: "wrong root", topic: "other/pump-7/telemetry"},
		{name: "missing kind", topic: "fleet/pump-7"},
		{name: "root only", topic: "fleet"},
		{name: "unknown kind", topic: "fleet/pump-7/firmware"},
		{name: "empty device", topic: "fleet//telemetry"},
		{name: "trailing slash", topic: "fleet/pump-7/state/"},
		{name: "empty", topic: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse("fleet", tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"no path", Build("fleet", "pump-7", KindStatus), "fleet/pump-7/status"},
		{"empty path", Build("fleet", "pump-7", KindStatus, ""), "fleet/pump-7/status"},
		{"with path", Build("fleet", "pump-7", KindCmd, "relay.set"), "fleet/pump-7/cmd/relay.set"},
		{"multi segment", Build("fleet", "gw", KindState, "a", "b"), "fleet/gw/state/a/b"},
		{"trimmed slashes", Build("fleet", "gw", KindState, "/a/b/"), "fleet/gw/state/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Build() = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []Parsed{
		{DeviceID: "pump-7", Kind: KindTelemetry},
		{DeviceID: "pump-7", Kind: KindState, Path: "calibration"},
		{DeviceID: "gw-1", Kind: KindMeta, Path: "capabilities/radio"},
		{DeviceID: "gw-1", Kind: KindCmd, Path: "relay.set"},
	}

	for _, in := range inputs {
		built := Build("fleet", in.DeviceID, in.Kind, in.Path)
		out, ok := Parse("fleet", built)
		if !ok {
			t.Fatalf("Parse(Build(%+v)) not applicable", in)
		}
		if out != in {
			t.Errorf("round trip %+v -> %q -> %+v", in, built, out)
		}
	}
}

func TestCodec(t *testing.T) {
	c := Codec{Root: "plant"}

	if got := c.Command("pump-7", "relay.set"); got != "plant/pump-7/cmd/relay.set" {
		t.Errorf("Command() = %q", got)
	}
	if got := c.Subscription(); got != "plant/+/#" {
		t.Errorf("Subscription() = %q", got)
	}
	if got := c.DeviceSubscription("pump-7"); got != "plant/pump-7/#" {
		t.Errorf("DeviceSubscription() = %q", got)
	}
	if _, ok := c.Parse("fleet/pump-7/status"); ok {
		t.Error("codec accepted a topic under a different root")
	}
}

func TestKindValid(t *testing.T) {
	for k := range allKinds {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false", k)
		}
	}
	if Kind("firmware").Valid() {
		t.Error(`Kind("firmware").Valid() = true`)
	}
}
