package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/clock"
	"github.com/nerrad567/fleetlink-core/internal/payload"
	"github.com/nerrad567/fleetlink-core/internal/topic"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Defaults applied when Options leave a field unset.
const (
	DefaultStaleAfter   = 5 * time.Second
	DefaultHistoryLimit = 50
)

// Options configures a Registry.
type Options struct {
	StaleAfter   time.Duration
	HistoryLimit int
	Clock        clock.Clock
}

// record is the registry-owned device plus the liveness last reported
// by Recompute.
type record struct {
	dev      Device
	lastSeen time.Time
	reported Liveness
}

// Registry is the authoritative map of device ID to device record.
//
// Records are created lazily by the first message that names a device.
// Liveness is never stored as a settable flag: it is derived from the last
// time the device was heard from and re-evaluated by Recompute.
//
// All public methods are thread-safe and run to completion under the
// registry lock. Returned devices are deep copies.
type Registry struct {
	mu           sync.RWMutex
	devices      map[string]*record
	staleAfter   time.Duration
	historyLimit int
	clock        clock.Clock
	logger       Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Registry{
		devices:      make(map[string]*record),
		staleAfter:   opts.StaleAfter,
		historyLimit: opts.HistoryLimit,
		clock:        opts.Clock,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// StaleAfter returns the configured staleness threshold.
func (r *Registry) StaleAfter() time.Duration { return r.staleAfter }

// Ensure returns whether a record for id was created by this call.
// Calling it for an existing device has no effect.
func (r *Registry) Ensure(id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, created := r.ensureLocked(id)
	return created, nil
}

func (r *Registry) ensureLocked(id string) (*record, bool) {
	if rec, ok := r.devices[id]; ok {
		return rec, false
	}
	rec := &record{
		dev: Device{
			ID:          id,
			FirstSeenAt: r.clock.Now(),
			State:       make(map[string]any),
			Meta:        make(map[string]any),
			Pending:     make(map[string]PendingCommand),
			History:     []CommandRecord{},
		},
		reported: LivenessOffline,
	}
	r.devices[id] = rec
	r.logger.Debug("device discovered", "device_id", id)
	return rec, true
}

// RecordInbound applies one inbound message to the device record, creating
// it if needed.
//
// Every kind refreshes the last-seen time; it only ever moves forward, so a
// late message carrying an older timestamp does not age the device. For
// state and meta the value is merged last-write-wins: with a path it
// replaces that key wholesale; without a path a JSON object merges each
// top-level key and any other value is stored under "value". For status the
// raw value is kept for inference. Malformed payloads are stored as-is.
//
// A zero at means now. It returns whether the record was created.
func (r *Registry) RecordInbound(id string, kind topic.Kind, path string, v payload.Value, at time.Time) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}
	if at.IsZero() {
		at = r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, created := r.ensureLocked(id)
	if at.After(rec.lastSeen) {
		rec.lastSeen = at
	}

	switch kind {
	case topic.KindState:
		merge(rec.dev.State, path, v)
	case topic.KindMeta:
		merge(rec.dev.Meta, path, v)
	case topic.KindStatus:
		rec.dev.Status = deepCopyValue(v.Any())
	}
	return created, nil
}

func merge(dst map[string]any, path string, v payload.Value) {
	if path != "" {
		dst[path] = deepCopyValue(v.Any())
		return
	}
	if obj, ok := v.Object(); ok {
		for k, val := range obj {
			dst[k] = deepCopyValue(val)
		}
		return
	}
	dst["value"] = v.Any()
}

// Recompute re-evaluates liveness for every device as of now and returns
// the transitions observed since the previous pass, at most one per device,
// sorted by device ID.
func (r *Registry) Recompute(now time.Time) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transitions []Transition
	for id, rec := range r.devices {
		next := DeriveLiveness(rec.lastSeen, now, r.staleAfter)
		if next == rec.reported {
			continue
		}
		transitions = append(transitions, Transition{DeviceID: id, From: rec.reported, To: next})
		rec.reported = next
	}

	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].DeviceID < transitions[j].DeviceID
	})
	return transitions
}

// Get returns a copy of the device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(id string) (*Device, error) {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return r.snapshotLocked(rec, now), nil
}

// List returns copies of all devices sorted by ID.
func (r *Registry) List() []Device {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, rec := range r.devices {
		devices = append(devices, *r.snapshotLocked(rec, now))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

func (r *Registry) snapshotLocked(rec *record, now time.Time) *Device {
	d := rec.dev.DeepCopy()
	if !rec.lastSeen.IsZero() {
		seen := rec.lastSeen
		d.LastSeenAt = &seen
	}
	d.Liveness = DeriveLiveness(rec.lastSeen, now, r.staleAfter)
	d.Role = InferRole(d)
	return d
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Remove deletes a device record, discarding its pending commands and
// history. It reports whether the device existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	r.logger.Info("device removed", "device_id", id)
	return true
}

// AddPending registers a command under its target device, creating the
// record if the device has not been observed yet.
func (r *Registry) AddPending(pc PendingCommand) error {
	if pc.DeviceID == "" {
		return ErrInvalidID
	}
	if pc.ID == "" || pc.Action == "" {
		return ErrInvalidCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, _ := r.ensureLocked(pc.DeviceID)
	if _, exists := rec.dev.Pending[pc.ID]; exists {
		return fmt.Errorf("command %s: %w", pc.ID, ErrCommandExists)
	}
	pc.Payload = deepCopyValue(pc.Payload)
	rec.dev.Pending[pc.ID] = pc
	return nil
}

// PendingCommand returns a copy of a pending command.
func (r *Registry) PendingCommand(deviceID, cmdID string) (PendingCommand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return PendingCommand{}, false
	}
	pc, ok := rec.dev.Pending[cmdID]
	if !ok {
		return PendingCommand{}, false
	}
	pc.Payload = deepCopyValue(pc.Payload)
	return pc, true
}

// MarkSent moves a staged command to Sent and restarts its clock at at.
// It reports false if the command is not pending or not staged.
func (r *Registry) MarkSent(deviceID, cmdID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	pc, ok := rec.dev.Pending[cmdID]
	if !ok || pc.Status != CommandStaged {
		return false
	}
	pc.Status = CommandSent
	pc.StartedAt = at
	rec.dev.Pending[cmdID] = pc
	return true
}

// CompletePending removes a pending command and appends its terminal record
// to the device history, evicting the oldest entry beyond the history limit.
//
// Removal is the single arbiter for competing completions: the first caller
// gets the record and true, every later caller gets false and changes
// nothing.
func (r *Registry) CompletePending(deviceID, cmdID string, status CommandStatus, errText string, at time.Time) (CommandRecord, bool) {
	if !status.Terminal() {
		return CommandRecord{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return CommandRecord{}, false
	}
	pc, ok := rec.dev.Pending[cmdID]
	if !ok {
		return CommandRecord{}, false
	}
	delete(rec.dev.Pending, cmdID)

	done := at
	cr := CommandRecord{
		ID:          pc.ID,
		DeviceID:    pc.DeviceID,
		Action:      pc.Action,
		Payload:     pc.Payload,
		Status:      status,
		StartedAt:   pc.StartedAt,
		CompletedAt: &done,
		Error:       errText,
	}

	rec.dev.History = append(rec.dev.History, cr)
	if over := len(rec.dev.History) - r.historyLimit; over > 0 {
		rec.dev.History = append([]CommandRecord(nil), rec.dev.History[over:]...)
	}

	cr.Payload = deepCopyValue(cr.Payload)
	return cr, true
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices    int              `json:"total"`
	ByLiveness      map[Liveness]int `json:"by_liveness"`
	PendingCommands int              `json:"pending_commands"`
}

// Stats returns current registry statistics as of now.
func (r *Registry) Stats(now time.Time) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByLiveness: map[Liveness]int{
			LivenessOnline:  0,
			LivenessStale:   0,
			LivenessOffline: 0,
		},
	}
	for _, rec := range r.devices {
		stats.ByLiveness[DeriveLiveness(rec.lastSeen, now, r.staleAfter)]++
		stats.PendingCommands += len(rec.dev.Pending)
	}
	return stats
}
