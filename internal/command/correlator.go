package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetlink-core/internal/clock"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/payload"
	"github.com/nerrad567/fleetlink-core/internal/topic"
)

// DefaultTimeout is used when a command is sent without a timeout.
const DefaultTimeout = 2 * time.Second

// Publisher hands an outbound message to the transport.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// OutcomeFunc receives every command that reaches a terminal state, exactly
// once per command. It is called without any correlator lock held, on the
// goroutine that completed the command.
type OutcomeFunc func(device.CommandRecord)

// Logger is the logging interface used by the Correlator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Envelope is the JSON body published on the command topic.
type Envelope struct {
	ID      string `json:"id"`
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
	// TS is the send time in milliseconds since the Unix epoch.
	TS int64 `json:"ts"`
}

// Options configures a Correlator.
type Options struct {
	Registry       *device.Registry
	Codec          topic.Codec
	Publisher      Publisher
	Clock          clock.Clock
	DefaultTimeout time.Duration
	QoS            byte
	OnOutcome      OutcomeFunc
}

// inflight is a command that has not reached a terminal state.
type inflight struct {
	deviceID string
	action   string
	timeout  time.Duration
	staged   bool
	timer    clock.Timer
}

// Correlator drives the command lifecycle:
//
//	Staged -> Sent -> Acked | Timeout | Failed | Cancelled
//
// Pending commands live in the device registry under their target device.
// The correlator keeps its own index of in-flight IDs and deadline timers.
// Removing an ID from that index decides which of a racing ack, timeout,
// cancel or publish failure wins; every loser is a no-op.
//
// All methods are safe for concurrent use.
type Correlator struct {
	mu       sync.Mutex
	inflight map[string]*inflight
	closed   bool

	registry  *device.Registry
	codec     topic.Codec
	publisher Publisher
	clock     clock.Clock
	timeout   time.Duration
	qos       byte
	onOutcome OutcomeFunc
	logger    Logger
}

// New creates a correlator. Registry and Publisher are required.
func New(opts Options) *Correlator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	return &Correlator{
		inflight:  make(map[string]*inflight),
		registry:  opts.Registry,
		codec:     opts.Codec,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		timeout:   opts.DefaultTimeout,
		qos:       opts.QoS,
		onOutcome: opts.OnOutcome,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// Stage registers a command that will not be published until Confirm.
// Staged commands have no deadline.
func (c *Correlator) Stage(deviceID, action string, body any, timeout time.Duration) (string, error) {
	return c.register(deviceID, action, body, timeout, true)
}

// Confirm publishes a staged command and arms its deadline.
func (c *Correlator) Confirm(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	e, ok := c.inflight[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("confirm %s: %w", id, ErrCommandNotFound)
	}
	if !e.staged {
		c.mu.Unlock()
		return fmt.Errorf("confirm %s: %w", id, ErrNotStaged)
	}
	e.staged = false
	now := c.clock.Now()
	c.registry.MarkSent(e.deviceID, id, now)
	c.armLocked(id, e)
	c.mu.Unlock()

	pc, ok := c.registry.PendingCommand(e.deviceID, id)
	if !ok {
		// Completed or removed between unlock and lookup.
		return nil
	}
	return c.publish(id, e.deviceID, e.action, pc.Payload, now)
}

// Send registers, arms and publishes a command in one step and returns its
// ID. A non-positive timeout uses the default.
//
// If the transport rejects the message the command is recorded as Failed
// and the returned error wraps ErrPublishFailed; the ID is still returned.
func (c *Correlator) Send(deviceID, action string, body any, timeout time.Duration) (string, error) {
	return c.register(deviceID, action, body, timeout, false)
}

func (c *Correlator) register(deviceID, action string, body any, timeout time.Duration, staged bool) (string, error) {
	if deviceID == "" || action == "" {
		return "", ErrInvalidCommand
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	id := uuid.NewString()
	now := c.clock.Now()
	status := device.CommandSent
	if staged {
		status = device.CommandStaged
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	err := c.registry.AddPending(device.PendingCommand{
		ID:        id,
		DeviceID:  deviceID,
		Action:    action,
		Payload:   body,
		StartedAt: now,
		Timeout:   timeout,
		Status:    status,
	})
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("registering command: %w", err)
	}
	e := &inflight{deviceID: deviceID, action: action, timeout: timeout, staged: staged}
	c.inflight[id] = e
	if !staged {
		c.armLocked(id, e)
	}
	c.mu.Unlock()

	if staged {
		return id, nil
	}
	return id, c.publish(id, deviceID, action, body, now)
}

func (c *Correlator) armLocked(id string, e *inflight) {
	e.timer = c.clock.AfterFunc(e.timeout, func() { c.onTimeout(id) })
}

func (c *Correlator) publish(id, deviceID, action string, body any, now time.Time) error {
	raw, err := json.Marshal(Envelope{ID: id, Action: action, Payload: body, TS: now.UnixMilli()})
	if err == nil {
		err = c.publisher.Publish(c.codec.Command(deviceID, action), raw, c.qos, false)
	}
	if err != nil {
		c.finish(id, device.CommandFailed, err.Error())
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// ResolveAck matches an acknowledgement to a sent command by the id field in
// the ack body. ok=true completes it as Acked; anything else completes it as
// Failed with the ack's error text. It reports whether a command matched.
//
// Acks for unknown, already-terminal or staged commands are dropped; this is
// expected under late or duplicate delivery.
func (c *Correlator) ResolveAck(deviceID, action string, ack payload.Value) bool {
	id, ok := ack.String("id")
	if !ok || id == "" {
		c.logger.Debug("ack without id dropped", "device_id", deviceID, "action", action)
		return false
	}

	c.mu.Lock()
	e, found := c.inflight[id]
	match := found && !e.staged && e.deviceID == deviceID
	c.mu.Unlock()
	if !match {
		c.logger.Debug("unmatched ack dropped", "device_id", deviceID, "action", action, "command_id", id)
		return false
	}
	if action != "" && action != e.action {
		c.logger.Debug("ack action differs from command", "command_id", id, "ack_action", action, "action", e.action)
	}

	status, errText := device.CommandAcked, ""
	if acked, has := ack.Bool("ok"); !has || !acked {
		status = device.CommandFailed
		errText, _ = ack.String("error")
		if errText == "" {
			errText = "device rejected command"
		}
	}
	return c.finish(id, status, errText)
}

// onTimeout fires when a deadline elapses. It is a no-op if the command
// already completed.
func (c *Correlator) onTimeout(id string) {
	c.mu.Lock()
	e, ok := c.inflight[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.finish(id, device.CommandTimeout, fmt.Sprintf("no ack within %v", e.timeout))
}

// Cancel completes a staged or sent command as Cancelled. This is local
// bookkeeping only; the device is not told.
func (c *Correlator) Cancel(id string) error {
	if !c.finish(id, device.CommandCancelled, "") {
		return fmt.Errorf("cancel %s: %w", id, ErrCommandNotFound)
	}
	return nil
}

// Broadcast sends the same command to each device independently and
// returns the IDs of every command registered, in device order. Publish
// failures are recorded per command and are not reported here. Invalid
// device IDs are skipped and reported in the joined error.
func (c *Correlator) Broadcast(deviceIDs []string, action string, body any, timeout time.Duration) ([]string, error) {
	ids := make([]string, 0, len(deviceIDs))
	var errs []error
	for _, deviceID := range deviceIDs {
		id, err := c.Send(deviceID, action, body, timeout)
		if id != "" {
			ids = append(ids, id)
		}
		if err != nil && !errors.Is(err, ErrPublishFailed) {
			errs = append(errs, fmt.Errorf("device %q: %w", deviceID, err))
		}
	}
	return ids, errors.Join(errs...)
}

// finish moves a command to a terminal state. Only the first caller for a
// given ID wins; it stops the deadline timer, records history and reports
// the outcome.
func (c *Correlator) finish(id string, status device.CommandStatus, errText string) bool {
	c.mu.Lock()
	e, ok := c.inflight[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.inflight, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	c.mu.Unlock()

	rec, ok := c.registry.CompletePending(e.deviceID, id, status, errText, c.clock.Now())
	if !ok {
		// Device removed while the command was in flight.
		c.logger.Debug("command completed for removed device", "command_id", id, "device_id", e.deviceID)
		return true
	}
	if c.onOutcome != nil {
		c.onOutcome(rec)
	}
	return true
}

// Lookup returns the target device of a staged or sent command.
func (c *Correlator) Lookup(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inflight[id]
	if !ok {
		return "", false
	}
	return e.deviceID, true
}

// InFlight returns the number of staged or sent commands.
func (c *Correlator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close stops every deadline timer and rejects further commands. Pending
// commands stay in the registry as they were.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, e := range c.inflight {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
