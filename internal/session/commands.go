package session

import (
	"context"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetlink-core/internal/notify"
)

// commandLogTimeout bounds one command log write.
const commandLogTimeout = 2 * time.Second

// Send publishes a command to one device. See command.Correlator.Send.
func (s *Session) Send(deviceID, action string, body any, timeout time.Duration) (string, error) {
	id, err := s.correlator.Send(deviceID, action, body, timeout)
	if id != "" {
		s.markDirty(deviceID)
	}
	return id, err
}

// Stage registers a command without publishing it.
func (s *Session) Stage(deviceID, action string, body any, timeout time.Duration) (string, error) {
	id, err := s.correlator.Stage(deviceID, action, body, timeout)
	if err == nil {
		s.markDirty(deviceID)
	}
	return id, err
}

// Confirm publishes a staged command.
func (s *Session) Confirm(id string) error {
	deviceID, _ := s.correlator.Lookup(id)
	err := s.correlator.Confirm(id)
	if deviceID != "" {
		s.markDirty(deviceID)
	}
	return err
}

// Cancel cancels a staged or sent command.
func (s *Session) Cancel(id string) error {
	return s.correlator.Cancel(id)
}

// Broadcast sends the same command to each device independently.
func (s *Session) Broadcast(deviceIDs []string, action string, body any, timeout time.Duration) ([]string, error) {
	ids, err := s.correlator.Broadcast(deviceIDs, action, body, timeout)
	if len(ids) > 0 {
		s.markDirty(deviceIDs...)
	}
	return ids, err
}

// CommandLog returns persisted terminal commands for a device, newest
// first. It returns nil when no command log is configured.
func (s *Session) CommandLog(ctx context.Context, deviceID string, limit int) ([]device.CommandRecord, error) {
	if s.cmdLog == nil {
		return nil, nil
	}
	return s.cmdLog.Recent(ctx, deviceID, limit)
}

// onOutcome is the correlator hook. It may run on a timer goroutine or
// inside an API call, so everything beyond marking the device is deferred
// to the scheduler.
func (s *Session) onOutcome(rec device.CommandRecord) {
	s.markDirty(rec.DeviceID)
	s.sched.Schedule(func() { s.recordOutcome(rec) })
}

func (s *Session) recordOutcome(rec device.CommandRecord) {
	completed := s.clock.Now()
	if rec.CompletedAt != nil {
		completed = *rec.CompletedAt
	}

	s.metrics.ObserveCommand(string(rec.Status), rec.StartedAt, completed)

	if s.mirror != nil {
		s.mirror.WriteCommandOutcome(influxdb.CommandOutcome{
			ID:          rec.ID,
			DeviceID:    rec.DeviceID,
			Action:      rec.Action,
			Status:      string(rec.Status),
			Error:       rec.Error,
			StartedAt:   rec.StartedAt,
			CompletedAt: completed,
		})
	}

	if s.cmdLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandLogTimeout)
		err := s.cmdLog.Record(ctx, rec)
		cancel()
		if err != nil {
			s.ReportStorageFault("sqlite", err)
		}
	}

	detail := rec.Action
	if rec.Error != "" {
		detail += ": " + rec.Error
	}
	s.notes.Add(outcomeLevel(rec.Status), "Command "+string(rec.Status), detail, rec.DeviceID)
}

func outcomeLevel(status device.CommandStatus) notify.Level {
	switch status {
	case device.CommandAcked:
		return notify.LevelOK
	case device.CommandTimeout:
		return notify.LevelWarn
	case device.CommandFailed:
		return notify.LevelBad
	default:
		return notify.LevelInfo
	}
}
