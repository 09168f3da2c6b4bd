package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by fleetlink.
const (
	MeasurementTelemetry = "fleet_telemetry"
	MeasurementCommand   = "fleet_command"
	MeasurementLiveness  = "fleet_liveness"
)

// CommandOutcome is the subset of a terminal command mirrored to InfluxDB.
type CommandOutcome struct {
	ID          string
	DeviceID    string
	Action      string
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// WriteSeriesPoint mirrors one telemetry point.
func (c *Client) WriteSeriesPoint(deviceID, metric string, value float64, t time.Time) {
	c.writePoint(seriesPoint(deviceID, metric, value, t))
}

// WriteCommandOutcome mirrors one terminal command.
func (c *Client) WriteCommandOutcome(o CommandOutcome) {
	c.writePoint(commandPoint(o))
}

// WriteTransition mirrors one liveness change.
func (c *Client) WriteTransition(deviceID, from, to string, t time.Time) {
	c.writePoint(transitionPoint(deviceID, from, to, t))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func seriesPoint(deviceID, metric string, value float64, t time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"device_id": deviceID, "metric": metric},
		map[string]any{"value": value},
		t,
	)
}

func commandPoint(o CommandOutcome) *write.Point {
	fields := map[string]any{
		"id":          o.ID,
		"duration_ms": o.CompletedAt.Sub(o.StartedAt).Milliseconds(),
	}
	if o.Error != "" {
		fields["error"] = o.Error
	}
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{"device_id": o.DeviceID, "action": o.Action, "status": o.Status},
		fields,
		o.CompletedAt,
	)
}

func transitionPoint(deviceID, from, to string, t time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLiveness,
		map[string]string{"device_id": deviceID, "to": to},
		map[string]any{"from": from},
		t,
	)
}
