// Package influxdb mirrors fleet data into InfluxDB v2.
//
// The in-memory series store is bounded and session-scoped; this mirror is
// the optional long-term copy. Three measurements are written:
//
//	fleet_telemetry  tags device_id, metric        field value
//	fleet_command    tags device_id, action, status fields id, duration_ms, error
//	fleet_liveness   tags device_id, to            field from
//
// Writes are batched and non-blocking. A failed batch is reported through
// SetOnError and never affects the in-memory model.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	defer client.Close()
//	client.WriteSeriesPoint("pump-7", "flow", 12.4, time.Now())
package influxdb
