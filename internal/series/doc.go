// Package series is the bounded in-memory time-series store.
//
// Each (device, metric) pair owns a fixed-capacity ring of points. The
// store bounds memory two ways: a count bound (MaxSize) enforced on every
// push, and an age bound (MaxAge) enforced by the eviction pass that follows
// each push and by Sweep, which the session runs on its liveness cadence so
// that a metric which stops updating still ages out.
//
// Values are stored exactly as provided. Unit conversion and formatting
// belong to whatever renders the data.
//
// # Usage
//
//	store := series.NewStore(series.Options{MaxSize: 1000, MaxAge: time.Hour})
//	key := series.Key{DeviceID: "pump-7", Metric: "flow"}
//	store.Push(key, series.Point{T: time.Now(), V: 12.4})
//	points := store.Query(key, 5*time.Minute)
//	latest, ok := store.Latest(key)
package series
