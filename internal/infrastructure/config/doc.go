// Package config handles loading and validating fleetlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The fleet section carries the reconciliation tunables. Durations there are
// milliseconds, matching the values devices and operators already use:
//
//	fleet:
//	  topic_root: "fleet"
//	  stale_after_ms: 5000
//	  command_timeout_ms: 2000
//	  series:
//	    max_size: 1000
//	    max_age_ms: 3600000
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.StaleAfter())
package config
