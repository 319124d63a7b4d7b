// Package config handles loading and validating projectorctld configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PROJECTORCTL_* environment variables
//   - Validation of required fields and device class definitions
//   - Default value handling (including 115200 8N1 serial lines)
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - Leaving security.jwt.secret empty disables API authentication; only do
//     this on an isolated control network
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, cl := range cfg.Classes {
//	    fmt.Println(cl.Name, cl.Framing.Type)
//	}
package config
