// Package config handles loading and validating BrightDock configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with BRIGHTDOCK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Leaving security.jwt.secret empty disables auth on write endpoints;
//     only do that on a trusted network
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Node.URL, cfg.GetPollInterval())
package config
