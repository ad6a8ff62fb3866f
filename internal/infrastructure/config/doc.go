// Package config handles loading and validating board bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (broker, SMTP and cache passwords, tokens) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The broker host, port and connect timeout seed the registry's broker
// endpoint record the first time the bridge starts against an empty
// database. After that the record in the registry wins, so operators can
// repoint the bridge without a restart.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.Topics.StatusWildcard)
package config
