package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags (validate:"...") cover field-level rules. Cross-field rules
// that tags cannot express are checked explicitly afterwards:
//   - telemetry endpoint must be set when telemetry is enabled
//   - listener URIs must use a supported scheme
//   - dps provisioning needs a scope and registration ID,
//     manual provisioning needs a device ID
//
// Validate does not mutate the configuration. Normalization (such as log
// level casing) happens in ApplyDefaults.
func Validate(cfg *Settings) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry is enabled but no endpoint is configured")
	}

	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling is enabled but no endpoint is configured")
	}

	if err := validateListenURI("listen.workload_uri", cfg.Listen.WorkloadURI); err != nil {
		return err
	}
	if err := validateListenURI("listen.management_uri", cfg.Listen.ManagementURI); err != nil {
		return err
	}

	if err := validateProvisioning(&cfg.Provisioning); err != nil {
		return err
	}

	return nil
}

// validateListenURI checks that a listener URI parses and uses one of the
// supported schemes.
func validateListenURI(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URI %q: %w", field, raw, err)
	}

	switch u.Scheme {
	case "http", "unix", "fd":
		return nil
	default:
		return fmt.Errorf("%s: unsupported scheme %q (expected http, unix, or fd)", field, u.Scheme)
	}
}

// validateProvisioning checks mode-specific provisioning requirements.
func validateProvisioning(cfg *ProvisioningConfig) error {
	switch strings.ToLower(cfg.Mode) {
	case "manual":
		if cfg.DeviceID == "" {
			return fmt.Errorf("provisioning: manual mode requires a device_id")
		}
	case "dps":
		if cfg.ScopeID == "" {
			return fmt.Errorf("provisioning: dps mode requires a scope_id")
		}
		if cfg.RegistrationID == "" {
			return fmt.Errorf("provisioning: dps mode requires a registration_id")
		}
	}
	return nil
}
