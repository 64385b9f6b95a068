package config

import (
	"testing"
)

func TestAgentSpec(t *testing.T) {
	t.Run("CarriesConfiguredFields", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.CreateOptions = `{"HostConfig":{}}`

		spec := cfg.AgentSpec(nil)

		if spec.Name != cfg.Agent.Name {
			t.Errorf("Name = %q, want %q", spec.Name, cfg.Agent.Name)
		}
		if spec.Image != cfg.Agent.Image {
			t.Errorf("Image = %q, want %q", spec.Image, cfg.Agent.Image)
		}
		if spec.CreateOptions != cfg.Agent.CreateOptions {
			t.Errorf("CreateOptions = %q, want %q", spec.CreateOptions, cfg.Agent.CreateOptions)
		}
		if spec.Network != cfg.Runtime.Network {
			t.Errorf("Network = %q, want %q", spec.Network, cfg.Runtime.Network)
		}
	})

	t.Run("InjectsConnectionEnv", func(t *testing.T) {
		cfg := GetDefaultSettings()
		spec := cfg.AgentSpec(nil)

		if got := spec.Env[EnvWorkloadURI]; got != cfg.Connect.WorkloadURI {
			t.Errorf("%s = %q, want %q", EnvWorkloadURI, got, cfg.Connect.WorkloadURI)
		}
		if got := spec.Env[EnvManagementURI]; got != cfg.Connect.ManagementURI {
			t.Errorf("%s = %q, want %q", EnvManagementURI, got, cfg.Connect.ManagementURI)
		}
		if got := spec.Env[EnvModuleName]; got != cfg.Agent.Name {
			t.Errorf("%s = %q, want %q", EnvModuleName, got, cfg.Agent.Name)
		}
	})

	t.Run("ExtraEnvOverlaysConfigured", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Env = map[string]string{
			"RUNTIME_LOG_LEVEL": "info",
			EnvDeviceID:         "stale-device",
		}

		spec := cfg.AgentSpec(map[string]string{EnvDeviceID: "device-01"})

		if got := spec.Env["RUNTIME_LOG_LEVEL"]; got != "info" {
			t.Errorf("configured env lost: RUNTIME_LOG_LEVEL = %q", got)
		}
		if got := spec.Env[EnvDeviceID]; got != "device-01" {
			t.Errorf("%s = %q, want resolved identity to win", EnvDeviceID, got)
		}
	})

	t.Run("ConnectionEnvWinsOverStrayEntries", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Env = map[string]string{EnvWorkloadURI: "unix:///tmp/bogus.sock"}

		spec := cfg.AgentSpec(nil)

		if got := spec.Env[EnvWorkloadURI]; got != cfg.Connect.WorkloadURI {
			t.Errorf("%s = %q, want %q from the connect section", EnvWorkloadURI, got, cfg.Connect.WorkloadURI)
		}
	})

	t.Run("DoesNotMutateSettings", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Env = map[string]string{"A": "1"}

		_ = cfg.AgentSpec(map[string]string{"B": "2"})

		if _, ok := cfg.Agent.Env["B"]; ok {
			t.Error("AgentSpec leaked the overlay into the settings env")
		}
		if _, ok := cfg.Agent.Env[EnvModuleName]; ok {
			t.Error("AgentSpec leaked injected env into the settings env")
		}
	})
}

func TestAgentUpstreamResolve(t *testing.T) {
	t.Run("ResolvesImagePrefix", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Image = "$upstream:443/edge-agent:1.5"

		derived := cfg.AgentUpstreamResolve("parent.example.com")

		if got := derived.Agent.Image; got != "parent.example.com:443/edge-agent:1.5" {
			t.Errorf("Image = %q", got)
		}
	})

	t.Run("ResolvesEnvValues", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Env = map[string]string{
			"UPSTREAM_PROTOCOL": "https://$upstream:443",
			"PLAIN":             "untouched",
		}

		derived := cfg.AgentUpstreamResolve("parent.example.com")

		if got := derived.Agent.Env["UPSTREAM_PROTOCOL"]; got != "https://parent.example.com:443" {
			t.Errorf("UPSTREAM_PROTOCOL = %q", got)
		}
		if got := derived.Agent.Env["PLAIN"]; got != "untouched" {
			t.Errorf("PLAIN = %q, want it untouched", got)
		}
	})

	t.Run("PlaceholderInTheMiddleOfImageStays", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Image = "registry.example.com/$upstream/agent"

		derived := cfg.AgentUpstreamResolve("parent.example.com")

		if got := derived.Agent.Image; got != cfg.Agent.Image {
			t.Errorf("Image = %q, only a $upstream prefix should resolve", got)
		}
	})

	t.Run("EmptyGatewayLeavesSettingsUnchanged", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Image = "$upstream/agent:latest"

		derived := cfg.AgentUpstreamResolve("")

		if got := derived.Agent.Image; got != "$upstream/agent:latest" {
			t.Errorf("Image = %q", got)
		}
	})

	t.Run("DoesNotMutateOriginal", func(t *testing.T) {
		cfg := GetDefaultSettings()
		cfg.Agent.Image = "$upstream/agent:latest"
		cfg.Agent.Env = map[string]string{"URL": "$upstream"}

		_ = cfg.AgentUpstreamResolve("parent.example.com")

		if cfg.Agent.Image != "$upstream/agent:latest" {
			t.Errorf("original image mutated to %q", cfg.Agent.Image)
		}
		if cfg.Agent.Env["URL"] != "$upstream" {
			t.Errorf("original env mutated to %q", cfg.Agent.Env["URL"])
		}
	})
}
