package config

import (
	"strings"

	"github.com/marmos91/edged/pkg/runtime"
)

// Environment variables injected into the agent module. The agent uses
// them to reach the daemon's control-plane sockets and to identify
// itself against the workload API.
const (
	EnvWorkloadURI   = "EDGED_WORKLOAD_URI"
	EnvManagementURI = "EDGED_MANAGEMENT_URI"
	EnvModuleName    = "EDGED_MODULE_NAME"
	EnvDeviceID      = "EDGED_DEVICE_ID"
	EnvHub           = "EDGED_HUB"
	EnvGatewayHost   = "EDGED_GATEWAY_HOSTNAME"
)

// upstreamPlaceholder stands in for the gateway hostname in nested
// topologies, where the agent image is pulled from the parent device.
const upstreamPlaceholder = "$upstream"

// AgentUpstreamResolve returns a copy of the settings with the
// $upstream placeholder in the agent image and environment bound to
// gatewayHost. The copy is derived once, after the device identity is
// known; every later phase must use the returned settings. An empty
// gatewayHost leaves the placeholder untouched so the failure surfaces
// at image pull instead of silently pulling from a nameless registry.
func (s Settings) AgentUpstreamResolve(gatewayHost string) Settings {
	if gatewayHost == "" {
		return s
	}

	if rest, ok := strings.CutPrefix(s.Agent.Image, upstreamPlaceholder); ok {
		s.Agent.Image = gatewayHost + rest
	}

	if len(s.Agent.Env) > 0 {
		env := make(map[string]string, len(s.Agent.Env))
		for k, v := range s.Agent.Env {
			env[k] = strings.ReplaceAll(v, upstreamPlaceholder, gatewayHost)
		}
		s.Agent.Env = env
	}

	return s
}

// AgentSpec builds the runtime spec that bootstraps the agent module.
//
// The configured agent env comes first, extraEnv (typically the device
// identity resolved at runtime) overlays it, and the connection env
// derived from dedicated settings fields is applied last so a stray
// env entry cannot detach the agent from the daemon.
func (s *Settings) AgentSpec(extraEnv map[string]string) runtime.ModuleSpec {
	env := make(map[string]string, len(s.Agent.Env)+len(extraEnv)+3)
	for k, v := range s.Agent.Env {
		env[k] = v
	}
	for k, v := range extraEnv {
		env[k] = v
	}

	env[EnvModuleName] = s.Agent.Name
	if s.Connect.WorkloadURI != "" {
		env[EnvWorkloadURI] = s.Connect.WorkloadURI
	}
	if s.Connect.ManagementURI != "" {
		env[EnvManagementURI] = s.Connect.ManagementURI
	}

	return runtime.ModuleSpec{
		Name:          s.Agent.Name,
		Image:         s.Agent.Image,
		Env:           env,
		CreateOptions: s.Agent.CreateOptions,
		Network:       s.Runtime.Network,
	}
}
