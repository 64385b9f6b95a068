package docker

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"

	"github.com/marmos91/edged/pkg/runtime"
)

// createBody is the subset of the Docker create payload accepted in a
// module's create options. The JSON shape matches `docker create`, so
// operators can paste configurations straight from existing tooling.
type createBody struct {
	container.Config
	HostConfig       *container.HostConfig     `json:"HostConfig,omitempty"`
	NetworkingConfig *network.NetworkingConfig `json:"NetworkingConfig,omitempty"`
}

// buildCreateConfig merges a module spec with its raw create options.
// Spec fields win over create options: the image always comes from the
// spec, spec env entries override same-named options env entries, and
// the owner label is always applied.
func buildCreateConfig(spec runtime.ModuleSpec, networkName string) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	var body createBody
	if spec.CreateOptions != "" {
		if err := json.Unmarshal([]byte(spec.CreateOptions), &body); err != nil {
			return nil, nil, nil, err
		}
	}

	cfg := body.Config
	cfg.Image = spec.Image
	cfg.Env = mergeEnv(cfg.Env, spec.Env)
	if cfg.Labels == nil {
		cfg.Labels = make(map[string]string)
	}
	cfg.Labels[runtime.OwnerLabel] = runtime.OwnerLabelValue

	hostCfg := body.HostConfig
	if hostCfg == nil {
		hostCfg = &container.HostConfig{}
	}

	netCfg := body.NetworkingConfig
	if netCfg == nil && networkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {Aliases: []string{spec.Name}},
			},
		}
	}

	return &cfg, hostCfg, netCfg, nil
}

// mergeEnv overlays KEY=VALUE pairs with a map, returning a sorted slice
// so container diffs stay stable across recreations.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	merged := make(map[string]string, len(base)+len(overlay))
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
