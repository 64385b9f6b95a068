package edged

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/runtime"
)

// updateDeviceCache persists the resolved device identity, first
// removing every module when the identity no longer matches the cached
// one. Modules hold credentials scoped to the identity they were
// created under; after the device moves they must be recreated, not
// resumed.
func updateDeviceCache(ctx context.Context, cacheDir string, info identity.DeviceInfo, rt runtime.Runtime) error {
	cached, err := identity.LoadCache(cacheDir)
	switch {
	case os.IsNotExist(err):
		// First boot on this homedir, nothing to compare against.

	case err != nil:
		// An unreadable cache cannot prove the modules belong to this
		// identity, so treat it like a change.
		logger.Warn("device identity cache unreadable, removing all modules", logger.Err(err))
		if err := removeAllModules(ctx, rt); err != nil {
			return err
		}

	case !cached.Equal(info):
		logger.Info("device identity changed, removing all modules",
			"cached_device_id", cached.DeviceID,
			"cached_hub", cached.HubName,
			logger.DeviceID(info.DeviceID),
			"hub", info.HubName)
		if err := removeAllModules(ctx, rt); err != nil {
			return err
		}
	}

	if err := identity.UpdateCache(cacheDir, info); err != nil {
		return fmt.Errorf("updating device identity cache: %w", err)
	}
	return nil
}

// removeAllModules removes every managed module, the agent included.
// The watchdog recreates the agent from settings afterwards.
func removeAllModules(ctx context.Context, rt runtime.Runtime) error {
	modules, err := rt.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("listing modules for removal: %w", err)
	}

	for _, m := range modules {
		if err := rt.RemoveModule(ctx, m.Name); err != nil {
			return fmt.Errorf("removing module %q: %w", m.Name, err)
		}
		logger.Info("removed module", logger.Module(m.Name))
	}
	return nil
}
