package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CacheFile is the device identity cache file name inside the daemon's
// cache directory.
const CacheFile = "device_info.yaml"

// LoadCache reads the cached device identity from cacheDir. The error
// satisfies os.IsNotExist checks when no cache has been written yet.
func LoadCache(cacheDir string) (DeviceInfo, error) {
	data, err := os.ReadFile(filepath.Join(cacheDir, CacheFile))
	if err != nil {
		return DeviceInfo{}, err
	}

	var info DeviceInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return DeviceInfo{}, fmt.Errorf("parsing device identity cache: %w", err)
	}
	return info, nil
}

// UpdateCache writes the device identity to cacheDir. The write goes
// through a temp file and a rename so a crash mid-write can never leave
// a truncated cache behind.
func UpdateCache(cacheDir string, info DeviceInfo) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding device identity: %w", err)
	}

	tmp, err := os.CreateTemp(cacheDir, ".device_info-*.yaml")
	if err != nil {
		return fmt.Errorf("creating device identity cache: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing device identity cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing device identity cache: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(cacheDir, CacheFile)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing device identity cache: %w", err)
	}
	return nil
}

// RemoveCache deletes the cached identity. Removing an absent cache is
// not an error.
func RemoveCache(cacheDir string) error {
	err := os.Remove(filepath.Join(cacheDir, CacheFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing device identity cache: %w", err)
	}
	return nil
}
