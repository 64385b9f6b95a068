// Package identity resolves and caches the device identity.
//
// The daemon never provisions a device by itself. It asks the host
// identity service for the resolved identity and keeps a local cache so
// a device that restarts while offline still knows who it is.
package identity

import (
	"errors"
	"fmt"
)

// DeviceInfo is the resolved identity of this device.
type DeviceInfo struct {
	// DeviceID is the device's unique identity
	DeviceID string `json:"device_id" yaml:"device_id"`

	// HubName is the hub the device reports to. Empty for standalone
	// devices.
	HubName string `json:"hub_name,omitempty" yaml:"hub_name,omitempty"`

	// GatewayHost is the parent gateway hostname in nested topologies
	GatewayHost string `json:"gateway_host,omitempty" yaml:"gateway_host,omitempty"`

	// AuthKind is the authentication scheme backing the identity,
	// typically "sas" or "x509".
	AuthKind string `json:"auth_kind,omitempty" yaml:"auth_kind,omitempty"`
}

// Equal reports whether two identities refer to the same device on the
// same hub. Gateway and auth changes do not constitute a new identity.
func (d DeviceInfo) Equal(other DeviceInfo) bool {
	return d.DeviceID == other.DeviceID && d.HubName == other.HubName
}

// ErrIdentityChanged signals that the identity service now reports a
// different device than the one this daemon booted with.
var ErrIdentityChanged = errors.New("device identity changed")

// APIError is a non-2xx response from the identity service.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity service returned %d: %s", e.StatusCode, e.Message)
}
