// Package platform wraps the host-specific probes the sharing subsystem
// needs: a stable machine identity and an advisory firewall check.
package platform

import (
	"fmt"

	"github.com/denisbrodbeck/machineid"
)

// appID scopes the hashed machine identity so it cannot be correlated with
// other applications' ids for the same host.
const appID = "typrd"

// MachineID returns a stable, app-scoped identifier for this host. Two
// instances comparing ids can detect that a "remote" peer is themselves.
func MachineID() (string, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}
	return id, nil
}
