package platform

import (
	"os/exec"
	"runtime"
	"strings"
)

// FirewallStatus is an advisory snapshot of the host firewall. It never
// gates starting the sharing server; it only helps users troubleshoot
// unreachable peers.
type FirewallStatus struct {
	FirewallEnabled bool `json:"firewall_enabled"`
	AppAllowed      bool `json:"app_allowed"`
	MayBeBlocked    bool `json:"may_be_blocked"`
}

const socketfilterfw = "/usr/libexec/ApplicationFirewall/socketfilterfw"

// ProbeFirewall inspects the system firewall where that is feasible.
// On macOS the application firewall state and allow-list are consulted.
// On Windows the OS shows its own allow prompt when a port is opened, so no
// proactive warning is raised. Other platforms report permissive defaults.
func ProbeFirewall() FirewallStatus {
	if runtime.GOOS != "darwin" {
		return FirewallStatus{FirewallEnabled: false, AppAllowed: true, MayBeBlocked: false}
	}

	out, err := exec.Command(socketfilterfw, "--getglobalstate").Output()
	if err != nil {
		return FirewallStatus{FirewallEnabled: false, AppAllowed: true, MayBeBlocked: false}
	}
	state := string(out)
	enabled := strings.Contains(state, "enabled") || strings.Contains(state, "State = 1")
	if !enabled {
		return FirewallStatus{FirewallEnabled: false, AppAllowed: true, MayBeBlocked: false}
	}

	allowed := false
	if list, err := exec.Command(socketfilterfw, "--listapps").Output(); err == nil {
		allowed = appAllowedInList(string(list), "typrd")
	}
	return FirewallStatus{
		FirewallEnabled: true,
		AppAllowed:      allowed,
		MayBeBlocked:    !allowed,
	}
}

// appAllowedInList scans socketfilterfw --listapps output. The entry line
// names the app; the following line states whether incoming connections are
// allowed.
func appAllowedInList(output, app string) bool {
	lines := strings.Split(output, "\n")
	needle := strings.ToLower(app)
	for i, line := range lines {
		l := strings.ToLower(line)
		if !strings.Contains(l, needle) {
			continue
		}
		if strings.Contains(l, "allow incoming connections") {
			return true
		}
		if i+1 < len(lines) && strings.Contains(strings.ToLower(lines[i+1]), "allow incoming connections") {
			return true
		}
	}
	return false
}
