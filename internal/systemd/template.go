package systemd

import (
	"fmt"
	"strings"
)

// UnitName is the installed unit file name.
const UnitName = "proxyvisor.service"

// UnitTemplate returns the systemd unit for the proxyvisor daemon.
// binary is the proxyvisor executable; configPath is passed as --config.
// ReadWritePaths lists the directories the daemon writes: the proxy
// configuration directory and the state directory.
func UnitTemplate(binary, configPath string, readWritePaths ...string) string {
	if binary == "" {
		binary = "/usr/local/bin/proxyvisor"
	}
	var b strings.Builder
	b.WriteString(`[Unit]
Description=proxyvisor forward-proxy supervisor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
`)
	fmt.Fprintf(&b, "ExecStart=%s run --config %s\n", binary, configPath)
	b.WriteString(`KillMode=mixed
KillSignal=SIGTERM
TimeoutStopSec=30
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
`)
	if len(readWritePaths) > 0 {
		fmt.Fprintf(&b, "ReadWritePaths=%s\n", strings.Join(readWritePaths, " "))
	}
	b.WriteString(`
[Install]
WantedBy=multi-user.target
`)
	return b.String()
}
