package systemd

import (
	"strings"
	"testing"
)

func TestUnitTemplate(t *testing.T) {
	tmpl := UnitTemplate("/usr/local/bin/proxyvisor", "/etc/proxyvisor/proxyvisor.yaml",
		"/etc/privoxy", "/var/lib/proxyvisor")

	for _, section := range []string{"[Unit]", "[Service]", "[Install]"} {
		if !strings.Contains(tmpl, section) {
			t.Errorf("template missing section %s", section)
		}
	}

	if !strings.Contains(tmpl, "ExecStart=/usr/local/bin/proxyvisor run --config /etc/proxyvisor/proxyvisor.yaml\n") {
		t.Error("template missing ExecStart for proxyvisor run")
	}

	if !strings.Contains(tmpl, "ReadWritePaths=/etc/privoxy /var/lib/proxyvisor\n") {
		t.Error("template missing ReadWritePaths")
	}

	for _, directive := range []string{"NoNewPrivileges=true", "PrivateTmp=true", "ProtectSystem=strict", "KillMode=mixed"} {
		if !strings.Contains(tmpl, directive) {
			t.Errorf("template missing directive %s", directive)
		}
	}
}

func TestUnitTemplateDefaults(t *testing.T) {
	tmpl := UnitTemplate("", "/etc/proxyvisor/proxyvisor.yaml")
	if !strings.Contains(tmpl, "ExecStart=/usr/local/bin/proxyvisor run") {
		t.Error("default binary not used")
	}
	if strings.Contains(tmpl, "ReadWritePaths=") {
		t.Error("ReadWritePaths should be omitted when no paths are given")
	}
}
