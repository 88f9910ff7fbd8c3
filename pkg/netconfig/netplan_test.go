package netconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/opp-network/opp/pkg/cloud"
)

const testTemplate = `network:
  version: 2
  ethernets:
    ensX:
      dhcp4: false
      match:
        macaddress: ""
      mtu: 9000
`

func testHandler() *NetplanHandler {
	h := NewNetplanHandler(Options{})
	h.hostInterfaces = func() (map[string]bool, error) {
		return map[string]bool{"eth0": true, "lo": true}, nil
	}
	return h
}

func writeTemplate(t *testing.T, dir, subnetName string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, subnetName+".yaml"), []byte(testTemplate), 0644); err != nil {
		t.Fatalf("writing template: %v", err)
	}
}

func testSubnets() map[string]*cloud.Subnet {
	return map[string]*cloud.Subnet{
		"subnet-1": {ID: "subnet-1", Name: "s1", NetworkID: "net-1", CIDR: "10.0.0.0/24"},
		"subnet-2": {ID: "subnet-2", Name: "s2", NetworkID: "net-2", CIDR: "10.0.1.0/24"},
	}
}

func testPort(name, subnetID, ip, mac string) *cloud.Port {
	return &cloud.Port{
		ID:         "id-" + name,
		Name:       name,
		Status:     cloud.PortStatusActive,
		MACAddress: mac,
		FixedIPs:   []cloud.FixedIP{{SubnetID: subnetID, IPAddress: ip}},
	}
}

func TestNetplanCreate(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	h := testHandler()
	port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !h.Dirty() {
		t.Error("Dirty should be set after writing a config")
	}

	configPath := filepath.Join(destDir, "51-opp-ens4.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading rendered config: %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing rendered config: %v", err)
	}

	ethernets := doc["network"].(map[string]interface{})["ethernets"].(map[string]interface{})
	if _, ok := ethernets["ensX"]; ok {
		t.Error("placeholder interface should be replaced")
	}

	iface, ok := ethernets["ens4"].(map[string]interface{})
	if !ok {
		t.Fatalf("ens4 entry missing, got %v", ethernets)
	}

	addresses, ok := iface["addresses"].([]interface{})
	if !ok || len(addresses) != 1 || addresses[0] != "10.0.0.5/24" {
		t.Errorf("addresses = %v, want [10.0.0.5/24]", iface["addresses"])
	}
	match := iface["match"].(map[string]interface{})
	if match["macaddress"] != "fa:16:3e:aa:bb:cc" {
		t.Errorf("macaddress = %v", match["macaddress"])
	}
	if iface["set-name"] != "ens4" {
		t.Errorf("set-name = %v, want ens4", iface["set-name"])
	}
	if iface["mtu"] != 9000 {
		t.Errorf("mtu = %v, template fields should be preserved", iface["mtu"])
	}
}

func TestNetplanCreate_WriteOnce(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	existing := []byte("# pre-existing\n")
	configPath := filepath.Join(destDir, "51-opp-ens4.yaml")
	if err := os.WriteFile(configPath, existing, 0644); err != nil {
		t.Fatalf("seeding config: %v", err)
	}

	h := testHandler()
	port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Dirty() {
		t.Error("Dirty should stay clear when nothing was written")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if string(data) != string(existing) {
		t.Error("existing config must never be rewritten")
	}
}

func TestNetplanCreate_SlotAllocation(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")
	writeTemplate(t, templatesDir, "s2")

	h := testHandler()
	// Passed out of order; name-sorted processing pins s1 to ens4.
	ports := []*cloud.Port{
		testPort("opp-node1-s2", "subnet-2", "10.0.1.7", "fa:16:3e:00:00:02"),
		testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:00:00:01"),
	}

	if err := h.Create(ports, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, name := range []string{"51-opp-ens4.yaml", "51-opp-ens5.yaml"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected config %s: %v", name, err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(destDir, "51-opp-ens4.yaml"))
	if !strings.Contains(string(data), "10.0.0.5/24") {
		t.Error("ens4 should belong to the name-sorted first port (s1)")
	}
}

func TestNetplanCreate_MultiBindingUsesFirst(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	h := testHandler()
	port := &cloud.Port{
		ID:         "port-multi",
		Name:       "opp-node1-s1",
		Status:     cloud.PortStatusActive,
		MACAddress: "fa:16:3e:aa:bb:cc",
		FixedIPs: []cloud.FixedIP{
			{SubnetID: "subnet-1", IPAddress: "10.0.0.5"},
			{SubnetID: "subnet-2", IPAddress: "10.0.1.9"},
		},
	}

	if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create must not reject a multi-binding port: %v", err)
	}
	if !h.Dirty() {
		t.Error("Dirty should be set after writing a config")
	}

	data, err := os.ReadFile(filepath.Join(destDir, "51-opp-ens4.yaml"))
	if err != nil {
		t.Fatalf("reading rendered config: %v", err)
	}
	if !strings.Contains(string(data), "10.0.0.5/24") {
		t.Error("config should use the first binding's address")
	}
	if strings.Contains(string(data), "10.0.1.9") {
		t.Error("second binding must be ignored")
	}
}

func TestNetplanCreate_NoBindingsSkipped(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	h := testHandler()
	empty := &cloud.Port{ID: "port-empty", Name: "opp-node1-a-empty", Status: cloud.PortStatusDown}
	bound := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	if err := h.Create([]*cloud.Port{empty, bound}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create must skip a port without bindings, got %v", err)
	}

	// The empty port sorts first but must not consume a slot.
	if _, err := os.Stat(filepath.Join(destDir, "51-opp-ens4.yaml")); err != nil {
		t.Errorf("bound port should still get ens4: %v", err)
	}

	entries, _ := os.ReadDir(destDir)
	if len(entries) != 1 {
		t.Errorf("destination has %d entries, want only the bound port's config", len(entries))
	}
}

func TestNetplanCreate_StatErrorSurfaces(t *testing.T) {
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	// A regular file on the destination path makes the stat fail with
	// something other than "not exist".
	base := t.TempDir()
	blocker := filepath.Join(base, "netplan")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0644); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}
	destDir := filepath.Join(blocker, "nested")

	h := testHandler()
	port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir)
	if err == nil {
		t.Fatal("unreadable destination must be a hard failure")
	}
	if !strings.Contains(err.Error(), "checking config") {
		t.Errorf("stat failure should surface before any write attempt: %v", err)
	}
}

func TestNetplanCreate_ForeignSubnetSkipped(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()

	h := testHandler()
	port := testPort("other-port", "subnet-foreign", "192.168.0.9", "fa:16:3e:dd:ee:ff")

	if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Dirty() {
		t.Error("foreign ports must not produce config")
	}

	entries, _ := os.ReadDir(destDir)
	if len(entries) != 0 {
		t.Errorf("destination should be empty, got %d entries", len(entries))
	}
}

func TestNetplanCreate_HostInterfaceExists(t *testing.T) {
	destDir := t.TempDir()
	templatesDir := t.TempDir()
	writeTemplate(t, templatesDir, "s1")

	h := testHandler()
	h.hostInterfaces = func() (map[string]bool, error) {
		return map[string]bool{"ens4": true}, nil
	}
	port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Dirty() {
		t.Error("skipping an existing interface must not set the dirty flag")
	}
	if _, err := os.Stat(filepath.Join(destDir, "51-opp-ens4.yaml")); !os.IsNotExist(err) {
		t.Error("no config should be written for an existing interface")
	}
}

func TestNetplanCreate_MissingTemplate(t *testing.T) {
	h := testHandler()
	port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

	err := h.Create([]*cloud.Port{port}, testSubnets(), t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("missing template must be a hard failure")
	}
	if !strings.Contains(err.Error(), "s1") {
		t.Errorf("error should name the subnet: %v", err)
	}
}

func TestNetplanCreate_MalformedTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"missing placeholder", "network:\n  ethernets:\n    eth9: {}\n"},
		{"missing ethernets", "network:\n  version: 2\n"},
		{"missing match", "network:\n  ethernets:\n    ensX:\n      dhcp4: false\n"},
		{"not yaml", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			destDir := t.TempDir()
			templatesDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(templatesDir, "s1.yaml"), []byte(tt.template), 0644); err != nil {
				t.Fatalf("writing template: %v", err)
			}

			h := testHandler()
			port := testPort("opp-node1-s1", "subnet-1", "10.0.0.5", "fa:16:3e:aa:bb:cc")

			if err := h.Create([]*cloud.Port{port}, testSubnets(), destDir, templatesDir); err == nil {
				t.Fatal("malformed template must be a hard failure")
			}
		})
	}
}

func TestNetplanApply_Gating(t *testing.T) {
	h := NewNetplanHandler(Options{ApplyCmd: []string{"sh", "-c", "exit 1"}})

	// Clean handler: command must not run (it would fail).
	if err := h.Apply(); err != nil {
		t.Fatalf("Apply on a clean handler must be a no-op, got %v", err)
	}
}

func TestNetplanApply_Success(t *testing.T) {
	h := NewNetplanHandler(Options{ApplyCmd: []string{"sh", "-c", "echo applied"}})
	h.dirty = true

	if err := h.Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if h.Dirty() {
		t.Error("successful apply must clear the dirty flag")
	}
}

func TestNetplanApply_Failure(t *testing.T) {
	h := NewNetplanHandler(Options{ApplyCmd: []string{"sh", "-c", "echo boom; exit 1"}})
	h.dirty = true

	err := h.Apply()
	if err == nil {
		t.Fatal("failing apply command must surface an error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry the captured output: %v", err)
	}
	if !h.Dirty() {
		t.Error("failed apply must leave the dirty flag set")
	}
}

func TestFormatOutput(t *testing.T) {
	got := formatOutput([]byte("one\ntwo\n"))
	want := "    one\n    two\n"
	if got != want {
		t.Errorf("formatOutput = %q, want %q", got, want)
	}
}
