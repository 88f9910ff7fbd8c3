package netconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opp-network/opp/pkg/cloud"
	"github.com/opp-network/opp/pkg/util"
)

const (
	defaultFilePrefix = "opp"

	// Lower slots are taken by the node's primary interfaces.
	interfaceNumberOffset = 4

	// placeholderInterface is the interface key the templates carry; it is
	// replaced with the allocated interface name on render.
	placeholderInterface = "ensX"
)

// defaultApplyCmd is the command run to activate rendered config.
var defaultApplyCmd = []string{"netplan", "apply"}

// Compile-time interface check
var _ Handler = (*NetplanHandler)(nil)

// NetplanHandler renders netplan YAML from per-subnet templates and applies
// it with "netplan apply". The dirty flag is set when Create writes a new
// file and cleared only by a successful Apply.
type NetplanHandler struct {
	applyCmd   []string
	filePrefix string
	dirty      bool

	// hostInterfaces lists the interface names present on the host;
	// replaceable in tests.
	hostInterfaces func() (map[string]bool, error)
}

// NewNetplanHandler creates a netplan config handler.
func NewNetplanHandler(opts Options) *NetplanHandler {
	h := &NetplanHandler{
		applyCmd:       defaultApplyCmd,
		filePrefix:     defaultFilePrefix,
		hostInterfaces: listHostInterfaces,
	}
	if len(opts.ApplyCmd) > 0 {
		h.applyCmd = opts.ApplyCmd
	}
	if opts.FilePrefix != "" {
		h.filePrefix = opts.FilePrefix
	}
	return h
}

// Dirty reports whether rendered config is waiting to be applied.
func (h *NetplanHandler) Dirty() bool {
	return h.dirty
}

// Create renders one config file per port bound to an expected subnet.
// Ports are processed in name order so that interface slot allocation is
// stable across reconciliation ticks. A port whose config file already
// exists keeps its slot but is not re-rendered.
func (h *NetplanHandler) Create(allPorts []*cloud.Port, subnets map[string]*cloud.Subnet, destDir, templatesDir string) error {
	hostIfaces, err := h.hostInterfaces()
	if err != nil {
		return fmt.Errorf("listing host interfaces: %w", err)
	}

	ports := make([]*cloud.Port, len(allPorts))
	copy(ports, allPorts)
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	slot := interfaceNumberOffset
	for _, port := range ports {
		if len(port.FixedIPs) == 0 {
			util.WithPort(port.Name).Warn("Port has no fixed IPs, skipping.")
			continue
		}
		if len(port.FixedIPs) > 1 {
			util.WithPort(port.Name).Warnf("Port has more than one IP address (%v), using the first.", port.FixedIPs)
		}

		fixedIP := port.FixedIPs[0]
		subnet, ok := subnets[fixedIP.SubnetID]
		if !ok {
			// Not one of ours, leave it alone.
			util.WithPort(port.Name).Debugf("Port subnet %s is not managed, skipping.", fixedIP.SubnetID)
			continue
		}

		ifaceName := fmt.Sprintf("ens%d", slot)
		slot++

		configPath := filepath.Join(destDir, fmt.Sprintf("51-%s-%s.yaml", h.filePrefix, ifaceName))
		if _, err := os.Stat(configPath); err == nil {
			util.Debugf("Config %s already exists, skipping generation.", configPath)
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking config %s: %w", configPath, err)
		}

		if hostIfaces[ifaceName] {
			util.Warnf("Interface %s already exists on the host, not creating network config.", ifaceName)
			continue
		}

		if err := h.renderConfig(port, subnet, fixedIP, ifaceName, configPath, templatesDir); err != nil {
			return err
		}
		h.dirty = true
	}

	return nil
}

// renderConfig loads the subnet's template, fills in the placeholder
// interface and writes the result to configPath.
func (h *NetplanHandler) renderConfig(port *cloud.Port, subnet *cloud.Subnet, fixedIP cloud.FixedIP, ifaceName, configPath, templatesDir string) error {
	templatePath := filepath.Join(templatesDir, subnet.Name+".yaml")
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("loading template for subnet '%s': %w", subnet.Name, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing template %s: %w", templatePath, err)
	}

	network, ok := doc["network"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("template %s: missing 'network' mapping", templatePath)
	}
	ethernets, ok := network["ethernets"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("template %s: missing 'network.ethernets' mapping", templatePath)
	}
	ifaceConfig, ok := ethernets[placeholderInterface].(map[string]interface{})
	if !ok {
		return fmt.Errorf("template %s: missing '%s' placeholder interface", templatePath, placeholderInterface)
	}
	match, ok := ifaceConfig["match"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("template %s: missing 'match' mapping on placeholder interface", templatePath)
	}

	prefixLen, err := util.PrefixLength(subnet.CIDR)
	if err != nil {
		return fmt.Errorf("subnet '%s': %w", subnet.Name, err)
	}

	delete(ethernets, placeholderInterface)
	ifaceConfig["addresses"] = []string{fmt.Sprintf("%s/%d", fixedIP.IPAddress, prefixLen)}
	match["macaddress"] = port.MACAddress
	ifaceConfig["match"] = match
	ifaceConfig["set-name"] = ifaceName
	ethernets[ifaceName] = ifaceConfig

	rendered, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rendering config for %s: %w", ifaceName, err)
	}

	if err := os.WriteFile(configPath, rendered, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", configPath, err)
	}

	util.WithPort(port.Name).Infof("Wrote network config %s.", configPath)
	util.Debugf("Rendered config:\n%s", rendered)
	return nil
}

// Apply runs the apply command when rendered config is pending. A failed
// apply leaves the dirty flag set so a later tick retries it.
func (h *NetplanHandler) Apply() error {
	if !h.dirty {
		util.Debug("Nothing to apply.")
		return nil
	}

	util.Info("Applying networking config.")
	output, err := exec.Command(h.applyCmd[0], h.applyCmd[1:]...).CombinedOutput()
	if err != nil {
		util.Errorf("Unable to apply networking config: %v\n  Output:\n%s", err, formatOutput(output))
		return fmt.Errorf("applying networking config: %w\n%s", err, formatOutput(output))
	}

	util.Debugf("Apply output:\n%s", formatOutput(output))
	h.dirty = false
	return nil
}

// formatOutput indents captured command output for log readability.
func formatOutput(output []byte) string {
	lines := strings.Split(strings.Trim(string(output), "\n"), "\n")

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString("    ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// listHostInterfaces returns the names of the host's network interfaces.
func listHostInterfaces() (map[string]bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(ifaces))
	for _, iface := range ifaces {
		names[iface.Name] = true
	}
	return names, nil
}
