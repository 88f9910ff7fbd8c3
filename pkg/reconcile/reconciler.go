// Package reconcile keeps a server's port attachments in sync with the
// declared subnet set and drives the host config handler each tick.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opp-network/opp/pkg/cloud"
	"github.com/opp-network/opp/pkg/util"
)

const (
	defaultPortPrefix = "opp"

	// Bounds for the best-effort wait on newly attached ports.
	portActivePollInterval = 3 * time.Second
	portActiveMaxAttempts  = 10
)

// Options tunes a Reconciler.
type Options struct {
	// PortPrefix is the first token of derived port names. Defaults to "opp".
	PortPrefix string

	// Tags is set on every managed port when non-empty, and scopes Cleanup.
	Tags []string

	// WaitActive blocks each tick until a newly attached port leaves DOWN
	// status (bounded; exhaustion is not an error).
	WaitActive bool
}

// Reconciler creates and attaches the ports a server is missing.
type Reconciler struct {
	client   cloud.Client
	server   *cloud.Server
	expected map[string]*cloud.Subnet // by subnet id

	prefix     string
	tags       []string
	waitActive bool

	pollInterval time.Duration
	maxAttempts  int
}

// New creates a Reconciler for one server and its expected subnet set.
func New(client cloud.Client, server *cloud.Server, expected map[string]*cloud.Subnet, opts Options) *Reconciler {
	prefix := opts.PortPrefix
	if prefix == "" {
		prefix = defaultPortPrefix
	}
	return &Reconciler{
		client:       client,
		server:       server,
		expected:     expected,
		prefix:       prefix,
		tags:         opts.Tags,
		waitActive:   opts.WaitActive,
		pollInterval: portActivePollInterval,
		maxAttempts:  portActiveMaxAttempts,
	}
}

// PortName derives the deterministic port name for a subnet on a server.
// The name is the idempotence key: later ticks reuse a port named this way.
func PortName(prefix, serverName, subnetName string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, serverName, subnetName)
}

// ActualPorts fetches the ports currently attached to the server.
func (r *Reconciler) ActualPorts(ctx context.Context) ([]*cloud.Port, error) {
	ports, err := r.client.ListPorts(ctx, cloud.PortFilter{DeviceID: r.server.ID})
	if err != nil {
		return nil, fmt.Errorf("listing ports of server '%s': %w", r.server.Name, err)
	}
	return ports, nil
}

// MissingSubnets returns the expected subnets no attached port is bound to.
// Only the first fixed-IP binding of each port is considered.
func (r *Reconciler) MissingSubnets(actual []*cloud.Port) map[string]*cloud.Subnet {
	attached := make(map[string]bool)
	for _, port := range actual {
		if len(port.FixedIPs) > 0 {
			attached[port.FixedIPs[0].SubnetID] = true
		}
	}

	missing := make(map[string]*cloud.Subnet)
	for id, subnet := range r.expected {
		if !attached[id] {
			missing[id] = subnet
		}
	}

	util.Debugf("Missing subnet calculation: actual=%d expected=%d missing=%d",
		len(attached), len(r.expected), len(missing))
	return missing
}

// Reconcile creates, tags and attaches a port for every missing subnet and
// returns the actual port set extended with the ports it touched.
func (r *Reconciler) Reconcile(ctx context.Context, actual []*cloud.Port, missing map[string]*cloud.Subnet) ([]*cloud.Port, error) {
	ports := actual

	for _, subnet := range missing {
		util.WithSubnet(subnet.Name).Infof("Will add port for subnet to server '%s'.", r.server.Name)

		port, err := r.ensurePort(ctx, subnet)
		if err != nil {
			return nil, err
		}

		if len(r.tags) > 0 {
			if err := r.client.SetPortTags(ctx, port.ID, r.tags); err != nil {
				return nil, fmt.Errorf("tagging port '%s': %w", port.Name, err)
			}
		}

		if err := r.client.AttachInterface(ctx, r.server.ID, port.ID); err != nil {
			return nil, fmt.Errorf("attaching port '%s': %w", port.Name, err)
		}

		ports = append(ports, port)

		if r.waitActive {
			if !r.waitForActive(ctx, port) {
				util.WithPort(port.Name).Debug("Port did not become active in time, continuing anyway.")
			}
		}
	}

	return ports, nil
}

// ensurePort returns the port named for the subnet, creating it when absent.
func (r *Reconciler) ensurePort(ctx context.Context, subnet *cloud.Subnet) (*cloud.Port, error) {
	name := PortName(r.prefix, r.server.Name, subnet.Name)

	port, err := r.client.GetPort(ctx, name)
	if err == nil {
		return port, nil
	}
	if !errors.Is(err, util.ErrNotFound) {
		return nil, fmt.Errorf("looking up port '%s': %w", name, err)
	}

	util.WithPort(name).Info("Will create a new port because it does not exist.")
	port, err = r.client.CreatePort(ctx, cloud.CreatePortRequest{
		Name:      name,
		NetworkID: subnet.NetworkID,
		// One binding, address left to allocation.
		FixedIPs: []cloud.FixedIP{{SubnetID: subnet.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating port '%s': %w", name, err)
	}
	return port, nil
}

// waitForActive polls the port until it leaves DOWN status. Returns false
// when the attempt budget is exhausted; callers treat that as advisory.
func (r *Reconciler) waitForActive(ctx context.Context, port *cloud.Port) bool {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		current, err := r.client.GetPortByID(ctx, port.ID)
		if err != nil {
			util.WithPort(port.Name).Debugf("Polling port status: %v", err)
		} else if current.Status != cloud.PortStatusDown {
			util.WithPort(port.Name).Debugf("Port is %s after %d attempts.", current.Status, attempt+1)
			return true
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	return false
}

// Cleanup deletes ports carrying the configured tags whose status is DOWN.
// Individual deletion failures are logged and skipped; they never abort the
// tick.
func (r *Reconciler) Cleanup(ctx context.Context) error {
	if len(r.tags) == 0 {
		return fmt.Errorf("cleanup requires port tags: %w", util.ErrInvalidConfig)
	}

	ports, err := r.client.ListPorts(ctx, cloud.PortFilter{Tags: r.tags})
	if err != nil {
		return fmt.Errorf("listing tagged ports: %w", err)
	}

	for _, port := range ports {
		if port.Status != cloud.PortStatusDown {
			continue
		}
		util.WithPort(port.Name).Info("Deleting stale DOWN port.")
		if err := r.client.DeletePort(ctx, port.ID); err != nil {
			util.WithPort(port.Name).Warnf("Unable to delete port: %v", err)
		}
	}
	return nil
}
