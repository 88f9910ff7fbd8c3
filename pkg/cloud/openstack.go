package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/attachinterfaces"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/attributestags"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/opp-network/opp/pkg/util"
)

// Compile-time interface check
var _ Client = (*OpenStackClient)(nil)

// OpenStackClient implements Client against the Nova and Neutron APIs.
type OpenStackClient struct {
	compute *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
}

// NewOpenStackClient authenticates against the configured cloud and builds
// the compute and networking service clients.
func NewOpenStackClient(ctx context.Context, cfg *CloudConfig) (*OpenStackClient, error) {
	provider, err := openstack.AuthenticatedClient(ctx, cfg.AuthOptions())
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}

	endpointOpts := gophercloud.EndpointOpts{Region: cfg.Region}

	compute, err := openstack.NewComputeV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("creating compute client: %w", err)
	}

	network, err := openstack.NewNetworkV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("creating networking client: %w", err)
	}

	return &OpenStackClient{compute: compute, network: network}, nil
}

// GetServer looks up a compute server by name.
func (c *OpenStackClient) GetServer(ctx context.Context, name string) (*Server, error) {
	pages, err := servers.List(c.compute, servers.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}

	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("extracting servers: %w", err)
	}

	// Nova treats the name filter as a regex; match exactly.
	for _, s := range all {
		if s.Name == name {
			return &Server{ID: s.ID, Name: s.Name}, nil
		}
	}
	return nil, fmt.Errorf("server '%s': %w", name, util.ErrNotFound)
}

// GetSubnet looks up a subnet by name.
func (c *OpenStackClient) GetSubnet(ctx context.Context, name string) (*Subnet, error) {
	pages, err := subnets.List(c.network, subnets.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subnets: %w", err)
	}

	all, err := subnets.ExtractSubnets(pages)
	if err != nil {
		return nil, fmt.Errorf("extracting subnets: %w", err)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("subnet '%s': %w", name, util.ErrNotFound)
	}

	s := all[0]
	return &Subnet{ID: s.ID, Name: s.Name, NetworkID: s.NetworkID, CIDR: s.CIDR}, nil
}

// ListPorts returns all ports matching the filter.
func (c *OpenStackClient) ListPorts(ctx context.Context, filter PortFilter) ([]*Port, error) {
	opts := ports.ListOpts{DeviceID: filter.DeviceID}
	if len(filter.Tags) > 0 {
		opts.Tags = strings.Join(filter.Tags, ",")
	}

	pages, err := ports.List(c.network, opts).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}

	all, err := ports.ExtractPorts(pages)
	if err != nil {
		return nil, fmt.Errorf("extracting ports: %w", err)
	}

	result := make([]*Port, 0, len(all))
	for i := range all {
		result = append(result, portFromAPI(&all[i]))
	}
	return result, nil
}

// GetPort looks up a port by name.
func (c *OpenStackClient) GetPort(ctx context.Context, name string) (*Port, error) {
	pages, err := ports.List(c.network, ports.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing ports: %w", err)
	}

	all, err := ports.ExtractPorts(pages)
	if err != nil {
		return nil, fmt.Errorf("extracting ports: %w", err)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("port '%s': %w", name, util.ErrNotFound)
	}
	return portFromAPI(&all[0]), nil
}

// GetPortByID fetches a port by its identifier.
func (c *OpenStackClient) GetPortByID(ctx context.Context, id string) (*Port, error) {
	p, err := ports.Get(ctx, c.network, id).Extract()
	if err != nil {
		return nil, fmt.Errorf("getting port %s: %w", id, err)
	}
	return portFromAPI(p), nil
}

// CreatePort creates a new port.
func (c *OpenStackClient) CreatePort(ctx context.Context, req CreatePortRequest) (*Port, error) {
	fixedIPs := make([]ports.IP, 0, len(req.FixedIPs))
	for _, fip := range req.FixedIPs {
		fixedIPs = append(fixedIPs, ports.IP{SubnetID: fip.SubnetID, IPAddress: fip.IPAddress})
	}

	p, err := ports.Create(ctx, c.network, ports.CreateOpts{
		Name:      req.Name,
		NetworkID: req.NetworkID,
		FixedIPs:  fixedIPs,
	}).Extract()
	if err != nil {
		return nil, fmt.Errorf("creating port '%s': %w", req.Name, err)
	}
	return portFromAPI(p), nil
}

// DeletePort deletes a port by its identifier.
func (c *OpenStackClient) DeletePort(ctx context.Context, id string) error {
	if err := ports.Delete(ctx, c.network, id).ExtractErr(); err != nil {
		return fmt.Errorf("deleting port %s: %w", id, err)
	}
	return nil
}

// SetPortTags replaces the tag set on a port.
func (c *OpenStackClient) SetPortTags(ctx context.Context, id string, tags []string) error {
	_, err := attributestags.ReplaceAll(ctx, c.network, "ports", id,
		attributestags.ReplaceAllOpts{Tags: tags}).Extract()
	if err != nil {
		return fmt.Errorf("tagging port %s: %w", id, err)
	}
	return nil
}

// AttachInterface attaches a port to a server as a compute interface.
func (c *OpenStackClient) AttachInterface(ctx context.Context, serverID, portID string) error {
	_, err := attachinterfaces.Create(ctx, c.compute, serverID,
		attachinterfaces.CreateOpts{PortID: portID}).Extract()
	if err != nil {
		return fmt.Errorf("attaching port %s to server %s: %w", portID, serverID, err)
	}
	return nil
}

func portFromAPI(p *ports.Port) *Port {
	fixedIPs := make([]FixedIP, 0, len(p.FixedIPs))
	for _, fip := range p.FixedIPs {
		fixedIPs = append(fixedIPs, FixedIP{SubnetID: fip.SubnetID, IPAddress: fip.IPAddress})
	}
	return &Port{
		ID:         p.ID,
		Name:       p.Name,
		Status:     p.Status,
		MACAddress: p.MACAddress,
		FixedIPs:   fixedIPs,
		Tags:       p.Tags,
	}
}
