// Package cloud defines the OpenStack capability set the agent consumes and
// provides the gophercloud-backed implementation of it.
package cloud

import (
	"context"
	"fmt"
)

// Client is the port/subnet capability set consumed by the reconciler.
// Lookup operations return util.ErrNotFound (wrapped) when the named
// resource does not exist.
type Client interface {
	// GetServer looks up a compute server by name.
	GetServer(ctx context.Context, name string) (*Server, error)

	// GetSubnet looks up a subnet by name.
	GetSubnet(ctx context.Context, name string) (*Subnet, error)

	// ListPorts returns all ports matching the filter.
	ListPorts(ctx context.Context, filter PortFilter) ([]*Port, error)

	// GetPort looks up a port by name.
	GetPort(ctx context.Context, name string) (*Port, error)

	// GetPortByID fetches a port by its identifier.
	GetPortByID(ctx context.Context, id string) (*Port, error)

	// CreatePort creates a new port.
	CreatePort(ctx context.Context, req CreatePortRequest) (*Port, error)

	// DeletePort deletes a port by its identifier.
	DeletePort(ctx context.Context, id string) error

	// SetPortTags replaces the tag set on a port.
	SetPortTags(ctx context.Context, id string, tags []string) error

	// AttachInterface attaches a port to a server as a compute interface.
	AttachInterface(ctx context.Context, serverID, portID string) error
}

// ExpectedSubnets resolves subnet names to subnets keyed by ID. Any name
// that does not resolve fails the whole lookup.
func ExpectedSubnets(ctx context.Context, client Client, names []string) (map[string]*Subnet, error) {
	subnets := make(map[string]*Subnet, len(names))
	for _, name := range names {
		subnet, err := client.GetSubnet(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("looking up subnet %s: %w", name, err)
		}
		subnets[subnet.ID] = subnet
	}
	return subnets, nil
}
