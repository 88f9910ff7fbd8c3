// Package testutil provides shared test fixtures, most notably an in-memory
// fake of the cloud client.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/opp-network/opp/pkg/cloud"
	"github.com/opp-network/opp/pkg/util"
)

// Compile-time interface check
var _ cloud.Client = (*FakeClient)(nil)

// FakeClient is an in-memory cloud.Client with injectable failures and call
// counters for asserting the reconciliation protocol.
type FakeClient struct {
	mu sync.Mutex

	servers     map[string]*cloud.Server // by name
	subnets     map[string]*cloud.Subnet // by name
	ports       map[string]*cloud.Port   // by id
	attachments map[string]string        // port id -> server id

	nextID int

	// NextIP pins the address allocated for the next port created on a
	// subnet id. Unpinned subnets get sequential 192.0.2.x addresses.
	NextIP map[string]string

	// StatusSequence makes successive GetPortByID calls for a port id walk
	// these statuses before settling on the stored one.
	StatusSequence map[string][]string

	// Injectable failures.
	CreateErr error
	AttachErr error
	TagErr    error
	DeleteErr map[string]error // by port id

	// Call counters.
	CreateCalls  int
	AttachCalls  int
	TagCalls     int
	DeleteCalls  int
	GetByIDCalls int
}

// NewFakeClient returns an empty fake cloud.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		servers:        make(map[string]*cloud.Server),
		subnets:        make(map[string]*cloud.Subnet),
		ports:          make(map[string]*cloud.Port),
		attachments:    make(map[string]string),
		NextIP:         make(map[string]string),
		StatusSequence: make(map[string][]string),
		DeleteErr:      make(map[string]error),
	}
}

// AddServer registers a server.
func (f *FakeClient) AddServer(s *cloud.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[s.Name] = s
}

// AddSubnet registers a subnet.
func (f *FakeClient) AddSubnet(s *cloud.Subnet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subnets[s.Name] = s
}

// AddPort registers a port, optionally attached to a server.
func (f *FakeClient) AddPort(p *cloud.Port, serverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[p.ID] = p
	if serverID != "" {
		f.attachments[p.ID] = serverID
	}
}

// Port returns the stored port by id, or nil.
func (f *FakeClient) Port(id string) *cloud.Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[id]
}

// PortCount returns the number of stored ports.
func (f *FakeClient) PortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ports)
}

// AttachedServer returns the server id a port is attached to, or "".
func (f *FakeClient) AttachedServer(portID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachments[portID]
}

func (f *FakeClient) GetServer(_ context.Context, name string) (*cloud.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[name]
	if !ok {
		return nil, fmt.Errorf("server '%s': %w", name, util.ErrNotFound)
	}
	return s, nil
}

func (f *FakeClient) GetSubnet(_ context.Context, name string) (*cloud.Subnet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subnets[name]
	if !ok {
		return nil, fmt.Errorf("subnet '%s': %w", name, util.ErrNotFound)
	}
	return s, nil
}

func (f *FakeClient) ListPorts(_ context.Context, filter cloud.PortFilter) ([]*cloud.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*cloud.Port
	for id, p := range f.ports {
		if filter.DeviceID != "" && f.attachments[id] != filter.DeviceID {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(p.Tags, filter.Tags) {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (f *FakeClient) GetPort(_ context.Context, name string) (*cloud.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.ports {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("port '%s': %w", name, util.ErrNotFound)
}

func (f *FakeClient) GetPortByID(_ context.Context, id string) (*cloud.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetByIDCalls++

	p, ok := f.ports[id]
	if !ok {
		return nil, fmt.Errorf("port %s: %w", id, util.ErrNotFound)
	}

	if seq := f.StatusSequence[id]; len(seq) > 0 {
		status := seq[0]
		f.StatusSequence[id] = seq[1:]
		copied := *p
		copied.Status = status
		return &copied, nil
	}
	return p, nil
}

func (f *FakeClient) CreatePort(_ context.Context, req cloud.CreatePortRequest) (*cloud.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.nextID++
	p := &cloud.Port{
		ID:         fmt.Sprintf("port-%d", f.nextID),
		Name:       req.Name,
		Status:     cloud.PortStatusDown,
		MACAddress: fmt.Sprintf("fa:16:3e:00:00:%02x", f.nextID),
	}
	for _, fip := range req.FixedIPs {
		ip := fip.IPAddress
		if ip == "" {
			if pinned, ok := f.NextIP[fip.SubnetID]; ok {
				ip = pinned
				delete(f.NextIP, fip.SubnetID)
			} else {
				ip = fmt.Sprintf("192.0.2.%d", f.nextID)
			}
		}
		p.FixedIPs = append(p.FixedIPs, cloud.FixedIP{SubnetID: fip.SubnetID, IPAddress: ip})
	}

	f.ports[p.ID] = p
	return p, nil
}

func (f *FakeClient) DeletePort(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++

	if err := f.DeleteErr[id]; err != nil {
		return err
	}
	if _, ok := f.ports[id]; !ok {
		return fmt.Errorf("port %s: %w", id, util.ErrNotFound)
	}
	delete(f.ports, id)
	delete(f.attachments, id)
	return nil
}

func (f *FakeClient) SetPortTags(_ context.Context, id string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TagCalls++

	if f.TagErr != nil {
		return f.TagErr
	}
	p, ok := f.ports[id]
	if !ok {
		return fmt.Errorf("port %s: %w", id, util.ErrNotFound)
	}
	p.Tags = append([]string(nil), tags...)
	return nil
}

func (f *FakeClient) AttachInterface(_ context.Context, serverID, portID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AttachCalls++

	if f.AttachErr != nil {
		return f.AttachErr
	}
	if _, ok := f.ports[portID]; !ok {
		return fmt.Errorf("port %s: %w", portID, util.ErrNotFound)
	}
	f.attachments[portID] = serverID
	return nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}
