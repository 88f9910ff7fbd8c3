package cloud

// Port status values as reported by Neutron.
const (
	PortStatusDown   = "DOWN"
	PortStatusActive = "ACTIVE"
)

// Server is the compute node the agent manages ports for.
type Server struct {
	ID   string
	Name string
}

// Subnet is a declared network segment.
type Subnet struct {
	ID        string
	Name      string
	NetworkID string
	CIDR      string
}

// FixedIP is the binding of a port to a subnet and address.
type FixedIP struct {
	SubnetID  string
	IPAddress string
}

// Port is a virtual network attachment point.
type Port struct {
	ID         string
	Name       string
	Status     string
	MACAddress string
	FixedIPs   []FixedIP
	Tags       []string
}

// PortFilter narrows ListPorts results. Zero fields are ignored.
type PortFilter struct {
	DeviceID string
	Tags     []string
}

// CreatePortRequest describes a port to be created.
type CreatePortRequest struct {
	Name      string
	NetworkID string
	FixedIPs  []FixedIP
}
