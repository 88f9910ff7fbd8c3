// Package netconfig renders per-interface host network configuration from
// per-subnet templates and applies it via an external command.
package netconfig

import (
	"fmt"

	"github.com/opp-network/opp/pkg/cloud"
	"github.com/opp-network/opp/pkg/util"
)

// Handler generates host network configuration for a set of ports and
// applies it when something changed.
type Handler interface {
	// Create renders one config file per port bound to an expected subnet.
	// Files that already exist are never rewritten.
	Create(ports []*cloud.Port, subnets map[string]*cloud.Subnet, destDir, templatesDir string) error

	// Apply pushes the rendered configuration to the host. It is a no-op
	// unless Create wrote at least one new file since the last successful
	// apply.
	Apply() error
}

// Type selects a config handler implementation.
type Type string

// Supported handler types.
const (
	TypeNetplan Type = "netplan"
)

// Options tunes a handler. Zero values select the defaults.
type Options struct {
	// ApplyCmd overrides the handler's default apply command.
	ApplyCmd []string

	// FilePrefix is the middle token of generated config file names
	// ("51-{prefix}-{interface}.yaml"). Defaults to "opp".
	FilePrefix string
}

// New returns the handler for the given type.
func New(t Type, opts Options) (Handler, error) {
	switch t {
	case TypeNetplan:
		return NewNetplanHandler(opts), nil
	}
	return nil, fmt.Errorf("networking config type '%s': %w", t, util.ErrInvalidConfig)
}
