package cloud

import (
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"gopkg.in/ini.v1"

	"github.com/opp-network/opp/pkg/util"
)

// CloudConfig is the [Global] section of the OpenStack cloud-provider
// cloud.config file, the same file the OpenStack CCM reads.
type CloudConfig struct {
	AuthURL                     string `ini:"auth-url"`
	Username                    string `ini:"username"`
	UserID                      string `ini:"user-id"`
	Password                    string `ini:"password"`
	TenantID                    string `ini:"tenant-id"`
	TenantName                  string `ini:"tenant-name"`
	DomainID                    string `ini:"domain-id"`
	DomainName                  string `ini:"domain-name"`
	UserDomainName              string `ini:"user-domain-name"`
	Region                      string `ini:"region"`
	ApplicationCredentialID     string `ini:"application-credential-id"`
	ApplicationCredentialName   string `ini:"application-credential-name"`
	ApplicationCredentialSecret string `ini:"application-credential-secret"`
}

// LoadCloudConfig reads and parses a cloud.config file. Both the CCM's
// capitalized [Global] section and a lowercase [global] section are accepted.
func LoadCloudConfig(path string) (*CloudConfig, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading cloud config %s: %w", path, err)
	}

	section := file.Section("Global")
	if len(section.Keys()) == 0 {
		section = file.Section("global")
	}
	if len(section.Keys()) == 0 {
		return nil, fmt.Errorf("cloud config %s: %w: no [Global] section", path, util.ErrInvalidConfig)
	}

	cfg := &CloudConfig{}
	if err := section.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("parsing cloud config %s: %w", path, err)
	}

	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("cloud config %s: %w: auth-url is required", path, util.ErrInvalidConfig)
	}

	return cfg, nil
}

// AuthOptions converts the cloud config into gophercloud auth options.
// Application-credential auth is selected when a credential id or name is set.
func (c *CloudConfig) AuthOptions() gophercloud.AuthOptions {
	ao := gophercloud.AuthOptions{
		IdentityEndpoint: c.AuthURL,
		AllowReauth:      true,
	}

	if c.ApplicationCredentialID != "" || c.ApplicationCredentialName != "" {
		ao.ApplicationCredentialID = c.ApplicationCredentialID
		ao.ApplicationCredentialName = c.ApplicationCredentialName
		ao.ApplicationCredentialSecret = c.ApplicationCredentialSecret
		// Named application credentials still need the owning user.
		if c.ApplicationCredentialName != "" {
			ao.Username = c.Username
			ao.UserID = c.UserID
			ao.DomainName = c.userDomain()
			ao.DomainID = c.DomainID
		}
		return ao
	}

	ao.Username = c.Username
	ao.UserID = c.UserID
	ao.Password = c.Password
	ao.TenantID = c.TenantID
	ao.TenantName = c.TenantName
	ao.DomainID = c.DomainID
	ao.DomainName = c.userDomain()
	return ao
}

func (c *CloudConfig) userDomain() string {
	if c.UserDomainName != "" {
		return c.UserDomainName
	}
	return c.DomainName
}
