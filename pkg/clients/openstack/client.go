// Package openstack implements the cloud resource client on top of the
// OpenStack compute and networking APIs via gophercloud.
package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// Config holds the OpenStack credentials and scope for one client.
type Config struct {
	// AuthURL is the Keystone identity endpoint.
	AuthURL string `yaml:"auth_url" validate:"required,url"`

	// Username and Password authenticate against Keystone.
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`

	// ProjectName scopes the token to a project.
	ProjectName string `yaml:"project_name" validate:"required"`

	// DomainName is the Keystone domain, defaulting to "Default".
	DomainName string `yaml:"domain_name"`

	// Region selects the service catalog region.
	Region string `yaml:"region" validate:"required"`
}

// Client talks to the OpenStack compute and networking services. It
// implements orchestrator.ResourceClient.
type Client struct {
	compute *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

var _ orchestrator.ResourceClient = (*Client)(nil)

// NewClient authenticates against Keystone and builds service clients for
// the configured region.
func NewClient(ctx context.Context, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) (*Client, error) {
	domain := cfg.DomainName
	if domain == "" {
		domain = "Default"
	}

	provider, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: cfg.AuthURL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TenantName:       cfg.ProjectName,
		DomainName:       domain,
		AllowReauth:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("keystone authentication failed: %w", err)
	}

	endpointOpts := gophercloud.EndpointOpts{Region: cfg.Region}
	compute, err := openstack.NewComputeV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute client: %w", err)
	}
	network, err := openstack.NewNetworkV2(provider, endpointOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to build networking client: %w", err)
	}

	if log == nil {
		log = telemetry.Nop()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Client{
		compute: compute,
		network: network,
		log:     log.NewComponentLogger("openstack"),
		metrics: metrics,
	}, nil
}

// CreateNetwork creates a network and returns its ID.
func (c *Client) CreateNetwork(ctx context.Context, name string) (string, error) {
	timer := telemetry.NewTimer()
	n, err := networks.Create(ctx, c.network, networks.CreateOpts{
		Name:         name,
		AdminStateUp: gophercloud.Enabled,
	}).Extract()
	if err != nil {
		c.metrics.RecordResourceOpError("network", "create")
		return "", fmt.Errorf("create network %q: %w", name, err)
	}
	c.metrics.RecordResourceOp("network", "create", timer.Duration())
	c.log.Debugf("created network %s (%s)", name, n.ID)
	return n.ID, nil
}

// CreateSubnet creates a subnet on the given network and returns its ID.
func (c *Client) CreateSubnet(ctx context.Context, name, networkID, cidr string) (string, error) {
	timer := telemetry.NewTimer()
	s, err := subnets.Create(ctx, c.network, subnets.CreateOpts{
		Name:      name,
		NetworkID: networkID,
		CIDR:      cidr,
		IPVersion: gophercloud.IPv4,
	}).Extract()
	if err != nil {
		c.metrics.RecordResourceOpError("subnet", "create")
		return "", fmt.Errorf("create subnet %q on network %s: %w", name, networkID, err)
	}
	c.metrics.RecordResourceOp("subnet", "create", timer.Duration())
	c.log.Debugf("created subnet %s (%s)", name, s.ID)
	return s.ID, nil
}

// DeleteNetwork deletes a network. OpenStack removes attached subnets with it.
func (c *Client) DeleteNetwork(ctx context.Context, networkID string) error {
	timer := telemetry.NewTimer()
	if err := networks.Delete(ctx, c.network, networkID).ExtractErr(); err != nil {
		c.metrics.RecordResourceOpError("network", "delete")
		return fmt.Errorf("delete network %s: %w", networkID, err)
	}
	c.metrics.RecordResourceOp("network", "delete", timer.Duration())
	return nil
}

// DeleteSubnet deletes a single subnet.
func (c *Client) DeleteSubnet(ctx context.Context, subnetID string) error {
	timer := telemetry.NewTimer()
	if err := subnets.Delete(ctx, c.network, subnetID).ExtractErr(); err != nil {
		c.metrics.RecordResourceOpError("subnet", "delete")
		return fmt.Errorf("delete subnet %s: %w", subnetID, err)
	}
	c.metrics.RecordResourceOp("subnet", "delete", timer.Duration())
	return nil
}

// CreateServer boots a server on the given network and returns its ID
// without waiting for it to become active.
func (c *Client) CreateServer(ctx context.Context, name, flavor, image, networkID string) (string, error) {
	timer := telemetry.NewTimer()
	s, err := servers.Create(ctx, c.compute, servers.CreateOpts{
		Name:      name,
		FlavorRef: flavor,
		ImageRef:  image,
		Networks:  []servers.Network{{UUID: networkID}},
	}, nil).Extract()
	if err != nil {
		c.metrics.RecordResourceOpError("server", "create")
		return "", fmt.Errorf("create server %q: %w", name, err)
	}
	c.metrics.RecordResourceOp("server", "create", timer.Duration())
	c.log.Debugf("created server %s (%s)", name, s.ID)
	return s.ID, nil
}

// DeleteServer deletes a server.
func (c *Client) DeleteServer(ctx context.Context, serverID string) error {
	timer := telemetry.NewTimer()
	if err := servers.Delete(ctx, c.compute, serverID).ExtractErr(); err != nil {
		c.metrics.RecordResourceOpError("server", "delete")
		return fmt.Errorf("delete server %s: %w", serverID, err)
	}
	c.metrics.RecordResourceOp("server", "delete", timer.Duration())
	return nil
}

// ResizeServer resizes a server to a new flavor.
func (c *Client) ResizeServer(ctx context.Context, serverID, flavor string) error {
	timer := telemetry.NewTimer()
	if err := servers.Resize(ctx, c.compute, serverID, servers.ResizeOpts{
		FlavorRef: flavor,
	}).ExtractErr(); err != nil {
		c.metrics.RecordResourceOpError("server", "resize")
		return fmt.Errorf("resize server %s to %s: %w", serverID, flavor, err)
	}
	c.metrics.RecordResourceOp("server", "resize", timer.Duration())
	return nil
}

// GetServerStatus returns the provider status of a server (ACTIVE, BUILD,
// ERROR, ...).
func (c *Client) GetServerStatus(ctx context.Context, serverID string) (string, error) {
	s, err := servers.Get(ctx, c.compute, serverID).Extract()
	if err != nil {
		return "", fmt.Errorf("get server %s: %w", serverID, err)
	}
	return s.Status, nil
}

// ServerAddresses flattens the per-network address map of a server into a
// single list of IPs, fixed addresses first.
func (c *Client) ServerAddresses(ctx context.Context, serverID string) ([]string, error) {
	s, err := servers.Get(ctx, c.compute, serverID).Extract()
	if err != nil {
		return nil, fmt.Errorf("get server %s: %w", serverID, err)
	}
	return flattenAddresses(s.Addresses), nil
}

// flattenAddresses walks the nova addresses structure:
// {network-name: [{"addr": "10.0.0.5", "OS-EXT-IPS:type": "fixed", ...}]}.
func flattenAddresses(addresses map[string]any) []string {
	var fixed, floating []string
	for _, entries := range addresses {
		list, ok := entries.([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			addr, ok := m["addr"].(string)
			if !ok || addr == "" {
				continue
			}
			if t, _ := m["OS-EXT-IPS:type"].(string); t == "floating" {
				floating = append(floating, addr)
			} else {
				fixed = append(fixed, addr)
			}
		}
	}
	return append(fixed, floating...)
}
