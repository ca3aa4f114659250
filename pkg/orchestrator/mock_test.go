package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
)

// mockStore is an in-memory DeploymentStore that records every update.
type mockStore struct {
	mu         sync.Mutex
	deployment *stores.Deployment
	updates    []stores.DeploymentUpdate
	getErr     error
	updateErr  error
}

func newMockStore(d *stores.Deployment) *mockStore {
	return &mockStore{deployment: d}
}

func (s *mockStore) GetDeployment(_ context.Context, id uuid.UUID) (*stores.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.deployment == nil || s.deployment.ID != id {
		return nil, stores.ErrNotFound
	}
	out := *s.deployment
	return &out, nil
}

func (s *mockStore) UpdateDeployment(_ context.Context, id uuid.UUID, upd stores.DeploymentUpdate) (*stores.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if s.deployment == nil || s.deployment.ID != id {
		return nil, stores.ErrNotFound
	}
	s.updates = append(s.updates, upd)
	if upd.Status != nil {
		s.deployment.Status = *upd.Status
		if *upd.Status == stores.StatusDeleted {
			now := time.Now().UTC()
			s.deployment.DeletedAt = &now
		}
		if (*upd.Status == stores.StatusCompleted || *upd.Status == stores.StatusDeleted) && upd.Error == nil {
			s.deployment.Error = nil
		}
	}
	if upd.Resources != nil {
		r := upd.Resources.Clone()
		s.deployment.Resources = &r
	}
	if upd.Error != nil {
		s.deployment.Error = upd.Error
	}
	if upd.ExtraMetadata != nil {
		s.deployment.ExtraMetadata = upd.ExtraMetadata
	}
	out := *s.deployment
	return &out, nil
}

func (s *mockStore) statuses() []stores.DeploymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stores.DeploymentStatus
	for _, u := range s.updates {
		if u.Status != nil {
			out = append(out, *u.Status)
		}
	}
	return out
}

func (s *mockStore) current() stores.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.deployment
}

func (s *mockStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// mockCloud is a configurable in-memory ResourceClient. All operations
// succeed by default; individual calls can be failed through the *Err
// function hooks.
type mockCloud struct {
	mu sync.Mutex

	networkSeq int
	subnetSeq  int
	serverSeq  int

	createdNetworks []string
	createdSubnets  []string
	createdServers  []string
	deletedNetworks []string
	deletedSubnets  []string
	deletedServers  []string
	resizedServers  map[string]string
	statusLookups   int

	// statuses overrides the status reported for a server. Servers without
	// an entry report ACTIVE.
	statuses map[string]string

	// addresses overrides the addresses reported for a server. Servers
	// without an entry report one synthetic address.
	addresses map[string][]string

	createNetworkErr func(name string) error
	createSubnetErr  func(name string) error
	createServerErr  func(name string) error
	deleteNetworkErr func(id string) error
	deleteSubnetErr  func(id string) error
	deleteServerErr  func(id string) error
	resizeServerErr  func(id string) error
	statusErr        func(id string) error
	addressesErr     func(id string) error
}

func newMockCloud() *mockCloud {
	return &mockCloud{
		resizedServers: make(map[string]string),
		statuses:       make(map[string]string),
		addresses:      make(map[string][]string),
	}
}

func (c *mockCloud) CreateNetwork(_ context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createNetworkErr != nil {
		if err := c.createNetworkErr(name); err != nil {
			return "", err
		}
	}
	c.networkSeq++
	id := fmt.Sprintf("net-%d", c.networkSeq)
	c.createdNetworks = append(c.createdNetworks, id)
	return id, nil
}

func (c *mockCloud) CreateSubnet(_ context.Context, name, networkID, cidr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createSubnetErr != nil {
		if err := c.createSubnetErr(name); err != nil {
			return "", err
		}
	}
	c.subnetSeq++
	id := fmt.Sprintf("subnet-%d", c.subnetSeq)
	c.createdSubnets = append(c.createdSubnets, id)
	return id, nil
}

func (c *mockCloud) DeleteNetwork(_ context.Context, networkID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedNetworks = append(c.deletedNetworks, networkID)
	if c.deleteNetworkErr != nil {
		return c.deleteNetworkErr(networkID)
	}
	return nil
}

func (c *mockCloud) DeleteSubnet(_ context.Context, subnetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedSubnets = append(c.deletedSubnets, subnetID)
	if c.deleteSubnetErr != nil {
		return c.deleteSubnetErr(subnetID)
	}
	return nil
}

func (c *mockCloud) CreateServer(_ context.Context, name, flavor, image, networkID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createServerErr != nil {
		if err := c.createServerErr(name); err != nil {
			return "", err
		}
	}
	c.serverSeq++
	id := fmt.Sprintf("srv-%d", c.serverSeq)
	c.createdServers = append(c.createdServers, id)
	return id, nil
}

func (c *mockCloud) DeleteServer(_ context.Context, serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedServers = append(c.deletedServers, serverID)
	if c.deleteServerErr != nil {
		return c.deleteServerErr(serverID)
	}
	return nil
}

func (c *mockCloud) ResizeServer(_ context.Context, serverID, flavor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resizeServerErr != nil {
		if err := c.resizeServerErr(serverID); err != nil {
			return err
		}
	}
	c.resizedServers[serverID] = flavor
	return nil
}

func (c *mockCloud) GetServerStatus(_ context.Context, serverID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusLookups++
	if c.statusErr != nil {
		if err := c.statusErr(serverID); err != nil {
			return "", err
		}
	}
	if s, ok := c.statuses[serverID]; ok {
		return s, nil
	}
	return ServerStatusActive, nil
}

func (c *mockCloud) ServerAddresses(_ context.Context, serverID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addressesErr != nil {
		if err := c.addressesErr(serverID); err != nil {
			return nil, err
		}
	}
	if a, ok := c.addresses[serverID]; ok {
		return a, nil
	}
	return []string{"10.0.0." + serverID[len(serverID)-1:]}, nil
}

func (c *mockCloud) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.createdNetworks) + len(c.createdSubnets) + len(c.createdServers) +
		len(c.deletedNetworks) + len(c.deletedSubnets) + len(c.deletedServers) +
		len(c.resizedServers) + c.statusLookups
}

// mockRunner is a configurable in-memory PlaybookRunner.
type mockRunner struct {
	mu        sync.Mutex
	requests  []PlaybookRequest
	result    *PlaybookResult
	runErr    error
	waitErr   error
	waitCalls int
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		result: &PlaybookResult{
			ExecutionID: "exec-1",
			Status:      PlaybookStatusSuccessful,
		},
	}
}

func (r *mockRunner) RunPlaybook(_ context.Context, req PlaybookRequest) (*PlaybookResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.runErr != nil {
		return nil, r.runErr
	}
	return r.result, nil
}

func (r *mockRunner) WaitForHosts(_ context.Context, hosts []string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitCalls++
	return r.waitErr
}

func (r *mockRunner) requestCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func newTestDeployment() *stores.Deployment {
	return &stores.Deployment{
		ID:          uuid.New(),
		Name:        "web-cluster",
		Status:      stores.StatusPending,
		CloudRegion: "region-one",
		Template: stores.Template{
			NetworkConfig: stores.NetworkConfig{CIDR: "192.168.1.0/24"},
			VMConfig:      stores.VMConfig{Flavor: "m1.small", Image: "ubuntu-22.04", Count: 2},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func newTestEngine(store *mockStore, cloud *mockCloud, runner *mockRunner) *Engine {
	return NewEngine(store, cloud, runner, Config{
		PollInterval: time.Millisecond,
		PollAttempts: 5,
	}, nil, nil, nil)
}
