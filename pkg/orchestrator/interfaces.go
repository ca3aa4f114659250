package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
)

// Server status values reported by the cloud resource API.
const (
	ServerStatusActive = "ACTIVE"
	ServerStatusBuild  = "BUILD"
	ServerStatusError  = "ERROR"
)

// ResourceClient is the logical contract for network and server lifecycle
// operations on the cloud provider. Implementations live in pkg/clients.
type ResourceClient interface {
	// CreateNetwork creates a network and returns its provider-assigned ID.
	CreateNetwork(ctx context.Context, name string) (string, error)

	// CreateSubnet creates a subnet on the given network and returns its ID.
	CreateSubnet(ctx context.Context, name, networkID, cidr string) (string, error)

	// DeleteNetwork deletes a network and its attached subnets.
	DeleteNetwork(ctx context.Context, networkID string) error

	// DeleteSubnet deletes a single subnet.
	DeleteSubnet(ctx context.Context, subnetID string) error

	// CreateServer boots a server attached to the given network and returns
	// its provider-assigned ID. The server may still be building on return.
	CreateServer(ctx context.Context, name, flavor, image, networkID string) (string, error)

	// DeleteServer deletes a server.
	DeleteServer(ctx context.Context, serverID string) error

	// ResizeServer resizes a server to a new flavor.
	ResizeServer(ctx context.Context, serverID, flavor string) error

	// GetServerStatus returns the current provider status of a server
	// (ACTIVE, BUILD, ERROR, ...).
	GetServerStatus(ctx context.Context, serverID string) (string, error)

	// ServerAddresses returns the IP addresses assigned to a server.
	ServerAddresses(ctx context.Context, serverID string) ([]string, error)
}

// DeploymentStore is the narrow persistence contract the engine needs.
// *stores.SQLiteStore satisfies it.
type DeploymentStore interface {
	GetDeployment(ctx context.Context, id uuid.UUID) (*stores.Deployment, error)
	UpdateDeployment(ctx context.Context, id uuid.UUID, upd stores.DeploymentUpdate) (*stores.Deployment, error)
}

// PlaybookStatus is the terminal status of a playbook execution.
type PlaybookStatus string

const (
	PlaybookStatusSuccessful PlaybookStatus = "successful"
	PlaybookStatusFailed     PlaybookStatus = "failed"
	PlaybookStatusTimeout    PlaybookStatus = "timeout"
)

// PlaybookRequest describes one playbook execution.
type PlaybookRequest struct {
	// PlaybookPath is the path to the playbook file.
	PlaybookPath string

	// Inventory is the list of target host addresses.
	Inventory []string

	// ExtraVars are passed to the playbook as extra variables.
	ExtraVars map[string]any

	// Limit restricts execution to a subset of the inventory, if non-empty.
	Limit string
}

// PlaybookResult is the outcome of one playbook execution.
type PlaybookResult struct {
	// ExecutionID uniquely identifies this execution.
	ExecutionID string

	// Status is the terminal execution status.
	Status PlaybookStatus

	// ReturnCode is the playbook process exit code.
	ReturnCode int

	// Stats holds per-host recap counters (ok, changed, failed, unreachable).
	Stats map[string]HostStats

	// ErrorOutput holds stderr or a failure summary when Status is not successful.
	ErrorOutput string

	// Duration is how long the execution took.
	Duration time.Duration
}

// HostStats are the per-host recap counters from a playbook run.
type HostStats struct {
	OK          int `json:"ok"`
	Changed     int `json:"changed"`
	Unreachable int `json:"unreachable"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// PlaybookRunner is the logical contract for the configuration-management
// runner. Implementations live in pkg/clients.
type PlaybookRunner interface {
	// RunPlaybook executes a playbook against the request's inventory.
	// A non-zero playbook exit is reported through the result status, not
	// through the error return; the error return is for failures to execute
	// at all.
	RunPlaybook(ctx context.Context, req PlaybookRequest) (*PlaybookResult, error)

	// WaitForHosts blocks until every host accepts SSH connections or the
	// timeout elapses.
	WaitForHosts(ctx context.Context, hosts []string, timeout time.Duration) error
}
