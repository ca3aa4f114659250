package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus represents the lifecycle status of a deployment.
type DeploymentStatus string

const (
	// StatusPending indicates the deployment record exists but no workflow has started.
	StatusPending DeploymentStatus = "PENDING"

	// StatusInProgress indicates a workflow is currently executing against the deployment.
	StatusInProgress DeploymentStatus = "IN_PROGRESS"

	// StatusCompleted indicates the last workflow run finished successfully.
	StatusCompleted DeploymentStatus = "COMPLETED"

	// StatusFailed indicates the last workflow run failed.
	StatusFailed DeploymentStatus = "FAILED"

	// StatusDeleting indicates infrastructure teardown is in progress.
	StatusDeleting DeploymentStatus = "DELETING"

	// StatusDeleted indicates the deployment's infrastructure has been removed.
	StatusDeleted DeploymentStatus = "DELETED"
)

// IsTerminal returns true if the status represents a final state for a workflow run.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// IsActive returns true if the deployment still has live infrastructure or may get some.
func (s DeploymentStatus) IsActive() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted
}

// IsDeletable returns true if a delete workflow may be launched from this status.
func (s DeploymentStatus) IsDeletable() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Validate checks if the deployment status is valid.
func (s DeploymentStatus) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted,
		StatusFailed, StatusDeleting, StatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid deployment status: %s", s)
	}
}

// UnmarshalJSON implements JSON unmarshaling with validation.
func (s *DeploymentStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = DeploymentStatus(str)
	return s.Validate()
}

// NetworkConfig describes the network shape requested by a template.
type NetworkConfig struct {
	// CIDR is the subnet CIDR block (e.g. "192.168.1.0/24").
	CIDR string `json:"cidr" yaml:"cidr"`
}

// VMConfig describes the virtual machine shape requested by a template.
type VMConfig struct {
	// Flavor is the compute flavor name or ID (e.g. "m1.small").
	Flavor string `json:"flavor" yaml:"flavor"`

	// Image is the boot image name or ID (e.g. "ubuntu-22.04").
	Image string `json:"image" yaml:"image"`

	// Count is the number of VMs to create.
	Count int `json:"count" yaml:"count"`
}

// Template describes the desired infrastructure shape for a deployment.
// It is immutable after deployment creation.
type Template struct {
	NetworkConfig NetworkConfig `json:"network_config" yaml:"network_config"`
	VMConfig      VMConfig      `json:"vm_config" yaml:"vm_config"`
}

// Parameters holds user-supplied overrides applied on top of the template.
type Parameters struct {
	// VMCount overrides the template VM count when set.
	VMCount *int `json:"vm_count,omitempty" yaml:"vm_count,omitempty"`

	// Flavor overrides the template flavor when non-empty.
	Flavor string `json:"flavor,omitempty" yaml:"flavor,omitempty"`

	// Image overrides the template image when non-empty.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// NetworkCIDR requests a subnet CIDR change on update workflows.
	NetworkCIDR string `json:"network_cidr,omitempty" yaml:"network_cidr,omitempty"`

	// MinCount is the lower scaling bound.
	MinCount *int `json:"min_count,omitempty" yaml:"min_count,omitempty"`

	// MaxCount is the upper scaling bound. Nil means unbounded.
	MaxCount *int `json:"max_count,omitempty" yaml:"max_count,omitempty"`
}

// Resources records the provider-assigned identifiers that exist for a
// deployment. It is the durable record of "what exists": every workflow reads
// it to learn current state and writes it to record new state.
//
// Extra preserves caller-set keys that the engine does not interpret, so a
// merge-and-rewrite never loses them.
type Resources struct {
	NetworkID string   `json:"-"`
	SubnetID  string   `json:"-"`
	ServerIDs []string `json:"-"`
	Extra     map[string]any
}

// VMCount returns the current number of servers recorded for the deployment.
func (r Resources) VMCount() int {
	return len(r.ServerIDs)
}

// IsEmpty returns true when no provider resources are recorded.
func (r Resources) IsEmpty() bool {
	return r.NetworkID == "" && r.SubnetID == "" && len(r.ServerIDs) == 0
}

// Clone returns a deep copy, so workflow merges never alias the original.
func (r Resources) Clone() Resources {
	out := Resources{
		NetworkID: r.NetworkID,
		SubnetID:  r.SubnetID,
	}
	if r.ServerIDs != nil {
		out.ServerIDs = append([]string(nil), r.ServerIDs...)
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON flattens the known fields and the extra keys into one object.
func (r Resources) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		m[k] = v
	}
	if r.NetworkID != "" {
		m["network_id"] = r.NetworkID
	}
	if r.SubnetID != "" {
		m["subnet_id"] = r.SubnetID
	}
	if r.ServerIDs != nil {
		m["server_ids"] = r.ServerIDs
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits known fields from caller-set extra keys.
func (r *Resources) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Resources{}
	for k, v := range raw {
		switch k {
		case "network_id":
			if err := json.Unmarshal(v, &r.NetworkID); err != nil {
				return fmt.Errorf("resources: network_id: %w", err)
			}
		case "subnet_id":
			if err := json.Unmarshal(v, &r.SubnetID); err != nil {
				return fmt.Errorf("resources: subnet_id: %w", err)
			}
		case "server_ids":
			if err := json.Unmarshal(v, &r.ServerIDs); err != nil {
				return fmt.Errorf("resources: server_ids: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("resources: %s: %w", k, err)
			}
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[k] = val
		}
	}
	return nil
}

// ErrorInfo is the structured error payload stored alongside a FAILED status.
// Only the fields relevant to the failing workflow are set.
type ErrorInfo struct {
	// Message is the human-readable error message. Always set.
	Message string `json:"message"`

	// Type is the error classification recorded by the provision workflow.
	Type string `json:"type,omitempty"`

	// Phase identifies the failing workflow phase ("deletion", "update").
	Phase string `json:"phase,omitempty"`

	// Operation identifies the failing scale operation ("scale-out", "scale-in").
	Operation string `json:"operation,omitempty"`

	// AnsibleExecutionID is the playbook execution that failed, if any.
	AnsibleExecutionID string `json:"ansible_execution_id,omitempty"`

	// ReturnCode is the playbook process exit code, if any.
	ReturnCode *int `json:"return_code,omitempty"`
}

// ExtraMetadata holds auxiliary state recorded by workflows outside the
// resources mapping, such as configuration history.
type ExtraMetadata struct {
	// ConfiguredHosts are the host addresses touched by the last playbook run.
	ConfiguredHosts []string `json:"configured_hosts,omitempty"`

	// LastExecutionID is the id of the last playbook execution.
	LastExecutionID string `json:"last_execution_id,omitempty"`

	// LastConfiguredAt is when the last successful configuration finished.
	LastConfiguredAt *time.Time `json:"last_configured_at,omitempty"`
}

// Deployment is the persistent record of one infrastructure deployment.
type Deployment struct {
	// ID is the unique identifier for this deployment.
	ID uuid.UUID `json:"id"`

	// Name is the human-readable deployment name.
	Name string `json:"name"`

	// Status is the current lifecycle status.
	Status DeploymentStatus `json:"status"`

	// CloudRegion is the target cloud region.
	CloudRegion string `json:"cloud_region"`

	// Template is the desired infrastructure shape.
	Template Template `json:"template"`

	// Parameters are the user-provided overrides.
	Parameters Parameters `json:"parameters"`

	// Resources are the provider-assigned resource identifiers, if any.
	Resources *Resources `json:"resources,omitempty"`

	// Error holds failure details when Status is FAILED.
	Error *ErrorInfo `json:"error,omitempty"`

	// ExtraMetadata holds auxiliary workflow state.
	ExtraMetadata *ExtraMetadata `json:"extra_metadata,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// DeletedAt is set when the status transitions to DELETED.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CurrentVMCount returns the number of servers recorded on the deployment.
func (d *Deployment) CurrentVMCount() int {
	if d.Resources == nil {
		return 0
	}
	return d.Resources.VMCount()
}

// DeploymentUpdate describes a partial update to a deployment record.
// Nil fields are left untouched.
type DeploymentUpdate struct {
	Status        *DeploymentStatus
	Resources     *Resources
	Error         *ErrorInfo
	ExtraMetadata *ExtraMetadata
}

// ListFilter narrows ListDeployments and CountDeployments results.
type ListFilter struct {
	Status      *DeploymentStatus
	CloudRegion string
	Limit       int
	Offset      int
}

// Store defines the persistence contract for deployment records.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error)
	UpdateDeployment(ctx context.Context, id uuid.UUID, upd DeploymentUpdate) (*Deployment, error)
	ListDeployments(ctx context.Context, filter ListFilter) ([]*Deployment, error)
	CountDeployments(ctx context.Context, filter ListFilter) (int, error)
	DeleteDeployment(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
