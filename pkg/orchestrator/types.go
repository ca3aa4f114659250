package orchestrator

import (
	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
)

// Workflow names, used in logs, metrics, and the launch registry.
const (
	WorkflowProvision = "provision"
	WorkflowDelete    = "delete"
	WorkflowUpdate    = "update"
	WorkflowScale     = "scale"
	WorkflowConfigure = "configure"
)

// Scale operations reported in ScaleResult.Operation.
const (
	ScaleOpOut  = "scale-out"
	ScaleOpIn   = "scale-in"
	ScaleOpNone = "none"
)

// ProvisionInput is the input to the provision workflow.
type ProvisionInput struct {
	DeploymentID uuid.UUID         `validate:"required"`
	CloudRegion  string            `validate:"required"`
	Template     stores.Template   `validate:"required"`
	Parameters   stores.Parameters
}

// ProvisionResult is the outcome of the provision workflow.
type ProvisionResult struct {
	DeploymentID uuid.UUID
	Success      bool
	NetworkID    string
	SubnetID     string
	ServerIDs    []string
	Error        string
}

// DeleteInput is the input to the delete workflow.
type DeleteInput struct {
	DeploymentID uuid.UUID `validate:"required"`
	CloudRegion  string    `validate:"required"`
	Resources    stores.Resources
}

// DeleteResult is the outcome of the delete workflow.
type DeleteResult struct {
	DeploymentID     uuid.UUID
	Success          bool
	DeletedServerIDs []string
	Error            string
}

// UpdateInput is the input to the update workflow. Parameters may carry a
// new flavor, a new network CIDR, either, both, or neither.
type UpdateInput struct {
	DeploymentID uuid.UUID `validate:"required"`
	CloudRegion  string    `validate:"required"`
	Resources    stores.Resources
	Parameters   stores.Parameters
}

// UpdateResult is the outcome of the update workflow.
type UpdateResult struct {
	DeploymentID     uuid.UUID
	Success          bool
	Resources        *stores.Resources
	ResizedServerIDs []string
	Error            string
}

// ScaleInput is the input to the scale workflow.
type ScaleInput struct {
	DeploymentID uuid.UUID `validate:"required"`
	CloudRegion  string    `validate:"required"`
	CurrentCount int       `validate:"min=0"`
	TargetCount  int       `validate:"min=0"`
	MinCount     int       `validate:"min=0"`

	// MaxCount is the upper scaling bound. Nil means unbounded.
	MaxCount *int

	Resources stores.Resources
	Template  stores.Template
}

// ScaleResult is the outcome of the scale workflow. It always reports the
// initial and final counts and the concrete id lists that changed.
type ScaleResult struct {
	DeploymentID     uuid.UUID
	Success          bool
	Operation        string
	InitialCount     int
	FinalCount       int
	NewServerIDs     []string
	RemovedServerIDs []string
	Error            string
}

// ConfigureInput is the input to the configure workflow.
type ConfigureInput struct {
	DeploymentID uuid.UUID `validate:"required"`
	PlaybookPath string    `validate:"required"`
	ExtraVars    map[string]any
	Limit        string
	Resources    stores.Resources
}

// ConfigureResult is the outcome of the configure workflow.
type ConfigureResult struct {
	DeploymentID    uuid.UUID
	Success         bool
	ConfiguredHosts []string
	ExecutionID     string
	ReturnCode      *int
	Error           string
}
