package endpoint

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Status is the remote platform's view of an endpoint. It is re-queried on
// demand and never cached locally.
type Status string

const (
	StatusCreating  Status = "Creating"
	StatusInService Status = "InService"
	StatusFailed    Status = "Failed"
	StatusDeleting  Status = "Deleting"
	StatusDeleted   Status = "Deleted"
)

// Descriptor identifies a hosted endpoint on the remote platform.
type Descriptor struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Variant is one instance pool inside an endpoint config. Order of variants
// is preserved for cost display.
type Variant struct {
	InstanceType  string `json:"instance_type"`
	InstanceCount int    `json:"instance_count"`
}

// Config is the deployment shape bound to an endpoint. Configs created
// through the deploy path are named after their endpoint.
type Config struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
}

// Spec is the input contract for provisioning a new endpoint.
type Spec struct {
	ModelID       string
	InstanceType  string
	InstanceCount int
	// EndpointName, when absent, is derived from a logical name plus a
	// process-start timestamp by the deployer.
	EndpointName mo.Option[string]
	// ExecutionRoleArn is the resolved provisioning identity. The deployer
	// fills it in after running the identity chain.
	ExecutionRoleArn string

	// Inference backend runtime options, passed into the container env.
	ServerTimeoutSeconds int
	MaxContextLength     int
	MaxNewTokens         int
	NumGPUs              int

	// Extra env vars are passed through opaquely to the inference backend.
	Extra map[string]string
}

const (
	DefaultInstanceCount        = 1
	DefaultServerTimeoutSeconds = 600
	DefaultMaxContextLength     = 4096
	DefaultMaxNewTokens         = 512
	DefaultNumGPUs              = 1
)

// WithDefaults fills unset numeric fields with their documented defaults.
func (s Spec) WithDefaults() Spec {
	if s.InstanceCount == 0 {
		s.InstanceCount = DefaultInstanceCount
	}
	if s.ServerTimeoutSeconds == 0 {
		s.ServerTimeoutSeconds = DefaultServerTimeoutSeconds
	}
	if s.MaxContextLength == 0 {
		s.MaxContextLength = DefaultMaxContextLength
	}
	if s.MaxNewTokens == 0 {
		s.MaxNewTokens = DefaultMaxNewTokens
	}
	if s.NumGPUs == 0 {
		s.NumGPUs = DefaultNumGPUs
	}
	return s
}

func (s Spec) Validate() error {
	missing := make([]string, 0)
	if s.ModelID == "" {
		missing = append(missing, "MODEL_ID")
	}
	if s.InstanceType == "" {
		missing = append(missing, "INSTANCE_TYPE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing fields: %v", ErrValidation, missing)
	}
	if s.InstanceCount < 0 {
		return fmt.Errorf("%w: instance count must be positive, got %d", ErrValidation, s.InstanceCount)
	}
	return nil
}

// Record is the sole persisted artifact: it binds a deployment session to
// its endpoint name so a later process can find and tear it down. Written
// once after a successful deployment, never mutated.
type Record struct {
	EndpointName string `json:"endpoint_name"`
	InstanceType string `json:"instance_type,omitempty"`
	Region       string `json:"region,omitempty"`
	DeployedAt   string `json:"deployed_at,omitempty"`
}
