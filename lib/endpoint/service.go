package endpoint

import "context"

// Registry is the control-plane contract against the hosting platform.
// CreateEndpoint blocks until the endpoint reaches a terminal status or the
// platform-side timeout elapses.
type Registry interface {
	ListEndpoints(ctx context.Context, max int) ([]Descriptor, error)
	DescribeConfig(ctx context.Context, name string) (Config, error)
	CreateEndpoint(ctx context.Context, spec Spec) (Descriptor, error)
	DeleteEndpoint(ctx context.Context, name string) error
	DeleteConfig(ctx context.Context, name string) error
}

// Invoker is the data-plane contract: one synchronous request/response
// against the inference backend. Used only for smoke testing; no retries.
type Invoker interface {
	Invoke(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// InvocationRequest is the JSON wire payload the inference backend accepts.
type InvocationRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters GenerationParams `json:"parameters"`
}

type GenerationParams struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	DoSample       bool    `json:"do_sample"`
	ReturnFullText bool    `json:"return_full_text"`
}
