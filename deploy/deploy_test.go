package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smctl/lib/clock"
	"smctl/lib/endpoint"
	"smctl/record"
)

type fakeRegistry struct {
	created    []endpoint.Spec
	createErr  error
	lastStatus endpoint.Status
}

func (f *fakeRegistry) ListEndpoints(ctx context.Context, max int) ([]endpoint.Descriptor, error) {
	panic("not used")
}

func (f *fakeRegistry) DescribeConfig(ctx context.Context, name string) (endpoint.Config, error) {
	panic("not used")
}

func (f *fakeRegistry) CreateEndpoint(ctx context.Context, spec endpoint.Spec) (endpoint.Descriptor, error) {
	f.created = append(f.created, spec)
	if f.createErr != nil {
		return endpoint.Descriptor{}, f.createErr
	}
	name, _ := spec.EndpointName.Get()
	return endpoint.Descriptor{Name: name, Status: endpoint.StatusInService, CreatedAt: time.Now()}, nil
}

func (f *fakeRegistry) DeleteEndpoint(ctx context.Context, name string) error { panic("not used") }
func (f *fakeRegistry) DeleteConfig(ctx context.Context, name string) error   { panic("not used") }

type fakeInvoker struct {
	payloads [][]byte
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`[{"generated_text": "SELECT * FROM customers;"}]`), nil
}

type staticResolver struct {
	arn string
	err error
}

func (s staticResolver) Resolve(ctx context.Context) (string, error) {
	return s.arn, s.err
}

var testClock = clock.Fixed{At: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)}

func newTestDeployer(t *testing.T, registry *fakeRegistry, invoker *fakeInvoker) Deployer {
	return NewDeployer(registry, invoker, staticResolver{arn: "arn:aws:iam::123:role/test"},
		testClock, zap.NewNop(), "us-east-1", "",
		filepath.Join(t.TempDir(), "endpoint_info.json"))
}

func testSpec() endpoint.Spec {
	return endpoint.Spec{
		ModelID:      "defog/sqlcoder-7b-2",
		InstanceType: "ml.g5.2xlarge",
	}
}

func TestDeploySuccess(t *testing.T) {
	registry := &fakeRegistry{}
	invoker := &fakeInvoker{}
	d := newTestDeployer(t, registry, invoker)

	res := d.Deploy(context.Background(), testSpec())
	require.Equal(t, Success, res.Status)
	assert.NoError(t, res.Err)
	assert.NoError(t, res.SmokeErr)
	assert.NoError(t, res.RecordErr)
	assert.Equal(t, "better-sql-agent-20240102-150405", res.EndpointName)

	// Defaults filled in before the spec reached the registry.
	require.Len(t, registry.created, 1)
	spec := registry.created[0]
	assert.Equal(t, 1, spec.InstanceCount)
	assert.Equal(t, 600, spec.ServerTimeoutSeconds)
	assert.Equal(t, 4096, spec.MaxContextLength)
	assert.Equal(t, "arn:aws:iam::123:role/test", spec.ExecutionRoleArn)

	// Exactly one smoke invocation, with the fixed sample prompt.
	require.Len(t, invoker.payloads, 1)
	var req endpoint.InvocationRequest
	require.NoError(t, json.Unmarshal(invoker.payloads[0], &req))
	assert.Equal(t, "Generate a SQL query to find all customers:", req.Inputs)
	assert.Equal(t, 100, req.Parameters.MaxNewTokens)
	assert.False(t, req.Parameters.ReturnFullText)
}

func TestDeployWritesRecord(t *testing.T) {
	registry := &fakeRegistry{}
	path := filepath.Join(t.TempDir(), "endpoint_info.json")
	d := NewDeployer(registry, &fakeInvoker{}, staticResolver{arn: "arn:aws:iam::123:role/test"},
		testClock, zap.NewNop(), "us-east-1", "", path)

	res := d.Deploy(context.Background(), testSpec())
	require.Equal(t, Success, res.Status)

	// The record written here must be readable by a later cleanup session
	// and name the same endpoint.
	rec, err := record.Load(path)
	require.NoError(t, err)
	assert.Equal(t, res.EndpointName, rec.EndpointName)
	assert.Equal(t, "ml.g5.2xlarge", rec.InstanceType)
	assert.Equal(t, "us-east-1", rec.Region)
	assert.Equal(t, "2024-01-02T15:04:05", rec.DeployedAt)
}

func TestGeneratedNameCollidesWithinSameSecond(t *testing.T) {
	registry := &fakeRegistry{}
	d := newTestDeployer(t, registry, &fakeInvoker{})

	// Name generation has second granularity: two deployments issued within
	// the same second produce the same name. The platform's uniqueness check
	// is the only guard; documented behavior, not a bug to fix here.
	first := d.Deploy(context.Background(), testSpec())
	second := d.Deploy(context.Background(), testSpec())
	assert.Equal(t, first.EndpointName, second.EndpointName)
}

func TestExplicitNameKept(t *testing.T) {
	registry := &fakeRegistry{}
	d := newTestDeployer(t, registry, &fakeInvoker{})
	spec := testSpec()
	spec.EndpointName = mo.Some("my-endpoint")
	res := d.Deploy(context.Background(), spec)
	require.Equal(t, Success, res.Status)
	assert.Equal(t, "my-endpoint", res.EndpointName)
}

func TestSmokeFailureDoesNotFailDeploy(t *testing.T) {
	registry := &fakeRegistry{}
	invoker := &fakeInvoker{err: fmt.Errorf("%w: failed to invoke endpoint: timeout", endpoint.ErrClient)}
	d := newTestDeployer(t, registry, invoker)

	res := d.Deploy(context.Background(), testSpec())
	assert.Equal(t, Success, res.Status)
	assert.Error(t, res.SmokeErr)
	// Exactly one attempt; the smoke test retry budget is zero.
	assert.Len(t, invoker.payloads, 1)
}

func TestRecordFailureDoesNotFailDeploy(t *testing.T) {
	registry := &fakeRegistry{}
	d := NewDeployer(registry, &fakeInvoker{}, staticResolver{arn: "arn:aws:iam::123:role/test"},
		testClock, zap.NewNop(), "us-east-1", "",
		filepath.Join(t.TempDir(), "missing", "dir", "endpoint_info.json"))

	// A live, working endpoint is never torn down because its record could
	// not be written; the failure is reported separately.
	res := d.Deploy(context.Background(), testSpec())
	assert.Equal(t, Success, res.Status)
	assert.ErrorIs(t, res.RecordErr, endpoint.ErrPersistence)
}

func TestCreateFailureTerminal(t *testing.T) {
	registry := &fakeRegistry{
		createErr: fmt.Errorf("%w: endpoint failed: insufficient capacity", endpoint.ErrDeployment),
	}
	invoker := &fakeInvoker{}
	d := newTestDeployer(t, registry, invoker)

	res := d.Deploy(context.Background(), testSpec())
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, endpoint.ErrDeployment)
	assert.Empty(t, invoker.payloads)
}

func TestIdentityFailureTerminal(t *testing.T) {
	registry := &fakeRegistry{}
	d := NewDeployer(registry, &fakeInvoker{},
		staticResolver{err: fmt.Errorf("%w: could not resolve execution role", endpoint.ErrDeployment)},
		testClock, zap.NewNop(), "us-east-1", "", filepath.Join(t.TempDir(), "r.json"))

	res := d.Deploy(context.Background(), testSpec())
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, endpoint.ErrDeployment)
	// No creation may be attempted without a resolved identity.
	assert.Empty(t, registry.created)
}

func TestInvalidSpec(t *testing.T) {
	d := newTestDeployer(t, &fakeRegistry{}, &fakeInvoker{})
	res := d.Deploy(context.Background(), endpoint.Spec{InstanceType: "ml.g5.xlarge"})
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, endpoint.ErrValidation)
}

func TestDeployArgsSpec(t *testing.T) {
	a := DeployArgs{
		ModelID:       "defog/sqlcoder-7b-2",
		InstanceType:  "ml.g5.2xlarge",
		InstanceCount: 2,
		EndpointName:  "named",
	}
	spec := a.Spec()
	name, ok := spec.EndpointName.Get()
	assert.True(t, ok)
	assert.Equal(t, "named", name)
	assert.Equal(t, 2, spec.InstanceCount)

	a.EndpointName = ""
	assert.True(t, a.Spec().EndpointName.IsAbsent())
}
