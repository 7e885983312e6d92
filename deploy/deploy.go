// Package deploy orchestrates one endpoint deployment: resolve the
// provisioning identity, finish the spec, create the endpoint, smoke-test
// it, and persist the lifecycle record.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"smctl/identity"
	"smctl/lib/clock"
	"smctl/lib/endpoint"
	"smctl/record"
)

// DefaultLogicalName prefixes generated endpoint names.
const DefaultLogicalName = "better-sql-agent"

type DeployArgs struct {
	ModelID       string `arg:"--model-id,env:MODEL_ID,help:Model artifact to deploy"`
	InstanceType  string `arg:"--instance-type,env:INSTANCE_TYPE,help:Hardware SKU for the endpoint"`
	InstanceCount int    `arg:"--instance-count,env:INSTANCE_COUNT,help:Number of instances" default:"1"`
	EndpointName  string `arg:"--endpoint-name,env:ENDPOINT_NAME,help:Endpoint name (generated when unset)"`
	LogicalName   string `arg:"--logical-name,env:LOGICAL_NAME,help:Prefix for generated endpoint names" default:"better-sql-agent"`
	RecordPath    string `arg:"--record-path,env:RECORD_PATH,help:Path of the lifecycle record file" default:"endpoint_info.json"`

	ServerTimeoutSeconds int `arg:"--server-timeout,env:MODEL_SERVER_TIMEOUT,help:Model server timeout in seconds" default:"600"`
	MaxContextLength     int `arg:"--max-context-length,env:MAX_CONTEXT_LENGTH" default:"4096"`
	MaxNewTokens         int `arg:"--max-new-tokens,env:MAX_NEW_TOKENS" default:"512"`
	NumGPUs              int `arg:"--num-gpus,env:NUM_GPUS" default:"1"`
}

// Spec builds a deployment spec from parsed args.
func (a DeployArgs) Spec() endpoint.Spec {
	name := mo.None[string]()
	if a.EndpointName != "" {
		name = mo.Some(a.EndpointName)
	}
	return endpoint.Spec{
		ModelID:              a.ModelID,
		InstanceType:         a.InstanceType,
		InstanceCount:        a.InstanceCount,
		EndpointName:         name,
		ServerTimeoutSeconds: a.ServerTimeoutSeconds,
		MaxContextLength:     a.MaxContextLength,
		MaxNewTokens:         a.MaxNewTokens,
		NumGPUs:              a.NumGPUs,
	}
}

type Status string

const (
	Success Status = "success"
	Failed  Status = "failed"
)

// Result is the structured outcome of one deployment session. SmokeErr and
// RecordErr are reported separately because neither failure undoes a live
// endpoint.
type Result struct {
	Status       Status
	EndpointName string
	Err          error
	SmokeErr     error
	RecordErr    error
}

type Deployer struct {
	registry    endpoint.Registry
	invoker     endpoint.Invoker
	resolver    identity.Resolver
	clock       clock.Clock
	logger      *zap.Logger
	region      string
	logicalName string
	recordPath  string
}

func NewDeployer(registry endpoint.Registry, invoker endpoint.Invoker, resolver identity.Resolver,
	clk clock.Clock, logger *zap.Logger, region, logicalName, recordPath string) Deployer {
	if logicalName == "" {
		logicalName = DefaultLogicalName
	}
	if recordPath == "" {
		recordPath = record.DefaultPath
	}
	return Deployer{
		registry:    registry,
		invoker:     invoker,
		resolver:    resolver,
		clock:       clk,
		logger:      logger,
		region:      region,
		logicalName: logicalName,
		recordPath:  recordPath,
	}
}

// Deploy runs the full deployment sequence. Identity resolution failure and
// creation reaching a terminal Failed state abort the session; a failed
// smoke test or record write do not, since the endpoint is live and billed
// either way.
func (d Deployer) Deploy(ctx context.Context, spec endpoint.Spec) Result {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return Result{Status: Failed, Err: err}
	}

	role, err := d.resolver.Resolve(ctx)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}
	spec.ExecutionRoleArn = role

	name, ok := spec.EndpointName.Get()
	if !ok {
		name = d.generateName()
		spec.EndpointName = mo.Some(name)
	}
	d.logger.Info("deploying model",
		zap.String("model_id", spec.ModelID),
		zap.String("instance_type", spec.InstanceType),
		zap.String("endpoint", name))
	d.logger.Info("creating endpoint, this may take 10-15 minutes")

	desc, err := d.registry.CreateEndpoint(ctx, spec)
	if err != nil {
		return Result{Status: Failed, EndpointName: name, Err: err}
	}
	d.logger.Info("model deployed successfully",
		zap.String("endpoint", desc.Name), zap.String("region", d.region))

	res := Result{Status: Success, EndpointName: desc.Name}
	if err := d.smokeTest(ctx, desc.Name); err != nil {
		// The endpoint is usable even when this sanity check fails; most
		// failures here are generation-parameter mismatches, not endpoint
		// health.
		d.logger.Warn("smoke test failed, endpoint is still running", zap.Error(err))
		res.SmokeErr = err
	}

	rec := endpoint.Record{
		EndpointName: desc.Name,
		InstanceType: spec.InstanceType,
		Region:       d.region,
		DeployedAt:   d.clock.Now().Format("2006-01-02T15:04:05"),
	}
	if err := record.Save(d.recordPath, rec); err != nil {
		// Losing the record is not reason to tear down a live, working
		// endpoint. The operator can note the endpoint name manually.
		d.logger.Warn("failed to save lifecycle record, note the endpoint name",
			zap.String("endpoint", desc.Name), zap.Error(err))
		res.RecordErr = err
	} else {
		d.logger.Info("lifecycle record saved", zap.String("path", d.recordPath))
	}
	return res
}

// generateName derives a timestamped endpoint name. Uniqueness relies on
// second granularity: two deployments within the same second may collide,
// surfaced by the platform's own uniqueness check at creation.
func (d Deployer) generateName() string {
	return fmt.Sprintf("%s-%s", d.logicalName, d.clock.Now().Format("20060102-150405"))
}

// smokeTest runs exactly one best-effort invocation with a fixed sample
// prompt. Retry budget is zero.
func (d Deployer) smokeTest(ctx context.Context, name string) error {
	payload, err := json.Marshal(endpoint.InvocationRequest{
		Inputs: "Generate a SQL query to find all customers:",
		Parameters: endpoint.GenerationParams{
			MaxNewTokens:   100,
			Temperature:    0.7,
			DoSample:       true,
			ReturnFullText: false,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode smoke test payload: %v", err)
	}
	out, err := d.invoker.Invoke(ctx, name, payload)
	if err != nil {
		return err
	}
	d.logger.Info("smoke test succeeded", zap.ByteString("response", out))
	return nil
}
