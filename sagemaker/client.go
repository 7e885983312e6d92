package sagemaker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemaker"
	"github.com/aws/aws-sdk-go/service/sagemaker/sagemakeriface"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	"go.uber.org/zap"

	lib "smctl/lib/endpoint"
)

type SagemakerArgs struct {
	Region string `arg:"--region,env:AWS_REGION,help:AWS region" default:"us-east-1"`
	// Provisioning timeouts mirror the platform's model download and
	// container startup phases; together they bound a blocking create.
	ModelDownloadTimeoutSec int `arg:"--model-download-timeout,env:MODEL_DOWNLOAD_TIMEOUT,help:Model download timeout in seconds" default:"1200"`
	StartupHealthTimeoutSec int `arg:"--startup-health-timeout,env:STARTUP_HEALTH_TIMEOUT,help:Container startup health check timeout in seconds" default:"600"`
	InvokeReadTimeoutSec    int `arg:"--invoke-read-timeout,env:INVOKE_READ_TIMEOUT,help:Invocation read timeout in seconds" default:"600"`
	InvokeConnectTimeoutSec int `arg:"--invoke-connect-timeout,env:INVOKE_CONNECT_TIMEOUT,help:Invocation connect timeout in seconds" default:"60"`
}

func NewClient(args SagemakerArgs, logger *zap.Logger) (SMClient, error) {
	sess := session.Must(session.NewSession(
		&aws.Config{
			Region:                        aws.String(args.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
	))
	metadata := sagemaker.New(sess)
	// Cold starts dominate invocation latency, so the runtime client gets a
	// generous read timeout and no retries: a blind retry would double
	// billing and time.
	runtime := sagemakerruntime.New(sess, &aws.Config{
		HTTPClient: &http.Client{
			Timeout: time.Duration(args.InvokeReadTimeoutSec) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: time.Duration(args.InvokeConnectTimeoutSec) * time.Second,
				}).DialContext,
			},
		},
		Retryer: client.DefaultRetryer{NumMaxRetries: 0},
	})
	return SMClient{
		args:           args,
		runtimeClient:  runtime,
		metadataClient: metadata,
		logger:         logger,
	}, nil
}

type SMClient struct {
	args           SagemakerArgs
	runtimeClient  sagemakerruntimeiface.SageMakerRuntimeAPI
	metadataClient sagemakeriface.SageMakerAPI
	logger         *zap.Logger
}

var _ lib.Registry = SMClient{}
var _ lib.Invoker = SMClient{}

const listPageSize = 50

// ListEndpoints returns endpoints across all pages, newest first, following
// continuation tokens so cleanup never misses endpoints beyond the first
// batch. max caps the result; max <= 0 means no cap.
func (smc SMClient) ListEndpoints(ctx context.Context, max int) ([]lib.Descriptor, error) {
	input := sagemaker.ListEndpointsInput{
		MaxResults: aws.Int64(listPageSize),
		SortBy:     aws.String("CreationTime"),
		SortOrder:  aws.String("Descending"),
	}
	var out []lib.Descriptor
	err := smc.metadataClient.ListEndpointsPagesWithContext(ctx, &input,
		func(page *sagemaker.ListEndpointsOutput, lastPage bool) bool {
			for _, ep := range page.Endpoints {
				out = append(out, lib.Descriptor{
					Name:      aws.StringValue(ep.EndpointName),
					Status:    lib.Status(aws.StringValue(ep.EndpointStatus)),
					CreatedAt: aws.TimeValue(ep.CreationTime),
				})
				if max > 0 && len(out) >= max {
					return false
				}
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list endpoints: %v", lib.ErrClient, err)
	}
	return out, nil
}

func (smc SMClient) DescribeConfig(ctx context.Context, name string) (lib.Config, error) {
	input := sagemaker.DescribeEndpointConfigInput{
		EndpointConfigName: aws.String(name),
	}
	out, err := smc.metadataClient.DescribeEndpointConfigWithContext(ctx, &input)
	if err != nil {
		if isNotFound(err) {
			return lib.Config{}, fmt.Errorf("%w: endpoint config %s", lib.ErrNotFound, name)
		}
		return lib.Config{}, fmt.Errorf("%w: failed to describe endpoint config %s: %v", lib.ErrClient, name, err)
	}
	cfg := lib.Config{Name: aws.StringValue(out.EndpointConfigName)}
	for _, v := range out.ProductionVariants {
		cfg.Variants = append(cfg.Variants, lib.Variant{
			InstanceType:  aws.StringValue(v.InstanceType),
			InstanceCount: int(aws.Int64Value(v.InitialInstanceCount)),
		})
	}
	return cfg, nil
}

// CreateEndpoint provisions model, config and endpoint under one name and
// blocks until the endpoint reaches a terminal status or the configured
// download+startup deadline elapses. On a terminal Failed, the platform's
// diagnostic is carried in the returned error.
func (smc SMClient) CreateEndpoint(ctx context.Context, spec lib.Spec) (lib.Descriptor, error) {
	name, ok := spec.EndpointName.Get()
	if !ok || name == "" {
		return lib.Descriptor{}, fmt.Errorf("%w: endpoint name not set", lib.ErrValidation)
	}
	image, err := getImage(smc.args.Region)
	if err != nil {
		return lib.Descriptor{}, fmt.Errorf("%w: %v", lib.ErrDeployment, err)
	}
	modelInput := sagemaker.CreateModelInput{
		ModelName:        aws.String(name),
		ExecutionRoleArn: aws.String(spec.ExecutionRoleArn),
		PrimaryContainer: &sagemaker.ContainerDefinition{
			Image:       aws.String(image),
			Environment: containerEnv(spec),
		},
	}
	if _, err := smc.metadataClient.CreateModelWithContext(ctx, &modelInput); err != nil {
		return lib.Descriptor{}, fmt.Errorf("%w: failed to create model: %v", lib.ErrDeployment, err)
	}

	// Config name equals endpoint name for 1:1 lifecycle coupling.
	cfgInput := sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(name),
		ProductionVariants: []*sagemaker.ProductionVariant{
			{
				ModelName:            aws.String(name),
				VariantName:          aws.String("AllTraffic"),
				InstanceType:         aws.String(spec.InstanceType),
				InitialInstanceCount: aws.Int64(int64(spec.InstanceCount)),
				ModelDataDownloadTimeoutInSeconds:           aws.Int64(int64(smc.args.ModelDownloadTimeoutSec)),
				ContainerStartupHealthCheckTimeoutInSeconds: aws.Int64(int64(smc.args.StartupHealthTimeoutSec)),
			},
		},
	}
	if _, err := smc.metadataClient.CreateEndpointConfigWithContext(ctx, &cfgInput); err != nil {
		smc.removeModel(ctx, name)
		return lib.Descriptor{}, fmt.Errorf("%w: failed to create endpoint config: %v", lib.ErrDeployment, err)
	}

	epInput := sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(name),
		EndpointConfigName: aws.String(name),
	}
	if _, err := smc.metadataClient.CreateEndpointWithContext(ctx, &epInput); err != nil {
		smc.removeConfig(ctx, name)
		smc.removeModel(ctx, name)
		return lib.Descriptor{}, fmt.Errorf("%w: failed to create endpoint: %v", lib.ErrDeployment, err)
	}
	return smc.waitUntilTerminal(ctx, name)
}

// waitUntilTerminal polls the endpoint status until InService or Failed.
func (smc SMClient) waitUntilTerminal(ctx context.Context, name string) (lib.Descriptor, error) {
	deadline := time.Duration(smc.args.ModelDownloadTimeoutSec+smc.args.StartupHealthTimeoutSec) * time.Second
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		out, err := smc.metadataClient.DescribeEndpointWithContext(waitCtx, &sagemaker.DescribeEndpointInput{
			EndpointName: aws.String(name),
		})
		if err != nil {
			return lib.Descriptor{}, fmt.Errorf("%w: failed to get endpoint status: %v", lib.ErrClient, err)
		}
		status := lib.Status(aws.StringValue(out.EndpointStatus))
		switch status {
		case lib.StatusInService:
			return lib.Descriptor{
				Name:      name,
				Status:    status,
				CreatedAt: aws.TimeValue(out.CreationTime),
			}, nil
		case lib.StatusFailed:
			return lib.Descriptor{}, fmt.Errorf("%w: endpoint %s failed: %s",
				lib.ErrDeployment, name, aws.StringValue(out.FailureReason))
		}
		smc.logger.Info("waiting for endpoint to come in service",
			zap.String("endpoint", name), zap.String("status", string(status)))
		select {
		case <-waitCtx.Done():
			return lib.Descriptor{}, fmt.Errorf("%w: timed out waiting for endpoint %s (last status %s)",
				lib.ErrDeployment, name, status)
		case <-time.After(15 * time.Second):
		}
	}
}

// DeleteEndpoint issues the deletion and waits for the endpoint to be gone.
// This should take no longer than a few seconds.
func (smc SMClient) DeleteEndpoint(ctx context.Context, name string) error {
	input := sagemaker.DeleteEndpointInput{
		EndpointName: aws.String(name),
	}
	if _, err := smc.metadataClient.DeleteEndpointWithContext(ctx, &input); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: endpoint %s", lib.ErrNotFound, name)
		}
		return fmt.Errorf("%w: failed to delete endpoint %s: %v", lib.ErrClient, name, err)
	}
	exists := true
	for exists {
		var err error
		exists, err = smc.endpointExists(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: failed to check if endpoint still exists: %v", lib.ErrClient, err)
		}
		if exists {
			smc.logger.Info("waiting for endpoint to be deleted", zap.String("endpoint", name))
			time.Sleep(time.Second)
		}
	}
	return nil
}

func (smc SMClient) DeleteConfig(ctx context.Context, name string) error {
	input := sagemaker.DeleteEndpointConfigInput{
		EndpointConfigName: aws.String(name),
	}
	if _, err := smc.metadataClient.DeleteEndpointConfigWithContext(ctx, &input); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: endpoint config %s", lib.ErrNotFound, name)
		}
		return fmt.Errorf("%w: failed to delete endpoint config %s: %v", lib.ErrClient, name, err)
	}
	return nil
}

// Invoke runs one synchronous request against the endpoint. The caller owns
// the retry policy; for smoke tests the budget is zero.
func (smc SMClient) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	out, err := smc.runtimeClient.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(name),
		ContentType:  aws.String("application/json"),
		Body:         payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to invoke endpoint %s: %v", lib.ErrClient, name, err)
	}
	return out.Body, nil
}

func (smc SMClient) endpointExists(ctx context.Context, name string) (bool, error) {
	input := sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(name),
	}
	_, err := smc.metadataClient.DescribeEndpointWithContext(ctx, &input)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if endpoint exists on sagemaker: %v", err)
	}
	return true, nil
}

// removeModel and removeConfig undo partial creations. Best-effort: a stray
// model or config costs nothing, so failures are only logged.
func (smc SMClient) removeModel(ctx context.Context, name string) {
	_, err := smc.metadataClient.DeleteModelWithContext(ctx, &sagemaker.DeleteModelInput{
		ModelName: aws.String(name),
	})
	if err != nil {
		smc.logger.Warn("could not remove model after failed create",
			zap.String("model", name), zap.Error(err))
	}
}

func (smc SMClient) removeConfig(ctx context.Context, name string) {
	_, err := smc.metadataClient.DeleteEndpointConfigWithContext(ctx, &sagemaker.DeleteEndpointConfigInput{
		EndpointConfigName: aws.String(name),
	})
	if err != nil {
		smc.logger.Warn("could not remove endpoint config after failed create",
			zap.String("config", name), zap.Error(err))
	}
}

func isNotFound(err error) bool {
	if e, ok := err.(awserr.Error); ok {
		if e.Code() == "ValidationException" && strings.HasPrefix(e.Message(), "Could not find") {
			return true
		}
	}
	return false
}
