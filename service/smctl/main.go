package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"smctl/cleanup"
	"smctl/cost"
	"smctl/deploy"
	"smctl/identity"
	"smctl/lib/clock"
	"smctl/lib/endpoint"
	"smctl/record"
	"smctl/sagemaker"
)

type ListCmd struct{}

type DeployCmd struct {
	deploy.DeployArgs
}

type DeleteCmd struct {
	Name       string `arg:"positional,required,help:Endpoint name to delete"`
	KeepConfig bool   `arg:"--keep-config,help:Leave the endpoint config in place"`
}

type DeleteRecordCmd struct {
	Path string `arg:"--path,env:RECORD_PATH,help:Lifecycle record file" default:"endpoint_info.json"`
}

type DeleteAllCmd struct {
	Yes bool `arg:"--yes,help:Skip the confirmation prompt"`
}

type CostsCmd struct{}

type InvokeCmd struct {
	Name   string `arg:"positional,help:Endpoint name (read from record file when omitted)"`
	Prompt string `arg:"--prompt,help:Prompt text" default:"Generate a SQL query to select all customers:"`
	Path   string `arg:"--path,env:RECORD_PATH,help:Lifecycle record file" default:"endpoint_info.json"`
}

type args struct {
	sagemaker.SagemakerArgs
	identity.IdentityArgs

	List         *ListCmd         `arg:"subcommand:list"`
	Deploy       *DeployCmd       `arg:"subcommand:deploy"`
	Delete       *DeleteCmd       `arg:"subcommand:delete"`
	DeleteRecord *DeleteRecordCmd `arg:"subcommand:delete-record"`
	DeleteAll    *DeleteAllCmd    `arg:"subcommand:delete-all"`
	Costs        *CostsCmd        `arg:"subcommand:costs"`
	Invoke       *InvokeCmd       `arg:"subcommand:invoke"`

	Dev bool `arg:"--dev" default:"true"`
}

func main() {
	var flags args
	p := arg.MustParse(&flags)

	logger, err := buildLogger(flags.Dev)
	if err != nil {
		panic(fmt.Sprintf("failed to construct logger: %v", err))
	}
	_ = zap.ReplaceGlobals(logger)

	client, err := sagemaker.NewClient(flags.SagemakerArgs, logger)
	if err != nil {
		logger.Fatal("failed to create sagemaker client", zap.Error(err))
	}
	ctx := context.Background()
	ok := true

	switch {
	case flags.List != nil:
		ok = runList(ctx, client, logger)
	case flags.Deploy != nil:
		ok = runDeploy(ctx, flags, client, logger)
	case flags.Delete != nil:
		mgr := cleanup.NewManager(client, logger)
		ok = mgr.DeleteOne(ctx, flags.Delete.Name, !flags.Delete.KeepConfig)
	case flags.DeleteRecord != nil:
		mgr := cleanup.NewManager(client, logger)
		if err := mgr.DeleteFromRecord(ctx, flags.DeleteRecord.Path); err != nil {
			logger.Error("failed to delete endpoint from record", zap.Error(err))
			ok = false
		}
	case flags.DeleteAll != nil:
		mgr := cleanup.NewManager(client, logger)
		var confirm cleanup.Confirmer = cleanup.TerminalConfirmer{In: os.Stdin, Out: os.Stdout}
		if flags.DeleteAll.Yes {
			confirm = cleanup.AutoApprove{}
		}
		outcome, err := mgr.DeleteAll(ctx, confirm)
		if err != nil {
			logger.Error("failed to delete endpoints", zap.Error(err))
			ok = false
		} else {
			fmt.Printf("Successfully deleted %s endpoints\n", outcome)
			ok = outcome.OK
		}
	case flags.Costs != nil:
		ok = runCosts(ctx, client, logger)
	case flags.Invoke != nil:
		ok = runInvoke(ctx, flags, client, logger)
	default:
		p.WriteHelp(os.Stdout)
	}

	if !ok {
		os.Exit(1)
	}
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
}

func runList(ctx context.Context, client sagemaker.SMClient, logger *zap.Logger) bool {
	endpoints, err := client.ListEndpoints(ctx, 0)
	if err != nil {
		logger.Error("failed to list endpoints", zap.Error(err))
		return false
	}
	if len(endpoints) == 0 {
		fmt.Println("No endpoints found.")
		return true
	}
	fmt.Println("All endpoints:")
	for _, ep := range endpoints {
		fmt.Printf("  - %s (%s)\n", ep.Name, ep.Status)
		fmt.Printf("    Created: %s\n", ep.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return true
}

func runDeploy(ctx context.Context, flags args, client sagemaker.SMClient, logger *zap.Logger) bool {
	sess := session.Must(session.NewSession(&aws.Config{
		Region:                        aws.String(flags.Region),
		CredentialsChainVerboseErrors: aws.Bool(true),
	}))
	resolver := identity.DefaultChain(sess, flags.IdentityArgs, os.Stdin, os.Stdout, logger)
	deployer := deploy.NewDeployer(client, client, resolver, clock.Unix{}, logger,
		flags.Region, flags.Deploy.LogicalName, flags.Deploy.RecordPath)
	res := deployer.Deploy(ctx, flags.Deploy.Spec())
	if res.Status != deploy.Success {
		logger.Error("deployment failed", zap.Error(res.Err))
		return false
	}
	fmt.Printf("Deployment completed!\nEndpoint: %s\n", res.EndpointName)
	fmt.Println("Remember to delete the endpoint when done to avoid charges")
	return true
}

func runCosts(ctx context.Context, client sagemaker.SMClient, logger *zap.Logger) bool {
	est, err := cost.EstimateLive(ctx, client, cost.DefaultTable(), logger)
	if err != nil {
		logger.Error("failed to estimate costs", zap.Error(err))
		return false
	}
	if len(est.Endpoints) == 0 {
		fmt.Println("No active endpoints - no ongoing costs")
		return true
	}
	fmt.Println("Current cost estimation:")
	for _, ec := range est.Endpoints {
		if ec.CostUnknown {
			fmt.Printf("  %s: Unable to get cost info\n", ec.EndpointName)
			continue
		}
		fmt.Printf("  %s:\n", ec.EndpointName)
		for _, v := range ec.Variants {
			fmt.Printf("    Instance: %s (x%d)\n", v.InstanceType, v.InstanceCount)
		}
		fmt.Printf("    Cost: $%.3f/hour\n", ec.Hourly)
	}
	fmt.Printf("\nTotal estimated costs:\n")
	fmt.Printf("  Hourly: $%.2f\n", est.TotalHourly)
	fmt.Printf("  Daily: $%.2f\n", est.TotalDaily)
	fmt.Printf("  Monthly: $%.2f\n", est.TotalMonthly)
	return true
}

func runInvoke(ctx context.Context, flags args, client sagemaker.SMClient, logger *zap.Logger) bool {
	name := flags.Invoke.Name
	if name == "" {
		rec, err := record.Load(flags.Invoke.Path)
		if err != nil {
			logger.Error("no endpoint name given and no usable record", zap.Error(err))
			return false
		}
		name = rec.EndpointName
	}
	payload, err := json.Marshal(endpoint.InvocationRequest{
		Inputs: flags.Invoke.Prompt,
		Parameters: endpoint.GenerationParams{
			MaxNewTokens:   100,
			Temperature:    0.7,
			DoSample:       true,
			ReturnFullText: false,
		},
	})
	if err != nil {
		logger.Error("failed to encode payload", zap.Error(err))
		return false
	}
	logger.Info("calling endpoint, first request may take minutes", zap.String("endpoint", name))
	out, err := client.Invoke(ctx, name, payload)
	if err != nil {
		logger.Error("invocation failed", zap.Error(err))
		return false
	}
	fmt.Printf("Response: %s\n", out)
	return true
}
