// Package identity resolves the execution role used for provisioning
// endpoints. Strategies are tried in order: an explicit role ARN, the
// caller's own assumed role, an IAM lookup by role name, and finally an
// operator prompt.
package identity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/sts"
	"go.uber.org/zap"

	"smctl/lib/endpoint"
)

type IdentityArgs struct {
	RoleArn  string `arg:"--role-arn,env:SAGEMAKER_ROLE_ARN,help:Execution role ARN used for provisioning"`
	RoleName string `arg:"--role-name,env:SAGEMAKER_ROLE_NAME,help:IAM role name resolved to an ARN at runtime"`
}

// Resolver yields the ARN of the execution identity, or an error when the
// strategy does not apply in the current environment.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Static returns a pre-resolved ARN as-is.
type Static struct {
	Arn string
}

var _ Resolver = Static{}

func (s Static) Resolve(ctx context.Context) (string, error) {
	if s.Arn == "" {
		return "", fmt.Errorf("no role ARN configured")
	}
	return s.Arn, nil
}

// CallerRole derives the execution role from the ambient credentials: when
// the process runs under an assumed role (e.g. on a SageMaker notebook
// instance), the caller identity ARN names that role.
type CallerRole struct {
	client *sts.STS
}

var _ Resolver = CallerRole{}

func NewCallerRole(sess *session.Session) CallerRole {
	return CallerRole{client: sts.New(sess)}
}

func (c CallerRole) Resolve(ctx context.Context) (string, error) {
	out, err := c.client.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %v", err)
	}
	arn := aws.StringValue(out.Arn)
	// arn:aws:sts::<account>:assumed-role/<role>/<session> -> role ARN.
	const marker = ":assumed-role/"
	idx := strings.Index(arn, marker)
	if idx < 0 {
		return "", fmt.Errorf("caller identity %q is not an assumed role", arn)
	}
	parts := strings.Split(arn[idx+len(marker):], "/")
	account := aws.StringValue(out.Account)
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", account, parts[0]), nil
}

// RoleLookup resolves a configured role name to its ARN via IAM.
type RoleLookup struct {
	client   *iam.IAM
	roleName string
}

var _ Resolver = RoleLookup{}

func NewRoleLookup(sess *session.Session, roleName string) RoleLookup {
	return RoleLookup{client: iam.New(sess), roleName: roleName}
}

func (r RoleLookup) Resolve(ctx context.Context) (string, error) {
	if r.roleName == "" {
		return "", fmt.Errorf("no role name configured")
	}
	out, err := r.client.GetRoleWithContext(ctx, &iam.GetRoleInput{
		RoleName: aws.String(r.roleName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up role %s: %v", r.roleName, err)
	}
	return aws.StringValue(out.Role.Arn), nil
}

// Prompt asks the operator for the role ARN. Last resort.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

var _ Resolver = Prompt{}

func (p Prompt) Resolve(ctx context.Context) (string, error) {
	fmt.Fprint(p.Out, "Role ARN: ")
	scanner := bufio.NewScanner(p.In)
	if !scanner.Scan() {
		return "", fmt.Errorf("no role ARN entered")
	}
	arn := strings.TrimSpace(scanner.Text())
	if arn == "" {
		return "", fmt.Errorf("no role ARN entered")
	}
	return arn, nil
}

// Chain tries each resolver in order and returns the first ARN found. All
// strategies failing is terminal for the session.
type Chain struct {
	resolvers []Resolver
	logger    *zap.Logger
}

var _ Resolver = Chain{}

func NewChain(logger *zap.Logger, resolvers ...Resolver) Chain {
	return Chain{resolvers: resolvers, logger: logger}
}

func (c Chain) Resolve(ctx context.Context) (string, error) {
	var lastErr error
	for _, r := range c.resolvers {
		arn, err := r.Resolve(ctx)
		if err == nil {
			c.logger.Info("resolved execution role", zap.String("arn", arn))
			return arn, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: could not resolve execution role: %v", endpoint.ErrDeployment, lastErr)
}

// DefaultChain builds the standard strategy order from args: explicit ARN,
// ambient caller role, IAM lookup by name, then an operator prompt.
func DefaultChain(sess *session.Session, args IdentityArgs, in io.Reader, out io.Writer, logger *zap.Logger) Chain {
	resolvers := []Resolver{}
	if args.RoleArn != "" {
		resolvers = append(resolvers, Static{Arn: args.RoleArn})
	}
	resolvers = append(resolvers, NewCallerRole(sess))
	if args.RoleName != "" {
		resolvers = append(resolvers, NewRoleLookup(sess, args.RoleName))
	}
	resolvers = append(resolvers, Prompt{In: in, Out: out})
	return NewChain(logger, resolvers...)
}
