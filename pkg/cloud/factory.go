package cloud

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/charmbracelet/log"
)

// Provider hands out per-region clients.
type Provider interface {
	Client(ctx context.Context, region string) (*Client, error)
}

// STSAPI is the subset of *sts.Client used by amify.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Identity is the AWS principal amify runs as.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// Factory creates clients from the default AWS credential chain.
type Factory struct {
	profile    string
	logger     *log.Logger
	clientOpts []ClientOption

	mu      sync.Mutex
	clients map[string]*Client
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets the logger passed to every client.
func WithFactoryLogger(l *log.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithClientOptions sets options applied to every client.
func WithClientOptions(opts ...ClientOption) FactoryOption {
	return func(f *Factory) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// NewFactory creates a Factory using the named shared config profile.
// An empty profile uses the default chain.
func NewFactory(profile string, opts ...FactoryOption) *Factory {
	f := &Factory{
		profile: profile,
		logger:  log.New(io.Discard),
		clients: make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client returns a cached client for region.
func (f *Factory) Client(ctx context.Context, region string) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[region]; ok {
		return c, nil
	}

	cfg, err := f.awsConfig(ctx, region)
	if err != nil {
		return nil, err
	}

	opts := append([]ClientOption{WithLogger(f.logger)}, f.clientOpts...)
	c := NewClient(ec2.NewFromConfig(cfg), cfg.Region, opts...)
	f.clients[region] = c
	return c, nil
}

// Identity returns the caller identity for the configured credentials.
func (f *Factory) Identity(ctx context.Context) (*Identity, error) {
	cfg, err := f.awsConfig(ctx, "")
	if err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return CallerIdentity(ctx, sts.NewFromConfig(cfg))
}

// CallerIdentity asks STS who the credentials belong to.
func CallerIdentity(ctx context.Context, api STSAPI) (*Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

func (f *Factory) awsConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if f.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(f.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}
