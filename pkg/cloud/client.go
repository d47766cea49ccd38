// Package cloud wraps the EC2 API calls amify needs to build an image.
package cloud

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"
	"github.com/charmbracelet/log"
)

// Tag keys amify sets on everything it creates.
const (
	TagBuildID   = "amify:build-id"
	TagBuildName = "amify:build-name"
	TagSourceAMI = "amify:source-ami"
	TagName      = "Name"
)

// Default waiter delays.
const (
	DefaultWaitMinDelay = 5 * time.Second
	DefaultWaitMaxDelay = 30 * time.Second
)

var (
	// ErrNoSourceImage is returned when no image matches the source filter.
	ErrNoSourceImage = errors.New("no source image found")
	// ErrAmbiguousSourceImage is returned when a filter matches several images
	// and most_recent is not set.
	ErrAmbiguousSourceImage = errors.New("source image filter matched more than one image")
	// ErrNotFound is returned when a described resource does not exist.
	ErrNotFound = errors.New("resource not found")
)

// EC2API is the subset of *ec2.Client used by amify.
type EC2API interface {
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateImage(ctx context.Context, params *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
	CopyImage(ctx context.Context, params *ec2.CopyImageInput, optFns ...func(*ec2.Options)) (*ec2.CopyImageOutput, error)
	DeregisterImage(ctx context.Context, params *ec2.DeregisterImageInput, optFns ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	ModifyImageAttribute(ctx context.Context, params *ec2.ModifyImageAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyImageAttributeOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	ImportKeyPair(ctx context.Context, params *ec2.ImportKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error)
	DeleteKeyPair(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
}

// Client performs EC2 operations in a single region.
type Client struct {
	api    EC2API
	region string
	logger *log.Logger

	waitMinDelay time.Duration
	waitMaxDelay time.Duration
	retryDelay   time.Duration
	sgAttempts   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l.With("region", c.region)
		}
	}
}

// WithWaitDelays sets the minimum and maximum delay between waiter polls.
func WithWaitDelays(minDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.waitMinDelay = minDelay
		c.waitMaxDelay = maxDelay
	}
}

// WithRetryDelay sets the delay between security group deletion attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// NewClient creates a Client for region backed by api.
func NewClient(api EC2API, region string, opts ...ClientOption) *Client {
	c := &Client{
		api:          api,
		region:       region,
		logger:       log.New(io.Discard),
		waitMinDelay: DefaultWaitMinDelay,
		waitMaxDelay: DefaultWaitMaxDelay,
		retryDelay:   10 * time.Second,
		sgAttempts:   12,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Region returns the client's region.
func (c *Client) Region() string {
	return c.region
}

// API returns the underlying EC2 API.
func (c *Client) API() EC2API {
	return c.api
}

// apiErrorCode returns the AWS error code of err, if any.
func apiErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
