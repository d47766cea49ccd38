package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// SecurityGroupSpec describes a temporary security group allowing SSH.
type SecurityGroupSpec struct {
	Name        string
	Description string
	VPCID       string
	Port        int
	CIDR        string
	Tags        map[string]string
}

// ImportKeyPair registers a public key under name and returns the key pair id.
func (c *Client) ImportKeyPair(ctx context.Context, name string, publicKey []byte, tags map[string]string) (string, error) {
	input := &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: publicKey,
	}
	if len(tags) > 0 {
		input.TagSpecifications = tagSpecs(tags, types.ResourceTypeKeyPair)
	}

	out, err := c.api.ImportKeyPair(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to import key pair %s: %w", name, err)
	}
	c.logger.Info("imported key pair", "key", name)
	return aws.ToString(out.KeyPairId), nil
}

// DeleteKeyPair removes a key pair by name.
func (c *Client) DeleteKeyPair(ctx context.Context, name string) error {
	if _, err := c.api.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(name)}); err != nil {
		return fmt.Errorf("failed to delete key pair %s: %w", name, err)
	}
	c.logger.Info("deleted key pair", "key", name)
	return nil
}

// VPCForSubnet returns the VPC a subnet belongs to.
func (c *Client) VPCForSubnet(ctx context.Context, subnetID string) (string, error) {
	out, err := c.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{subnetID}})
	if err != nil {
		return "", fmt.Errorf("failed to describe subnet %s: %w", subnetID, err)
	}
	if len(out.Subnets) == 0 {
		return "", fmt.Errorf("%w: subnet %s", ErrNotFound, subnetID)
	}
	return aws.ToString(out.Subnets[0].VpcId), nil
}

// DefaultVPC returns the id of the region's default VPC.
func (c *Client) DefaultVPC(ctx context.Context) (string, error) {
	out, err := c.api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{{Name: aws.String("is-default"), Values: []string{"true"}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe VPCs: %w", err)
	}
	if len(out.Vpcs) == 0 {
		return "", fmt.Errorf("%w: no default VPC in %s; set vpc_id or subnet_id", ErrNotFound, c.region)
	}
	return aws.ToString(out.Vpcs[0].VpcId), nil
}

// CreateSecurityGroup creates a security group allowing TCP on spec.Port
// from spec.CIDR and returns its id.
func (c *Client) CreateSecurityGroup(ctx context.Context, spec SecurityGroupSpec) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(spec.Name),
		Description: aws.String(spec.Description),
	}
	if spec.VPCID != "" {
		input.VpcId = aws.String(spec.VPCID)
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = tagSpecs(spec.Tags, types.ResourceTypeSecurityGroup)
	}

	out, err := c.api.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create security group %s: %w", spec.Name, err)
	}
	id := aws.ToString(out.GroupId)
	c.logger.Info("created security group", "group", id, "cidr", spec.CIDR)

	_, err = c.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(id),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(spec.Port)),
			ToPort:     aws.Int32(int32(spec.Port)),
			IpRanges:   []types.IpRange{{CidrIp: aws.String(spec.CIDR), Description: aws.String("amify ssh")}},
		}},
	})
	if err != nil {
		// Return the id so the caller can still clean the group up.
		return id, fmt.Errorf("failed to authorize ingress on %s: %w", id, err)
	}

	return id, nil
}

// DeleteSecurityGroup deletes a security group. Deletion is retried while
// the group is still attached to a terminating instance.
func (c *Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	var err error
	for attempt := 1; attempt <= c.sgAttempts; attempt++ {
		_, err = c.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
		if err == nil {
			c.logger.Info("deleted security group", "group", id)
			return nil
		}
		if apiErrorCode(err) != "DependencyViolation" {
			break
		}
		c.logger.Debug("security group still in use", "group", id, "attempt", attempt)
		if serr := sleep(ctx, c.retryDelay); serr != nil {
			return fmt.Errorf("failed to delete security group %s: %w", id, serr)
		}
	}
	return fmt.Errorf("failed to delete security group %s: %w", id, err)
}
