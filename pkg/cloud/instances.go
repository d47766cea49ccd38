package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Instance is a builder instance.
type Instance struct {
	ID        string
	State     string
	PublicIP  string
	PrivateIP string
	PublicDNS string
}

// Address returns the address used to reach the instance. The private
// address is used when requested or when there is no public one.
func (i *Instance) Address(private bool) string {
	if private || i.PublicIP == "" {
		return i.PrivateIP
	}
	return i.PublicIP
}

// InstanceSpec describes the builder instance to launch.
type InstanceSpec struct {
	ImageID            string
	InstanceType       string
	KeyName            string
	SecurityGroupIDs   []string
	SubnetID           string
	AssociatePublicIP  bool
	IAMInstanceProfile string
	UserData           string

	RootDeviceName string
	RootVolumeSize int
	VolumeType     string
	Encrypted      bool
	KMSKeyID       string

	Tags map[string]string
}

// RunInstance launches a single instance and returns it in its initial state.
func (c *Client) RunInstance(ctx context.Context, spec InstanceSpec) (*Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:                           aws.String(spec.ImageID),
		InstanceType:                      types.InstanceType(spec.InstanceType),
		MinCount:                          aws.Int32(1),
		MaxCount:                          aws.Int32(1),
		InstanceInitiatedShutdownBehavior: types.ShutdownBehaviorStop,
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}

	if spec.SubnetID != "" {
		input.NetworkInterfaces = []types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			SubnetId:                 aws.String(spec.SubnetID),
			Groups:                   spec.SecurityGroupIDs,
			AssociatePublicIpAddress: aws.Bool(spec.AssociatePublicIP),
			DeleteOnTermination:      aws.Bool(true),
		}}
	} else {
		input.SecurityGroupIds = spec.SecurityGroupIDs
	}

	if spec.IAMInstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: aws.String(spec.IAMInstanceProfile)}
	}
	if spec.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData)))
	}

	if spec.RootVolumeSize > 0 || spec.Encrypted {
		ebs := &types.EbsBlockDevice{
			DeleteOnTermination: aws.Bool(true),
			VolumeType:          types.VolumeType(spec.VolumeType),
		}
		if spec.RootVolumeSize > 0 {
			ebs.VolumeSize = aws.Int32(int32(spec.RootVolumeSize))
		}
		if spec.Encrypted {
			ebs.Encrypted = aws.Bool(true)
			if spec.KMSKeyID != "" {
				ebs.KmsKeyId = aws.String(spec.KMSKeyID)
			}
		}
		input.BlockDeviceMappings = []types.BlockDeviceMapping{{
			DeviceName: aws.String(spec.RootDeviceName),
			Ebs:        ebs,
		}}
	}

	if len(spec.Tags) > 0 {
		input.TagSpecifications = tagSpecs(spec.Tags, types.ResourceTypeInstance, types.ResourceTypeVolume)
	}

	out, err := c.api.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return nil, fmt.Errorf("failed to run instance: no instance returned")
	}

	inst := toInstance(out.Instances[0])
	c.logger.Info("launched instance", "instance", inst.ID, "type", spec.InstanceType, "image", spec.ImageID)
	return &inst, nil
}

// DescribeInstance returns the current state of an instance.
func (c *Client) DescribeInstance(ctx context.Context, id string) (*Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", id, err)
	}
	for _, r := range out.Reservations {
		for _, i := range r.Instances {
			inst := toInstance(i)
			return &inst, nil
		}
	}
	return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
}

// WaitInstanceRunning blocks until the instance is running and returns it.
func (c *Client) WaitInstanceRunning(ctx context.Context, id string, timeout time.Duration) (*Instance, error) {
	w := ec2.NewInstanceRunningWaiter(c.api, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = c.waitMinDelay
		o.MaxDelay = c.waitMaxDelay
	})
	if err := w.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, timeout); err != nil {
		return nil, fmt.Errorf("instance %s did not reach running state: %w", id, err)
	}
	return c.DescribeInstance(ctx, id)
}

// StopInstance stops an instance and waits until it is stopped.
func (c *Client) StopInstance(ctx context.Context, id string, timeout time.Duration) error {
	if _, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", id, err)
	}
	c.logger.Info("stopping instance", "instance", id)

	w := ec2.NewInstanceStoppedWaiter(c.api, func(o *ec2.InstanceStoppedWaiterOptions) {
		o.MinDelay = c.waitMinDelay
		o.MaxDelay = c.waitMaxDelay
	})
	if err := w.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, timeout); err != nil {
		return fmt.Errorf("instance %s did not stop: %w", id, err)
	}
	return nil
}

// TerminateInstance terminates an instance and waits until it is gone.
func (c *Client) TerminateInstance(ctx context.Context, id string, timeout time.Duration) error {
	if _, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
		if apiErrorCode(err) == "InvalidInstanceID.NotFound" {
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", id, err)
	}
	c.logger.Info("terminating instance", "instance", id)

	w := ec2.NewInstanceTerminatedWaiter(c.api, func(o *ec2.InstanceTerminatedWaiterOptions) {
		o.MinDelay = c.waitMinDelay
		o.MaxDelay = c.waitMaxDelay
	})
	if err := w.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, timeout); err != nil {
		return fmt.Errorf("instance %s did not terminate: %w", id, err)
	}
	return nil
}

func toInstance(i types.Instance) Instance {
	inst := Instance{
		ID:        aws.ToString(i.InstanceId),
		PublicIP:  aws.ToString(i.PublicIpAddress),
		PrivateIP: aws.ToString(i.PrivateIpAddress),
		PublicDNS: aws.ToString(i.PublicDnsName),
	}
	if i.State != nil {
		inst.State = string(i.State.Name)
	}
	return inst
}
