package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucialwebstudio/amify/pkg/cloud/cloudtest"
)

func newTestClient(fake *cloudtest.FakeEC2) *Client {
	return NewClient(fake, "us-east-1",
		WithWaitDelays(time.Millisecond, 5*time.Millisecond),
		WithRetryDelay(time.Millisecond),
	)
}

func day(n int) time.Time {
	return time.Date(2023, time.June, n, 0, 0, 0, 0, time.UTC)
}

func TestFindSourceImage(t *testing.T) {
	fake := cloudtest.New()
	fake.AddImage("al2023-ami-2023.1-x86_64", "amazon", day(1), nil)
	newest := fake.AddImage("al2023-ami-2023.3-x86_64", "amazon", day(3), nil)
	fake.AddImage("al2023-ami-2023.2-x86_64", "amazon", day(2), nil)
	fake.AddImage("ubuntu-22.04", "099720109477", day(4), nil)
	c := newTestClient(fake)
	ctx := context.Background()

	t.Run("most recent", func(t *testing.T) {
		img, err := c.FindSourceImage(ctx, ImageFilter{Name: "al2023-ami-*", Owners: []string{"amazon"}, MostRecent: true})
		require.NoError(t, err)
		assert.Equal(t, newest, img.ID)
		assert.Equal(t, day(3), img.CreationDate)
		assert.Equal(t, "us-east-1", img.Region)
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := c.FindSourceImage(ctx, ImageFilter{Name: "al2023-ami-*"})
		assert.ErrorIs(t, err, ErrAmbiguousSourceImage)
	})

	t.Run("single match without most recent", func(t *testing.T) {
		img, err := c.FindSourceImage(ctx, ImageFilter{Name: "ubuntu-*"})
		require.NoError(t, err)
		assert.Equal(t, "ubuntu-22.04", img.Name)
	})

	t.Run("owner mismatch", func(t *testing.T) {
		_, err := c.FindSourceImage(ctx, ImageFilter{Name: "ubuntu-*", Owners: []string{"amazon"}})
		assert.ErrorIs(t, err, ErrNoSourceImage)
	})

	t.Run("architecture", func(t *testing.T) {
		_, err := c.FindSourceImage(ctx, ImageFilter{Name: "ubuntu-*", Architecture: "arm64"})
		assert.ErrorIs(t, err, ErrNoSourceImage)
	})
}

func TestDescribeImage_NotFound(t *testing.T) {
	c := newTestClient(cloudtest.New())

	_, err := c.DescribeImage(context.Background(), "ami-00000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImageByNameAndList(t *testing.T) {
	fake := cloudtest.New()
	fake.AddImage("web-1", cloudtest.Account, day(1), map[string]string{TagBuildID: "b1"})
	fake.AddImage("web-2", cloudtest.Account, day(2), map[string]string{TagBuildID: "b2"})
	fake.AddImage("db-1", cloudtest.Account, day(3), map[string]string{TagBuildID: "b3"})
	fake.AddImage("manual", cloudtest.Account, day(4), nil)
	c := newTestClient(fake)
	ctx := context.Background()

	img, err := c.ImageByName(ctx, "web-2")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "b2", img.Tags[TagBuildID])

	img, err = c.ImageByName(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, img)

	all, err := c.ListImages(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "db-1", all[0].Name, "newest first")

	web, err := c.ListImages(ctx, "web-")
	require.NoError(t, err)
	assert.Len(t, web, 2)
}

func TestImageLifecycle(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)
	ctx := context.Background()

	id, err := c.CreateImage(ctx, ImageSpec{
		InstanceID: "i-1",
		Name:       "web-1",
		Tags:       map[string]string{TagBuildID: "b1"},
	})
	require.NoError(t, err)
	require.Len(t, fake.LastCreate.TagSpecifications, 2)
	assert.Equal(t, types.ResourceTypeImage, fake.LastCreate.TagSpecifications[0].ResourceType)
	assert.Equal(t, types.ResourceTypeSnapshot, fake.LastCreate.TagSpecifications[1].ResourceType)

	require.NoError(t, c.WaitImageAvailable(ctx, id, time.Second))

	require.NoError(t, c.ShareImage(ctx, id, []string{"210987654321", "all"}, nil))
	perms := fake.Permissions[id]
	require.Len(t, perms, 2)
	assert.Equal(t, "210987654321", aws.ToString(perms[0].UserId))
	assert.Equal(t, types.PermissionGroupAll, perms[1].Group)

	img, err := c.DescribeImage(ctx, id)
	require.NoError(t, err)
	require.Len(t, img.SnapshotIDs, 1)
	snap := img.SnapshotIDs[0]

	require.NoError(t, c.DeregisterImage(ctx, id, true))
	assert.NotContains(t, fake.Images, id)
	assert.NotContains(t, fake.Snapshots, snap)
}

func TestCopyImage(t *testing.T) {
	fake := cloudtest.New()
	c := NewClient(fake, "eu-west-1")

	id, err := c.CopyImage(context.Background(), CopySpec{
		SourceRegion:  "us-east-1",
		SourceImageID: "ami-0123456789abcdef0",
		Name:          "web-1",
		Encrypted:     true,
		KMSKeyID:      "alias/images",
		Tags:          map[string]string{TagBuildID: "b1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, fake.Copies, 1)
	assert.Equal(t, "us-east-1", aws.ToString(fake.Copies[0].SourceRegion))
	assert.Equal(t, "alias/images", aws.ToString(fake.Copies[0].KmsKeyId))
}

func TestInstanceLifecycle(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)
	ctx := context.Background()

	inst, err := c.RunInstance(ctx, InstanceSpec{
		ImageID:           "ami-0123456789abcdef0",
		InstanceType:      "t3.micro",
		KeyName:           "amify-b1",
		SecurityGroupIDs:  []string{"sg-1"},
		SubnetID:          "subnet-1",
		AssociatePublicIP: true,
		UserData:          "#!/bin/sh\necho hi\n",
		RootDeviceName:    "/dev/xvda",
		RootVolumeSize:    20,
		VolumeType:        "gp3",
		Tags:              map[string]string{TagName: "amify builder"},
	})
	require.NoError(t, err)

	run := fake.LastRun
	require.Len(t, run.NetworkInterfaces, 1)
	assert.Equal(t, "subnet-1", aws.ToString(run.NetworkInterfaces[0].SubnetId))
	assert.True(t, aws.ToBool(run.NetworkInterfaces[0].AssociatePublicIpAddress))
	assert.Empty(t, run.SecurityGroupIds)
	assert.Equal(t, "IyEvYmluL3NoCmVjaG8gaGkK", aws.ToString(run.UserData))
	require.Len(t, run.BlockDeviceMappings, 1)
	assert.Equal(t, int32(20), aws.ToInt32(run.BlockDeviceMappings[0].Ebs.VolumeSize))

	running, err := c.WaitInstanceRunning(ctx, inst.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, cloudtest.PublicIP, running.Address(false))
	assert.Equal(t, cloudtest.PrivateIP, running.Address(true))

	require.NoError(t, c.StopInstance(ctx, inst.ID, time.Second))
	require.NoError(t, c.TerminateInstance(ctx, inst.ID, time.Second))

	final, err := c.DescribeInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "terminated", final.State)
}

func TestRunInstance_DefaultVPC(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)

	_, err := c.RunInstance(context.Background(), InstanceSpec{
		ImageID:          "ami-0123456789abcdef0",
		InstanceType:     "t3.micro",
		SecurityGroupIDs: []string{"sg-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sg-1"}, fake.LastRun.SecurityGroupIds)
	assert.Empty(t, fake.LastRun.NetworkInterfaces)
	assert.Empty(t, fake.LastRun.BlockDeviceMappings)
}

func TestInstanceAddress(t *testing.T) {
	inst := &Instance{PrivateIP: "10.0.0.5"}
	assert.Equal(t, "10.0.0.5", inst.Address(false), "falls back to private address")
}

func TestSecurityGroup(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)
	ctx := context.Background()

	vpc, err := c.DefaultVPC(ctx)
	require.NoError(t, err)

	id, err := c.CreateSecurityGroup(ctx, SecurityGroupSpec{
		Name:        "amify-b1",
		Description: "temporary",
		VPCID:       vpc,
		Port:        22,
		CIDR:        "198.51.100.7/32",
	})
	require.NoError(t, err)
	require.Len(t, fake.Ingress[id], 1)
	perm := fake.Ingress[id][0]
	assert.Equal(t, int32(22), aws.ToInt32(perm.FromPort))
	assert.Equal(t, "198.51.100.7/32", aws.ToString(perm.IpRanges[0].CidrIp))

	fake.DependencyViolations = 2
	require.NoError(t, c.DeleteSecurityGroup(ctx, id))
	assert.NotContains(t, fake.SecurityGroups, id)
}

func TestDeleteSecurityGroup_GivesUp(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)
	fake.DependencyViolations = 100

	err := c.DeleteSecurityGroup(context.Background(), "sg-1")
	require.Error(t, err)
	assert.Equal(t, "DependencyViolation", apiErrorCode(err))
}

func TestVPCForSubnet(t *testing.T) {
	c := newTestClient(cloudtest.New())

	vpc, err := c.VPCForSubnet(context.Background(), "subnet-1")
	require.NoError(t, err)
	assert.Equal(t, cloudtest.VPCID, vpc)
}

func TestKeyPair(t *testing.T) {
	fake := cloudtest.New()
	c := newTestClient(fake)
	ctx := context.Background()

	_, err := c.ImportKeyPair(ctx, "amify-b1", []byte("ssh-ed25519 AAAA"), map[string]string{TagBuildID: "b1"})
	require.NoError(t, err)
	assert.Contains(t, fake.KeyPairs, "amify-b1")

	require.NoError(t, c.DeleteKeyPair(ctx, "amify-b1"))
	assert.NotContains(t, fake.KeyPairs, "amify-b1")
}

func TestAPIErrorsAreWrapped(t *testing.T) {
	fake := cloudtest.New()
	boom := errors.New("boom")
	fake.Errors["RunInstances"] = boom
	c := newTestClient(fake)

	_, err := c.RunInstance(context.Background(), InstanceSpec{ImageID: "ami-1"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to run instance")
}

type fakeSTS struct {
	err error
}

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(cloudtest.Account),
		Arn:     aws.String("arn:aws:iam::123456789012:user/builder"),
		UserId:  aws.String("AIDAEXAMPLE"),
	}, nil
}

func TestCallerIdentity(t *testing.T) {
	id, err := CallerIdentity(context.Background(), fakeSTS{})
	require.NoError(t, err)
	assert.Equal(t, cloudtest.Account, id.Account)

	_, err = CallerIdentity(context.Background(), fakeSTS{err: errors.New("expired")})
	assert.Error(t, err)
}
