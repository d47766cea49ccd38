// Package cloudtest provides an in-memory EC2 fake for tests.
package cloudtest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// Account is the account id the fake reports as "self".
const Account = "123456789012"

// Fixed addresses assigned to launched instances.
const (
	PublicIP  = "203.0.113.10"
	PrivateIP = "10.0.0.10"
	VPCID     = "vpc-0a1b2c3d4e5f60001"
)

// FakeEC2 is an in-memory implementation of cloud.EC2API.
type FakeEC2 struct {
	mu sync.Mutex

	Images         map[string]*types.Image
	Instances      map[string]*types.Instance
	KeyPairs       map[string][]byte
	SecurityGroups map[string]*ec2.CreateSecurityGroupInput
	Ingress        map[string][]types.IpPermission
	Snapshots      map[string]bool
	Permissions    map[string][]types.LaunchPermission
	Tags           map[string]map[string]string

	// Errors makes the named operation fail.
	Errors map[string]error
	// DependencyViolations makes DeleteSecurityGroup fail this many times.
	DependencyViolations int

	LastRun    *ec2.RunInstancesInput
	LastCreate *ec2.CreateImageInput
	Copies     []*ec2.CopyImageInput

	calls []string
	seq   int
	now   time.Time
}

// New returns an empty fake.
func New() *FakeEC2 {
	return &FakeEC2{
		Images:         make(map[string]*types.Image),
		Instances:      make(map[string]*types.Instance),
		KeyPairs:       make(map[string][]byte),
		SecurityGroups: make(map[string]*ec2.CreateSecurityGroupInput),
		Ingress:        make(map[string][]types.IpPermission),
		Snapshots:      make(map[string]bool),
		Permissions:    make(map[string][]types.LaunchPermission),
		Tags:           make(map[string]map[string]string),
		Errors:         make(map[string]error),
		now:            time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddImage registers an image and returns its id. created orders images.
func (f *FakeEC2) AddImage(name, owner string, created time.Time, tags map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID("ami")
	snap := f.nextID("snap")
	f.Snapshots[snap] = true
	f.Images[id] = &types.Image{
		ImageId:        aws.String(id),
		Name:           aws.String(name),
		OwnerId:        aws.String(owner),
		State:          types.ImageStateAvailable,
		Architecture:   types.ArchitectureValuesX8664,
		RootDeviceName: aws.String("/dev/xvda"),
		CreationDate:   aws.String(created.UTC().Format(time.RFC3339)),
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/xvda"),
			Ebs:        &types.EbsBlockDevice{SnapshotId: aws.String(snap)},
		}},
		Tags: toTags(tags),
	}
	return id
}

// Calls returns the operations invoked so far, in order.
func (f *FakeEC2) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Called reports whether op was invoked.
func (f *FakeEC2) Called(op string) bool {
	for _, c := range f.Calls() {
		if c == op {
			return true
		}
	}
	return false
}

// record notes the call and returns the configured error for op, if any.
func (f *FakeEC2) record(op string) error {
	f.calls = append(f.calls, op)
	return f.Errors[op]
}

func (f *FakeEC2) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%017x", prefix, f.seq)
}

func (f *FakeEC2) DescribeImages(_ context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeImages"); err != nil {
		return nil, err
	}

	out := &ec2.DescribeImagesOutput{}
	for id, img := range f.Images {
		if len(in.ImageIds) > 0 && !contains(in.ImageIds, id) {
			continue
		}
		if len(in.Owners) > 0 && !ownerMatches(in.Owners, aws.ToString(img.OwnerId)) {
			continue
		}
		if !filtersMatch(in.Filters, img) {
			continue
		}
		out.Images = append(out.Images, *img)
	}
	if len(in.ImageIds) > 0 && len(out.Images) == 0 {
		return nil, &smithy.GenericAPIError{Code: "InvalidAMIID.NotFound", Message: "image not found"}
	}
	return out, nil
}

func (f *FakeEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RunInstances"); err != nil {
		return nil, err
	}
	f.LastRun = in

	id := f.nextID("i")
	inst := &types.Instance{
		InstanceId:       aws.String(id),
		ImageId:          in.ImageId,
		InstanceType:     in.InstanceType,
		State:            &types.InstanceState{Name: types.InstanceStateNameRunning},
		PublicIpAddress:  aws.String(PublicIP),
		PrivateIpAddress: aws.String(PrivateIP),
	}
	for _, spec := range in.TagSpecifications {
		if spec.ResourceType == types.ResourceTypeInstance {
			inst.Tags = spec.Tags
		}
	}
	f.Instances[id] = inst
	return &ec2.RunInstancesOutput{Instances: []types.Instance{*inst}}, nil
}

func (f *FakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeInstances"); err != nil {
		return nil, err
	}

	var instances []types.Instance
	for _, id := range in.InstanceIds {
		if inst, ok := f.Instances[id]; ok {
			instances = append(instances, *inst)
		}
	}
	if len(instances) == 0 {
		return nil, &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "instance not found"}
	}
	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: instances}}}, nil
}

func (f *FakeEC2) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("StopInstances"); err != nil {
		return nil, err
	}
	f.setState(in.InstanceIds, types.InstanceStateNameStopped)
	return &ec2.StopInstancesOutput{}, nil
}

func (f *FakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TerminateInstances"); err != nil {
		return nil, err
	}
	f.setState(in.InstanceIds, types.InstanceStateNameTerminated)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *FakeEC2) setState(ids []string, state types.InstanceStateName) {
	for _, id := range ids {
		if inst, ok := f.Instances[id]; ok {
			inst.State = &types.InstanceState{Name: state}
		}
	}
}

func (f *FakeEC2) CreateImage(_ context.Context, in *ec2.CreateImageInput, _ ...func(*ec2.Options)) (*ec2.CreateImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateImage"); err != nil {
		return nil, err
	}
	f.LastCreate = in

	id := f.newImage(aws.ToString(in.Name), in.Description, in.TagSpecifications)
	return &ec2.CreateImageOutput{ImageId: aws.String(id)}, nil
}

func (f *FakeEC2) CopyImage(_ context.Context, in *ec2.CopyImageInput, _ ...func(*ec2.Options)) (*ec2.CopyImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CopyImage"); err != nil {
		return nil, err
	}
	f.Copies = append(f.Copies, in)

	id := f.newImage(aws.ToString(in.Name), in.Description, in.TagSpecifications)
	return &ec2.CopyImageOutput{ImageId: aws.String(id)}, nil
}

func (f *FakeEC2) newImage(name string, description *string, specs []types.TagSpecification) string {
	id := f.nextID("ami")
	snap := f.nextID("snap")
	f.Snapshots[snap] = true
	f.now = f.now.Add(time.Minute)

	img := &types.Image{
		ImageId:        aws.String(id),
		Name:           aws.String(name),
		Description:    description,
		OwnerId:        aws.String(Account),
		State:          types.ImageStateAvailable,
		RootDeviceName: aws.String("/dev/xvda"),
		CreationDate:   aws.String(f.now.Format(time.RFC3339)),
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/xvda"),
			Ebs:        &types.EbsBlockDevice{SnapshotId: aws.String(snap)},
		}},
	}
	for _, spec := range specs {
		if spec.ResourceType == types.ResourceTypeImage {
			img.Tags = spec.Tags
		}
	}
	f.Images[id] = img
	return id
}

func (f *FakeEC2) DeregisterImage(_ context.Context, in *ec2.DeregisterImageInput, _ ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeregisterImage"); err != nil {
		return nil, err
	}
	delete(f.Images, aws.ToString(in.ImageId))
	return &ec2.DeregisterImageOutput{}, nil
}

func (f *FakeEC2) DeleteSnapshot(_ context.Context, in *ec2.DeleteSnapshotInput, _ ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteSnapshot"); err != nil {
		return nil, err
	}
	delete(f.Snapshots, aws.ToString(in.SnapshotId))
	return &ec2.DeleteSnapshotOutput{}, nil
}

func (f *FakeEC2) ModifyImageAttribute(_ context.Context, in *ec2.ModifyImageAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifyImageAttributeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ModifyImageAttribute"); err != nil {
		return nil, err
	}
	if in.LaunchPermission != nil {
		id := aws.ToString(in.ImageId)
		f.Permissions[id] = append(f.Permissions[id], in.LaunchPermission.Add...)
	}
	return &ec2.ModifyImageAttributeOutput{}, nil
}

func (f *FakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTags"); err != nil {
		return nil, err
	}
	for _, id := range in.Resources {
		if f.Tags[id] == nil {
			f.Tags[id] = make(map[string]string)
		}
		for _, t := range in.Tags {
			f.Tags[id][aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *FakeEC2) ImportKeyPair(_ context.Context, in *ec2.ImportKeyPairInput, _ ...func(*ec2.Options)) (*ec2.ImportKeyPairOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ImportKeyPair"); err != nil {
		return nil, err
	}
	f.KeyPairs[aws.ToString(in.KeyName)] = in.PublicKeyMaterial
	return &ec2.ImportKeyPairOutput{KeyName: in.KeyName, KeyPairId: aws.String(f.nextID("key"))}, nil
}

func (f *FakeEC2) DeleteKeyPair(_ context.Context, in *ec2.DeleteKeyPairInput, _ ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteKeyPair"); err != nil {
		return nil, err
	}
	delete(f.KeyPairs, aws.ToString(in.KeyName))
	return &ec2.DeleteKeyPairOutput{}, nil
}

func (f *FakeEC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	id := f.nextID("sg")
	f.SecurityGroups[id] = in
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *FakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AuthorizeSecurityGroupIngress"); err != nil {
		return nil, err
	}
	id := aws.ToString(in.GroupId)
	f.Ingress[id] = append(f.Ingress[id], in.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *FakeEC2) DeleteSecurityGroup(_ context.Context, in *ec2.DeleteSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteSecurityGroup"); err != nil {
		return nil, err
	}
	if f.DependencyViolations > 0 {
		f.DependencyViolations--
		return nil, &smithy.GenericAPIError{Code: "DependencyViolation", Message: "resource has a dependent object"}
	}
	delete(f.SecurityGroups, aws.ToString(in.GroupId))
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *FakeEC2) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeSubnets"); err != nil {
		return nil, err
	}
	out := &ec2.DescribeSubnetsOutput{}
	for _, id := range in.SubnetIds {
		out.Subnets = append(out.Subnets, types.Subnet{SubnetId: aws.String(id), VpcId: aws.String(VPCID)})
	}
	return out, nil
}

func (f *FakeEC2) DescribeVpcs(_ context.Context, _ *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeVpcs"); err != nil {
		return nil, err
	}
	return &ec2.DescribeVpcsOutput{Vpcs: []types.Vpc{{VpcId: aws.String(VPCID), IsDefault: aws.Bool(true)}}}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ownerMatches(owners []string, owner string) bool {
	for _, o := range owners {
		if o == owner || (o == "self" && owner == Account) {
			return true
		}
	}
	return false
}

func filtersMatch(filters []types.Filter, img *types.Image) bool {
	tags := make(map[string]string)
	for _, t := range img.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}

	for _, f := range filters {
		var value string
		var present bool
		name := aws.ToString(f.Name)
		switch {
		case name == "name":
			value, present = aws.ToString(img.Name), true
		case name == "state":
			value, present = string(img.State), true
		case name == "architecture":
			value, present = string(img.Architecture), true
		case name == "tag-key":
			matched := false
			for _, v := range f.Values {
				if _, ok := tags[v]; ok {
					matched = true
				}
			}
			if !matched {
				return false
			}
			continue
		case strings.HasPrefix(name, "tag:"):
			value, present = tags[strings.TrimPrefix(name, "tag:")]
		}
		if !present || !anyGlob(f.Values, value) {
			return false
		}
	}
	return true
}

func anyGlob(patterns []string, value string) bool {
	for _, p := range patterns {
		re := "^" + strings.NewReplacer(`\*`, ".*", `\?`, ".").Replace(regexp.QuoteMeta(p)) + "$"
		if regexp.MustCompile(re).MatchString(value) {
			return true
		}
	}
	return false
}

func toTags(tags map[string]string) []types.Tag {
	var out []types.Tag
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}
