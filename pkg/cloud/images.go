package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Image is the part of an AMI amify cares about.
type Image struct {
	ID             string
	Name           string
	Description    string
	State          string
	OwnerID        string
	Architecture   string
	RootDeviceName string
	CreationDate   time.Time
	SnapshotIDs    []string
	Tags           map[string]string
	Region         string
}

// ImageFilter selects a source image.
type ImageFilter struct {
	Name         string
	Owners       []string
	Architecture string
	MostRecent   bool
}

// ImageSpec describes the image created from a builder instance.
type ImageSpec struct {
	InstanceID  string
	Name        string
	Description string
	NoReboot    bool
	Tags        map[string]string
}

// CopySpec describes a cross-region image copy. It is executed by the
// destination region's client.
type CopySpec struct {
	SourceRegion  string
	SourceImageID string
	Name          string
	Description   string
	Encrypted     bool
	KMSKeyID      string
	Tags          map[string]string
}

// FindSourceImage resolves filter to a single available image.
func (c *Client) FindSourceImage(ctx context.Context, filter ImageFilter) (*Image, error) {
	input := &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{filter.Name}},
			{Name: aws.String("state"), Values: []string{string(types.ImageStateAvailable)}},
		},
	}
	if len(filter.Owners) > 0 {
		input.Owners = filter.Owners
	}
	if filter.Architecture != "" {
		input.Filters = append(input.Filters, types.Filter{
			Name:   aws.String("architecture"),
			Values: []string{filter.Architecture},
		})
	}

	images, err := c.describeImages(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to find source image: %w", err)
	}

	switch {
	case len(images) == 0:
		return nil, fmt.Errorf("%w: name=%q owners=%v", ErrNoSourceImage, filter.Name, filter.Owners)
	case len(images) > 1 && !filter.MostRecent:
		return nil, fmt.Errorf("%w (%d matches); set most_recent or narrow the filter", ErrAmbiguousSourceImage, len(images))
	}

	sortNewestFirst(images)
	c.logger.Debug("resolved source image", "image", images[0].ID, "name", images[0].Name)
	return &images[0], nil
}

// DescribeImage returns the image with the given id.
func (c *Client) DescribeImage(ctx context.Context, id string) (*Image, error) {
	images, err := c.describeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{id}})
	if err != nil {
		if apiErrorCode(err) == "InvalidAMIID.NotFound" {
			return nil, fmt.Errorf("%w: image %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to describe image %s: %w", id, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, id)
	}
	return &images[0], nil
}

// ImageByName returns the image owned by the caller with the given name,
// or nil when there is none.
func (c *Client) ImageByName(ctx context.Context, name string) (*Image, error) {
	images, err := c.describeImages(ctx, &ec2.DescribeImagesInput{
		Owners:  []string{"self"},
		Filters: []types.Filter{{Name: aws.String("name"), Values: []string{name}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up image %q: %w", name, err)
	}
	if len(images) == 0 {
		return nil, nil
	}
	return &images[0], nil
}

// ListImages returns images owned by the caller that were built by amify,
// newest first. namePrefix optionally restricts the image names.
func (c *Client) ListImages(ctx context.Context, namePrefix string) ([]Image, error) {
	input := &ec2.DescribeImagesInput{
		Owners:  []string{"self"},
		Filters: []types.Filter{{Name: aws.String("tag-key"), Values: []string{TagBuildID}}},
	}
	if namePrefix != "" {
		input.Filters = append(input.Filters, types.Filter{
			Name:   aws.String("name"),
			Values: []string{namePrefix + "*"},
		})
	}

	images, err := c.describeImages(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	sortNewestFirst(images)
	return images, nil
}

// CreateImage creates an image from a builder instance and returns its id.
// Tags are applied to the image and its snapshots.
func (c *Client) CreateImage(ctx context.Context, spec ImageSpec) (string, error) {
	input := &ec2.CreateImageInput{
		InstanceId: aws.String(spec.InstanceID),
		Name:       aws.String(spec.Name),
		NoReboot:   aws.Bool(spec.NoReboot),
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = tagSpecs(spec.Tags, types.ResourceTypeImage, types.ResourceTypeSnapshot)
	}

	out, err := c.api.CreateImage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create image %q: %w", spec.Name, err)
	}
	id := aws.ToString(out.ImageId)
	c.logger.Info("creating image", "image", id, "name", spec.Name)
	return id, nil
}

// WaitImageAvailable blocks until the image is available or timeout elapses.
func (c *Client) WaitImageAvailable(ctx context.Context, id string, timeout time.Duration) error {
	w := ec2.NewImageAvailableWaiter(c.api, func(o *ec2.ImageAvailableWaiterOptions) {
		o.MinDelay = c.waitMinDelay
		o.MaxDelay = c.waitMaxDelay
	})
	if err := w.Wait(ctx, &ec2.DescribeImagesInput{ImageIds: []string{id}}, timeout); err != nil {
		return fmt.Errorf("image %s did not become available: %w", id, err)
	}
	return nil
}

// CopyImage copies an image into this client's region and returns the new id.
func (c *Client) CopyImage(ctx context.Context, spec CopySpec) (string, error) {
	input := &ec2.CopyImageInput{
		SourceRegion:  aws.String(spec.SourceRegion),
		SourceImageId: aws.String(spec.SourceImageID),
		Name:          aws.String(spec.Name),
		Encrypted:     aws.Bool(spec.Encrypted),
	}
	if spec.Description != "" {
		input.Description = aws.String(spec.Description)
	}
	if spec.Encrypted && spec.KMSKeyID != "" {
		input.KmsKeyId = aws.String(spec.KMSKeyID)
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = tagSpecs(spec.Tags, types.ResourceTypeImage)
	}

	out, err := c.api.CopyImage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to copy image %s from %s: %w", spec.SourceImageID, spec.SourceRegion, err)
	}
	id := aws.ToString(out.ImageId)
	c.logger.Info("copying image", "image", id, "source", spec.SourceImageID)
	return id, nil
}

// ShareImage grants launch permission to accounts and groups.
func (c *Client) ShareImage(ctx context.Context, id string, users, groups []string) error {
	var perms []types.LaunchPermission
	for _, u := range users {
		if u == "all" {
			perms = append(perms, types.LaunchPermission{Group: types.PermissionGroupAll})
			continue
		}
		perms = append(perms, types.LaunchPermission{UserId: aws.String(u)})
	}
	for _, g := range groups {
		perms = append(perms, types.LaunchPermission{Group: types.PermissionGroup(g)})
	}
	if len(perms) == 0 {
		return nil
	}

	_, err := c.api.ModifyImageAttribute(ctx, &ec2.ModifyImageAttributeInput{
		ImageId:          aws.String(id),
		LaunchPermission: &types.LaunchPermissionModifications{Add: perms},
	})
	if err != nil {
		return fmt.Errorf("failed to share image %s: %w", id, err)
	}
	c.logger.Info("shared image", "image", id, "users", len(users), "groups", len(groups))
	return nil
}

// DeregisterImage deregisters an image and optionally deletes its snapshots.
func (c *Client) DeregisterImage(ctx context.Context, id string, deleteSnapshots bool) error {
	img, err := c.DescribeImage(ctx, id)
	if err != nil {
		return err
	}

	if _, err := c.api.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(id)}); err != nil {
		return fmt.Errorf("failed to deregister image %s: %w", id, err)
	}
	c.logger.Info("deregistered image", "image", id)

	if !deleteSnapshots {
		return nil
	}
	for _, snap := range img.SnapshotIDs {
		if _, err := c.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(snap)}); err != nil {
			return fmt.Errorf("failed to delete snapshot %s: %w", snap, err)
		}
		c.logger.Debug("deleted snapshot", "snapshot", snap)
	}
	return nil
}

// TagResources applies tags to the given resource ids.
func (c *Client) TagResources(ctx context.Context, ids []string, tags map[string]string) error {
	if len(ids) == 0 || len(tags) == 0 {
		return nil
	}
	_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: ids,
		Tags:      toEC2Tags(tags),
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", strings.Join(ids, ","), err)
	}
	return nil
}

func (c *Client) describeImages(ctx context.Context, input *ec2.DescribeImagesInput) ([]Image, error) {
	var images []Image
	p := ec2.NewDescribeImagesPaginator(c.api, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, img := range out.Images {
			images = append(images, c.toImage(img))
		}
	}
	return images, nil
}

func (c *Client) toImage(img types.Image) Image {
	out := Image{
		ID:             aws.ToString(img.ImageId),
		Name:           aws.ToString(img.Name),
		Description:    aws.ToString(img.Description),
		State:          string(img.State),
		OwnerID:        aws.ToString(img.OwnerId),
		Architecture:   string(img.Architecture),
		RootDeviceName: aws.ToString(img.RootDeviceName),
		Tags:           fromEC2Tags(img.Tags),
		Region:         c.region,
	}
	if ts := aws.ToString(img.CreationDate); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			out.CreationDate = t
		}
	}
	for _, bdm := range img.BlockDeviceMappings {
		if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
			out.SnapshotIDs = append(out.SnapshotIDs, aws.ToString(bdm.Ebs.SnapshotId))
		}
	}
	return out
}

func sortNewestFirst(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].CreationDate.After(images[j].CreationDate)
	})
}

func toEC2Tags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func fromEC2Tags(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func tagSpecs(tags map[string]string, resources ...types.ResourceType) []types.TagSpecification {
	ec2Tags := toEC2Tags(tags)
	specs := make([]types.TagSpecification, 0, len(resources))
	for _, r := range resources {
		specs = append(specs, types.TagSpecification{ResourceType: r, Tags: ec2Tags})
	}
	return specs
}
