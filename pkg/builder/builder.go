// Package builder orchestrates an image build.
//
// A build launches a temporary instance from the source image, provisions
// it, captures it as a new AMI, copies and shares that AMI and removes every
// temporary resource again. Each step reports a ProgressEvent so the CLI can
// render progress as plain lines or in the TUI.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/crucialwebstudio/amify/pkg/cloud"
	"github.com/crucialwebstudio/amify/pkg/communicator"
	"github.com/crucialwebstudio/amify/pkg/config"
	"github.com/crucialwebstudio/amify/pkg/provision"
	"github.com/crucialwebstudio/amify/pkg/publicip"
	"github.com/crucialwebstudio/amify/pkg/validation"
)

var (
	// ErrValidation is returned when the build definition has errors.
	ErrValidation = errors.New("build definition is invalid")
	// ErrImageExists is returned when an image with the target name exists
	// and force_deregister is not set.
	ErrImageExists = errors.New("image already exists")
)

const (
	// DefaultCleanupTimeout bounds the teardown of temporary resources.
	DefaultCleanupTimeout = 5 * time.Minute
	// instanceTimeout bounds instance state transitions.
	instanceTimeout = 10 * time.Minute
)

// IPResolver finds the CIDR SSH ingress is opened for.
type IPResolver interface {
	CIDR(ctx context.Context) (string, error)
}

// Session is an open connection to the builder instance.
type Session interface {
	provision.RemoteRunner
	Close() error
}

// Connector waits for the builder instance to accept SSH.
type Connector func(ctx context.Context, cfg communicator.Config) (Session, error)

// Observer receives build events, typically for metrics.
type Observer interface {
	ObserveEvent(e ProgressEvent)
	ObserveBuild(r *Result)
}

// BuildOptions control a single build.
type BuildOptions struct {
	// DryRun stops after validation and the source image lookup.
	DryRun bool
	// KeepOnFailure leaves temporary resources in place when the build fails.
	KeepOnFailure bool
	// BuildID identifies the build. A random one is used when empty.
	BuildID string
}

// Result contains the outcome of a build.
type Result struct {
	BuildID    string
	Name       string
	AMIName    string
	Region     string
	Success    bool
	DryRun     bool
	Images     map[string]string // region -> AMI id
	SourceAMI  string
	InstanceID string
	KeyPath    string
	// Kept is set when a failed build left its resources running.
	Kept      bool
	StartedAt time.Time
	Duration  time.Duration
	Error     error
	// CleanupError holds teardown failures. Leaked resources are tagged
	// with the build id.
	CleanupError error
}

// Builder runs image builds.
type Builder struct {
	clients        cloud.Provider
	resolver       IPResolver
	connect        Connector
	provisioners   provision.Factory
	provisionOpts  provision.Options
	observer       Observer
	logger         *log.Logger
	keyDir         string
	cleanupTimeout time.Duration
}

// Option configures a Builder.
type Option func(*Builder)

// WithClients sets the per-region EC2 client provider.
func WithClients(p cloud.Provider) Option {
	return func(b *Builder) {
		b.clients = p
	}
}

// WithIPResolver sets how the local public address is found.
func WithIPResolver(r IPResolver) Option {
	return func(b *Builder) {
		b.resolver = r
	}
}

// WithCommunicator sets how SSH sessions are opened.
func WithCommunicator(c Connector) Option {
	return func(b *Builder) {
		b.connect = c
	}
}

// WithProvisionerFactory sets how provisioners are created.
func WithProvisionerFactory(f provision.Factory, opts provision.Options) Option {
	return func(b *Builder) {
		b.provisioners = f
		b.provisionOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// WithMetrics registers an observer for build events.
func WithMetrics(o Observer) Option {
	return func(b *Builder) {
		b.observer = o
	}
}

// WithKeyDir sets where temporary private keys are written.
func WithKeyDir(dir string) Option {
	return func(b *Builder) {
		b.keyDir = dir
	}
}

// WithCleanupTimeout overrides DefaultCleanupTimeout.
func WithCleanupTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.cleanupTimeout = d
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		connect:        sshConnector,
		provisioners:   provision.New,
		logger:         log.New(io.Discard),
		keyDir:         filepath.Join(os.TempDir(), "amify-keys"),
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.resolver == nil {
		b.resolver = publicip.NewResolver()
	}
	if b.provisionOpts.Logger == nil {
		b.provisionOpts.Logger = b.logger
	}
	return b
}

func sshConnector(ctx context.Context, cfg communicator.Config) (Session, error) {
	conn, err := communicator.WaitForSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Build runs the build described by cfg. The returned Result is always
// non-nil; its Error matches the returned error unless only cleanup failed.
func (b *Builder) Build(ctx context.Context, cfg *config.BuildConfig, opts BuildOptions, progress ProgressCallback) (*Result, error) {
	if progress == nil {
		progress = NoOpProgress
	}
	if opts.BuildID == "" {
		opts.BuildID = uuid.NewString()
	}

	r := &run{
		b:      b,
		cfg:    cfg,
		opts:   opts,
		logger: b.logger.With("build", shortID(opts.BuildID)),
		result: &Result{
			BuildID:   opts.BuildID,
			Name:      cfg.Name,
			AMIName:   cfg.AMIName,
			Region:    cfg.Region,
			DryRun:    opts.DryRun,
			Images:    make(map[string]string),
			StartedAt: time.Now(),
		},
	}
	r.progress = func(e ProgressEvent) {
		progress(e)
		if b.observer != nil {
			b.observer.ObserveEvent(e)
		}
	}

	err := r.execute(ctx)
	if err != nil {
		r.progress(NewErrorEvent(err.Error()))
	}
	cleanupErr := r.cleanup(err != nil)

	result := r.result
	result.Duration = time.Since(result.StartedAt)
	result.CleanupError = cleanupErr
	if err != nil {
		result.Success = false
		result.Error = err
	} else {
		result.Success = true
		if cleanupErr != nil {
			err = fmt.Errorf("build succeeded but cleanup failed: %w", cleanupErr)
			result.Error = err
		}
		r.progress(NewProgressEvent(StageComplete, "Build complete", 100).WithDetail(imagesSummary(result.Images)))
	}

	if b.observer != nil {
		b.observer.ObserveBuild(result)
	}
	return result, err
}

// run holds the state of one build.
type run struct {
	b        *Builder
	cfg      *config.BuildConfig
	opts     BuildOptions
	logger   *log.Logger
	progress ProgressCallback
	result   *Result

	client  *cloud.Client
	keyName string

	mu    sync.Mutex
	steps []cleanupStep
}

// cleanupStep undoes one build step. onFailure steps only run when the
// build failed.
type cleanupStep struct {
	name      string
	onFailure bool
	fn        func(ctx context.Context) error
}

func (r *run) onCleanup(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, cleanupStep{name: name, fn: fn})
}

func (r *run) deferOnFailure(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, cleanupStep{name: name, onFailure: true, fn: fn})
}

func (r *run) execute(ctx context.Context) error {
	cfg := r.cfg

	// Step 1: Validate
	r.progress(NewProgressEvent(StageValidating, "Validating build definition...", 2))
	if err := r.validate(); err != nil {
		return err
	}
	if r.b.clients == nil {
		return fmt.Errorf("no cloud client provider configured")
	}

	client, err := r.b.clients.Client(ctx, cfg.Region)
	if err != nil {
		return err
	}
	r.client = client

	// Step 2: Resolve the source image
	r.progress(NewProgressEvent(StageSource, "Resolving source image...", 5))
	source, err := r.resolveSource(ctx)
	if err != nil {
		return err
	}
	r.result.SourceAMI = source.ID
	r.progress(NewProgressEvent(StageSource, "Using source image", 8).
		WithResource(source.ID).WithDetail(source.Name))

	if r.opts.DryRun {
		r.logger.Info("dry run, stopping before launch", "source", source.ID)
		return nil
	}

	// Step 3: Make sure the image name is free
	if err := r.checkExisting(ctx); err != nil {
		return err
	}

	// Step 4: Key pair
	r.progress(NewProgressEvent(StageKeyPair, "Creating temporary key pair...", 10))
	signer, err := r.createKeyPair(ctx)
	if err != nil {
		return err
	}

	// Step 5: Security group
	r.progress(NewProgressEvent(StageNetwork, "Preparing security group...", 15))
	groups, err := r.securityGroups(ctx)
	if err != nil {
		return err
	}

	// Step 6: Launch
	r.progress(NewProgressEvent(StageLaunching, "Launching builder instance...", 20).
		WithDetail(cfg.InstanceType))
	inst, err := r.launch(ctx, source, groups)
	if err != nil {
		return err
	}
	address := inst.Address(cfg.SSHPrivateIP)
	if address == "" {
		return fmt.Errorf("instance %s has no reachable address", inst.ID)
	}

	// Step 7: SSH
	sshTimeout, err := cfg.SSHTimeoutDuration()
	if err != nil {
		return err
	}
	r.progress(NewProgressEvent(StageConnecting, "Waiting for SSH...", 30).
		WithDetail(fmt.Sprintf("%s@%s:%d", cfg.SSHUsername, address, cfg.SSHPort)))
	conn, err := r.b.connect(ctx, communicator.Config{
		Host:    address,
		Port:    cfg.SSHPort,
		User:    cfg.SSHUsername,
		Signer:  signer,
		Timeout: sshTimeout,
		Logger:  r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", inst.ID, err)
	}

	// Step 8: Provision
	err = r.provision(ctx, address, conn)
	if cerr := conn.Close(); cerr != nil {
		r.logger.Debug("failed to close ssh session", "host", address, "err", cerr)
	}
	if err != nil {
		return err
	}

	// Step 9: Stop
	if cfg.ShouldStop() {
		r.progress(NewProgressEvent(StageStopping, "Stopping instance...", 70).WithResource(inst.ID))
		if err := r.client.StopInstance(ctx, inst.ID, instanceTimeout); err != nil {
			return err
		}
	}

	// Step 10: Image
	imageID, err := r.createImage(ctx, inst.ID)
	if err != nil {
		return err
	}

	// Step 11: Copies
	if err := r.copyImages(ctx, imageID); err != nil {
		return err
	}

	// Step 12: Launch permissions
	if err := r.share(ctx); err != nil {
		return err
	}

	if cfg.Manifest != "" {
		if err := WriteManifest(cfg.Manifest, NewManifest(r.result)); err != nil {
			return err
		}
		r.logger.Info("wrote manifest", "path", cfg.Manifest)
	}
	return nil
}

func (r *run) validate() error {
	res := validation.ValidateBuild(r.cfg, r.cfg.Path)
	for _, issue := range res.Issues {
		if issue.Severity == validation.SeverityWarning {
			r.logger.Warn(issue.Message, "field", issue.Field)
		}
	}
	if !res.HasErrors() {
		return nil
	}
	msgs := make([]string, 0, res.ErrorCount())
	for _, issue := range res.Errors() {
		msgs = append(msgs, issue.String())
	}
	return fmt.Errorf("%w:\n  %s", ErrValidation, strings.Join(msgs, "\n  "))
}

func (r *run) resolveSource(ctx context.Context) (*cloud.Image, error) {
	if r.cfg.SourceAMI != "" {
		return r.client.DescribeImage(ctx, r.cfg.SourceAMI)
	}
	f := r.cfg.SourceAMIFilter
	return r.client.FindSourceImage(ctx, cloud.ImageFilter{
		Name:         f.Name,
		Owners:       f.Owners,
		Architecture: f.Architecture,
		MostRecent:   f.MostRecent,
	})
}

// checkExisting fails, or deregisters with force_deregister, when an image
// with the target name exists in any target region.
func (r *run) checkExisting(ctx context.Context) error {
	for _, region := range r.cfg.AllRegions() {
		client, err := r.clientFor(ctx, region)
		if err != nil {
			return err
		}
		existing, err := client.ImageByName(ctx, r.cfg.AMIName)
		if err != nil {
			return err
		}
		if existing == nil {
			continue
		}
		if !r.cfg.ForceDeregister {
			return fmt.Errorf("%w: %s (%s) in %s; set force_deregister to replace it",
				ErrImageExists, r.cfg.AMIName, existing.ID, region)
		}
		r.progress(NewProgressEvent(StageSource, "Deregistering existing image...", 9).
			WithResource(existing.ID).WithDetail(region))
		if err := client.DeregisterImage(ctx, existing.ID, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) createKeyPair(ctx context.Context) (ssh.Signer, error) {
	r.keyName = "amify_" + r.opts.BuildID
	kp, err := communicator.GenerateKeyPair(r.keyName)
	if err != nil {
		return nil, err
	}
	signer, err := kp.Signer()
	if err != nil {
		return nil, err
	}

	path, err := kp.WritePrivateKey(r.b.keyDir, r.keyName+".pem")
	if err != nil {
		return nil, err
	}
	r.result.KeyPath = path
	r.onCleanup("remove private key "+path, func(context.Context) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	if _, err := r.client.ImportKeyPair(ctx, r.keyName, kp.AuthorizedKey(), r.runTags()); err != nil {
		return nil, err
	}
	name := r.keyName
	r.onCleanup("delete key pair "+name, func(ctx context.Context) error {
		return r.client.DeleteKeyPair(ctx, name)
	})
	r.progress(NewProgressEvent(StageKeyPair, "Imported key pair", 12).
		WithResource(name).WithDetail(kp.Fingerprint()))
	return signer, nil
}

func (r *run) securityGroups(ctx context.Context) ([]string, error) {
	cfg := r.cfg
	if len(cfg.SecurityGroupIDs) > 0 {
		return cfg.SecurityGroupIDs, nil
	}

	cidr := cfg.SSHCIDR
	if cidr == "" {
		var err error
		cidr, err = r.b.resolver.CIDR(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to determine ssh_cidr: %w", err)
		}
	}

	vpc := cfg.VPCID
	var err error
	switch {
	case vpc != "":
	case cfg.SubnetID != "":
		vpc, err = r.client.VPCForSubnet(ctx, cfg.SubnetID)
	default:
		vpc, err = r.client.DefaultVPC(ctx)
	}
	if err != nil {
		return nil, err
	}

	id, err := r.client.CreateSecurityGroup(ctx, cloud.SecurityGroupSpec{
		Name:        "amify_" + r.opts.BuildID,
		Description: "Temporary SSH access for amify build " + r.opts.BuildID,
		VPCID:       vpc,
		Port:        cfg.SSHPort,
		CIDR:        cidr,
		Tags:        r.runTags(),
	})
	if id != "" {
		r.onCleanup("delete security group "+id, func(ctx context.Context) error {
			return r.client.DeleteSecurityGroup(ctx, id)
		})
	}
	if err != nil {
		return nil, err
	}
	r.progress(NewProgressEvent(StageNetwork, "Created security group", 18).
		WithResource(id).WithDetail(cidr))
	return []string{id}, nil
}

func (r *run) launch(ctx context.Context, source *cloud.Image, groups []string) (*cloud.Instance, error) {
	cfg := r.cfg
	rootDevice := cfg.RootDeviceName
	if source.RootDeviceName != "" {
		rootDevice = source.RootDeviceName
	}

	inst, err := r.client.RunInstance(ctx, cloud.InstanceSpec{
		ImageID:            source.ID,
		InstanceType:       cfg.InstanceType,
		KeyName:            r.keyName,
		SecurityGroupIDs:   groups,
		SubnetID:           cfg.SubnetID,
		AssociatePublicIP:  cfg.PublicIP(),
		IAMInstanceProfile: cfg.IAMInstanceProfile,
		UserData:           cfg.UserData,
		RootDeviceName:     rootDevice,
		RootVolumeSize:     cfg.RootVolumeSize,
		VolumeType:         cfg.VolumeType,
		Encrypted:          cfg.Encrypted,
		KMSKeyID:           cfg.KMSKeyID,
		Tags:               r.runTags(),
	})
	if err != nil {
		return nil, err
	}
	r.result.InstanceID = inst.ID
	id := inst.ID
	r.onCleanup("terminate instance "+id, func(ctx context.Context) error {
		return r.client.TerminateInstance(ctx, id, instanceTimeout)
	})

	r.progress(NewProgressEvent(StageWaiting, "Waiting for instance to run...", 25).WithResource(id))
	inst, err = r.client.WaitInstanceRunning(ctx, id, instanceTimeout)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *run) provision(ctx context.Context, address string, conn Session) error {
	target := provision.Target{
		Host:           address,
		Port:           r.cfg.SSHPort,
		User:           r.cfg.SSHUsername,
		PrivateKeyPath: r.result.KeyPath,
		Comm:           conn,
	}

	total := len(r.cfg.Provisioners)
	for i, pc := range r.cfg.Provisioners {
		p, err := r.b.provisioners(pc, r.b.provisionOpts)
		if err != nil {
			return err
		}
		percent := 35 + (30*i)/max(total, 1)
		r.progress(NewProgressEvent(StageProvisioning,
			fmt.Sprintf("Running provisioner %d/%d", i+1, total), percent).WithDetail(p.Name()))
		if err := p.Provision(ctx, target); err != nil {
			return fmt.Errorf("provisioner %d (%s): %w", i+1, p.Name(), err)
		}
	}
	return nil
}

func (r *run) createImage(ctx context.Context, instanceID string) (string, error) {
	timeout, err := r.cfg.ImageTimeoutDuration()
	if err != nil {
		return "", err
	}

	r.progress(NewProgressEvent(StageImaging, "Creating image...", 75).WithDetail(r.cfg.AMIName))
	id, err := r.client.CreateImage(ctx, cloud.ImageSpec{
		InstanceID:  instanceID,
		Name:        r.cfg.AMIName,
		Description: r.cfg.AMIDescription,
		Tags:        r.imageTags(),
	})
	if err != nil {
		return "", err
	}
	r.deferOnFailure("deregister image "+id, func(ctx context.Context) error {
		if err := r.client.DeregisterImage(ctx, id, true); err != nil {
			return err
		}
		r.dropImage(r.cfg.Region, id)
		return nil
	})

	r.progress(NewProgressEvent(StageImaging, "Waiting for image to become available...", 78).WithResource(id))
	if err := r.client.WaitImageAvailable(ctx, id, timeout); err != nil {
		return "", err
	}
	r.setImage(r.cfg.Region, id)
	return id, nil
}

// copyImages copies the image to every ami_region concurrently.
func (r *run) copyImages(ctx context.Context, imageID string) error {
	regions := r.cfg.AllRegions()[1:]
	if len(regions) == 0 {
		return nil
	}
	timeout, err := r.cfg.ImageTimeoutDuration()
	if err != nil {
		return err
	}

	r.progress(NewProgressEvent(StageCopying,
		fmt.Sprintf("Copying image to %d region(s)...", len(regions)), 85).
		WithDetail(strings.Join(regions, ", ")))

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range regions {
		g.Go(func() error {
			client, err := r.clientFor(gctx, region)
			if err != nil {
				return err
			}
			id, err := client.CopyImage(gctx, cloud.CopySpec{
				SourceRegion:  r.cfg.Region,
				SourceImageID: imageID,
				Name:          r.cfg.AMIName,
				Description:   r.cfg.AMIDescription,
				Encrypted:     r.cfg.Encrypted,
				Tags:          r.imageTags(),
			})
			if err != nil {
				return fmt.Errorf("%s: %w", region, err)
			}
			r.deferOnFailure("deregister image "+id+" in "+region, func(ctx context.Context) error {
				if err := client.DeregisterImage(ctx, id, true); err != nil {
					return err
				}
				r.dropImage(region, id)
				return nil
			})
			if err := client.WaitImageAvailable(gctx, id, timeout); err != nil {
				return fmt.Errorf("%s: %w", region, err)
			}
			r.setImage(region, id)
			r.progress(NewProgressEvent(StageCopying, "Copied image", 88).
				WithResource(id).WithDetail(region))
			return nil
		})
	}
	return g.Wait()
}

func (r *run) share(ctx context.Context) error {
	if len(r.cfg.AMIUsers) == 0 && len(r.cfg.AMIGroups) == 0 {
		return nil
	}
	r.progress(NewProgressEvent(StageSharing, "Sharing image...", 92))
	for _, region := range r.cfg.AllRegions() {
		client, err := r.clientFor(ctx, region)
		if err != nil {
			return err
		}
		id := r.image(region)
		if err := client.ShareImage(ctx, id, r.cfg.AMIUsers, r.cfg.AMIGroups); err != nil {
			return err
		}
	}
	return nil
}

// cleanup runs the registered steps in reverse order on a fresh context so
// an interrupted build still tears down.
func (r *run) cleanup(failed bool) error {
	r.mu.Lock()
	steps := append([]cleanupStep(nil), r.steps...)
	r.mu.Unlock()

	if len(steps) == 0 {
		return nil
	}
	if failed && r.opts.KeepOnFailure {
		for _, s := range steps {
			r.logger.Warn("keeping resource for debugging", "step", s.name)
		}
		r.result.Kept = true
		r.progress(NewProgressEvent(StageCleanup, "Keeping resources for debugging", -1).
			WithDetail(fmt.Sprintf("key: %s", r.result.KeyPath)))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.b.cleanupTimeout)
	defer cancel()

	r.progress(NewProgressEvent(StageCleanup, "Cleaning up temporary resources...", -1))
	var errs *multierror.Error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.onFailure && !failed {
			continue
		}
		r.logger.Debug("cleanup", "step", s.name)
		if err := s.fn(ctx); err != nil {
			r.logger.Error("cleanup failed", "step", s.name, "err", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errs.ErrorOrNil()
}

func (r *run) clientFor(ctx context.Context, region string) (*cloud.Client, error) {
	if region == r.cfg.Region {
		return r.client, nil
	}
	return r.b.clients.Client(ctx, region)
}

func (r *run) setImage(region, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Images[region] = id
}

// dropImage forgets a deregistered image so the result only lists images
// that still exist.
func (r *run) dropImage(region, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.Images[region] == id {
		delete(r.result.Images, region)
	}
}

func (r *run) image(region string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.Images[region]
}

// runTags are applied to every temporary resource.
func (r *run) runTags() map[string]string {
	tags := make(map[string]string, len(r.cfg.RunTags)+3)
	maps.Copy(tags, r.cfg.RunTags)
	tags[cloud.TagBuildID] = r.opts.BuildID
	tags[cloud.TagBuildName] = r.cfg.Name
	if _, ok := tags[cloud.TagName]; !ok {
		tags[cloud.TagName] = "amify builder " + r.cfg.Name
	}
	return tags
}

// imageTags are applied to the image, its snapshots and its copies.
func (r *run) imageTags() map[string]string {
	tags := make(map[string]string, len(r.cfg.Tags)+3)
	maps.Copy(tags, r.cfg.Tags)
	tags[cloud.TagBuildID] = r.opts.BuildID
	tags[cloud.TagBuildName] = r.cfg.Name
	tags[cloud.TagSourceAMI] = r.result.SourceAMI
	return tags
}

func imagesSummary(images map[string]string) string {
	regions := make([]string, 0, len(images))
	for region := range images {
		regions = append(regions, region)
	}
	slices.Sort(regions)
	parts := make([]string, 0, len(regions))
	for _, region := range regions {
		parts = append(parts, region+": "+images[region])
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
