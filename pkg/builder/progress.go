package builder

import (
	"sync"
	"time"
)

// Stage is a step of an image build.
type Stage string

const (
	StageValidating   Stage = "validating"
	StageSource       Stage = "source"
	StageKeyPair      Stage = "keypair"
	StageNetwork      Stage = "network"
	StageLaunching    Stage = "launching"
	StageWaiting      Stage = "waiting"
	StageConnecting   Stage = "connecting"
	StageProvisioning Stage = "provisioning"
	StageStopping     Stage = "stopping"
	StageImaging      Stage = "imaging"
	StageCopying      Stage = "copying"
	StageSharing      Stage = "sharing"
	StageComplete     Stage = "complete"
	StageCleanup      Stage = "cleanup"
	StageError        Stage = "error"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the stage.
func (s Stage) DisplayName() string {
	switch s {
	case StageValidating:
		return "Validating"
	case StageSource:
		return "Resolving Source Image"
	case StageKeyPair:
		return "Creating Key Pair"
	case StageNetwork:
		return "Preparing Network"
	case StageLaunching:
		return "Launching Instance"
	case StageWaiting:
		return "Waiting"
	case StageConnecting:
		return "Connecting"
	case StageProvisioning:
		return "Provisioning"
	case StageStopping:
		return "Stopping Instance"
	case StageImaging:
		return "Creating Image"
	case StageCopying:
		return "Copying Image"
	case StageSharing:
		return "Sharing Image"
	case StageComplete:
		return "Complete"
	case StageCleanup:
		return "Cleaning Up"
	case StageError:
		return "Error"
	default:
		return string(s)
	}
}

// ProgressEvent is a build progress update.
type ProgressEvent struct {
	Stage     Stage     // Current stage
	Message   string    // Human-readable message
	Resource  string    // AWS resource the step acts on (ami-..., i-...)
	Detail    string    // Additional detail or output
	Percent   int       // 0-100, -1 for indeterminate
	IsError   bool      // True if this is an error message
	Timestamp time.Time // When this event occurred
}

// NewProgressEvent creates a new progress event.
func NewProgressEvent(stage Stage, message string, percent int) ProgressEvent {
	return ProgressEvent{
		Stage:     stage,
		Message:   message,
		Percent:   percent,
		Timestamp: time.Now(),
	}
}

// WithResource returns a copy of e naming the resource involved.
func (e ProgressEvent) WithResource(id string) ProgressEvent {
	e.Resource = id
	return e
}

// WithDetail returns a copy of e with detail attached.
func (e ProgressEvent) WithDetail(detail string) ProgressEvent {
	e.Detail = detail
	return e
}

// NewErrorEvent creates a new error progress event.
func NewErrorEvent(message string) ProgressEvent {
	return ProgressEvent{
		Stage:     StageError,
		Message:   message,
		Percent:   -1,
		IsError:   true,
		Timestamp: time.Now(),
	}
}

// ProgressCallback is called with progress updates during a build.
type ProgressCallback func(ProgressEvent)

// NoOpProgress is a progress callback that does nothing.
func NoOpProgress(_ ProgressEvent) {}

// ProgressTracker collects progress events for later review. It is safe
// for concurrent use.
type ProgressTracker struct {
	mu     sync.Mutex
	events []ProgressEvent
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		events: make([]ProgressEvent, 0),
	}
}

// Callback returns a ProgressCallback that records events.
func (t *ProgressTracker) Callback() ProgressCallback {
	return func(e ProgressEvent) {
		t.mu.Lock()
		t.events = append(t.events, e)
		t.mu.Unlock()
	}
}

// Events returns all recorded events.
func (t *ProgressTracker) Events() []ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ProgressEvent(nil), t.events...)
}

// Stages returns the distinct stages seen, in order of first appearance.
func (t *ProgressTracker) Stages() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[Stage]bool)
	var stages []Stage
	for _, e := range t.events {
		if !seen[e.Stage] {
			seen[e.Stage] = true
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

// LastEvent returns the most recent event, or nil if none.
func (t *ProgressTracker) LastEvent() *ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return nil
	}
	e := t.events[len(t.events)-1]
	return &e
}

// HasErrors returns true if any error events were recorded.
func (t *ProgressTracker) HasErrors() bool {
	return len(t.Errors()) > 0
}

// Errors returns all error events.
func (t *ProgressTracker) Errors() []ProgressEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []ProgressEvent
	for _, e := range t.events {
		if e.IsError {
			errs = append(errs, e)
		}
	}
	return errs
}
