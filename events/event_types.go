package events

import "time"

// Severity marks how loudly an event should be surfaced by its sinks.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// CoreCreated is published once, when a Core finishes construction.
type CoreCreated struct {
	InstanceID uint64
}

func (CoreCreated) Name() string { return "CoreCreated" }

// BucketOpenInitiated is published when Core.OpenBucket begins.
type BucketOpenInitiated struct{ Bucket string }

func (BucketOpenInitiated) Name() string { return "BucketOpenInitiated" }

// BucketOpened is published when a bucket open completes successfully.
type BucketOpened struct{ Bucket string }

func (BucketOpened) Name() string { return "BucketOpened" }

// BucketOpenFailed is published when a bucket open fails. Severity is
// Debug if the core was already shut down, Warn otherwise, per spec.md
// §4.1.
type BucketOpenFailed struct {
	Bucket   string
	Err      error
	Severity Severity
}

func (BucketOpenFailed) Name() string { return "BucketOpenFailed" }

// BucketClosed is published when a bucket is closed.
type BucketClosed struct{ Bucket string }

func (BucketClosed) Name() string { return "BucketClosed" }

// InitGlobalConfigReason classifies why global config loading failed.
type InitGlobalConfigReason uint8

const (
	ReasonUnsupported InitGlobalConfigReason = iota
	ReasonNoConfigFound
	ReasonNoAccess
	ReasonShutdown
	ReasonUnknown
)

func (r InitGlobalConfigReason) String() string {
	switch r {
	case ReasonUnsupported:
		return "unsupported"
	case ReasonNoConfigFound:
		return "no config found"
	case ReasonNoAccess:
		return "no access"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// InitGlobalConfigFailed is published when Core.InitGlobalConfig fails.
type InitGlobalConfigFailed struct {
	Reason InitGlobalConfigReason
	Cause  error
}

func (InitGlobalConfigFailed) Name() string { return "InitGlobalConfigFailed" }

// ShutdownInitiated is published exactly once per Core, at the start of
// the first Shutdown call to win the compare-and-set.
type ShutdownInitiated struct{}

func (ShutdownInitiated) Name() string { return "ShutdownInitiated" }

// ShutdownCompleted is published exactly once, when the live node set has
// drained (or the shutdown timeout elapsed).
type ShutdownCompleted struct{ TimedOut bool }

func (ShutdownCompleted) Name() string { return "ShutdownCompleted" }

// ReconfigurationCompleted is published after a reconciliation pass
// finishes successfully.
type ReconfigurationCompleted struct{ Elapsed time.Duration }

func (ReconfigurationCompleted) Name() string { return "ReconfigurationCompleted" }

// ReconfigurationErrorDetected is published after a reconciliation pass
// fails.
type ReconfigurationErrorDetected struct{ Err error }

func (ReconfigurationErrorDetected) Name() string { return "ReconfigurationErrorDetected" }

// ReconfigurationIgnored is published when a reconfigure() call could not
// acquire the in_progress flag and instead set pending.
type ReconfigurationIgnored struct{}

func (ReconfigurationIgnored) Name() string { return "ReconfigurationIgnored" }

// ServiceReconfigurationFailed is published when reconciling a single
// node's service fails; the pass continues for every other node.
type ServiceReconfigurationFailed struct {
	NodeIdentifier string
	Err            error
}

func (ServiceReconfigurationFailed) Name() string { return "ServiceReconfigurationFailed" }
