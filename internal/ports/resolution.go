package ports

type ResolutionStrategy string

const (
	ResolutionForceReplica ResolutionStrategy = "FORCE_REPLICA"
)

// ConflictResolution fences write access when the cluster has diverged.
// Both operations are idempotent; errors are logged by callers and never
// cascade into request handling.
type ConflictResolution interface {
	FenceWriteAccess() error
	ApplyResolutionStrategy(strategy ResolutionStrategy) error
}
