// Package resolution fences write access at the mount point when cluster
// state has diverged.
package resolution

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
)

// MarkerFencer moves the .primary marker aside so the underlying
// filesystem refuses writes regardless of role belief. All operations are
// idempotent: a missing marker is not an error.
type MarkerFencer struct {
	markerPath  string
	blockedPath string
	logger      *slog.Logger
}

func NewMarkerFencer(mountPath string, logger *slog.Logger) *MarkerFencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkerFencer{
		markerPath:  filepath.Join(mountPath, domain.PrimaryMarkerName),
		blockedPath: filepath.Join(mountPath, domain.BlockedMarkerName),
		logger:      logger.With("component", "marker-fencer"),
	}
}

func (f *MarkerFencer) FenceWriteAccess() error {
	err := os.Rename(f.markerPath, f.blockedPath)
	if err == nil {
		f.logger.Warn("write access fenced", "blocked_marker", f.blockedPath)
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("fence write access: %w", err)
}

// Unfence restores the marker after divergence has been resolved.
func (f *MarkerFencer) Unfence() error {
	err := os.Rename(f.blockedPath, f.markerPath)
	if err == nil {
		f.logger.Info("write access restored", "marker", f.markerPath)
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("unfence write access: %w", err)
}

func (f *MarkerFencer) ApplyResolutionStrategy(strategy ports.ResolutionStrategy) error {
	switch strategy {
	case ports.ResolutionForceReplica:
		return f.FenceWriteAccess()
	default:
		return domain.NewConfigError("resolution_strategy", "unknown strategy: %q", strategy)
	}
}
