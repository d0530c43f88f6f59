// Package mount observes the replication daemon's mount point: directory
// liveness and the .primary marker protocol.
package mount

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/eleven-am/ferry/internal/domain"
)

const markerCacheKey = "primary_marker"

// Observer reads mount-point artifacts. Each call re-observes the
// filesystem unless a positive TTL is configured, in which case the last
// observation is served until it expires.
type Observer struct {
	mountPath  string
	markerPath string
	ttl        time.Duration
	cache      *gocache.Cache
	logger     *slog.Logger
}

func NewObserver(mountPath string, ttl time.Duration, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		mountPath:  mountPath,
		markerPath: filepath.Join(mountPath, domain.PrimaryMarkerName),
		ttl:        ttl,
		logger:     logger.With("component", "mount-observer", "mount_path", mountPath),
	}
	if ttl > 0 {
		o.cache = gocache.New(ttl, ttl)
	}
	return o
}

func (o *Observer) MountPath() string {
	return o.mountPath
}

// MountExists reports whether the mount directory is present and
// accessible.
func (o *Observer) MountExists() bool {
	info, err := os.Stat(o.mountPath)
	return err == nil && info.IsDir()
}

// ReadPrimaryMarker observes the .primary marker. A missing mount yields a
// MountError; an absent marker means no primary has been elected.
func (o *Observer) ReadPrimaryMarker() (domain.PrimaryMarker, error) {
	if o.cache != nil {
		if v, ok := o.cache.Get(markerCacheKey); ok {
			return v.(domain.PrimaryMarker), nil
		}
	}

	marker, err := o.observe()
	if err != nil {
		return domain.PrimaryMarker{}, err
	}
	if o.cache != nil {
		o.cache.Set(markerCacheKey, marker, o.ttl)
	}
	return marker, nil
}

func (o *Observer) observe() (domain.PrimaryMarker, error) {
	if !o.MountExists() {
		return domain.PrimaryMarker{}, &domain.MountError{Path: o.mountPath}
	}

	data, err := os.ReadFile(o.markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.PrimaryMarker{State: domain.MarkerAbsent}, nil
		}
		return domain.PrimaryMarker{}, &domain.MountError{Path: o.mountPath, Err: err}
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return domain.PrimaryMarker{State: domain.MarkerPresentEmpty}, nil
	}
	return domain.PrimaryMarker{State: domain.MarkerPresent, Content: content}, nil
}

// IsPrimary reports whether the marker designates this node as primary.
func (o *Observer) IsPrimary() (bool, error) {
	marker, err := o.ReadPrimaryMarker()
	if err != nil {
		return false, err
	}
	return marker.IsLocalPrimary(), nil
}

// Invalidate drops the cached observation, if any.
func (o *Observer) Invalidate() {
	if o.cache != nil {
		o.cache.Delete(markerCacheKey)
	}
}
