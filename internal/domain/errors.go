package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMountUnavailable = errors.New("mount unavailable")
	ErrNotPrimary       = errors.New("not primary")
	ErrSplitBrain       = errors.New("split-brain")
	ErrBreakerOpen      = errors.New("circuit breaker open")
	ErrTransport        = errors.New("transport error")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrPrimaryUnknown   = errors.New("primary node unknown")
)

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// MountError reports that the replication daemon's mount point is missing
// or unreadable. The process keeps running and re-checks on the next call.
type MountError struct {
	Path string
	Err  error
}

func (e *MountError) Error() string {
	msg := "litefs mount path does not exist: " + e.Path
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MountError) Unwrap() error {
	return e.Err
}

func (e *MountError) Is(target error) bool {
	return target == ErrMountUnavailable
}

// NotPrimaryError rejects a write attempted on a replica node.
type NotPrimaryError struct {
	Role string
}

func (e *NotPrimaryError) Error() string {
	role := e.Role
	if role == "" {
		role = "replica"
	}
	return fmt.Sprintf("this node is not primary (%s): write operations are only accepted on the primary node", role)
}

func (e *NotPrimaryError) Is(target error) bool {
	return target == ErrNotPrimary
}

// SplitBrainError rejects a write observed while multiple nodes claim
// leadership.
type SplitBrainError struct {
	LeaderCount int
	Leaders     []string
}

func (e *SplitBrainError) Error() string {
	return fmt.Sprintf("split-brain detected: %d nodes claim leadership (%s); writes are refused to prevent divergence",
		e.LeaderCount, strings.Join(e.Leaders, ", "))
}

func (e *SplitBrainError) Is(target error) bool {
	return target == ErrSplitBrain
}

// BreakerOpenError rejects a forward attempt while the circuit is open.
type BreakerOpenError struct {
	RetryAfter float64
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %.0fs", e.RetryAfter)
}

func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsMountUnavailable(err error) bool {
	return errors.Is(err, ErrMountUnavailable)
}

func IsNotPrimary(err error) bool {
	return errors.Is(err, ErrNotPrimary)
}

func IsSplitBrain(err error) bool {
	return errors.Is(err, ErrSplitBrain)
}

func IsBreakerOpen(err error) bool {
	return errors.Is(err, ErrBreakerOpen)
}
