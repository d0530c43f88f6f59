package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
	"github.com/eleven-am/ferry/internal/sqlwrite"
)

// PrimaryChecker answers the role question for the write path.
type PrimaryChecker interface {
	IsPrimary() bool
}

// WriteGuard intercepts statement execution. For every write it checks, in
// fixed order: split-brain first, then role, then execution. Detection
// errors fail closed here — refusing a write beats corrupting the
// database. Reads pass through without any check.
type WriteGuard struct {
	resolver PrimaryChecker
	detector ports.SplitBrainDetector // optional; nil skips the split-brain check
	devMode  bool
	logger   *slog.Logger

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

func NewWriteGuard(resolver PrimaryChecker, detector ports.SplitBrainDetector, logger *slog.Logger) *WriteGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &WriteGuard{
		resolver: resolver,
		detector: detector,
		logger:   logger.With("component", "write-guard"),
	}
}

// SetDevMode disables all cluster checks; writes always pass. Off by
// default and meant for local development only.
func (g *WriteGuard) SetDevMode(enabled bool) {
	g.devMode = enabled
}

// CheckStatement guards a single statement. Nil means execution may
// proceed.
func (g *WriteGuard) CheckStatement(sql string) error {
	if g.devMode {
		return nil
	}
	if !sqlwrite.IsWrite(sql) {
		return nil
	}
	return g.checkWrite()
}

// CheckBatch guards a statement executed once per parameter set; the
// statement's classification does not depend on its parameters.
func (g *WriteGuard) CheckBatch(sql string) error {
	return g.CheckStatement(sql)
}

// CheckScript guards a multi-statement payload. If any statement is a
// write the whole script is guarded, and no statement runs before the
// checks pass.
func (g *WriteGuard) CheckScript(script string) error {
	if g.devMode {
		return nil
	}
	for _, stmt := range sqlwrite.SplitStatements(script) {
		if sqlwrite.IsWrite(stmt) {
			return g.checkWrite()
		}
	}
	return nil
}

func (g *WriteGuard) checkWrite() error {
	if g.detector != nil {
		event, err := g.detector.Check()
		if err != nil {
			return err
		}
		if event != nil {
			return &domain.SplitBrainError{
				LeaderCount: len(event.ConflictingLeaders),
				Leaders:     event.ConflictingLeaders,
			}
		}
	}
	if !g.resolver.IsPrimary() {
		return &domain.NotPrimaryError{Role: string(domain.RoleReplica)}
	}
	return nil
}

// Execute runs fn after the statement passes the guard, tracking it as an
// in-flight write for graceful handoff draining.
func (g *WriteGuard) Execute(ctx context.Context, sql string, fn func(context.Context) error) error {
	if err := g.CheckStatement(sql); err != nil {
		return err
	}
	if !sqlwrite.IsWrite(sql) || g.devMode {
		return fn(ctx)
	}
	done := g.beginWrite()
	defer done()
	return fn(ctx)
}

// ExecuteScript runs fn after every statement in the script passes the
// guard.
func (g *WriteGuard) ExecuteScript(ctx context.Context, script string, fn func(context.Context) error) error {
	if err := g.CheckScript(script); err != nil {
		return err
	}
	done := g.beginWrite()
	defer done()
	return fn(ctx)
}

func (g *WriteGuard) beginWrite() func() {
	g.mu.Lock()
	g.inflight++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.inflight--
			if g.inflight == 0 && g.idle != nil {
				close(g.idle)
				g.idle = nil
			}
			g.mu.Unlock()
		})
	}
}

// Drain blocks until all in-flight writes complete or ctx expires.
func (g *WriteGuard) Drain(ctx context.Context) error {
	g.mu.Lock()
	if g.inflight == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
