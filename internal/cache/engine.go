package cache

import (
	"context"
	"errors"

	"orchestrator-core/internal/mlmd"
)

// ErrMiss is returned by Lookup when no cached execution matches the
// fingerprint. Not an error the caller should log loudly: a miss simply
// forces fresh execution.
var ErrMiss = errors.New("cache: miss")

// Engine wraps an mlmd.Store to look up and publish cached node outputs by
// fingerprint.
type Engine struct {
	store mlmd.Store
}

// NewEngine constructs an Engine over the given metadata store.
func NewEngine(store mlmd.Store) *Engine {
	return &Engine{store: store}
}

// Lookup returns the most recent successful execution whose cache context
// matches fp, or ErrMiss if none exists.
func (e *Engine) Lookup(ctx context.Context, fp Fingerprint) ([]mlmd.ArtifactRef, error) {
	cacheCtx, err := e.store.GetOrCreateContext(ctx, mlmd.ContextType("cache"), string(fp))
	if err != nil {
		return nil, err
	}

	executions, err := e.store.ExecutionsByNodeContexts(ctx, []string{cacheCtx.ID})
	if err != nil {
		return nil, err
	}
	for _, exec := range executions {
		if exec.LastKnownState.IsSuccessful() {
			return e.store.OutputArtifactsForExecution(ctx, exec.ID)
		}
	}
	return nil, ErrMiss
}

// Tag attaches the cache context for fp to executionID, so that once that
// execution succeeds a later invocation with the same fingerprint finds it
// via Lookup. Must be called on every real execution a node registers, not
// only after a hit has already been found — otherwise no execution is ever
// tagged and Lookup misses forever.
func (e *Engine) Tag(ctx context.Context, fp Fingerprint, executionID string) error {
	cacheCtx, err := e.store.GetOrCreateContext(ctx, mlmd.ContextType("cache"), string(fp))
	if err != nil {
		return err
	}
	return e.store.AttachContext(ctx, executionID, cacheCtx.ID)
}

// Publish writes a new Execution in state CACHED, attaches the given output
// artifacts via OUTPUT events, and associates it with the cache context for
// fp so future Lookups hit.
func (e *Engine) Publish(ctx context.Context, fp Fingerprint, executionType string, contextIDs []string, outputs []mlmd.ArtifactRef) (mlmd.Execution, error) {
	cacheCtx, err := e.store.GetOrCreateContext(ctx, mlmd.ContextType("cache"), string(fp))
	if err != nil {
		return mlmd.Execution{}, err
	}
	allContexts := append(append([]string(nil), contextIDs...), cacheCtx.ID)
	return e.store.PublishCachedExecution(ctx, mlmd.CachedPublishSpec{
		ExecutionType:   executionType,
		ContextIDs:      allContexts,
		OutputArtifacts: outputs,
	})
}
