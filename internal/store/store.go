package store

import "github.com/yourorg/capgen/pkg/types"

// Store is the completion ledger plus the per-method completion cache.
type Store interface {
	// GetRun returns the ledger row for (toolKey, stage), or nil when none exists.
	GetRun(toolKey, stage string) (*types.Run, error)
	MarkRun(run *types.Run) error
	ListRuns(stage string) ([]types.Run, error)
	DeleteRun(toolKey, stage string) error

	SaveMethodCache(cache *types.LLMCache) error
	GetMethodCaches(toolKey, stage string) ([]types.LLMCache, error)
	ClearCaches(toolKey, stage string) error

	Close() error
}
