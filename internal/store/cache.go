package store

import "github.com/yourorg/capgen/pkg/types"

// Cache status values.
const (
	CacheOK     = "ok"
	CacheFailed = "failed"
)

// MethodCache serves one (tool, stage) slice of llm_cache by method name.
type MethodCache struct {
	store   Store
	toolKey string
	stage   string
	model   string
	entries map[string]types.LLMCache
}

// LoadMethodCache reads the cached completions for toolKey and stage.
func LoadMethodCache(st Store, toolKey, stage, model string) (*MethodCache, error) {
	caches, err := st.GetMethodCaches(toolKey, stage)
	if err != nil {
		return nil, err
	}
	c := &MethodCache{store: st, toolKey: toolKey, stage: stage, model: model, entries: make(map[string]types.LLMCache, len(caches))}
	for _, e := range caches {
		c.entries[e.Method] = e
	}
	return c, nil
}

// Get returns the raw completion stored for method when it completed successfully.
func (c *MethodCache) Get(method string) (string, bool) {
	e, ok := c.entries[method]
	if !ok || e.Status != CacheOK {
		return "", false
	}
	return e.RawOutput, true
}

// Put records a completion that parsed.
func (c *MethodCache) Put(method, raw string) error {
	return c.save(types.LLMCache{ToolKey: c.toolKey, Stage: c.stage, Method: method, Status: CacheOK, RawOutput: raw, Model: c.model})
}

// Fail records a completion that could not be used so the next run asks again.
func (c *MethodCache) Fail(method, raw string, reason error) error {
	e := types.LLMCache{ToolKey: c.toolKey, Stage: c.stage, Method: method, Status: CacheFailed, RawOutput: raw, Model: c.model}
	if reason != nil {
		e.ErrorMsg = reason.Error()
	}
	return c.save(e)
}

func (c *MethodCache) save(e types.LLMCache) error {
	if err := c.store.SaveMethodCache(&e); err != nil {
		return err
	}
	c.entries[e.Method] = e
	return nil
}

// Len reports how many methods have a cached completion.
func (c *MethodCache) Len() int {
	return len(c.entries)
}
