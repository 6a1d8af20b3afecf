package conditions

import (
	"sync"

	"github.com/itchyny/gojq"

	"github.com/driprun/driprun/pkg/schema"
)

// MetaQuery evaluates jq expressions against the meta payload of an event.
// A trigger filter matches when the first output is truthy (not false, not
// null). Compiled queries are cached by source text.
type MetaQuery struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func NewMetaQuery() *MetaQuery {
	return &MetaQuery{cache: make(map[string]*gojq.Code)}
}

func (m *MetaQuery) Match(query string, meta map[string]any) (bool, error) {
	code, err := m.compile(query)
	if err != nil {
		return false, err
	}
	if meta == nil {
		meta = map[string]any{}
	}

	iter := code.Run(meta)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "run meta query %q", query).WithCause(err)
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	default:
		return true, nil
	}
}

func (m *MetaQuery) compile(query string) (*gojq.Code, error) {
	m.mu.RLock()
	code, ok := m.cache[query]
	m.mu.RUnlock()
	if ok {
		return code, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok = m.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "parse meta query %q", query).WithCause(err)
	}
	// No environment access: queries run sandboxed over the meta object.
	code, err = gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "compile meta query %q", query).WithCause(err)
	}
	m.cache[query] = code
	return code, nil
}
