package kvsession

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// ReadHook intercepts session reads. BeforeRead runs for side effects only.
// AfterRead hooks form a chain: each receives the previous hook's output.
type ReadHook interface {
	BeforeRead(ctx context.Context, id string) error
	AfterRead(ctx context.Context, id string, data *Map) (*Map, error)
}

// WriteHook intercepts session writes. BeforeWrite hooks form a chain over
// the decoded mapping; AfterWrite only observes whether the store accepted it.
type WriteHook interface {
	BeforeWrite(ctx context.Context, id string, data *Map) (*Map, error)
	AfterWrite(ctx context.Context, id string, ok bool) error
}

// WriteFilter may veto a write before anything is stored.
type WriteFilter interface {
	AllowWrite(ctx context.Context, id string, data *Map) (bool, error)
}

// ReadHookFuncs adapts plain functions to ReadHook. Nil fields are no-ops.
type ReadHookFuncs struct {
	Before func(ctx context.Context, id string) error
	After  func(ctx context.Context, id string, data *Map) (*Map, error)
}

func (f ReadHookFuncs) BeforeRead(ctx context.Context, id string) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, id)
}

func (f ReadHookFuncs) AfterRead(ctx context.Context, id string, data *Map) (*Map, error) {
	if f.After == nil {
		return data, nil
	}
	return f.After(ctx, id, data)
}

// WriteHookFuncs adapts plain functions to WriteHook. Nil fields are no-ops.
type WriteHookFuncs struct {
	Before func(ctx context.Context, id string, data *Map) (*Map, error)
	After  func(ctx context.Context, id string, ok bool) error
}

func (f WriteHookFuncs) BeforeWrite(ctx context.Context, id string, data *Map) (*Map, error) {
	if f.Before == nil {
		return data, nil
	}
	return f.Before(ctx, id, data)
}

func (f WriteHookFuncs) AfterWrite(ctx context.Context, id string, ok bool) error {
	if f.After == nil {
		return nil
	}
	return f.After(ctx, id, ok)
}

// WriteFilterFunc adapts a function to WriteFilter.
type WriteFilterFunc func(ctx context.Context, id string, data *Map) (bool, error)

func (f WriteFilterFunc) AllowWrite(ctx context.Context, id string, data *Map) (bool, error) {
	return f(ctx, id, data)
}

// Pipeline holds the ordered hooks and filters. Registration order is
// execution order. Register everything before the pipeline serves requests;
// the Run methods only read the lists and may be called concurrently.
//
// A hook that returns an error or panics is contained: the failure is logged
// and returned as a *HookError, and the hook is treated as a no-op. A filter
// that fails permits the write.
type Pipeline struct {
	readHooks  []ReadHook
	writeHooks []WriteHook
	filters    []WriteFilter
	logger     zerolog.Logger
}

func NewPipeline(logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

func (p *Pipeline) AddReadHook(h ReadHook) *Pipeline {
	p.readHooks = append(p.readHooks, h)
	return p
}

func (p *Pipeline) AddWriteHook(h WriteHook) *Pipeline {
	p.writeHooks = append(p.writeHooks, h)
	return p
}

func (p *Pipeline) AddWriteFilter(f WriteFilter) *Pipeline {
	p.filters = append(p.filters, f)
	return p
}

// HasReadHooks reports whether any read hook is registered.
func (p *Pipeline) HasReadHooks() bool { return len(p.readHooks) > 0 }

// RunBeforeRead invokes every BeforeRead in order.
func (p *Pipeline) RunBeforeRead(ctx context.Context, id string) []*HookError {
	var errs []*HookError
	for i, h := range p.readHooks {
		_, herr := contain(StageBeforeRead, i, func() (struct{}, error) {
			return struct{}{}, h.BeforeRead(ctx, id)
		})
		errs = p.record(errs, herr)
	}
	return errs
}

// RunAfterRead chains every AfterRead over data and returns the final mapping.
func (p *Pipeline) RunAfterRead(ctx context.Context, id string, data *Map) (*Map, []*HookError) {
	var errs []*HookError
	for i, h := range p.readHooks {
		out, herr := contain(StageAfterRead, i, func() (*Map, error) {
			return h.AfterRead(ctx, id, data.Clone())
		})
		if herr != nil {
			errs = p.record(errs, herr)
			continue
		}
		data = orEmpty(out)
	}
	return data, errs
}

// RunFilters asks every filter in order and stops at the first veto. A
// filter that fails does not veto.
func (p *Pipeline) RunFilters(ctx context.Context, id string, data *Map) (bool, []*HookError) {
	var errs []*HookError
	for i, f := range p.filters {
		allow, herr := contain(StageFilter, i, func() (bool, error) {
			return f.AllowWrite(ctx, id, data.Clone())
		})
		if herr != nil {
			errs = p.record(errs, herr)
			continue
		}
		if !allow {
			p.logger.Debug().
				Int("filter", i).
				Str("id", MaskID(id)).
				Msg("write vetoed by filter")
			return false, errs
		}
	}
	return true, errs
}

// RunBeforeWrite chains every BeforeWrite over data and returns the mapping
// to encode.
func (p *Pipeline) RunBeforeWrite(ctx context.Context, id string, data *Map) (*Map, []*HookError) {
	var errs []*HookError
	for i, h := range p.writeHooks {
		out, herr := contain(StageBeforeWrite, i, func() (*Map, error) {
			return h.BeforeWrite(ctx, id, data.Clone())
		})
		if herr != nil {
			errs = p.record(errs, herr)
			continue
		}
		data = orEmpty(out)
	}
	return data, errs
}

// RunAfterWrite notifies every AfterWrite of the outcome.
func (p *Pipeline) RunAfterWrite(ctx context.Context, id string, ok bool) []*HookError {
	var errs []*HookError
	for i, h := range p.writeHooks {
		_, herr := contain(StageAfterWrite, i, func() (struct{}, error) {
			return struct{}{}, h.AfterWrite(ctx, id, ok)
		})
		errs = p.record(errs, herr)
	}
	return errs
}

func (p *Pipeline) record(errs []*HookError, herr *HookError) []*HookError {
	if herr == nil {
		return errs
	}
	p.logger.Warn().
		Err(herr.Err).
		Str("stage", string(herr.Stage)).
		Int("index", herr.Index).
		Msg("hook failed")
	return append(errs, herr)
}

// contain runs fn and converts an error or panic into a *HookError.
func contain[T any](stage Stage, index int, fn func() (T, error)) (result T, herr *HookError) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			herr = &HookError{Stage: stage, Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err := fn()
	if err != nil {
		var zero T
		return zero, &HookError{Stage: stage, Index: index, Err: err}
	}
	return out, nil
}

func orEmpty(m *Map) *Map {
	if m == nil {
		return NewMap()
	}
	return m
}
