package stage

import (
	"context"

	"github.com/dop251/goja"

	"github.com/teranos/plumb/errors"
)

// MaxScriptLength bounds the size of inline javascript
const MaxScriptLength = 100 * 1024

// JavaScriptRuntime runs a script defining transform(record) in a fresh goja VM
// per batch. The VM has no I/O. Returning null or undefined drops the record.
type JavaScriptRuntime struct{}

// Configured reports whether a script is present
func (JavaScriptRuntime) Configured(cfg CustomConfig) bool {
	return cfg.Script != ""
}

// Run applies transform to every record of batch
func (JavaScriptRuntime) Run(ctx context.Context, cfg CustomConfig, batch []Record) ([]Record, error) {
	if len(cfg.Script) > MaxScriptLength {
		return nil, errors.NewValidationError("script exceeds %d bytes", MaxScriptLength)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if _, err := vm.RunString(cfg.Script); err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "script compilation failed: %v", err)
	}
	transformVal := vm.Get("transform")
	if transformVal == nil || goja.IsUndefined(transformVal) {
		return nil, errors.NewValidationError("script does not define transform(record)")
	}
	transform, ok := goja.AssertFunction(transformVal)
	if !ok {
		return nil, errors.NewValidationError("transform is not a function")
	}

	// Interrupt a runaway script when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	out := make([]Record, 0, len(batch))
	for i, rec := range batch {
		result, err := transform(goja.Undefined(), vm.ToValue(copyRecord(rec)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if jsErr, ok := err.(*goja.Exception); ok {
				return nil, errors.Newf("script failed at record %d: %v", i, jsErr.Value())
			}
			return nil, errors.Wrapf(err, "script failed at record %d", i)
		}

		if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
			continue
		}
		exported, ok := result.Export().(map[string]interface{})
		if !ok {
			return nil, errors.Newf("script at record %d returned %T, transform must return an object", i, result.Export())
		}
		out = append(out, exported)
	}
	return out, nil
}
