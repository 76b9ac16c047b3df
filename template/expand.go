package template

import (
	"context"
	"encoding/json"
	"regexp"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/util"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Creator persists a new pipeline definition
type Creator interface {
	Create(ctx context.Context, def pipeline.Definition) (*pipeline.Pipeline, error)
}

// Expander instantiates pipelines from templates
type Expander struct {
	templates Store
	pipelines Creator
	logger    *zap.SugaredLogger
}

// NewExpander creates an expander reading templates from store and creating
// pipelines through pipelines.
func NewExpander(templates Store, pipelines Creator, log *zap.SugaredLogger) *Expander {
	return &Expander{
		templates: templates,
		pipelines: pipelines,
		logger:    logger.OrNop(log),
	}
}

// Instantiate substitutes params into the template and creates the pipeline.
// Nothing is created when any parameter is missing or invalid.
func (e *Expander) Instantiate(ctx context.Context, templateID string, params map[string]interface{}) (*pipeline.Pipeline, error) {
	def, err := e.Resolve(ctx, templateID, params)
	if err != nil {
		return nil, err
	}

	p, err := e.pipelines.Create(ctx, def)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create pipeline from template %s", templateID)
	}

	e.logger.Infow("Pipeline instantiated from template",
		"template_id", templateID,
		logger.FieldPipelineID, p.ID,
	)
	return p, nil
}

// Resolve produces the definition a template expands to without creating it
func (e *Expander) Resolve(ctx context.Context, templateID string, params map[string]interface{}) (pipeline.Definition, error) {
	t, err := e.templates.Get(ctx, templateID)
	if err != nil {
		return pipeline.Definition{}, err
	}

	values, err := bindParameters(t, params)
	if err != nil {
		return pipeline.Definition{}, err
	}
	for name := range params {
		if _, ok := t.Parameter(name); !ok {
			e.logger.Debugw("Ignoring undeclared template parameter",
				"template_id", templateID,
				"parameter", name,
			)
		}
	}

	doc := substitute(util.DeepCopyMap(t.Definition), values).(map[string]interface{})
	def, err := toDefinition(doc)
	if err != nil {
		return pipeline.Definition{}, errors.Wrapf(err, "template %s", templateID)
	}
	if def.Name == "" {
		def.Name = t.Name
	}
	return def, nil
}

// bindParameters resolves the value of every declared parameter. Optional
// parameters without a default bind to nil.
func bindParameters(t *Template, params map[string]interface{}) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(t.Parameters))
	for _, p := range t.Parameters {
		raw, supplied := params[p.Name]
		if !supplied || raw == nil {
			if p.Required {
				return nil, errors.WithHint(
					errors.NewMissingParameterError(p.Name),
					describeParameter(p),
				)
			}
			raw = p.Default
		}
		if raw == nil {
			values[p.Name] = nil
			continue
		}
		v, err := p.coerce(raw)
		if err != nil {
			return nil, err
		}
		values[p.Name] = v
	}
	return values, nil
}

func describeParameter(p Parameter) string {
	hint := p.Name + " (" + string(p.Type) + ")"
	if p.Description != "" {
		hint += ": " + p.Description
	}
	return hint
}

// substitute walks v in place. A string that is exactly one declared
// placeholder takes the parameter's typed value; placeholders embedded in
// longer strings are formatted into the text. Undeclared placeholders stay.
func substitute(v interface{}, values map[string]interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, child := range x {
			x[k] = substitute(child, values)
		}
		return x
	case []interface{}:
		for i, child := range x {
			x[i] = substitute(child, values)
		}
		return x
	case string:
		if loc := placeholderPattern.FindStringSubmatchIndex(x); loc != nil && loc[0] == 0 && loc[1] == len(x) {
			if val, ok := values[x[loc[2]:loc[3]]]; ok {
				return val
			}
			return x
		}
		return placeholderPattern.ReplaceAllStringFunc(x, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]
			if val, ok := values[name]; ok {
				return formatValue(val)
			}
			return match
		})
	default:
		return v
	}
}

// toDefinition decodes a substituted document into a pipeline definition.
// Stages default to enabled and to their position for order.
func toDefinition(doc map[string]interface{}) (pipeline.Definition, error) {
	if stages, ok := doc["transformations"].([]interface{}); ok {
		for i, s := range stages {
			stage, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			if _, set := stage["enabled"]; !set {
				stage["enabled"] = true
			}
			if _, set := stage["order"]; !set {
				stage["order"] = i + 1
			}
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return pipeline.Definition{}, errors.Wrap(errors.ErrValidation, err.Error())
	}
	var def pipeline.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return pipeline.Definition{}, errors.WithHint(
			errors.NewValidationError("definition does not decode into a pipeline: %s", err),
			"check that substituted parameter types match the fields they fill",
		)
	}
	return def, nil
}
