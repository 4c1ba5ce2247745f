package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"formbridge/internal/metadata"
)

// CompileFilter checks a webhook accept filter. Filters see two variables:
// payload (field name to text value) and webhook (the webhook's name).
func CompileFilter(source string) (*vm.Program, error) {
	prog, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile webhook filter: %w", err)
	}
	return prog, nil
}

// EvaluateFilter reports whether a submission should be accepted. An empty
// filter accepts everything.
func EvaluateFilter(cfg *metadata.WebhookConfig, payload Payload) (bool, error) {
	if cfg.Filter == "" {
		return true, nil
	}

	prog, err := CompileFilter(cfg.Filter)
	if err != nil {
		return false, err
	}

	env := map[string]any{
		"payload": map[string]string(payload),
		"webhook": cfg.Name,
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate webhook filter: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("webhook filter did not return bool")
	}
	return b, nil
}
