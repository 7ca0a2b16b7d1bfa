package celengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

var envCache = sync.Map{}

// GetOrBuildEnv returns a CEL env exposing the attribute keys as top-level
// variables; envs are cached per key set.
func GetOrBuildEnv(attrs map[string]interface{}) (*cel.Env, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cacheKey := strings.Join(keys, "|")

	if v, ok := envCache.Load(cacheKey); ok {
		return v.(*cel.Env), nil
	}

	env, err := BuildEnv(keys)
	if err == nil {
		envCache.Store(cacheKey, env)
	}

	return env, err
}

// BuildEnv declares every key as a Dyn variable. Attribute payloads come
// from JSON, so static typing buys nothing here.
func BuildEnv(keys []string) (*cel.Env, error) {
	// attribute numbers arrive as JSON doubles, thresholds are written as
	// int literals, so cross-type comparison must be on
	variables := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, key := range keys {
		variables = append(variables, cel.Variable(key, cel.DynType))
	}
	return cel.NewEnv(variables...)
}

// StructToMap flattens any JSON-marshalable value into an attribute map.
func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]interface{}{}
	}

	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]interface{}{}
	}

	return result
}

func ValidateExpression(env *cel.Env, expr string) error {
	_, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	return nil
}

// Evaluate compiles and runs a boolean expression against the attributes.
func Evaluate(env *cel.Env, expr string, attrs map[string]interface{}) (bool, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	val := out.Value()
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", val, val)
	}

	return b, nil
}
