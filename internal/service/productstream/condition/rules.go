// internal/service/productstream/condition/rules.go
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Rule 是一条作用在载荷上的 CEL 表达式，载荷以变量 value 暴露。
// 表达式必须求值为 bool，false 视为违反规则。
type Rule struct {
	Expr    string
	Message string
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Rules 是一组已编译的规则，编译一次后可被并发使用。
type Rules struct {
	rules []compiledRule
}

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("value", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// CompileRules 编译规则，任意一条语法或类型错误都会返回错误。
func CompileRules(specs ...Rule) (*Rules, error) {
	e, err := celEnv()
	if err != nil {
		return nil, errors.Wrap(err, "cel env")
	}
	out := &Rules{rules: make([]compiledRule, 0, len(specs))}
	for _, spec := range specs {
		ast, iss := e.Compile(spec.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "compile rule %q", spec.Expr)
		}
		prg, err := e.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "program rule %q", spec.Expr)
		}
		out.rules = append(out.rules, compiledRule{Rule: spec, program: prg})
	}
	return out, nil
}

// MustCompileRules 与 CompileRules 相同，但在出错时 panic。只用于内置规则。
func MustCompileRules(specs ...Rule) *Rules {
	r, err := CompileRules(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Violation 描述一次或多次规则违反。
type Violation struct {
	Messages []string
}

func (v *Violation) Error() string {
	return strings.Join(v.Messages, "; ")
}

// Check 对载荷执行全部规则，返回 *Violation 或 nil。
func (r *Rules) Check(payload any) error {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	value, err := toMap(payload)
	if err != nil {
		return err
	}

	var messages []string
	for _, rule := range r.rules {
		out, _, err := rule.program.Eval(map[string]any{"value": value})
		if err != nil {
			messages = append(messages, fmt.Sprintf("%s (%v)", rule.Message, err))
			continue
		}
		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			messages = append(messages, rule.Message)
		}
	}
	if len(messages) > 0 {
		return &Violation{Messages: messages}
	}
	return nil
}

func toMap(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "payload is not an object")
	}
	return m, nil
}
