// Package rules evaluates per-operation access rules.
//
// A rule is a boolean expression over the request variable map, e.g.
//
//	auth.table == "users" && req.remoteAddr != ""
//
// Compiled programs are cached per rule string; schemas change rarely and
// rules are evaluated on every request.
package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	cacheMutex sync.RWMutex
	cache      = map[string]*vm.Program{}
)

// IsEmpty reports whether the rule string is blank after trimming. Blank
// rules mean admin-only access; the caller enforces that.
func IsEmpty(rule string) bool {
	return strings.TrimSpace(rule) == ""
}

// Evaluate runs the rule against the variable map and coerces the result
// to a boolean. Any compile or runtime failure is an error; callers treat
// errors as deny.
func Evaluate(rule string, env map[string]interface{}) (bool, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return false, fmt.Errorf("empty rule")
	}

	program, err := compiled(rule)
	if err != nil {
		return false, fmt.Errorf("invalid rule: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("rule did not evaluate to a boolean (got %T)", out)
	}
	return ok, nil
}

func compiled(rule string) (*vm.Program, error) {
	cacheMutex.RLock()
	program, ok := cache[rule]
	cacheMutex.RUnlock()
	if ok {
		return program, nil
	}
	program, err := expr.Compile(rule, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	cacheMutex.Lock()
	cache[rule] = program
	cacheMutex.Unlock()
	return program, nil
}
