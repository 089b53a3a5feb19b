package role

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CEL variables available to assignment conditions.
const (
	VarResource = "resource"
	VarContext  = "context"
	VarUserID   = "user_id"
	VarTenantID = "tenant_id"
	VarNow      = "now"
)

// DefaultProgramCacheSize bounds the number of compiled expressions kept.
const DefaultProgramCacheSize = 1024

// Activation carries the values bound to CEL variables for one decision.
type Activation struct {
	Resource map[string]any
	Context  map[string]any
	UserID   string
	TenantID string
	Now      time.Time
}

func (a Activation) vars() map[string]any {
	resource, ctx := a.Resource, a.Context
	if resource == nil {
		resource = map[string]any{}
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	return map[string]any{
		VarResource: resource,
		VarContext:  ctx,
		VarUserID:   a.UserID,
		VarTenantID: a.TenantID,
		VarNow:      a.Now,
	}
}

// Compiler compiles and caches assignment condition expressions.
// It is safe for concurrent use.
type Compiler struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// NewCompiler creates a compiler keeping up to size compiled programs.
func NewCompiler(size int) (*Compiler, error) {
	if size <= 0 {
		size = DefaultProgramCacheSize
	}

	env, err := cel.NewEnv(
		cel.Variable(VarResource, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarContext, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarUserID, cel.StringType),
		cel.Variable(VarTenantID, cel.StringType),
		cel.Variable(VarNow, cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	cache, err := lru.New[string, cel.Program](size)
	if err != nil {
		return nil, err
	}

	return &Compiler{env: env, programs: cache}, nil
}

// Compile returns the program for expr, compiling it on first use.
func (c *Compiler) Compile(expr string) (cel.Program, error) {
	if prg, ok := c.programs.Get(expr); ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: condition %q: %v", ErrInvalidAssignment, expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: condition %q must evaluate to bool, got %s",
			ErrInvalidAssignment, expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: condition %q: %v", ErrInvalidAssignment, expr, err)
	}
	c.programs.Add(expr, prg)
	return prg, nil
}

// Validate compiles every expression.
func (c *Compiler) Validate(exprs []string) error {
	for _, expr := range exprs {
		if _, err := c.Compile(expr); err != nil {
			return err
		}
	}
	return nil
}

// Eval reports whether every expression holds for act. An evaluation error
// such as a missing map key is returned to the caller.
func (c *Compiler) Eval(exprs []string, act Activation) (bool, error) {
	if len(exprs) == 0 {
		return true, nil
	}

	vars := act.vars()
	for _, expr := range exprs {
		prg, err := c.Compile(expr)
		if err != nil {
			return false, err
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", expr, err)
		}
		b, ok := out.Value().(bool)
		if !ok || !b {
			return false, nil
		}
	}
	return true, nil
}
