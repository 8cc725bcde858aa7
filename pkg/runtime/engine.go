// Package runtime executes parsed update scripts against a command
// registry.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lemonberrylabs/amend/pkg/ast"
	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/permissions"
	"github.com/lemonberrylabs/amend/pkg/types"
)

// Engine walks a CommandList and dispatches each command through the
// registry. Commands run strictly in order; the first failure stops the
// script.
type Engine struct {
	reg *commands.Registry
}

// NewEngine creates an engine bound to a registry.
func NewEngine(reg *commands.Registry) *Engine {
	return &Engine{reg: reg}
}

// Execute runs every command of list. It returns nil when all commands
// succeed. A command that returns a non-zero status yields a HookFailure
// carrying that status and the command's line. A nil ctx is treated as
// context.Background.
func (e *Engine) Execute(ctx context.Context, list *ast.CommandList) error {
	if list == nil {
		return types.NewInternalError("nil command list")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, cmd := range list.Commands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.executeCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) executeCommand(cmd *ast.Command) error {
	if cmd == nil {
		return types.NewInternalError("nil command")
	}
	if cmd.Cmd == nil {
		return types.NewInternalError(fmt.Sprintf("command %q was not resolved", cmd.Name)).AtLine(cmd.Line)
	}
	if cmd.Args == nil {
		return types.NewInternalError(fmt.Sprintf("command %q has no arguments", cmd.Name)).AtLine(cmd.Line)
	}

	var status int
	var err error
	switch commands.ArgumentTypeOf(cmd.Cmd) {
	case commands.ArgsBoolean:
		if !cmd.Args.BooleanArgs {
			return types.NewInternalError(fmt.Sprintf("boolean command %q has word arguments", cmd.Name)).AtLine(cmd.Line)
		}
		var b bool
		b, err = e.evalBooleanValue(cmd.Args.Bool)
		if err != nil {
			return atLine(err, cmd.Line)
		}
		status, err = e.reg.CallBooleanCommand(cmd.Cmd, b)

	case commands.ArgsWords:
		if cmd.Args.BooleanArgs {
			return types.NewInternalError(fmt.Sprintf("words command %q has a boolean argument", cmd.Name)).AtLine(cmd.Line)
		}
		var argv []string
		if cmd.Args.Words != nil {
			argv = cmd.Args.Words.Argv
		}
		status, err = e.reg.CallCommand(cmd.Cmd, len(argv), argv)

	default:
		return types.NewInternalError(fmt.Sprintf("command %q has unknown argument type", cmd.Name)).AtLine(cmd.Line)
	}

	if err != nil {
		return atLine(err, cmd.Line)
	}
	if status != 0 {
		return types.NewHookFailure(cmd.Name, status).AtLine(cmd.Line)
	}
	return nil
}

// atLine attributes a ScriptError to a script line.
func atLine(err error, line int) error {
	var se *types.ScriptError
	if errors.As(err, &se) {
		return se.AtLine(line)
	}
	return err
}

// ResultCode maps the outcome of Execute to an integer: 0 on success, the
// failing script line when known, and otherwise the negative code of the
// error's kind.
func ResultCode(err error) int {
	if err == nil {
		return 0
	}
	var se *types.ScriptError
	if errors.As(err, &se) {
		if se.Line > 0 {
			return se.Line
		}
		switch se.Kind() {
		case types.TagRegistrationError:
			return types.CodeRegistration
		case types.TagResolutionError:
			return types.CodeResolution
		case types.TagArgumentContractError:
			return types.CodeArgumentContract
		case types.TagHookFailure:
			return types.CodeHookFailure
		}
		return types.CodeInternalInvariant
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.CodeCancelled
	}
	return types.CodeInternalInvariant
}

func (e *Engine) evalBooleanValue(v *ast.BooleanValue) (bool, error) {
	if v == nil {
		return false, types.NewInternalError("nil boolean value")
	}
	switch v.Kind {
	case ast.BoolExpression:
		return e.evalBooleanExpression(v.Expression)
	case ast.BoolStringComparison:
		return e.evalStringComparison(v.StringComparison)
	default:
		return false, types.NewInternalError(fmt.Sprintf("unknown boolean value kind %d", int(v.Kind)))
	}
}

// evalBooleanExpression evaluates both operands of a binary operator
// before combining them. There is no short circuit.
func (e *Engine) evalBooleanExpression(x *ast.BooleanExpression) (bool, error) {
	if x == nil {
		return false, types.NewInternalError("nil boolean expression")
	}
	a, err := e.evalBooleanValue(x.Arg1)
	if err != nil {
		return false, err
	}
	if x.Op == ast.OpNot {
		return !a, nil
	}
	b, err := e.evalBooleanValue(x.Arg2)
	if err != nil {
		return false, err
	}
	switch x.Op {
	case ast.OpEq:
		return a == b, nil
	case ast.OpNe:
		return a != b, nil
	case ast.OpAnd:
		return a && b, nil
	case ast.OpOr:
		return a || b, nil
	default:
		return false, types.NewInternalError(fmt.Sprintf("unknown boolean operator %d", int(x.Op)))
	}
}

// evalStringComparison compares byte-wise.
func (e *Engine) evalStringComparison(x *ast.StringComparisonExpression) (bool, error) {
	if x == nil {
		return false, types.NewInternalError("nil string comparison")
	}
	s1, err := e.evalStringValue(x.Arg1)
	if err != nil {
		return false, err
	}
	s2, err := e.evalStringValue(x.Arg2)
	if err != nil {
		return false, err
	}
	cmp := strings.Compare(s1, s2)
	switch x.Op {
	case ast.OpLt:
		return cmp < 0, nil
	case ast.OpLe:
		return cmp <= 0, nil
	case ast.OpGt:
		return cmp > 0, nil
	case ast.OpGe:
		return cmp >= 0, nil
	case ast.OpStrEq:
		return cmp == 0, nil
	case ast.OpStrNe:
		return cmp != 0, nil
	default:
		return false, types.NewInternalError(fmt.Sprintf("unknown string operator %d", int(x.Op)))
	}
}

func (e *Engine) evalStringValue(v *ast.StringValue) (string, error) {
	if v == nil {
		return "", types.NewInternalError("nil string value")
	}
	switch v.Kind {
	case ast.StringLiteral:
		return v.Literal, nil
	case ast.StringFunction:
		return e.evalFunctionCall(v.Function)
	default:
		return "", types.NewInternalError(fmt.Sprintf("unknown string value kind %d", int(v.Kind)))
	}
}

func (e *Engine) evalFunctionCall(f *ast.FunctionCall) (string, error) {
	if f == nil {
		return "", types.NewInternalError("nil function call")
	}
	if f.Fn == nil {
		return "", types.NewInternalError(fmt.Sprintf("function %q was not resolved", f.Name))
	}
	argv, err := e.evalFunctionArguments(f.Args)
	if err != nil {
		return "", err
	}
	result, status, err := e.reg.CallFunction(f.Fn, len(argv), argv)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", types.NewHookFailure(f.Name, status)
	}
	return result, nil
}

// evalFunctionArguments evaluates arguments left to right. On failure no
// partial result is returned.
func (e *Engine) evalFunctionArguments(args *ast.FunctionArguments) ([]string, error) {
	argv := make([]string, args.Argc())
	for i := range argv {
		s, err := e.evalStringValue(args.Argv[i])
		if err != nil {
			return nil, err
		}
		argv[i] = s
	}
	return argv, nil
}

// Probe walks list without executing it and collects the permissions every
// command and function would request. Boolean commands are probed with
// false; arguments produced by nested function calls are passed as unknown.
func (e *Engine) Probe(list *ast.CommandList) (*permissions.RequestList, error) {
	if list == nil {
		return nil, types.NewInternalError("nil command list")
	}
	perms := &permissions.RequestList{}
	for _, cmd := range list.Commands {
		if err := e.probeCommand(cmd, perms); err != nil {
			return perms, err
		}
	}
	return perms, nil
}

func (e *Engine) probeCommand(cmd *ast.Command, perms *permissions.RequestList) error {
	if cmd == nil || cmd.Cmd == nil || cmd.Args == nil {
		return types.NewInternalError("incomplete command")
	}

	var status int
	var err error
	switch commands.ArgumentTypeOf(cmd.Cmd) {
	case commands.ArgsBoolean:
		if err := e.probeBooleanValue(cmd.Args.Bool, perms); err != nil {
			return atLine(err, cmd.Line)
		}
		status, err = e.reg.BooleanCommandPermissions(cmd.Cmd, false, perms)

	case commands.ArgsWords:
		var argv []*string
		if cmd.Args.Words != nil {
			argv = make([]*string, len(cmd.Args.Words.Argv))
			for i := range cmd.Args.Words.Argv {
				argv[i] = &cmd.Args.Words.Argv[i]
			}
		}
		status, err = e.reg.CommandPermissions(cmd.Cmd, len(argv), argv, perms)

	default:
		return types.NewInternalError(fmt.Sprintf("command %q has unknown argument type", cmd.Name)).AtLine(cmd.Line)
	}

	if err != nil {
		return atLine(err, cmd.Line)
	}
	if status != 0 {
		return types.NewHookFailure(cmd.Name, status).AtLine(cmd.Line)
	}
	return nil
}

func (e *Engine) probeBooleanValue(v *ast.BooleanValue, perms *permissions.RequestList) error {
	if v == nil {
		return types.NewInternalError("nil boolean value")
	}
	switch v.Kind {
	case ast.BoolExpression:
		x := v.Expression
		if x == nil {
			return types.NewInternalError("nil boolean expression")
		}
		if err := e.probeBooleanValue(x.Arg1, perms); err != nil {
			return err
		}
		if x.Op == ast.OpNot {
			return nil
		}
		return e.probeBooleanValue(x.Arg2, perms)
	case ast.BoolStringComparison:
		x := v.StringComparison
		if x == nil {
			return types.NewInternalError("nil string comparison")
		}
		if err := e.probeStringValue(x.Arg1, perms); err != nil {
			return err
		}
		return e.probeStringValue(x.Arg2, perms)
	default:
		return types.NewInternalError(fmt.Sprintf("unknown boolean value kind %d", int(v.Kind)))
	}
}

func (e *Engine) probeStringValue(v *ast.StringValue, perms *permissions.RequestList) error {
	if v == nil {
		return types.NewInternalError("nil string value")
	}
	switch v.Kind {
	case ast.StringLiteral:
		return nil
	case ast.StringFunction:
		f := v.Function
		if f == nil || f.Fn == nil {
			return types.NewInternalError("unresolved function call")
		}
		argv := make([]*string, f.Args.Argc())
		for i := range argv {
			arg := f.Args.Argv[i]
			if err := e.probeStringValue(arg, perms); err != nil {
				return err
			}
			if arg.Kind == ast.StringLiteral {
				argv[i] = &arg.Literal
			}
		}
		status, err := e.reg.FunctionPermissions(f.Fn, len(argv), argv, perms)
		if err != nil {
			return err
		}
		if status != 0 {
			return types.NewHookFailure(f.Name, status)
		}
		return nil
	default:
		return types.NewInternalError(fmt.Sprintf("unknown string value kind %d", int(v.Kind)))
	}
}
