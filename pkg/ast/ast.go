// Package ast defines the Abstract Syntax Tree of an update script.
// The tree is built once by the parser and only read afterwards; command
// and function names are already resolved to registry handles.
package ast

import (
	"fmt"

	"github.com/lemonberrylabs/amend/pkg/commands"
)

// CommandList is the root of a parsed script.
type CommandList struct {
	Commands []*Command
}

// Len returns the number of commands.
func (l *CommandList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Commands)
}

// Command is one script statement.
type Command struct {
	// Name is the command name as written in the script.
	Name string

	// Cmd is the registry entry Name resolved to.
	Cmd *commands.Handle

	// Args holds either words or a boolean, matching Cmd's argument type.
	Args *CommandArguments

	// Line is the 1-based script line.
	Line int
}

// CommandArguments holds the arguments of a Command. BooleanArgs selects
// which of Words and Bool is set.
type CommandArguments struct {
	BooleanArgs bool
	Words       *WordList
	Bool        *BooleanValue
	Line        int
}

// WordList is the plain string arguments of a words command. Words are
// never function calls.
type WordList struct {
	Argv []string
	Line int
}

// Argc returns the number of words.
func (w *WordList) Argc() int {
	if w == nil {
		return 0
	}
	return len(w.Argv)
}

// StringKind discriminates StringValue.
type StringKind int

const (
	StringLiteral StringKind = iota
	StringFunction
)

// StringValue evaluates to a string: either a literal or a function call.
type StringValue struct {
	Kind     StringKind
	Literal  string
	Function *FunctionCall
	Line     int
}

// Lit returns a literal string value.
func Lit(s string, line int) *StringValue {
	return &StringValue{Kind: StringLiteral, Literal: s, Line: line}
}

// Call returns a string value produced by a function call.
func Call(fn *FunctionCall) *StringValue {
	return &StringValue{Kind: StringFunction, Function: fn, Line: fn.Line}
}

// FunctionCall invokes a registered function.
type FunctionCall struct {
	Name string
	Fn   *commands.Handle
	Args *FunctionArguments
	Line int
}

// FunctionArguments are the arguments of a function call. Unlike command
// words they may be nested function calls.
type FunctionArguments struct {
	Argv []*StringValue
	Line int
}

// Argc returns the number of arguments.
func (a *FunctionArguments) Argc() int {
	if a == nil {
		return 0
	}
	return len(a.Argv)
}

// BoolKind discriminates BooleanValue.
type BoolKind int

const (
	BoolExpression BoolKind = iota
	BoolStringComparison
)

// BooleanValue evaluates to a boolean.
type BooleanValue struct {
	Kind             BoolKind
	Expression       *BooleanExpression
	StringComparison *StringComparisonExpression
	Line             int
}

// BoolOp is a logical operator.
type BoolOp int

const (
	OpNot BoolOp = iota
	OpEq
	OpNe
	OpAnd
	OpOr
)

var boolOpNames = [...]string{
	OpNot: "NOT",
	OpEq:  "EQ",
	OpNe:  "NE",
	OpAnd: "AND",
	OpOr:  "OR",
}

func (op BoolOp) String() string {
	if op >= 0 && int(op) < len(boolOpNames) {
		return boolOpNames[op]
	}
	return fmt.Sprintf("BoolOp(%d)", int(op))
}

// Unary reports whether the operator takes a single operand.
func (op BoolOp) Unary() bool {
	return op == OpNot
}

// BooleanExpression applies a logical operator. Arg2 is nil for OpNot.
type BooleanExpression struct {
	Op   BoolOp
	Arg1 *BooleanValue
	Arg2 *BooleanValue
	Line int
}

// StringOp is a string comparison operator.
type StringOp int

const (
	OpLt StringOp = iota
	OpLe
	OpGt
	OpGe
	OpStrEq
	OpStrNe
)

var stringOpNames = [...]string{
	OpLt:    "LT",
	OpLe:    "LE",
	OpGt:    "GT",
	OpGe:    "GE",
	OpStrEq: "EQ",
	OpStrNe: "NE",
}

func (op StringOp) String() string {
	if op >= 0 && int(op) < len(stringOpNames) {
		return stringOpNames[op]
	}
	return fmt.Sprintf("StringOp(%d)", int(op))
}

// StringComparisonExpression compares two strings byte-wise.
type StringComparisonExpression struct {
	Op   StringOp
	Arg1 *StringValue
	Arg2 *StringValue
	Line int
}

// Not builds a negation.
func Not(v *BooleanValue, line int) *BooleanValue {
	return &BooleanValue{
		Kind:       BoolExpression,
		Expression: &BooleanExpression{Op: OpNot, Arg1: v, Line: line},
		Line:       line,
	}
}

// Binary builds a binary logical expression.
func Binary(op BoolOp, a, b *BooleanValue, line int) *BooleanValue {
	return &BooleanValue{
		Kind:       BoolExpression,
		Expression: &BooleanExpression{Op: op, Arg1: a, Arg2: b, Line: line},
		Line:       line,
	}
}

// Compare builds a string comparison.
func Compare(op StringOp, a, b *StringValue, line int) *BooleanValue {
	return &BooleanValue{
		Kind:             BoolStringComparison,
		StringComparison: &StringComparisonExpression{Op: op, Arg1: a, Arg2: b, Line: line},
		Line:             line,
	}
}
