// Package parser converts update script source into an AST. Command and
// function names are resolved against a registry while parsing, so a
// script that references an unknown name never produces a tree.
package parser

import (
	"fmt"

	"github.com/lemonberrylabs/amend/pkg/ast"
	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/types"
)

// MaxSourceSize is the maximum script size in bytes.
const MaxSourceSize = 128 * 1024

// ParseError represents a syntax error.
type ParseError struct {
	Message string
	Line    int
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

type parser struct {
	lex *Lexer
	reg *commands.Registry
	cur Token
}

// Parse parses a script. Syntax errors are returned as *ParseError; an
// unregistered command or function is a ResolutionError.
func Parse(source []byte, reg *commands.Registry) (*ast.CommandList, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("script size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}
	if reg == nil {
		return nil, types.NewInternalError("parse without a registry")
	}

	p := &parser{lex: NewLexer(string(source)), reg: reg}
	if err := p.advance(); err != nil {
		return nil, err
	}

	list := &ast.CommandList{}
	for p.cur.Type != TokenEOF {
		if p.cur.Type == TokenEOL {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		list.Commands = append(list.Commands, cmd)
	}
	return list, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.cur.Line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(typ TokenType) error {
	if p.cur.Type != typ {
		return p.errorf("expected %s, found %s", typ, p.cur.Type)
	}
	return p.advance()
}

// endOfLine consumes the token that terminates a command.
func (p *parser) endOfLine() error {
	switch p.cur.Type {
	case TokenEOF:
		return nil
	case TokenEOL:
		return p.advance()
	default:
		return p.errorf("unexpected %s at end of command", p.cur.Type)
	}
}

func (p *parser) parseCommand() (*ast.Command, error) {
	if p.cur.Type != TokenIdent {
		return nil, p.errorf("expected command name, found %s", p.cur.Type)
	}
	name, line := p.cur.Value, p.cur.Line

	h := p.reg.FindCommand(name)
	if h == nil {
		return nil, types.NewResolutionError(name, line, "unknown command")
	}
	cmd := &ast.Command{Name: name, Cmd: h, Line: line}

	// The mode must be set before the first argument is scanned.
	switch commands.ArgumentTypeOf(h) {
	case commands.ArgsWords:
		p.lex.SetMode(ModeWords)
		if err := p.advance(); err != nil {
			return nil, err
		}
		words := &ast.WordList{Line: line}
		for p.cur.Type == TokenWord || p.cur.Type == TokenString {
			words.Argv = append(words.Argv, p.cur.Value)
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		cmd.Args = &ast.CommandArguments{Words: words, Line: line}

	case commands.ArgsBoolean:
		p.lex.SetMode(ModeExpression)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Type == TokenEOL || p.cur.Type == TokenEOF {
			return nil, p.errorf("command %q requires a boolean expression", name)
		}
		b, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		cmd.Args = &ast.CommandArguments{BooleanArgs: true, Bool: b, Line: line}

	default:
		return nil, types.NewInternalError(fmt.Sprintf("command %q has unknown argument type", name))
	}

	if err := p.endOfLine(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// parseOr parses: and_expr { '||' and_expr }
func (p *parser) parseOr() (*ast.BooleanValue, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenOr {
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.Binary(ast.OpOr, left, right, line)
	}
	return left, nil
}

// parseAnd parses: eq_expr { '&&' eq_expr }
func (p *parser) parseAnd() (*ast.BooleanValue, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenAnd {
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ast.Binary(ast.OpAnd, left, right, line)
	}
	return left, nil
}

// parseEquality parses boolean equality: unary { ('==' | '!=') unary }
func (p *parser) parseEquality() (*ast.BooleanValue, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenEq || p.cur.Type == TokenNeq {
		op := ast.OpEq
		if p.cur.Type == TokenNeq {
			op = ast.OpNe
		}
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.Binary(op, left, right, line)
	}
	return left, nil
}

func (p *parser) parseUnary() (*ast.BooleanValue, error) {
	if p.cur.Type == TokenNot {
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.Not(operand, line), nil
	}
	return p.parsePrimary()
}

var stringOps = map[TokenType]ast.StringOp{
	TokenLt:  ast.OpLt,
	TokenLte: ast.OpLe,
	TokenGt:  ast.OpGt,
	TokenGte: ast.OpGe,
	TokenEq:  ast.OpStrEq,
	TokenNeq: ast.OpStrNe,
}

// parsePrimary parses a parenthesized expression or a string comparison.
// A string value with no comparison operator is true when non-empty.
func (p *parser) parsePrimary() (*ast.BooleanValue, error) {
	if p.cur.Type == TokenLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	line := p.cur.Line
	left, err := p.parseStringValue()
	if err != nil {
		return nil, err
	}
	op, ok := stringOps[p.cur.Type]
	if !ok {
		return ast.Compare(ast.OpStrNe, left, ast.Lit("", line), line), nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseStringValue()
	if err != nil {
		return nil, err
	}
	return ast.Compare(op, left, right, line), nil
}

// parseStringValue parses: STRING | IDENT '(' [ str_value { ',' str_value } ] ')'
func (p *parser) parseStringValue() (*ast.StringValue, error) {
	switch p.cur.Type {
	case TokenString:
		v := ast.Lit(p.cur.Value, p.cur.Line)
		return v, p.advance()
	case TokenIdent:
		fn, err := p.parseFunctionCall()
		if err != nil {
			return nil, err
		}
		return ast.Call(fn), nil
	default:
		return nil, p.errorf("expected string or function call, found %s", p.cur.Type)
	}
}

func (p *parser) parseFunctionCall() (*ast.FunctionCall, error) {
	name, line := p.cur.Value, p.cur.Line
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.Type != TokenLParen {
		return nil, p.errorf("expected ( after %q", name)
	}

	h := p.reg.FindFunction(name)
	if h == nil {
		return nil, types.NewResolutionError(name, line, "unknown function")
	}

	if err := p.advance(); err != nil {
		return nil, err
	}
	args := &ast.FunctionArguments{Line: line}
	if p.cur.Type != TokenRParen {
		for {
			v, err := p.parseStringValue()
			if err != nil {
				return nil, err
			}
			args.Argv = append(args.Argv, v)
			if p.cur.Type != TokenComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &ast.FunctionCall{Name: name, Fn: h, Args: args, Line: line}, nil
}
