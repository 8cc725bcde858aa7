package parser

import (
	"fmt"
	"strings"
)

// Mode selects how the rest of a line is tokenized.
type Mode int

const (
	// ModeWords splits arguments on whitespace.
	ModeWords Mode = iota
	// ModeExpression recognizes operators, parentheses and function calls.
	ModeExpression
)

// Lexer tokenizes an update script. The first token of every line is a
// command name; the caller then selects the mode for the remainder of the
// line with SetMode. Every new line starts in ModeWords.
type Lexer struct {
	input     string
	pos       int
	line      int
	lineStart int
	mode      Mode
	atStart   bool

	// ModeFor, when set, is consulted by Tokenize after each command name.
	ModeFor func(command string) Mode
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, atStart: true}
}

// SetMode switches the tokenizing mode for the rest of the current line.
func (l *Lexer) SetMode(m Mode) {
	l.mode = m
}

// Line returns the current 1-based line number.
func (l *Lexer) Line() int {
	return l.line
}

// Tokenize scans the entire input and returns all tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenIdent && l.ModeFor != nil && isCommandToken(tokens) {
			l.SetMode(l.ModeFor(tok.Value))
		}
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// isCommandToken reports whether the last token is the first on its line.
func isCommandToken(tokens []Token) bool {
	n := len(tokens)
	return n == 1 || tokens[n-2].Type == TokenEOL
}

func (l *Lexer) errorf(format string, args ...any) error {
	return &ParseError{Line: l.line, Message: fmt.Sprintf(format, args...)}
}

func (l *Lexer) token(typ TokenType, value string, start int) Token {
	return Token{Type: typ, Value: value, Line: l.line, Col: start - l.lineStart + 1}
}

// skipBlank skips spaces, comments and escaped newlines.
func (l *Lexer) skipBlank() {
	for l.pos < len(l.input) {
		switch ch := l.input[l.pos]; {
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.pos++
		case ch == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '\\' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '\n':
			l.pos += 2
			l.line++
			l.lineStart = l.pos
		default:
			return
		}
	}
}

// Next returns the next token from the input.
func (l *Lexer) Next() (Token, error) {
	l.skipBlank()

	if l.pos >= len(l.input) {
		return l.token(TokenEOF, "", l.pos), nil
	}

	start := l.pos
	ch := l.input[l.pos]

	if ch == '\n' {
		tok := l.token(TokenEOL, "", start)
		l.pos++
		l.line++
		l.lineStart = l.pos
		l.atStart = true
		l.mode = ModeWords
		return tok, nil
	}

	if l.atStart {
		if !isIdentStart(ch) {
			return Token{}, l.errorf("expected command name, found %q", string(ch))
		}
		l.atStart = false
		return l.token(TokenIdent, l.readIdent(), start), nil
	}

	if ch == '"' {
		s, err := l.readString()
		if err != nil {
			return Token{}, err
		}
		return l.token(TokenString, s, start), nil
	}

	if l.mode == ModeWords {
		for l.pos < len(l.input) && !isSpace(l.input[l.pos]) {
			l.pos++
		}
		return l.token(TokenWord, l.input[start:l.pos], start), nil
	}

	if l.pos+1 < len(l.input) {
		two := l.input[l.pos : l.pos+2]
		var typ TokenType = -1
		switch two {
		case "==":
			typ = TokenEq
		case "!=":
			typ = TokenNeq
		case "<=":
			typ = TokenLte
		case ">=":
			typ = TokenGte
		case "&&":
			typ = TokenAnd
		case "||":
			typ = TokenOr
		}
		if typ >= 0 {
			l.pos += 2
			return l.token(typ, two, start), nil
		}
	}

	var typ TokenType = -1
	switch ch {
	case '<':
		typ = TokenLt
	case '>':
		typ = TokenGt
	case '!':
		typ = TokenNot
	case '(':
		typ = TokenLParen
	case ')':
		typ = TokenRParen
	case ',':
		typ = TokenComma
	}
	if typ >= 0 {
		l.pos++
		return l.token(typ, string(ch), start), nil
	}

	if isIdentStart(ch) {
		return l.token(TokenIdent, l.readIdent(), start), nil
	}

	return Token{}, l.errorf("unexpected character %q", string(ch))
}

func (l *Lexer) readIdent() string {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	return l.input[start:l.pos]
}

// readString reads a double-quoted string. Strings may not span lines.
func (l *Lexer) readString() (string, error) {
	l.pos++ // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '"':
			l.pos++
			return sb.String(), nil
		case ch == '\n':
			return "", l.errorf("unterminated string")
		case ch == '\\' && l.pos+1 < len(l.input):
			l.pos++
			switch esc := l.input[l.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(esc)
			}
		default:
			sb.WriteByte(ch)
		}
		l.pos++
	}
	return "", l.errorf("unterminated string")
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
