package parser

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF    TokenType = iota // end of input
	TokenEOL                     // end of a script line
	TokenIdent                   // command or function name
	TokenWord                    // unquoted command argument
	TokenString                  // quoted string, escapes resolved

	TokenLParen // (
	TokenRParen // )
	TokenComma  // ,

	// String comparison
	TokenEq  // ==
	TokenNeq // !=
	TokenLt  // <
	TokenGt  // >
	TokenLte // <=
	TokenGte // >=

	// Logical
	TokenAnd // &&
	TokenOr  // ||
	TokenNot // !
)

var tokenNames = [...]string{
	TokenEOF:    "EOF",
	TokenEOL:    "EOL",
	TokenIdent:  "IDENT",
	TokenWord:   "WORD",
	TokenString: "STRING",
	TokenLParen: "LPAREN",
	TokenRParen: "RPAREN",
	TokenComma:  "COMMA",
	TokenEq:     "EQ",
	TokenNeq:    "NEQ",
	TokenLt:     "LT",
	TokenGt:     "GT",
	TokenLte:    "LTE",
	TokenGte:    "GTE",
	TokenAnd:    "AND",
	TokenOr:     "OR",
	TokenNot:    "NOT",
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "UNKNOWN"
}

// Token represents a single lexical token.
type Token struct {
	Type  TokenType
	Value string // word or string contents, operator text otherwise
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF, TokenEOL:
		return fmt.Sprintf("%d:%d %s", t.Line, t.Col, t.Type)
	default:
		return fmt.Sprintf("%d:%d %s %q", t.Line, t.Col, t.Type, t.Value)
	}
}
