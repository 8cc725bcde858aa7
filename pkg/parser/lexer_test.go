package parser

import (
	"errors"
	"testing"
)

func tokenTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func equalTypes(a, b []TokenType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLexerWords(t *testing.T) {
	toks, err := NewLexer("copy_dir PKG:system SYSTEM: \"two words\"  # trailing comment\n\nformat DATA:\n").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []TokenType{
		TokenIdent, TokenWord, TokenWord, TokenString, TokenEOL,
		TokenEOL,
		TokenIdent, TokenWord, TokenEOL,
		TokenEOF,
	}
	if got := tokenTypes(toks); !equalTypes(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	if toks[1].Value != "PKG:system" || toks[3].Value != "two words" {
		t.Errorf("values = %q, %q", toks[1].Value, toks[3].Value)
	}
	if toks[6].Line != 3 || toks[6].Col != 1 {
		t.Errorf("format token at %d:%d, want 3:1", toks[6].Line, toks[6].Col)
	}
}

func TestLexerExpression(t *testing.T) {
	l := NewLexer(`assert !(getprop("ro.a") == "x") && "a" <= "b" || f() != "" > >= <`)
	l.ModeFor = func(string) Mode { return ModeExpression }
	toks, err := l.Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []TokenType{
		TokenIdent, TokenNot, TokenLParen, TokenIdent, TokenLParen, TokenString, TokenRParen,
		TokenEq, TokenString, TokenRParen, TokenAnd, TokenString, TokenLte, TokenString,
		TokenOr, TokenIdent, TokenLParen, TokenRParen, TokenNeq, TokenString,
		TokenGt, TokenGte, TokenLt, TokenEOF,
	}
	if got := tokenTypes(toks); !equalTypes(got, want) {
		t.Fatalf("types = %v\nwant    %v", got, want)
	}
}

func TestLexerModeResetsPerLine(t *testing.T) {
	l := NewLexer("assert \"a\" == \"b\"\nrun_program /bin/x==y\n")
	l.ModeFor = func(name string) Mode {
		if name == "assert" {
			return ModeExpression
		}
		return ModeWords
	}
	toks, err := l.Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	last := toks[len(toks)-3]
	if last.Type != TokenWord || last.Value != "/bin/x==y" {
		t.Errorf("second line argument = %v", last)
	}
}

func TestLexerStrings(t *testing.T) {
	toks, err := NewLexer(`x "a\tb\n\"q\"\\ \z"`).Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := toks[1].Value, "a\tb\n\"q\"\\ \\z"; got != want {
		t.Errorf("string = %q, want %q", got, want)
	}
}

func TestLexerContinuation(t *testing.T) {
	toks, err := NewLexer("delete a \\\n  b\nformat c\n").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	want := []TokenType{TokenIdent, TokenWord, TokenWord, TokenEOL, TokenIdent, TokenWord, TokenEOL, TokenEOF}
	if got := tokenTypes(toks); !equalTypes(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	if toks[4].Line != 3 {
		t.Errorf("line after continuation = %d, want 3", toks[4].Line)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		expr  bool
		line  int
	}{
		{"unterminated string", "x \"abc", false, 1},
		{"string across lines", "x\ny \"abc\n\"", false, 2},
		{"bad command start", "  9lives", false, 1},
		{"bad operator", "assert \"a\" = \"b\"", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLexer(tt.input)
			if tt.expr {
				l.ModeFor = func(string) Mode { return ModeExpression }
			}
			_, err := l.Tokenize()
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("got %v, want *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestTokenString(t *testing.T) {
	tok := Token{Type: TokenWord, Value: "x", Line: 2, Col: 5}
	if got := tok.String(); got != `2:5 WORD "x"` {
		t.Errorf("String = %q", got)
	}
	if got := TokenType(99).String(); got != "UNKNOWN" {
		t.Errorf("unknown type = %q", got)
	}
}
