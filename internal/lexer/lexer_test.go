package lexer

import (
	"testing"

	"loxvm/internal/token"
)

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	src := `(){};,+-*!===<=>=!=<>/.`
	expected := []token.Type{
		token.LeftParen, token.RightParen, token.LeftBrace, token.RightBrace,
		token.Semicolon, token.Comma, token.Plus, token.Minus, token.Star,
		token.BangEqual, token.EqualEqual, token.LessEqual, token.GreaterEqual,
		token.BangEqual, token.Less, token.Greater, token.Slash, token.Dot,
		token.Eof,
	}

	l := New(src)
	for i, want := range expected {
		got := l.NextToken()
		if got.Type != want {
			t.Fatalf("token %d: want %s, got %s (%q)", i, want, got.Type, got.Lexeme)
		}
	}
}

func TestNextTokenKeywordsAndIdentifiers(t *testing.T) {
	src := `and class else false for fun if nil or print return super this true var while orchid`
	expectedTypes := []token.Type{
		token.And, token.Class, token.Else, token.False, token.For, token.Fun,
		token.If, token.Nil, token.Or, token.Print, token.Return, token.Super,
		token.This, token.True, token.Var, token.While, token.Identifier, token.Eof,
	}

	l := New(src)
	for i, want := range expectedTypes {
		got := l.NextToken()
		if got.Type != want {
			t.Fatalf("token %d: want %s, got %s (%q)", i, want, got.Type, got.Lexeme)
		}
	}
}

func TestNextTokenNumbersAndStrings(t *testing.T) {
	src := `123 45.67 "hello world"`
	l := New(src)

	tok := l.NextToken()
	if tok.Type != token.Number || tok.Lexeme != "123" {
		t.Fatalf("want NUMBER 123, got %s %q", tok.Type, tok.Lexeme)
	}
	tok = l.NextToken()
	if tok.Type != token.Number || tok.Lexeme != "45.67" {
		t.Fatalf("want NUMBER 45.67, got %s %q", tok.Type, tok.Lexeme)
	}
	tok = l.NextToken()
	if tok.Type != token.String || tok.Lexeme != `"hello world"` {
		t.Fatalf("want STRING, got %s %q", tok.Type, tok.Lexeme)
	}
}

func TestNextTokenUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != token.Error {
		t.Fatalf("want ERROR, got %s", tok.Type)
	}
	if tok.Message != "Unterminated string." {
		t.Fatalf("unexpected message: %q", tok.Message)
	}
}

func TestNextTokenSkipsCommentsAndTracksLines(t *testing.T) {
	src := "var a = 1; // this is a comment\nvar b = 2;"
	l := New(src)

	var last token.Token
	for {
		tok := l.NextToken()
		if tok.Type == token.Eof {
			break
		}
		last = tok
	}
	if last.Lexeme != ";" {
		t.Fatalf("want last token ';', got %q", last.Lexeme)
	}
	if last.Line != 2 {
		t.Fatalf("want line 2, got %d", last.Line)
	}
}

func TestNextTokenUnexpectedCharacter(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	if tok.Type != token.Error {
		t.Fatalf("want ERROR, got %s", tok.Type)
	}
	if tok.Message != "Unexpected character." {
		t.Fatalf("unexpected message: %q", tok.Message)
	}
}
