package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// TokenKind classifies lexical tokens of an assembly listing.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenNewline
	TokenWord   // bare word: mnemonic, number, label, %v0, +3, 0-4 ...
	TokenString // double-quoted string with Go escapes
	TokenPunct  // one of { } ( ) [ ] , : =
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "end of line"
	case TokenWord:
		return "word"
	case TokenString:
		return "string"
	case TokenPunct:
		return "punctuation"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is a lexical token. Text holds the unquoted value for strings.
type Token struct {
	Kind TokenKind
	Text string
	Line int // 1-based
	Col  int // 1-based, in runes
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF, TokenNewline:
		return t.Kind.String()
	case TokenString:
		return strconv.Quote(t.Text)
	}
	return fmt.Sprintf("%q", t.Text)
}

func (t Token) is(kind TokenKind, text string) bool {
	return t.Kind == kind && t.Text == text
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

const punctChars = "{}()[],:="

// Lexer tokenizes assembly text.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// Tokenize returns every token of the input, ending with TokenEOF.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var toks []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == TokenEOF {
			return toks, nil
		}
	}
}

// NextToken returns the next token. Comments run from '#' to the end of
// the line.
func (l *Lexer) NextToken() (Token, error) {
	for !l.atEOF() && l.ch != '\n' && unicode.IsSpace(l.ch) {
		l.readChar()
	}
	if !l.atEOF() && l.ch == '#' {
		for !l.atEOF() && l.ch != '\n' {
			l.readChar()
		}
	}

	tok := Token{Line: l.line, Col: l.col}
	switch {
	case l.atEOF():
		tok.Kind = TokenEOF
	case l.ch == '\n':
		tok.Kind = TokenNewline
		l.readChar()
	case l.ch == '"':
		s, err := l.readString()
		if err != nil {
			return tok, err
		}
		tok.Kind, tok.Text = TokenString, s
	case strings.ContainsRune(punctChars, l.ch) && !l.isScope():
		tok.Kind, tok.Text = TokenPunct, string(l.ch)
		l.readChar()
	default:
		tok.Kind, tok.Text = TokenWord, l.readWord()
	}
	return tok, nil
}

// isScope reports whether the current ':' starts a "::" namespace separator.
func (l *Lexer) isScope() bool {
	return l.ch == ':' && l.peekChar() == ':'
}

func (l *Lexer) readWord() string {
	start := l.pos
	for !l.atEOF() && !unicode.IsSpace(l.ch) && l.ch != '"' && l.ch != '#' {
		if l.isScope() {
			l.readChar()
			l.readChar()
			continue
		}
		if strings.ContainsRune(punctChars, l.ch) {
			break
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readString() (string, error) {
	line, start := l.line, l.pos
	l.readChar() // opening quote
	for {
		if l.atEOF() || l.ch == '\n' {
			return "", &MalformedAssembly{Line: line, Reason: "unterminated string"}
		}
		if l.ch == '\\' {
			l.readChar()
			if l.atEOF() {
				return "", &MalformedAssembly{Line: line, Reason: "unterminated string"}
			}
			l.readChar()
			continue
		}
		if l.ch == '"' {
			l.readChar()
			break
		}
		l.readChar()
	}
	s, err := strconv.Unquote(l.input[start:l.pos])
	if err != nil {
		return "", &MalformedAssembly{Line: line, Reason: fmt.Sprintf("bad string literal %s", l.input[start:l.pos])}
	}
	return s, nil
}
