package jsonfix

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes relaxed JSON and mongosh call text.
type Lexer struct {
	input  string
	pos    int // current byte position
	line   int // 1-based
	col    int // 1-based
	tokens []Token
	errors []*ParseError
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Tokenize scans the entire input and returns all tokens plus any errors.
func (l *Lexer) Tokenize() ([]Token, []*ParseError) {
	for {
		tok := l.next()
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return l.tokens, l.errors
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) peekAt(offset int) rune {
	p := l.pos + offset
	if p >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[p:])
	return r
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipSpaceAndComments advances past whitespace and // or /* */ comments.
func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.input) {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '/' && l.peekAt(1) == '/':
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		case r == '/' && l.peekAt(1) == '*':
			l.advance()
			l.advance()
			for l.pos < len(l.input) && !(l.peek() == '*' && l.peekAt(1) == '/') {
				l.advance()
			}
			l.advance()
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) next() Token {
	l.skipSpaceAndComments()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, Line: l.line, Col: l.col}
	}

	startPos, startLine, startCol := l.pos, l.line, l.col
	r := l.peek()

	switch {
	case r == '"' || r == '\'' || r == '“' || r == '‘':
		return l.scanString(startPos, startLine, startCol)
	case isDigit(r), (r == '-' || r == '+' || r == '.') && isDigit(l.peekAt(1)):
		return l.scanNumber(startPos, startLine, startCol)
	case isIdentStart(r):
		return l.scanIdent(startPos, startLine, startCol)
	}

	l.advance()
	tok := Token{Literal: string(r), Pos: startPos, Line: startLine, Col: startCol}
	switch r {
	case '{':
		tok.Type = TokenLBrace
	case '}':
		tok.Type = TokenRBrace
	case '[':
		tok.Type = TokenLBrack
	case ']':
		tok.Type = TokenRBrack
	case '(':
		tok.Type = TokenLParen
	case ')':
		tok.Type = TokenRParen
	case ':', '=':
		tok.Type = TokenColon
	case ',':
		tok.Type = TokenComma
	case '.':
		tok.Type = TokenDot
	case ';':
		tok.Type = TokenSemi
	default:
		l.errors = append(l.errors, newParseErrorf(tok, "unexpected character %q", r))
		return l.next()
	}
	return tok
}

// closingQuote maps an opening quote to the rune that ends the string.
func closingQuote(open rune) rune {
	switch open {
	case '“':
		return '”'
	case '‘':
		return '’'
	default:
		return open
	}
}

// scanString reads a quoted string literal. Single, double and typographic
// quotes are accepted.
func (l *Lexer) scanString(startPos, startLine, startCol int) Token {
	quote := closingQuote(l.advance())
	var b strings.Builder
	for l.pos < len(l.input) {
		r := l.advance()
		if r == quote {
			return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Line: startLine, Col: startCol}
		}
		if r == '\\' {
			next := l.advance()
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'u':
				if cp, ok := l.scanHex4(); ok {
					b.WriteRune(cp)
				} else {
					b.WriteString(`\u`)
				}
			default:
				// \" \' \\ \/ and unknown escapes keep the escaped rune.
				b.WriteRune(next)
			}
			continue
		}
		b.WriteRune(r)
	}
	l.errors = append(l.errors, &ParseError{Message: "unterminated string", Line: startLine, Col: startCol, Pos: startPos})
	return Token{Type: TokenString, Literal: b.String(), Pos: startPos, Line: startLine, Col: startCol}
}

func (l *Lexer) scanHex4() (rune, bool) {
	if l.pos+4 > len(l.input) {
		return 0, false
	}
	var cp rune
	for i := 0; i < 4; i++ {
		c := l.input[l.pos+i]
		switch {
		case c >= '0' && c <= '9':
			cp = cp<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			cp = cp<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			cp = cp<<4 | rune(c-'A'+10)
		default:
			return 0, false
		}
	}
	for i := 0; i < 4; i++ {
		l.advance()
	}
	return cp, true
}

// scanNumber reads a signed integer, decimal or exponent literal.
func (l *Lexer) scanNumber(startPos, startLine, startCol int) Token {
	start := l.pos
	if r := l.peek(); r == '-' || r == '+' {
		l.advance()
	}
	seenDot, seenExp := false, false
	for l.pos < len(l.input) {
		r := l.peek()
		switch {
		case isDigit(r):
			l.advance()
		case r == '.' && !seenDot && !seenExp && isDigit(l.peekAt(1)):
			seenDot = true
			l.advance()
		case (r == 'e' || r == 'E') && !seenExp && (isDigit(l.peekAt(1)) ||
			((l.peekAt(1) == '-' || l.peekAt(1) == '+') && isDigit(l.peekAt(2)))):
			seenExp = true
			l.advance()
			if n := l.peek(); n == '-' || n == '+' {
				l.advance()
			}
		default:
			return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
}

// scanIdent reads a bareword. Operator keys like $gt and dotted paths are
// read as separate identifier and dot tokens; the parser rejoins paths.
func (l *Lexer) scanIdent(startPos, startLine, startCol int) Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		l.advance()
	}
	return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
