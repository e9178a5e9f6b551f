package jsonfix

import (
	"strings"
)

// Object is a JSON object that keeps member order.
type Object []Member

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Get returns the value of key.
func (o Object) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Number is a JSON number kept in literal form.
type Number string

// Parser is a tolerant recursive-descent parser. Values are Object, []any,
// string, Number, bool or nil.
type Parser struct {
	tokens []Token
	pos    int
	errors []*ParseError
}

// NewParser creates a parser from a token slice (typically from Lexer.Tokenize).
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses one query document: a JSON object, bare "key: value" members,
// or a db.<collection>.<method>(...) call chain.
func (p *Parser) Parse() (Object, []*ParseError) {
	p.skipSemis()

	var doc Object
	switch {
	case p.isIdent("db") && p.peekAt(1).Type == TokenDot:
		doc = p.parseShellCall()
	case p.check(TokenLBrace):
		doc = p.parseObject()
	case p.startsMember():
		doc = p.parseMembers()
	default:
		tok := p.peek()
		p.addError(tok, "expected a JSON object or db.<collection> call, got %s", describe(tok))
		return nil, p.errors
	}

	// Tolerate a trailing semicolon and unbalanced closers left by the model.
	for p.check(TokenSemi) || p.check(TokenRBrace) || p.check(TokenRBrack) {
		p.advance()
	}
	if !p.atEnd() {
		tok := p.peek()
		p.addError(tok, "unexpected %s after query", describe(tok))
	}
	return doc, p.errors
}

// ── Token navigation ────────────────────────────────────────────────────────

func (p *Parser) peek() Token {
	return p.peekAt(0)
}

func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == TokenEOF
}

func (p *Parser) check(t TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) isIdent(lit string) bool {
	tok := p.peek()
	return tok.Type == TokenIdent && tok.Literal == lit
}

func (p *Parser) skipCommas() {
	for p.match(TokenComma) {
	}
}

func (p *Parser) skipSemis() {
	for p.match(TokenSemi) {
	}
}

func (p *Parser) addError(tok Token, format string, args ...any) {
	p.errors = append(p.errors, newParseErrorf(tok, format, args...))
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdent, TokenNumber:
		return "'" + tok.Literal + "'"
	case TokenString:
		return "string \"" + tok.Literal + "\""
	default:
		return "'" + tok.Type.String() + "'"
	}
}

// startsMember reports whether the next tokens look like `key:` or a dotted
// `a.b:` key.
func (p *Parser) startsMember() bool {
	i := 0
	switch p.peekAt(i).Type {
	case TokenIdent, TokenString:
	default:
		return false
	}
	i++
	for p.peekAt(i).Type == TokenDot && p.peekAt(i+1).Type == TokenIdent {
		i += 2
	}
	return p.peekAt(i).Type == TokenColon
}

// ── Values ──────────────────────────────────────────────────────────────────

func (p *Parser) parseValue() any {
	tok := p.peek()
	switch tok.Type {
	case TokenLBrace:
		return p.parseObject()
	case TokenLBrack:
		return p.parseArray()
	case TokenString:
		p.advance()
		return tok.Literal
	case TokenNumber:
		p.advance()
		return Number(tok.Literal)
	case TokenIdent:
		return p.parseIdentValue()
	default:
		p.addError(tok, "expected a value, got %s", describe(tok))
		if !p.atEnd() {
			p.advance()
		}
		return nil
	}
}

// parseObject reads `{ members }`. A missing closing brace at the end of
// input or before a mismatched closer is supplied.
func (p *Parser) parseObject() Object {
	p.advance() // {
	obj := Object{}
	for {
		p.skipCommas()
		switch p.peek().Type {
		case TokenRBrace:
			p.advance()
			return obj
		case TokenEOF, TokenRBrack, TokenRParen:
			return obj
		}
		m, ok := p.parseMember()
		if !ok {
			return obj
		}
		obj = append(obj, m)
	}
}

// parseMembers reads bare members up to end of input, as if wrapped in braces.
func (p *Parser) parseMembers() Object {
	obj := Object{}
	for {
		p.skipCommas()
		if p.atEnd() || p.check(TokenSemi) || p.check(TokenRBrace) {
			return obj
		}
		m, ok := p.parseMember()
		if !ok {
			return obj
		}
		obj = append(obj, m)
	}
}

func (p *Parser) parseMember() (Member, bool) {
	keyTok := p.peek()
	key, ok := p.parseKey()
	if !ok {
		return Member{}, false
	}
	if !p.match(TokenColon) {
		p.addError(p.peek(), "expected ':' after key %q, got %s", key, describe(p.peek()))
		return Member{}, false
	}
	if p.check(TokenComma) || p.check(TokenRBrace) || p.atEnd() {
		p.addError(keyTok, "missing value for key %q", key)
		return Member{}, false
	}
	return Member{Key: key, Value: p.parseValue()}, true
}

// parseKey reads a quoted key, a bareword, a dotted bareword path, or a number.
func (p *Parser) parseKey() (string, bool) {
	tok := p.peek()
	switch tok.Type {
	case TokenString, TokenNumber:
		p.advance()
		return tok.Literal, true
	case TokenIdent:
		p.advance()
		key := tok.Literal
		for p.check(TokenDot) && p.peekAt(1).Type == TokenIdent {
			p.advance()
			key += "." + p.advance().Literal
		}
		return key, true
	default:
		p.addError(tok, "expected a key, got %s", describe(tok))
		return "", false
	}
}

func (p *Parser) parseArray() []any {
	p.advance() // [
	arr := []any{}
	for {
		p.skipCommas()
		switch p.peek().Type {
		case TokenRBrack:
			p.advance()
			return arr
		case TokenEOF, TokenRBrace, TokenRParen:
			return arr
		}
		before := p.pos
		arr = append(arr, p.parseValue())
		if p.pos == before {
			return arr
		}
	}
}

// parseIdentValue handles literals, constructor calls and bare strings.
func (p *Parser) parseIdentValue() any {
	tok := p.peek()

	switch strings.ToLower(tok.Literal) {
	case "true":
		p.advance()
		return true
	case "false":
		p.advance()
		return false
	case "null", "none", "undefined":
		p.advance()
		return nil
	case "new":
		if p.peekAt(1).Type == TokenIdent && p.peekAt(2).Type == TokenLParen {
			p.advance()
			return p.parseConstructor()
		}
	}

	if p.peekAt(1).Type == TokenLParen {
		return p.parseConstructor()
	}
	return p.parseBareString()
}

// parseBareString joins consecutive barewords on one line into a string,
// stopping before a word that starts the next member.
func (p *Parser) parseBareString() string {
	first := p.advance()
	words := []string{first.Literal}
	for {
		tok := p.peek()
		if tok.Type != TokenIdent && tok.Type != TokenNumber {
			break
		}
		if tok.Line != first.Line || p.peekAt(1).Type == TokenColon {
			break
		}
		words = append(words, p.advance().Literal)
	}
	return strings.Join(words, " ")
}

// parseConstructor converts shell constructors into Extended JSON.
func (p *Parser) parseConstructor() any {
	nameTok := p.advance()
	args := p.parseArgs()

	str := func() (string, bool) {
		if len(args) != 1 {
			return "", false
		}
		switch a := args[0].(type) {
		case string:
			return a, true
		case Number:
			return string(a), true
		}
		return "", false
	}

	switch nameTok.Literal {
	case "ObjectId", "ObjectID":
		if s, ok := str(); ok {
			return Object{{Key: "$oid", Value: s}}
		}
	case "ISODate", "Date":
		if s, ok := str(); ok {
			return Object{{Key: "$date", Value: s}}
		}
	case "NumberInt", "NumberLong", "Int32", "Long":
		if s, ok := str(); ok {
			return Number(s)
		}
	case "NumberDecimal", "Decimal128":
		if s, ok := str(); ok {
			return Object{{Key: "$numberDecimal", Value: s}}
		}
	default:
		p.addError(nameTok, "unsupported function %s()", nameTok.Literal)
		return nil
	}
	p.addError(nameTok, "%s() takes exactly one literal argument", nameTok.Literal)
	return nil
}

// parseArgs reads `( value, ... )`.
func (p *Parser) parseArgs() []any {
	if !p.match(TokenLParen) {
		p.addError(p.peek(), "expected '(', got %s", describe(p.peek()))
		return nil
	}
	var args []any
	for {
		p.skipCommas()
		switch p.peek().Type {
		case TokenRParen:
			p.advance()
			return args
		case TokenEOF:
			p.addError(p.peek(), "unclosed argument list")
			return args
		}
		before := p.pos
		args = append(args, p.parseValue())
		if p.pos == before {
			return args
		}
	}
}
