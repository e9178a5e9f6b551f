// Package jsonfix normalizes model output into a single compact JSON object.
//
// Language models asked for "exactly one JSON query" still produce markdown
// fences, bold markers, unquoted keys, single quotes, dropped commas and
// braces, bare "key: value" lines, and mongosh call syntax. Normalize accepts
// those forms through a tolerant lexer and recursive-descent parser and emits
// strict JSON with the original key order. Input it cannot make sense of is
// reported as ErrInvalidOutput instead of being guessed at.
package jsonfix

// TokenType identifies the kind of lexical token.
type TokenType int

const (
	TokenEOF    TokenType = iota
	TokenIdent            // bareword: key, literal, bare string value, call name
	TokenString           // "quoted" or 'quoted'
	TokenNumber           // 12, -3.5, 1e6

	TokenLBrace // {
	TokenRBrace // }
	TokenLBrack // [
	TokenRBrack // ]
	TokenLParen // (
	TokenRParen // )
	TokenColon  // :
	TokenComma  // ,
	TokenDot    // .
	TokenSemi   // ;
)

// String returns a human-readable name for the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of input"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenLBrace:
		return "{"
	case TokenRBrace:
		return "}"
	case TokenLBrack:
		return "["
	case TokenRBrack:
		return "]"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenColon:
		return ":"
	case TokenComma:
		return ","
	case TokenDot:
		return "."
	case TokenSemi:
		return ";"
	default:
		return "unknown"
	}
}

// Token is a single lexical token.
type Token struct {
	Type    TokenType
	Literal string // raw text; unescaped contents for strings
	Pos     int    // byte offset in source
	Line    int    // 1-based line number
	Col     int    // 1-based column number
}
