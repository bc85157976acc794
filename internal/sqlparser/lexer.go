package sqlparser

import (
	"fmt"
	"strings"
)

// TokenType classifies lexical tokens.
type TokenType int

const (
	EOF TokenType = iota
	Word          // bare identifier or keyword
	QuotedIdent   // "x", `x` or [x]
	String        // 'x'
	Number
	Blob // x'ABCD'
	Param
	Operator
	Semicolon
	Comma
	Dot
	ParenOpen
	ParenClose
)

func (t TokenType) String() string {
	switch t {
	case EOF:
		return "end of input"
	case Word:
		return "word"
	case QuotedIdent:
		return "quoted identifier"
	case String:
		return "string"
	case Number:
		return "number"
	case Blob:
		return "blob"
	case Param:
		return "parameter"
	case Operator:
		return "operator"
	case Semicolon:
		return "';'"
	case Comma:
		return "','"
	case Dot:
		return "'.'"
	case ParenOpen:
		return "'('"
	case ParenClose:
		return "')'"
	default:
		return fmt.Sprintf("token(%d)", int(t))
	}
}

// Token is a lexical token. Value holds the decoded text (unquoted for
// strings and quoted identifiers). Start and End are byte offsets into the
// input, so callers can recover the original text of a statement.
type Token struct {
	Type  TokenType
	Value string
	Start int
	End   int
	Line  int
	Col   int
}

// upper returns the keyword form of a word token.
func (t Token) upper() string {
	if t.Type != Word {
		return ""
	}
	return strings.ToUpper(t.Value)
}

// Tokenize splits sql into tokens, dropping whitespace and comments.
// The final token is always EOF.
func Tokenize(sql string) ([]Token, error) {
	l := &lexer{src: sql, line: 1, col: 1}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) errorf(format string, args ...any) error {
	return &ParseError{
		Message: fmt.Sprintf(format, args...),
		Offset:  l.pos,
		Line:    l.line,
		Column:  l.col,
	}
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			l.advance(1)
		case c == '-' && l.peekByte(1) == '-':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		case c == '/' && l.peekByte(1) == '*':
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return l.errorf("unterminated block comment")
			}
			l.advance(end + 4)
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (Token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return Token{}, err
	}
	start, line, col := l.pos, l.line, l.col
	mk := func(tt TokenType, value string) Token {
		return Token{Type: tt, Value: value, Start: start, End: l.pos, Line: line, Col: col}
	}
	if l.pos >= len(l.src) {
		return mk(EOF, ""), nil
	}

	c := l.src[l.pos]
	switch {
	case c == ';':
		l.advance(1)
		return mk(Semicolon, ";"), nil
	case c == ',':
		l.advance(1)
		return mk(Comma, ","), nil
	case c == '(':
		l.advance(1)
		return mk(ParenOpen, "("), nil
	case c == ')':
		l.advance(1)
		return mk(ParenClose, ")"), nil
	case c == '.' && !isDigit(l.peekByte(1)):
		l.advance(1)
		return mk(Dot, "."), nil
	case c == '\'':
		s, err := l.readQuoted('\'', '\'')
		if err != nil {
			return Token{}, err
		}
		return mk(String, s), nil
	case c == '"':
		s, err := l.readQuoted('"', '"')
		if err != nil {
			return Token{}, err
		}
		return mk(QuotedIdent, s), nil
	case c == '`':
		s, err := l.readQuoted('`', '`')
		if err != nil {
			return Token{}, err
		}
		return mk(QuotedIdent, s), nil
	case c == '[':
		end := strings.IndexByte(l.src[l.pos:], ']')
		if end < 0 {
			return Token{}, l.errorf("unterminated bracket identifier")
		}
		s := l.src[l.pos+1 : l.pos+end]
		l.advance(end + 1)
		return mk(QuotedIdent, s), nil
	case (c == 'x' || c == 'X') && l.peekByte(1) == '\'':
		l.advance(1)
		s, err := l.readQuoted('\'', '\'')
		if err != nil {
			return Token{}, err
		}
		return mk(Blob, s), nil
	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		return mk(Number, l.readNumber()), nil
	case c == '?':
		l.advance(1)
		for isDigit(l.peekByte(0)) {
			l.advance(1)
		}
		return mk(Param, l.src[start:l.pos]), nil
	case c == ':' || c == '@' || c == '$':
		if !isIdentStart(l.peekByte(1)) {
			return Token{}, l.errorf("unexpected character %q", c)
		}
		l.advance(1)
		for isIdentPart(l.peekByte(0)) {
			l.advance(1)
		}
		return mk(Param, l.src[start:l.pos]), nil
	case isIdentStart(c):
		for isIdentPart(l.peekByte(0)) {
			l.advance(1)
		}
		return mk(Word, l.src[start:l.pos]), nil
	}

	if op := l.readOperator(); op != "" {
		return mk(Operator, op), nil
	}
	return Token{}, l.errorf("unexpected character %q", c)
}

// readQuoted reads a quoted run where a doubled closing quote is an escape.
func (l *lexer) readQuoted(open, close byte) (string, error) {
	l.advance(1) // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			if open == '\'' {
				return "", l.errorf("unterminated string literal")
			}
			return "", l.errorf("unterminated quoted identifier")
		}
		c := l.src[l.pos]
		if c == close {
			if l.peekByte(1) == close {
				sb.WriteByte(close)
				l.advance(2)
				continue
			}
			l.advance(1)
			return sb.String(), nil
		}
		sb.WriteByte(c)
		l.advance(1)
	}
}

func (l *lexer) readNumber() string {
	start := l.pos
	if l.peekByte(0) == '0' && (l.peekByte(1) == 'x' || l.peekByte(1) == 'X') {
		l.advance(2)
		for isHexDigit(l.peekByte(0)) {
			l.advance(1)
		}
		return l.src[start:l.pos]
	}
	for isDigit(l.peekByte(0)) {
		l.advance(1)
	}
	if l.peekByte(0) == '.' {
		l.advance(1)
		for isDigit(l.peekByte(0)) {
			l.advance(1)
		}
	}
	if e := l.peekByte(0); e == 'e' || e == 'E' {
		off := 1
		if s := l.peekByte(1); s == '+' || s == '-' {
			off = 2
		}
		if isDigit(l.peekByte(off)) {
			l.advance(off)
			for isDigit(l.peekByte(0)) {
				l.advance(1)
			}
		}
	}
	return l.src[start:l.pos]
}

var operators = []string{
	"->>", "<<", ">>", "<=", ">=", "==", "!=", "<>", "||", "->",
	"=", "<", ">", "+", "-", "*", "/", "%", "&", "|", "~",
}

func (l *lexer) readOperator() string {
	rest := l.src[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.advance(len(op))
			return op
		}
	}
	return ""
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}
