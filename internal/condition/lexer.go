package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOp     // == != < <= > >=
	tokenAnd    // and, &&
	tokenOr     // or, ||
	tokenNot    // not, !
	tokenIn     // in
	tokenNotIn  // not_in
	tokenHas    // contains
	tokenLParen // (
	tokenRParen // )
	tokenLBrack // [
	tokenRBrack // ]
	tokenComma  // ,
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return token{tokenLParen, "(", start}, nil
	case ')':
		l.pos++
		return token{tokenRParen, ")", start}, nil
	case '[':
		l.pos++
		return token{tokenLBrack, "[", start}, nil
	case ']':
		l.pos++
		return token{tokenRBrack, "]", start}, nil
	case ',':
		l.pos++
		return token{tokenComma, ",", start}, nil
	case '\'', '"':
		return l.lexString(ch)
	case '=', '<', '>', '!':
		return l.lexOperator()
	case '&':
		if strings.HasPrefix(l.input[l.pos:], "&&") {
			l.pos += 2
			return token{tokenAnd, "&&", start}, nil
		}
		return token{}, fmt.Errorf("unexpected character %q at position %d", ch, start)
	case '|':
		if strings.HasPrefix(l.input[l.pos:], "||") {
			l.pos += 2
			return token{tokenOr, "||", start}, nil
		}
		return token{}, fmt.Errorf("unexpected character %q at position %d", ch, start)
	}

	if ch == '-' || unicode.IsDigit(rune(ch)) {
		return l.lexNumber()
	}
	if isIdentStart(rune(ch)) {
		return l.lexIdent()
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", ch, start)
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			sb.WriteByte(l.input[l.pos])
			l.pos++
			continue
		}
		if c == quote {
			l.pos++
			return token{tokenString, sb.String(), start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string starting at position %d", start)
}

func (l *lexer) lexOperator() (token, error) {
	start := l.pos
	rest := l.input[l.pos:]
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return token{tokenOp, op, start}, nil
		}
	}
	if rest[0] == '!' {
		l.pos++
		return token{tokenNot, "!", start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", rest[0], start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDigit := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if unicode.IsDigit(rune(c)) {
			seenDigit = true
			l.pos++
			continue
		}
		if c == '.' {
			l.pos++
			continue
		}
		break
	}
	if !seenDigit {
		return token{}, fmt.Errorf("malformed number at position %d", start)
	}
	return token{tokenNumber, l.input[start:l.pos], start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(rune(l.input[l.pos])) {
		l.pos++
	}
	word := l.input[start:l.pos]
	switch strings.ToLower(word) {
	case "and":
		return token{tokenAnd, word, start}, nil
	case "or":
		return token{tokenOr, word, start}, nil
	case "not":
		return token{tokenNot, word, start}, nil
	case "in":
		return token{tokenIn, word, start}, nil
	case "not_in":
		return token{tokenNotIn, word, start}, nil
	case "contains":
		return token{tokenHas, word, start}, nil
	}
	return token{tokenIdent, word, start}, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}
