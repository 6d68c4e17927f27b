package esri

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/maxcollombin/mapserver-proxy/internal/core/apperr"
)

// WhereToCQL translates an ArcGIS where clause into CQL text suitable for
// the backend filter parameter. Supported predicates: =, >, <, >=, <=,
// BETWEEN .. AND .., joined by AND. The tautology 1=1 (and an empty clause)
// translates to no filter at all. Anything else fails with BadRequest.
func WhereToCQL(where string) (string, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return "", nil
	}

	toks, err := lexWhere(where)
	if err != nil {
		return "", err
	}

	p := &whereParser{toks: toks}
	var clauses []string
	for {
		c, err := p.clause()
		if err != nil {
			return "", err
		}
		if c != "" {
			clauses = append(clauses, c)
		}
		if p.done() {
			break
		}
		if !p.acceptKeyword("AND") {
			return "", apperr.Errorf(apperr.BadRequest,
				"unsupported token %q in where clause", p.peek().text)
		}
	}
	return strings.Join(clauses, " AND "), nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string
}

func lexWhere(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			j := i + 1
			var b strings.Builder
			for {
				if j >= len(s) {
					return nil, apperr.E(apperr.BadRequest, "unterminated string in where clause")
				}
				if s[j] == '\'' {
					// doubled quote is an escaped quote
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case c == '=':
			toks = append(toks, token{tokOp, "="})
			i++
		case c == '>' || c == '<':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
				i++
			} else if i+1 < len(s) && s[i+1] == '>' {
				return nil, apperr.E(apperr.BadRequest, "operator <> is not supported")
			}
			toks = append(toks, token{tokOp, op})
			i++
		case c == '!':
			return nil, apperr.E(apperr.BadRequest, "operator != is not supported")
		case c == '(' || c == ')':
			return nil, apperr.E(apperr.BadRequest, "parentheses are not supported in where clauses")
		case isWordByte(c):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			word := s[i:j]
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				toks = append(toks, token{tokNumber, word})
			} else {
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		default:
			return nil, apperr.Errorf(apperr.BadRequest, "unexpected character %q in where clause", c)
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= '0' && c <= '9') ||
		unicode.IsLetter(rune(c))
}

type whereParser struct {
	toks []token
	pos  int
}

func (p *whereParser) done() bool { return p.pos >= len(p.toks) }

func (p *whereParser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *whereParser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *whereParser) acceptKeyword(kw string) bool {
	if t := p.peek(); t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

// clause parses one predicate: field op value, field BETWEEN a AND b,
// or the 1=1 tautology (which yields an empty clause).
func (p *whereParser) clause() (string, error) {
	if p.done() {
		return "", apperr.E(apperr.BadRequest, "empty predicate in where clause")
	}
	left := p.next()

	// numeric tautology like 1=1
	if left.kind == tokNumber {
		op := p.next()
		right := p.next()
		if op.kind == tokOp && op.text == "=" && right.kind == tokNumber && right.text == left.text {
			return "", nil
		}
		return "", apperr.E(apperr.BadRequest, "left side of predicate must be a field name")
	}
	if left.kind != tokIdent {
		return "", apperr.Errorf(apperr.BadRequest, "expected field name, got %q", left.text)
	}
	for _, kw := range []string{"OR", "NOT", "LIKE", "IN", "IS"} {
		if strings.EqualFold(left.text, kw) {
			return "", apperr.Errorf(apperr.BadRequest, "%s is not supported in where clauses", kw)
		}
	}

	if p.acceptKeyword("BETWEEN") {
		lo, err := p.value()
		if err != nil {
			return "", err
		}
		if !p.acceptKeyword("AND") {
			return "", apperr.E(apperr.BadRequest, "BETWEEN requires AND")
		}
		hi, err := p.value()
		if err != nil {
			return "", err
		}
		return left.text + " BETWEEN " + lo + " AND " + hi, nil
	}

	op := p.next()
	if op.kind != tokOp {
		return "", apperr.Errorf(apperr.BadRequest, "unsupported operator %q", op.text)
	}
	val, err := p.value()
	if err != nil {
		return "", err
	}
	return left.text + " " + op.text + " " + val, nil
}

// value renders one literal as CQL: numbers bare, everything else quoted.
// Unquoted words (where=status=active) are treated as string literals.
func (p *whereParser) value() (string, error) {
	if p.done() {
		return "", apperr.E(apperr.BadRequest, "missing value in where clause")
	}
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.text, nil
	case tokString, tokIdent:
		return "'" + strings.ReplaceAll(t.text, "'", "''") + "'", nil
	default:
		return "", apperr.Errorf(apperr.BadRequest, "unexpected value %q", t.text)
	}
}
