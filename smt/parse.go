package smt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/glean"
)

// sexpr is a parsed s-expression: either an atom or a list.
type sexpr struct {
	atom string
	list []sexpr
}

func (e sexpr) isAtom() bool { return e.list == nil }

func (e sexpr) String() string {
	if e.isAtom() {
		return e.atom
	}
	a := make([]string, len(e.list))
	for i := range e.list {
		a[i] = e.list[i].String()
	}
	return "(" + strings.Join(a, " ") + ")"
}

// parseSExpr parses exactly one s-expression from s. Quoted symbols are
// returned without their bars and string literals without their quotes.
func parseSExpr(s string) (sexpr, error) {
	p := &parser{s: s}
	e, err := p.parse()
	if err != nil {
		return sexpr{}, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return sexpr{}, fmt.Errorf("unexpected trailing input at %d: %q", p.pos, p.s[p.pos:])
	}
	return e, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) && strings.IndexByte(" \t\r\n", p.s[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *parser) parse() (sexpr, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return sexpr{}, fmt.Errorf("unexpected end of input")
	}

	switch ch := p.s[p.pos]; ch {
	case '(':
		p.pos++
		list := make([]sexpr, 0)
		for {
			p.skipSpace()
			if p.pos >= len(p.s) {
				return sexpr{}, fmt.Errorf("unterminated list")
			} else if p.s[p.pos] == ')' {
				p.pos++
				return sexpr{list: list}, nil
			}
			e, err := p.parse()
			if err != nil {
				return sexpr{}, err
			}
			list = append(list, e)
		}

	case ')':
		return sexpr{}, fmt.Errorf("unexpected ')' at %d", p.pos)

	case '|', '"':
		end := strings.IndexByte(p.s[p.pos+1:], ch)
		if end < 0 {
			return sexpr{}, fmt.Errorf("unterminated %c at %d", ch, p.pos)
		}
		atom := p.s[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return sexpr{atom: atom}, nil

	default:
		start := p.pos
		for p.pos < len(p.s) && strings.IndexByte(" \t\r\n()", p.s[p.pos]) < 0 {
			p.pos++
		}
		return sexpr{atom: p.s[start:p.pos]}, nil
	}
}

// decodeLiteral converts a solver value of the given sort to a literal.
// Booleans are "true" or "false". Bit-vectors are accepted as #b, #x or
// (_ bvN w) literals.
func decodeLiteral(e sexpr, sort glean.Sort) (*glean.Literal, error) {
	if sort == glean.SortBool {
		switch e.atom {
		case "true":
			return glean.BoolLiteral(true), nil
		case "false":
			return glean.BoolLiteral(false), nil
		}
		return nil, fmt.Errorf("invalid Bool value: %s", e)
	}

	width := sort.Width()
	var value uint64
	var bits uint
	var err error
	switch {
	case e.isAtom() && strings.HasPrefix(e.atom, "#b"):
		bits = uint(len(e.atom) - 2)
		value, err = strconv.ParseUint(e.atom[2:], 2, 64)
	case e.isAtom() && strings.HasPrefix(e.atom, "#x"):
		bits = uint(len(e.atom)-2) * 4
		value, err = strconv.ParseUint(e.atom[2:], 16, 64)
	case len(e.list) == 3 && e.list[0].atom == "_" && strings.HasPrefix(e.list[1].atom, "bv"):
		value, err = strconv.ParseUint(e.list[1].atom[2:], 10, 64)
		if err == nil {
			var n uint64
			n, err = strconv.ParseUint(e.list[2].atom, 10, 32)
			bits = uint(n)
		}
	default:
		return nil, fmt.Errorf("invalid %s value: %s", sort, e)
	}

	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %s: %w", sort, e, err)
	} else if bits != width {
		return nil, fmt.Errorf("invalid %s value: %s has width %d", sort, e, bits)
	}
	return glean.BitVecLiteral(value, width), nil
}
