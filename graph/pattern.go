package graph

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

type direction int

const (
	dirOut direction = iota // (a)-[:T]->(b)
	dirIn                   // (a)<-[:T]-(b)
)

type propConstraint struct {
	key   string
	param string
	value any
}

type nodePattern struct {
	variable string
	label    string
	props    []propConstraint
}

type relPattern struct {
	variable string
	relType  string
	dir      direction
	props    []propConstraint
}

// pattern is a linear path: nodes[i] -rels[i]- nodes[i+1].
type pattern struct {
	nodes []nodePattern
	rels  []relPattern
}

var patternCache sync.Map

func compilePattern(src string) (*pattern, error) {
	if cached, ok := patternCache.Load(src); ok {
		return cached.(*pattern), nil
	}
	p, err := parsePattern(src)
	if err != nil {
		return nil, err
	}
	patternCache.Store(src, p)
	return p, nil
}

func parsePattern(src string) (*pattern, error) {
	ps := &patternParser{src: src}
	pat := &pattern{}

	n, err := ps.node()
	if err != nil {
		return nil, err
	}
	pat.nodes = append(pat.nodes, n)

	for {
		ps.skipSpace()
		if ps.eof() {
			break
		}
		r, err := ps.rel()
		if err != nil {
			return nil, err
		}
		n, err := ps.node()
		if err != nil {
			return nil, err
		}
		pat.rels = append(pat.rels, r)
		pat.nodes = append(pat.nodes, n)
	}
	return pat, nil
}

type patternParser struct {
	src string
	pos int
}

func (p *patternParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalidPattern, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *patternParser) eof() bool { return p.pos >= len(p.src) }

func (p *patternParser) skipSpace() {
	for !p.eof() && strings.ContainsRune(" \t\r\n", rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *patternParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *patternParser) expect(tok string) error {
	if !p.accept(tok) {
		return p.errorf("expected %q", tok)
	}
	return nil
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func (p *patternParser) ident() string {
	p.skipSpace()
	start := p.pos
	for !p.eof() && isIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *patternParser) node() (nodePattern, error) {
	var n nodePattern
	if err := p.expect("("); err != nil {
		return n, err
	}
	n.variable = p.ident()
	if p.accept(":") {
		if n.label = p.ident(); n.label == "" {
			return n, p.errorf("missing label")
		}
	}
	props, err := p.props()
	if err != nil {
		return n, err
	}
	n.props = props
	return n, p.expect(")")
}

func (p *patternParser) rel() (relPattern, error) {
	var r relPattern
	switch {
	case p.accept("<-["):
		r.dir = dirIn
	case p.accept("-["):
		r.dir = dirOut
	default:
		return r, p.errorf("expected relationship")
	}

	r.variable = p.ident()
	if err := p.expect(":"); err != nil {
		return r, err
	}
	if r.relType = p.ident(); r.relType == "" {
		return r, p.errorf("missing relationship type")
	}
	props, err := p.props()
	if err != nil {
		return r, err
	}
	for _, c := range props {
		if c.key != "qualifier" {
			return r, p.errorf("unsupported relationship property %q", c.key)
		}
	}
	r.props = props

	if err := p.expect("]"); err != nil {
		return r, err
	}
	if r.dir == dirIn {
		return r, p.expect("-")
	}
	if !p.accept("->") {
		return r, p.errorf("undirected relationships are not supported")
	}
	return r, nil
}

func (p *patternParser) props() ([]propConstraint, error) {
	if !p.accept("{") {
		return nil, nil
	}
	var out []propConstraint
	for {
		key := p.ident()
		if key == "" {
			return nil, p.errorf("missing property name")
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		c, err := p.value()
		if err != nil {
			return nil, err
		}
		c.key = key
		out = append(out, c)
		if p.accept("}") {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *patternParser) value() (propConstraint, error) {
	p.skipSpace()
	if p.eof() {
		return propConstraint{}, p.errorf("missing value")
	}
	switch c := p.src[p.pos]; {
	case c == '$':
		p.pos++
		name := p.ident()
		if name == "" {
			return propConstraint{}, p.errorf("missing parameter name")
		}
		return propConstraint{param: name}, nil
	case c == '\'' || c == '"':
		end := strings.IndexByte(p.src[p.pos+1:], c)
		if end < 0 {
			return propConstraint{}, p.errorf("unterminated string")
		}
		s := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return propConstraint{value: s}, nil
	default:
		start := p.pos
		for !p.eof() && strings.IndexByte("}, \t", p.src[p.pos]) < 0 {
			p.pos++
		}
		lit := p.src[start:p.pos]
		switch lit {
		case "true":
			return propConstraint{value: true}, nil
		case "false":
			return propConstraint{value: false}, nil
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return propConstraint{}, p.errorf("bad literal %q", lit)
		}
		return propConstraint{value: f}, nil
	}
}
