package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Query matches a linear pattern such as
//
//	(g:Gateway)<-[:CONNECTED_TO]-(s:Sensor)-[:HAS_TYPE]->(t:SensorType {name: $type_name})
//
// Property constraints take literals or $parameters from Params. The key "id"
// constrains node identity. Return projects variables (all when empty) and
// Distinct drops rows whose projection was already returned.
type Query struct {
	Pattern  string
	Params   map[string]any
	Return   []string
	Distinct bool
}

// Row is one match, keyed by pattern variable.
type Row struct {
	Nodes         map[string]Node
	Relationships map[string]Relationship
}

// Node returns the node bound to variable v.
func (r Row) Node(v string) Node {
	return r.Nodes[v]
}

type boundNode struct {
	variable string
	label    string
	id       ID
	hasID    bool
	props    map[string]any
}

type boundRel struct {
	variable     string
	relType      string
	dir          direction
	qualifier    string
	hasQualifier bool
}

// Match runs q against the transaction's view of the graph.
func (tx *Tx) Match(q Query) ([]Row, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	pat, err := compilePattern(q.Pattern)
	if err != nil {
		return nil, err
	}
	m, err := tx.bind(pat, q.Params)
	if err != nil {
		return nil, err
	}

	projection, err := m.projection(q.Return)
	if err != nil {
		return nil, err
	}

	var rows []Row
	seen := make(map[string]struct{})
	m.run(func(nodes []Ref, rels []Relationship) {
		row := Row{Nodes: map[string]Node{}, Relationships: map[string]Relationship{}}
		var key strings.Builder
		for _, v := range projection {
			if i, ok := m.nodeVar[v]; ok {
				n, _ := tx.FindNode(nodes[i].Label, nodes[i].ID)
				row.Nodes[v] = n
				key.WriteString(nodes[i].String())
			} else {
				r := rels[m.relVar[v]]
				row.Relationships[v] = r
				fmt.Fprintf(&key, "%s|%s|%s|%s", r.From, r.Type, r.To, r.Qualifier)
			}
			key.WriteByte(0)
		}
		if q.Distinct {
			if _, dup := seen[key.String()]; dup {
				return
			}
			seen[key.String()] = struct{}{}
		}
		rows = append(rows, row)
	})
	return rows, nil
}

type matcher struct {
	tx      *Tx
	nodes   []boundNode
	rels    []boundRel
	nodeVar map[string]int
	relVar  map[string]int
	order   []string
}

func (tx *Tx) bind(pat *pattern, params map[string]any) (*matcher, error) {
	m := &matcher{tx: tx, nodeVar: map[string]int{}, relVar: map[string]int{}}

	resolve := func(c propConstraint) (any, error) {
		if c.param == "" {
			return c.value, nil
		}
		v, ok := params[c.param]
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter $%s", ErrInvalidPattern, c.param)
		}
		return v, nil
	}

	for i, np := range pat.nodes {
		bn := boundNode{variable: np.variable, label: np.label, props: map[string]any{}}
		key, keyed := tx.schema.Key(np.label)
		for _, c := range np.props {
			v, err := resolve(c)
			if err != nil {
				return nil, err
			}
			if c.key == reservedID {
				id, ok := idFromValue(v)
				if !ok {
					return nil, fmt.Errorf("%w: bad id value %v", ErrInvalidPattern, v)
				}
				bn.id, bn.hasID = id, true
				continue
			}
			nv, err := normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, c.key, err)
			}
			bn.props[c.key] = nv
			if keyed && c.key == key {
				if s, ok := nv.(string); ok && !bn.hasID {
					bn.id, bn.hasID = ID(s), true
				}
			}
		}
		if np.variable != "" {
			if prev, dup := m.nodeVar[np.variable]; dup {
				if pat.nodes[prev].label != "" && np.label != "" && pat.nodes[prev].label != np.label {
					return nil, fmt.Errorf("%w: variable %s bound to two labels", ErrInvalidPattern, np.variable)
				}
			} else {
				m.nodeVar[np.variable] = i
				m.order = append(m.order, np.variable)
			}
		}
		m.nodes = append(m.nodes, bn)
	}

	for i, rp := range pat.rels {
		br := boundRel{variable: rp.variable, relType: rp.relType, dir: rp.dir}
		for _, c := range rp.props {
			v, err := resolve(c)
			if err != nil {
				return nil, err
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: qualifier must be a string", ErrInvalidPattern)
			}
			br.qualifier, br.hasQualifier = s, true
		}
		if rp.variable != "" {
			if _, dup := m.nodeVar[rp.variable]; dup {
				return nil, fmt.Errorf("%w: variable %s used for a node and a relationship", ErrInvalidPattern, rp.variable)
			}
			if _, dup := m.relVar[rp.variable]; dup {
				return nil, fmt.Errorf("%w: relationship variable %s repeated", ErrInvalidPattern, rp.variable)
			}
			m.relVar[rp.variable] = i
			m.order = append(m.order, rp.variable)
		}
		m.rels = append(m.rels, br)
	}
	return m, nil
}

func (m *matcher) projection(ret []string) ([]string, error) {
	if len(ret) == 0 {
		return m.order, nil
	}
	for _, v := range ret {
		_, isNode := m.nodeVar[v]
		_, isRel := m.relVar[v]
		if !isNode && !isRel {
			return nil, fmt.Errorf("%w: unknown variable %s", ErrInvalidPattern, v)
		}
	}
	return ret, nil
}

func (m *matcher) accepts(i int, ref Ref) bool {
	bn := m.nodes[i]
	if bn.label != "" && bn.label != ref.Label {
		return false
	}
	if bn.hasID && bn.id != ref.ID {
		return false
	}
	props, ok := m.tx.snap.nodes[ref.Label][ref.ID]
	if !ok {
		return false
	}
	for k, want := range bn.props {
		if got, ok := props[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func (m *matcher) candidates(i int) []Ref {
	bn := m.nodes[i]
	var refs []Ref
	switch {
	case bn.hasID && bn.label != "":
		refs = []Ref{{bn.label, bn.id}}
	case bn.label != "":
		for _, id := range m.tx.snap.sortedIDs(bn.label) {
			refs = append(refs, Ref{bn.label, id})
		}
	default:
		for label := range m.tx.snap.nodes {
			for _, id := range m.tx.snap.sortedIDs(label) {
				refs = append(refs, Ref{label, id})
			}
		}
		sortRefs(refs)
	}
	out := refs[:0]
	for _, r := range refs {
		if m.accepts(i, r) {
			out = append(out, r)
		}
	}
	return out
}

// anchor picks the most selective starting position: a node pinned by
// identity, else the first node.
func (m *matcher) anchor() int {
	for i, bn := range m.nodes {
		if bn.hasID {
			return i
		}
	}
	return 0
}

type step struct {
	from, to int
	rel      int
}

func (m *matcher) run(emit func([]Ref, []Relationship)) {
	start := m.anchor()
	var steps []step
	for i := start; i < len(m.nodes)-1; i++ {
		steps = append(steps, step{from: i, to: i + 1, rel: i})
	}
	for i := start; i > 0; i-- {
		steps = append(steps, step{from: i, to: i - 1, rel: i - 1})
	}

	nodes := make([]Ref, len(m.nodes))
	rels := make([]Relationship, len(m.rels))

	var walk func(k int)
	walk = func(k int) {
		if k == len(steps) {
			if m.consistent(nodes, rels) {
				emit(nodes, rels)
			}
			return
		}
		s := steps[k]
		br := m.rels[s.rel]
		// The pattern's left node is nodes[s.rel]; walking left-to-right
		// follows the declared direction, walking back reverses it.
		outgoing := (br.dir == dirOut) == (s.to > s.from)

		var edges []Relationship
		if outgoing {
			edges = m.tx.Outgoing(nodes[s.from], br.relType)
		} else {
			edges = m.tx.Incoming(nodes[s.from], br.relType)
		}
		for _, e := range edges {
			if br.hasQualifier && e.Qualifier != br.qualifier {
				continue
			}
			other := e.To
			if !outgoing {
				other = e.From
			}
			if !m.accepts(s.to, other) {
				continue
			}
			nodes[s.to] = other
			rels[s.rel] = e
			walk(k + 1)
		}
	}

	for _, c := range m.candidates(start) {
		nodes[start] = c
		walk(0)
	}
}

// consistent enforces repeated node variables binding one node and each
// relationship being used at most once per match.
func (m *matcher) consistent(nodes []Ref, rels []Relationship) bool {
	for i, bn := range m.nodes {
		if bn.variable == "" {
			continue
		}
		if first := m.nodeVar[bn.variable]; nodes[first] != nodes[i] {
			return false
		}
	}
	for i := range rels {
		for j := i + 1; j < len(rels); j++ {
			if rels[i] == rels[j] {
				return false
			}
		}
	}
	return true
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return lessRef(refs[i], refs[j]) })
}
