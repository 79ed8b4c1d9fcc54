package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/c360/sensorgraph/errors"
)

// snapshotVersion 1 kept one sequence shared by every label; version 2 keeps
// one per label.
const snapshotVersion = 2

// snapshot is the whole graph at one revision. Backends persist its encoded form.
type snapshot struct {
	seq   map[string]int64
	nodes map[string]map[ID]Properties
	rels  map[Relationship]struct{}
	out   map[Ref]map[Relationship]struct{}
	in    map[Ref]map[Relationship]struct{}
}

type snapshotDocument struct {
	Version       int                          `json:"version"`
	Sequence      int64                        `json:"sequence,omitempty"`
	Sequences     map[string]int64             `json:"sequences"`
	Nodes         map[string]map[ID]Properties `json:"nodes"`
	Relationships []Relationship               `json:"relationships"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		seq:   make(map[string]int64),
		nodes: make(map[string]map[ID]Properties),
		rels:  make(map[Relationship]struct{}),
		out:   make(map[Ref]map[Relationship]struct{}),
		in:    make(map[Ref]map[Relationship]struct{}),
	}
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	s := newSnapshot()
	if len(data) == 0 {
		return s, nil
	}

	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrSnapshotCorrupted, err), "graph", "decodeSnapshot", "unmarshal")
	}
	switch doc.Version {
	case snapshotVersion:
		for label, n := range doc.Sequences {
			s.seq[label] = n
		}
	case 1:
		// continue every live label from the shared counter so no live id is reused
		for label := range doc.Nodes {
			s.seq[label] = doc.Sequence
		}
	default:
		return nil, errors.WrapFatal(fmt.Errorf("%w: version %d", errors.ErrSnapshotCorrupted, doc.Version), "graph", "decodeSnapshot", "version check")
	}

	for label, byID := range doc.Nodes {
		m := make(map[ID]Properties, len(byID))
		for id, props := range byID {
			if props == nil {
				props = Properties{}
			}
			m[id] = props
		}
		s.nodes[label] = m
	}
	for _, r := range doc.Relationships {
		if !s.has(r.From) || !s.has(r.To) {
			return nil, errors.WrapFatal(fmt.Errorf("%w: dangling relationship %s -[%s]-> %s", errors.ErrSnapshotCorrupted, r.From, r.Type, r.To),
				"graph", "decodeSnapshot", "relationship check")
		}
		s.link(r)
	}
	return s, nil
}

func (s *snapshot) encode() ([]byte, error) {
	doc := snapshotDocument{
		Version:       snapshotVersion,
		Sequences:     s.seq,
		Nodes:         s.nodes,
		Relationships: make([]Relationship, 0, len(s.rels)),
	}
	for r := range s.rels {
		doc.Relationships = append(doc.Relationships, r)
	}
	sortRelationships(doc.Relationships)
	return json.Marshal(doc)
}

// clone deep-copies node properties and index maps. Properties values are
// immutable scalars so a shallow copy of each map is enough.
func (s *snapshot) clone() *snapshot {
	c := newSnapshot()
	for label, n := range s.seq {
		c.seq[label] = n
	}
	for label, byID := range s.nodes {
		m := make(map[ID]Properties, len(byID))
		for id, props := range byID {
			m[id] = props.clone()
		}
		c.nodes[label] = m
	}
	for r := range s.rels {
		c.link(r)
	}
	return c
}

func (s *snapshot) has(ref Ref) bool {
	_, ok := s.nodes[ref.Label][ref.ID]
	return ok
}

func (s *snapshot) link(r Relationship) bool {
	if _, ok := s.rels[r]; ok {
		return false
	}
	s.rels[r] = struct{}{}
	if s.out[r.From] == nil {
		s.out[r.From] = make(map[Relationship]struct{})
	}
	s.out[r.From][r] = struct{}{}
	if s.in[r.To] == nil {
		s.in[r.To] = make(map[Relationship]struct{})
	}
	s.in[r.To][r] = struct{}{}
	return true
}

func (s *snapshot) unlink(r Relationship) bool {
	if _, ok := s.rels[r]; !ok {
		return false
	}
	delete(s.rels, r)
	delete(s.out[r.From], r)
	if len(s.out[r.From]) == 0 {
		delete(s.out, r.From)
	}
	delete(s.in[r.To], r)
	if len(s.in[r.To]) == 0 {
		delete(s.in, r.To)
	}
	return true
}

func (s *snapshot) sortedIDs(label string) []ID {
	byID := s.nodes[label]
	ids := make([]ID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}

func filterRelationships(set map[Relationship]struct{}, relType string) []Relationship {
	out := make([]Relationship, 0, len(set))
	for r := range set {
		if relType == "" || r.Type == relType {
			out = append(out, r)
		}
	}
	sortRelationships(out)
	return out
}

// lessID orders numeric identities numerically and everything else lexically,
// numeric first.
func lessID(a, b ID) bool {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

func lessRef(a, b Ref) bool {
	if a.Label != b.Label {
		return a.Label < b.Label
	}
	return lessID(a.ID, b.ID)
}

func sortRelationships(rs []Relationship) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.From != b.From {
			return lessRef(a.From, b.From)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.To != b.To {
			return lessRef(a.To, b.To)
		}
		return a.Qualifier < b.Qualifier
	})
}
