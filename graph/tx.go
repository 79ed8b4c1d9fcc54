package graph

import (
	"fmt"
	"strconv"
)

// Tx is one unit of work against a private copy of the graph. It is not safe
// for concurrent use and must not be retained after the function passed to
// Update or View returns.
type Tx struct {
	snap     *snapshot
	schema   Schema
	readOnly bool
	closed   bool
	dirty    bool
}

func (tx *Tx) writable() error {
	if tx.closed {
		return ErrTxClosed
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

// SaveNode creates a node when id is empty and replaces the properties of an
// existing node otherwise. Keyed labels take their identity from the key
// property, which must be a non-empty string and cannot change.
func (tx *Tx) SaveNode(label string, props Properties, id ID) (Node, error) {
	if err := tx.writable(); err != nil {
		return Node{}, err
	}
	if label == "" {
		return Node{}, ErrInvalidLabel
	}
	norm, err := normalizeProperties(props)
	if err != nil {
		return Node{}, err
	}

	creating := id == ""
	if key, keyed := tx.schema.Key(label); keyed {
		kv, _ := norm[key].(string)
		if kv == "" {
			return Node{}, fmt.Errorf("%w: %s requires a non-empty %q", ErrConstraintViolation, label, key)
		}
		if creating {
			id = ID(kv)
			if tx.snap.has(Ref{label, id}) {
				return Node{}, fmt.Errorf("%w: %s with %s %q already exists", ErrConstraintViolation, label, key, kv)
			}
		} else if ID(kv) != id {
			return Node{}, fmt.Errorf("%w: %s key %q cannot change", ErrConstraintViolation, label, key)
		}
	} else if creating {
		tx.snap.seq[label]++
		id = ID(strconv.FormatInt(tx.snap.seq[label], 10))
	}

	if !creating && !tx.snap.has(Ref{label, id}) {
		return Node{}, fmt.Errorf("%w: %s/%s", ErrNodeNotFound, label, id)
	}

	if tx.snap.nodes[label] == nil {
		tx.snap.nodes[label] = make(map[ID]Properties)
	}
	tx.snap.nodes[label][id] = norm
	tx.dirty = true
	return Node{Label: label, ID: id, Properties: norm.clone()}, nil
}

// MergeNode returns the node of a keyed label matching props' key, creating it
// from props when absent. Existing nodes are returned unchanged.
func (tx *Tx) MergeNode(label string, props Properties) (Node, bool, error) {
	if err := tx.writable(); err != nil {
		return Node{}, false, err
	}
	key, keyed := tx.schema.Key(label)
	if !keyed {
		return Node{}, false, fmt.Errorf("%w: %s has no key property", ErrInvalidLabel, label)
	}
	kv, _ := props[key].(string)
	if kv == "" {
		return Node{}, false, fmt.Errorf("%w: %s requires a non-empty %q", ErrConstraintViolation, label, key)
	}
	if n, ok := tx.FindNode(label, ID(kv)); ok {
		return n, false, nil
	}
	n, err := tx.SaveNode(label, props, "")
	if err != nil {
		return Node{}, false, err
	}
	return n, true, nil
}

// FindNode looks a node up by identity.
func (tx *Tx) FindNode(label string, id ID) (Node, bool) {
	props, ok := tx.snap.nodes[label][id]
	if !ok {
		return Node{}, false
	}
	return Node{Label: label, ID: id, Properties: props.clone()}, true
}

// Nodes returns every node of label in identity order.
func (tx *Tx) Nodes(label string) []Node {
	ids := tx.snap.sortedIDs(label)
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, Node{Label: label, ID: id, Properties: tx.snap.nodes[label][id].clone()})
	}
	return out
}

// Count returns the number of nodes of label.
func (tx *Tx) Count(label string) int {
	return len(tx.snap.nodes[label])
}

// DeleteNode removes a node and every relationship touching it.
func (tx *Tx) DeleteNode(label string, id ID) error {
	if err := tx.writable(); err != nil {
		return err
	}
	ref := Ref{label, id}
	if !tx.snap.has(ref) {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, ref)
	}
	for r := range tx.snap.out[ref] {
		tx.snap.unlink(r)
	}
	for r := range tx.snap.in[ref] {
		tx.snap.unlink(r)
	}
	delete(tx.snap.nodes[label], id)
	if len(tx.snap.nodes[label]) == 0 {
		delete(tx.snap.nodes, label)
	}
	tx.dirty = true
	return nil
}

// CreateRelationship adds r. Creating an existing relationship is a no-op.
func (tx *Tx) CreateRelationship(r Relationship) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if r.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidRelationship)
	}
	for _, end := range []Ref{r.From, r.To} {
		if !tx.snap.has(end) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, end)
		}
	}
	if tx.snap.link(r) {
		tx.dirty = true
	}
	return nil
}

// DeleteRelationship removes r and reports whether it existed.
func (tx *Tx) DeleteRelationship(r Relationship) (bool, error) {
	if err := tx.writable(); err != nil {
		return false, err
	}
	removed := tx.snap.unlink(r)
	if removed {
		tx.dirty = true
	}
	return removed, nil
}

// Outgoing returns relationships leaving from, optionally filtered by type.
func (tx *Tx) Outgoing(from Ref, relType string) []Relationship {
	return filterRelationships(tx.snap.out[from], relType)
}

// Incoming returns relationships arriving at to, optionally filtered by type.
func (tx *Tx) Incoming(to Ref, relType string) []Relationship {
	return filterRelationships(tx.snap.in[to], relType)
}
