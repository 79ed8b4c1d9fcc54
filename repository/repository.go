// Package repository maps the sensor network model onto the property graph.
//
// Graph layout:
//
//	(:Sensor {name, location_code})-[:HAS_TYPE]->(:SensorType {name})
//	(:Sensor)-[:CONNECTED_TO]->(:Gateway {name})
//	(:Sensor)-[:HAS_LAST_READING {qualifier: <type name>}]->(:LastReading {timestamp, reading})
//
// SensorType is keyed by name; the other labels use store-allocated ids.
package repository

import (
	"context"
	"fmt"

	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
)

// Node labels
const (
	LabelGateway     = "Gateway"
	LabelSensor      = "Sensor"
	LabelSensorType  = "SensorType"
	LabelLastReading = "LastReading"
)

// Relationship types
const (
	RelHasType        = "HAS_TYPE"
	RelConnectedTo    = "CONNECTED_TO"
	RelHasLastReading = "HAS_LAST_READING"
)

const (
	propName         = "name"
	propLocationCode = "location_code"
	propTimestamp    = "timestamp"
	propReading      = "reading"
)

// Schema is the graph schema the repository expects its store to use.
func Schema() graph.Schema {
	return graph.Schema{LabelSensorType: propName}
}

// Repository opens units of work over a graph store.
type Repository struct {
	store *graph.Store
}

// New creates a Repository. The store should be created with Schema().
func New(store *graph.Store) *Repository {
	return &Repository{store: store}
}

// Update runs fn atomically. See graph.Store.Update for retry semantics.
func (r *Repository) Update(ctx context.Context, fn func(*Tx) error) error {
	return r.store.Update(ctx, func(g *graph.Tx) error {
		return fn(&Tx{g: g})
	})
}

// View runs fn against a committed snapshot.
func (r *Repository) View(ctx context.Context, fn func(*Tx) error) error {
	return r.store.View(ctx, func(g *graph.Tx) error {
		return fn(&Tx{g: g})
	})
}

// Ping checks the underlying store.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Tx exposes typed operations inside one unit of work.
type Tx struct {
	g *graph.Tx
}

func nodeID(id graph.ID) (int64, error) {
	n, err := id.Int()
	if err != nil {
		return 0, errors.WrapFatal(fmt.Errorf("%w: node id %q", errors.ErrSnapshotCorrupted, id), "Repository", "nodeID", "parse id")
	}
	return n, nil
}

func wrap(err error, method, action string) error {
	return errors.Wrap(err, "Repository", method, action)
}

// Counts returns the number of nodes per label.
func (t *Tx) Counts() map[string]int {
	out := make(map[string]int, 4)
	for _, label := range []string{LabelGateway, LabelSensor, LabelSensorType, LabelLastReading} {
		out[label] = t.g.Count(label)
	}
	return out
}
