package repository

import (
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
)

const (
	sensorsByGateway = "(s:Sensor)-[:CONNECTED_TO]->(g:Gateway {id: $gateway_id})"
	sensorsByType    = "(s:Sensor)-[:HAS_TYPE]->(t:SensorType {name: $type_name})"
)

// SaveSensor persists s and makes its relationships match the aggregate
// exactly: HAS_TYPE per type, at most one CONNECTED_TO, and one
// HAS_LAST_READING per typed reading. Readings with a zero ID are created and
// get their ID assigned; readings no longer referenced are deleted. Types and
// the gateway must already exist.
func (t *Tx) SaveSensor(s *domain.Sensor) error {
	var id graph.ID
	if s.ID != 0 {
		id = graph.IDFromInt(s.ID)
	}
	n, err := t.g.SaveNode(LabelSensor, graph.Properties{
		propName:         s.Name,
		propLocationCode: s.LocationCode,
	}, id)
	if err != nil {
		if stderrors.Is(err, graph.ErrNodeNotFound) {
			return domain.SensorNotFound(s.ID)
		}
		return wrap(err, "SaveSensor", "save sensor node")
	}
	if s.ID, err = nodeID(n.ID); err != nil {
		return err
	}
	ref := n.Ref()

	types := make([]graph.Relationship, 0, len(s.Types))
	for _, st := range s.Types {
		target := graph.Ref{Label: LabelSensorType, ID: graph.ID(st.Name)}
		if _, ok := t.g.FindNode(target.Label, target.ID); !ok {
			return domain.SensorTypeNotFound(st.Name)
		}
		types = append(types, graph.Relationship{From: ref, Type: RelHasType, To: target})
	}
	if err := t.syncRelationships(ref, RelHasType, types, false); err != nil {
		return err
	}

	var gateway []graph.Relationship
	if s.Gateway != nil {
		target := graph.Ref{Label: LabelGateway, ID: graph.IDFromInt(s.Gateway.ID)}
		if _, ok := t.g.FindNode(target.Label, target.ID); !ok {
			return domain.GatewayNotFound(s.Gateway.ID)
		}
		gateway = append(gateway, graph.Relationship{From: ref, Type: RelConnectedTo, To: target})
	}
	if err := t.syncRelationships(ref, RelConnectedTo, gateway, false); err != nil {
		return err
	}

	readings := make([]graph.Relationship, 0, len(s.LastReadings))
	for i := range s.LastReadings {
		tr := &s.LastReadings[i]
		rn, err := t.saveReading(&tr.Reading)
		if err != nil {
			return err
		}
		readings = append(readings, graph.Relationship{From: ref, Type: RelHasLastReading, To: rn, Qualifier: tr.Type})
	}
	return t.syncRelationships(ref, RelHasLastReading, readings, true)
}

func (t *Tx) saveReading(r *domain.LastReading) (graph.Ref, error) {
	var id graph.ID
	if r.ID != 0 {
		id = graph.IDFromInt(r.ID)
	}
	n, err := t.g.SaveNode(LabelLastReading, graph.Properties{
		propTimestamp: r.Timestamp.String(),
		propReading:   r.Reading,
	}, id)
	if err != nil {
		return graph.Ref{}, wrap(err, "SaveSensor", "save reading node")
	}
	if r.ID, err = nodeID(n.ID); err != nil {
		return graph.Ref{}, err
	}
	return n.Ref(), nil
}

// syncRelationships makes the outgoing relType edges of from equal want. With
// deleteOrphans, targets left without incoming edges are deleted.
func (t *Tx) syncRelationships(from graph.Ref, relType string, want []graph.Relationship, deleteOrphans bool) error {
	keep := make(map[graph.Relationship]struct{}, len(want))
	for _, r := range want {
		keep[r] = struct{}{}
	}

	for _, existing := range t.g.Outgoing(from, relType) {
		if _, ok := keep[existing]; ok {
			continue
		}
		if _, err := t.g.DeleteRelationship(existing); err != nil {
			return wrap(err, "SaveSensor", "delete "+relType)
		}
		if deleteOrphans && len(t.g.Incoming(existing.To, "")) == 0 {
			if err := t.g.DeleteNode(existing.To.Label, existing.To.ID); err != nil {
				return wrap(err, "SaveSensor", "delete orphan")
			}
		}
	}

	for _, r := range want {
		if err := t.g.CreateRelationship(r); err != nil {
			return wrap(err, "SaveSensor", "create "+relType)
		}
	}
	return nil
}

// FindSensor returns the hydrated sensor with id.
func (t *Tx) FindSensor(id int64) (domain.Sensor, bool, error) {
	n, ok := t.g.FindNode(LabelSensor, graph.IDFromInt(id))
	if !ok {
		return domain.Sensor{}, false, nil
	}
	s, err := t.hydrate(n)
	if err != nil {
		return domain.Sensor{}, false, err
	}
	return s, true, nil
}

// FindAllSensors returns every sensor in id order.
func (t *Tx) FindAllSensors() ([]domain.Sensor, error) {
	return t.hydrateAll(t.g.Nodes(LabelSensor))
}

// FindSensorsByGateway returns the sensors connected to gatewayID in id order.
func (t *Tx) FindSensorsByGateway(gatewayID int64) ([]domain.Sensor, error) {
	return t.match("FindSensorsByGateway", sensorsByGateway, map[string]any{"gateway_id": gatewayID})
}

// FindSensorsByType returns the sensors of the named type in id order.
func (t *Tx) FindSensorsByType(typeName string) ([]domain.Sensor, error) {
	return t.match("FindSensorsByType", sensorsByType, map[string]any{"type_name": typeName})
}

func (t *Tx) match(method, pattern string, params map[string]any) ([]domain.Sensor, error) {
	rows, err := t.g.Match(graph.Query{Pattern: pattern, Params: params, Return: []string{"s"}, Distinct: true})
	if err != nil {
		return nil, wrap(err, method, "match")
	}
	nodes := make([]graph.Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, row.Node("s"))
	}
	sensors, err := t.hydrateAll(nodes)
	if err != nil {
		return nil, err
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
	return sensors, nil
}

func (t *Tx) hydrateAll(nodes []graph.Node) ([]domain.Sensor, error) {
	out := make([]domain.Sensor, 0, len(nodes))
	for _, n := range nodes {
		s, err := t.hydrate(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (t *Tx) hydrate(n graph.Node) (domain.Sensor, error) {
	id, err := nodeID(n.ID)
	if err != nil {
		return domain.Sensor{}, err
	}
	s := domain.Sensor{
		ID:           id,
		Name:         n.Properties.String(propName),
		LocationCode: n.Properties.String(propLocationCode),
		Types:        []domain.SensorType{},
	}
	ref := n.Ref()

	for _, r := range t.g.Outgoing(ref, RelHasType) {
		s.Types = append(s.Types, domain.SensorType{Name: string(r.To.ID)})
	}

	if conn := t.g.Outgoing(ref, RelConnectedTo); len(conn) > 0 {
		gid, err := nodeID(conn[0].To.ID)
		if err != nil {
			return domain.Sensor{}, err
		}
		gw, ok, err := t.FindGateway(gid)
		if err != nil {
			return domain.Sensor{}, err
		}
		if ok {
			s.Gateway = &gw
		}
	}

	for _, r := range t.g.Outgoing(ref, RelHasLastReading) {
		rn, ok := t.g.FindNode(r.To.Label, r.To.ID)
		if !ok {
			continue
		}
		reading, err := toLastReading(rn)
		if err != nil {
			return domain.Sensor{}, err
		}
		s.LastReadings = append(s.LastReadings, domain.TypedReading{Type: r.Qualifier, Reading: reading})
	}
	return s, nil
}

func toLastReading(n graph.Node) (domain.LastReading, error) {
	id, err := nodeID(n.ID)
	if err != nil {
		return domain.LastReading{}, err
	}
	raw := n.Properties.String(propTimestamp)
	ts, err := domain.ParseTimestamp(raw)
	if err != nil {
		return domain.LastReading{}, errors.WrapFatal(
			fmt.Errorf("%w: reading %s timestamp %q", errors.ErrSnapshotCorrupted, n.ID, raw),
			"Repository", "toLastReading", "parse timestamp")
	}
	return domain.LastReading{ID: id, Timestamp: ts, Reading: n.Properties.Float(propReading)}, nil
}
