package repository

import (
	"sort"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/graph"
)

const gatewaysWithSensorType = "(g:Gateway)<-[:CONNECTED_TO]-(s:Sensor)-[:HAS_TYPE]->(t:SensorType {name: $type_name})"

// SaveGateway creates gw when its ID is zero, otherwise replaces its name.
func (t *Tx) SaveGateway(gw *domain.Gateway) error {
	var id graph.ID
	if gw.ID != 0 {
		id = graph.IDFromInt(gw.ID)
	}
	n, err := t.g.SaveNode(LabelGateway, graph.Properties{propName: gw.Name}, id)
	if err != nil {
		return wrap(err, "SaveGateway", "save node")
	}
	gw.ID, err = nodeID(n.ID)
	return err
}

// FindGateway looks a gateway up by id.
func (t *Tx) FindGateway(id int64) (domain.Gateway, bool, error) {
	n, ok := t.g.FindNode(LabelGateway, graph.IDFromInt(id))
	if !ok {
		return domain.Gateway{}, false, nil
	}
	gw, err := toGateway(n)
	return gw, err == nil, err
}

// FindAllGateways returns every gateway in id order.
func (t *Tx) FindAllGateways() ([]domain.Gateway, error) {
	nodes := t.g.Nodes(LabelGateway)
	out := make([]domain.Gateway, 0, len(nodes))
	for _, n := range nodes {
		gw, err := toGateway(n)
		if err != nil {
			return nil, err
		}
		out = append(out, gw)
	}
	return out, nil
}

// FindGatewaysWithSensorType returns, once each and in id order, the gateways
// with at least one connected sensor of the named type.
func (t *Tx) FindGatewaysWithSensorType(typeName string) ([]domain.Gateway, error) {
	rows, err := t.g.Match(graph.Query{
		Pattern:  gatewaysWithSensorType,
		Params:   map[string]any{"type_name": typeName},
		Return:   []string{"g"},
		Distinct: true,
	})
	if err != nil {
		return nil, wrap(err, "FindGatewaysWithSensorType", "match")
	}

	out := make([]domain.Gateway, 0, len(rows))
	for _, row := range rows {
		gw, err := toGateway(row.Node("g"))
		if err != nil {
			return nil, err
		}
		out = append(out, gw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toGateway(n graph.Node) (domain.Gateway, error) {
	id, err := nodeID(n.ID)
	if err != nil {
		return domain.Gateway{}, err
	}
	return domain.Gateway{ID: id, Name: n.Properties.String(propName)}, nil
}
