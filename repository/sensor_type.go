package repository

import (
	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/graph"
)

// FindSensorType looks a type up by name.
func (t *Tx) FindSensorType(name string) (domain.SensorType, bool) {
	n, ok := t.g.FindNode(LabelSensorType, graph.ID(name))
	if !ok {
		return domain.SensorType{}, false
	}
	return domain.SensorType{Name: n.Properties.String(propName)}, true
}

// SaveSensorType returns the named type, creating it when absent.
func (t *Tx) SaveSensorType(name string) (domain.SensorType, bool, error) {
	if name == "" {
		return domain.SensorType{}, false, domain.InvalidRequest("sensor type name is required")
	}
	n, created, err := t.g.MergeNode(LabelSensorType, graph.Properties{propName: name})
	if err != nil {
		return domain.SensorType{}, false, wrap(err, "SaveSensorType", "merge")
	}
	return domain.SensorType{Name: n.Properties.String(propName)}, created, nil
}

// CountSensorTypes returns the number of distinct types.
func (t *Tx) CountSensorTypes() int {
	return t.g.Count(LabelSensorType)
}
