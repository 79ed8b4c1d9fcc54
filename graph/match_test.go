package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTopology builds gateways g1,g2,g3; sensors s1(temp)->g1, s2(temp,hum)->g2,
// s3(temp)->g1, s4(hum) unattached.
func seedTopology(t *testing.T) (*Store, map[string]ID) {
	t.Helper()
	s := newTestStore(t)
	ids := map[string]ID{}

	update(t, s, func(tx *Tx) error {
		for _, g := range []string{"g1", "g2", "g3"} {
			n, err := tx.SaveNode("Gateway", Properties{"name": g}, "")
			require.NoError(t, err)
			ids[g] = n.ID
		}
		for _, typ := range []string{"temp", "hum"} {
			_, err := tx.SaveNode("Type", Properties{"name": typ}, "")
			require.NoError(t, err)
		}
		sensors := []struct {
			name    string
			types   []string
			gateway string
		}{
			{"s1", []string{"temp"}, "g1"},
			{"s2", []string{"temp", "hum"}, "g2"},
			{"s3", []string{"temp"}, "g1"},
			{"s4", []string{"hum"}, ""},
		}
		for _, sp := range sensors {
			n, err := tx.SaveNode("Sensor", Properties{"name": sp.name}, "")
			require.NoError(t, err)
			ids[sp.name] = n.ID
			for _, typ := range sp.types {
				require.NoError(t, tx.CreateRelationship(Relationship{From: n.Ref(), Type: "HAS_TYPE", To: Ref{"Type", ID(typ)}}))
			}
			if sp.gateway != "" {
				require.NoError(t, tx.CreateRelationship(Relationship{From: n.Ref(), Type: "CONNECTED_TO", To: Ref{"Gateway", ids[sp.gateway]}}))
			}
		}
		return nil
	})
	return s, ids
}

func match(t *testing.T, s *Store, q Query) []Row {
	t.Helper()
	var rows []Row
	require.NoError(t, s.View(context.Background(), func(tx *Tx) error {
		var err error
		rows, err = tx.Match(q)
		return err
	}))
	return rows
}

func names(rows []Row, v string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Node(v).Properties.String("name"))
	}
	return out
}

func TestMatch_GatewaysWithSensorType(t *testing.T) {
	s, _ := seedTopology(t)
	pattern := "(g:Gateway)<-[:CONNECTED_TO]-(s:Sensor)-[:HAS_TYPE]->(t:Type {name: $type_name})"

	all := match(t, s, Query{Pattern: pattern, Params: map[string]any{"type_name": "temp"}, Return: []string{"g"}})
	assert.Len(t, all, 3)

	distinct := match(t, s, Query{Pattern: pattern, Params: map[string]any{"type_name": "temp"}, Return: []string{"g"}, Distinct: true})
	assert.ElementsMatch(t, []string{"g1", "g2"}, names(distinct, "g"))

	hum := match(t, s, Query{Pattern: pattern, Params: map[string]any{"type_name": "hum"}, Return: []string{"g"}, Distinct: true})
	assert.Equal(t, []string{"g2"}, names(hum, "g"))

	none := match(t, s, Query{Pattern: pattern, Params: map[string]any{"type_name": "pressure"}, Distinct: true})
	assert.Empty(t, none)
}

func TestMatch_ByIdentity(t *testing.T) {
	s, ids := seedTopology(t)

	rows := match(t, s, Query{
		Pattern: "(s:Sensor)-[:CONNECTED_TO]->(g:Gateway {id: $gateway_id})",
		Params:  map[string]any{"gateway_id": ids["g1"]},
		Return:  []string{"s"},
	})
	assert.Equal(t, []string{"s1", "s3"}, names(rows, "s"))

	rows = match(t, s, Query{
		Pattern: "(s:Sensor)-[:CONNECTED_TO]->(g:Gateway {id: $gateway_id})",
		Params:  map[string]any{"gateway_id": int64(999)},
	})
	assert.Empty(t, rows)
}

func TestMatch_ForwardFromUnpinnedStart(t *testing.T) {
	s, _ := seedTopology(t)

	rows := match(t, s, Query{Pattern: "(s:Sensor)-[:HAS_TYPE]->(t:Type {name: 'hum'})", Return: []string{"s"}})
	assert.Equal(t, []string{"s2", "s4"}, names(rows, "s"))

	rows = match(t, s, Query{Pattern: "(s:Sensor {name: \"s4\"})-[r:HAS_TYPE]->(t)"})
	require.Len(t, rows, 1)
	assert.Equal(t, "HAS_TYPE", rows[0].Relationships["r"].Type)
	assert.Equal(t, ID("hum"), rows[0].Node("t").ID)
}

func TestMatch_Qualifier(t *testing.T) {
	s := newTestStore(t)
	update(t, s, func(tx *Tx) error {
		sensor, _ := tx.SaveNode("Sensor", Properties{"name": "s"}, "")
		for typ, v := range map[string]float64{"temp": 21.5, "hum": 40} {
			r, _ := tx.SaveNode("Reading", Properties{"reading": v}, "")
			require.NoError(t, tx.CreateRelationship(Relationship{From: sensor.Ref(), Type: "HAS_LAST_READING", To: r.Ref(), Qualifier: typ}))
		}
		return nil
	})

	rows := match(t, s, Query{
		Pattern: "(s:Sensor)-[:HAS_LAST_READING {qualifier: $q}]->(r:Reading)",
		Params:  map[string]any{"q": "temp"},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, 21.5, rows[0].Node("r").Properties.Float("reading"))
}

func TestMatch_Errors(t *testing.T) {
	s, _ := seedTopology(t)

	tests := []struct {
		name  string
		query Query
	}{
		{"unclosed node", Query{Pattern: "(g:Gateway"}},
		{"undirected", Query{Pattern: "(a)-[:X]-(b)"}},
		{"missing type", Query{Pattern: "(a)-[]->(b)"}},
		{"unknown param", Query{Pattern: "(g:Gateway {name: $nope})"}},
		{"unknown return", Query{Pattern: "(g:Gateway)", Return: []string{"x"}}},
		{"bad literal", Query{Pattern: "(g:Gateway {name: abc})"}},
		{"relationship property", Query{Pattern: "(a)-[:X {weight: 1}]->(b)"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.View(context.Background(), func(tx *Tx) error {
				_, err := tx.Match(tt.query)
				return err
			})
			assert.ErrorIs(t, err, ErrInvalidPattern)
		})
	}
}
