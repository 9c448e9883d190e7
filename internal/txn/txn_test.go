package txn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storyflow/internal/ir"
)

func TestCreateSpliceFixture(t *testing.T) {
	tx := Create(func(b *Builder) {
		b.Target("t").Splice(
			Splice{Index: 0, Remove: 1},
			Splice{Index: 5, Insert: []ir.Value{ir.String("x")}},
			Splice{Index: 3},
		)
	})

	require.Len(t, tx, 1)
	data, err := json.Marshal(tx[0])
	require.NoError(t, err)
	assert.JSONEq(t, `["t",[[0,1],[5,0,["x"]],[3]]]`, string(data))
}

func TestCreateEntryOrder(t *testing.T) {
	tx := Create(func(b *Builder) {
		b.Target("b").Toggle(Toggle{Name: "published", Value: ir.Bool(true)})
		b.Target("a").Splice(Splice{Index: 0, Insert: []ir.Value{ir.Number(1)}})
		b.Target("b").Splice(Splice{Index: 2})
		b.Target("unused")
	})

	assert.Equal(t, []string{"b", "a"}, tx.Targets())
	require.Len(t, tx[0].Operations, 2)
	assert.IsType(t, Toggle{}, tx[0].Operations[0])
	assert.IsType(t, Splice{}, tx[0].Operations[1])

	data, err := Marshal(tx)
	require.NoError(t, err)
	assert.JSONEq(t, `[["b",[["published",true],[2]]],["a",[[0,0,[1]]]]]`, string(data))
}

func TestBuilderFrozenAfterCreate(t *testing.T) {
	var leaked *Builder
	var leakedTarget *TargetBuilder
	Create(func(b *Builder) {
		leaked = b
		leakedTarget = b.Target("t")
	})

	assert.Panics(t, func() { leaked.Target("t") })
	assert.Panics(t, func() { leakedTarget.Splice(Splice{Index: 0}) })
}

func TestCreateResultIsIndependent(t *testing.T) {
	tx := Create(func(b *Builder) {
		b.Target("t").Splice(Splice{Index: 0})
	})
	tx2 := Create(func(b *Builder) {
		b.Target("t").Splice(Splice{Index: 0})
	})
	tx[0].Operations[0] = Splice{Index: 9}
	assert.Equal(t, Splice{Index: 0}, tx2[0].Operations[0])
}

func TestUnmarshalRoundTrip(t *testing.T) {
	wire := `[["t",[[0,1],[5,0,["x"]],[3]]],["config:abc",[["label","Home"],["hidden",false]]]]`

	tx, err := Unmarshal([]byte(wire))
	require.NoError(t, err)
	require.Len(t, tx, 2)

	assert.Equal(t, Splice{Index: 0, Remove: 1}, tx[0].Operations[0])
	assert.Equal(t, Splice{Index: 5, Insert: []ir.Value{ir.String("x")}}, tx[0].Operations[1])
	assert.Equal(t, Toggle{Name: "label", Value: ir.String("Home")}, tx[1].Operations[0])

	data, err := Marshal(tx)
	require.NoError(t, err)
	assert.JSONEq(t, wire, string(data))
}

func TestDecodeOperationErrors(t *testing.T) {
	for _, input := range []string{
		`{}`,
		`[]`,
		`["name"]`,
		`["name",1,2]`,
		`[1,2,3,4]`,
		`["x" , 1`,
		`[1.5]`,
		`[0,"one"]`,
		`[0,1,"notarray"]`,
	} {
		_, err := DecodeOperation([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestEntryUnmarshalErrors(t *testing.T) {
	var e Entry
	assert.Error(t, json.Unmarshal([]byte(`["t"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`[1,[]]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`["t",{}]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`["t",[[]]]`), &e))
}

func TestEntryHashStable(t *testing.T) {
	e := Entry{Target: "t", Operations: []Operation{Splice{Index: 1}}}
	h1, err := EntryHash(e)
	require.NoError(t, err)
	h2, err := EntryHash(Entry{Target: "t", Operations: []Operation{Splice{Index: 1}}})
	require.NoError(t, err)
	h3, err := EntryHash(Entry{Target: "t", Operations: []Operation{Splice{Index: 2}}})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
