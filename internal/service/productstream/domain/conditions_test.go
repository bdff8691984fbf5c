package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionsPreserveOrder(t *testing.T) {
	c, err := ConditionsOf("sales", map[string]int{"minSales": 3}, "price", map[string]int{"min": 1}, "category", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "price", "category"}, c.Keys())

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"sales":{"minSales":3},"price":{"min":1},"category":null}`, string(raw))

	var back Conditions
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":{"x":[1,2]},"m":"s"}`), &back))
	assert.Equal(t, []string{"z", "a", "m"}, back.Keys())
	v, ok := back.Get("a")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":[1,2]}`, string(v))
}

func TestConditionsSetKeepsPosition(t *testing.T) {
	c := NewConditions()
	c.Set("a", json.RawMessage(`1`))
	c.Set("b", json.RawMessage(`2`))
	c.Set("a", json.RawMessage(`3`))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	v, _ := c.Get("a")
	assert.Equal(t, "3", string(v))

	c.Delete("a")
	c.Delete("missing")
	assert.Equal(t, []string{"b"}, c.Keys())
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())
}

func TestConditionsCloneIsDeep(t *testing.T) {
	c := NewConditions()
	c.Set("a", json.RawMessage(`{"x":1}`))
	clone := c.Clone()
	c.Set("b", json.RawMessage(`2`))
	raw, _ := c.Get("a")
	raw[2] = 'y'

	assert.Equal(t, []string{"a"}, clone.Keys())
	v, _ := clone.Get("a")
	assert.Equal(t, `{"x":1}`, string(v))
}

func TestConditionsNilAndInvalid(t *testing.T) {
	var nilConds *Conditions
	assert.Equal(t, 0, nilConds.Len())
	assert.Nil(t, nilConds.Keys())
	raw, err := json.Marshal(nilConds)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	var c Conditions
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.Equal(t, 0, c.Len())
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &c))

	_, err = ConditionsOf("odd")
	assert.Error(t, err)
	_, err = ConditionsOf(1, 2)
	assert.Error(t, err)
}

func TestKeyOf(t *testing.T) {
	key, ok := KeyOf("condition.property|4")
	assert.True(t, ok)
	assert.Equal(t, "property|4", key)

	_, ok = KeyOf("name")
	assert.False(t, ok)
	assert.Equal(t, "condition.price", FieldName("price"))
}
