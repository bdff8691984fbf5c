// internal/service/productstream/domain/conditions.go
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Conditions 是条件 key 到条件值的映射，保留插入顺序。
// 加载时按存储顺序遍历，因此 JSON 编解码也必须保序。
type Conditions struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewConditions 创建一个空映射。
func NewConditions() *Conditions {
	return &Conditions{values: make(map[string]json.RawMessage)}
}

// ConditionsOf 按给定顺序构造映射，值会被编码为 JSON。
func ConditionsOf(pairs ...any) (*Conditions, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("conditions: odd number of arguments")
	}
	c := NewConditions()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("conditions: key at %d is %T, not string", i, pairs[i])
		}
		if err := c.SetValue(key, pairs[i+1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Set 写入一个原始 JSON 值。已存在的 key 保持原有位置。
func (c *Conditions) Set(key string, raw json.RawMessage) {
	if c.values == nil {
		c.values = make(map[string]json.RawMessage)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = raw
}

// SetValue 编码 v 后写入。
func (c *Conditions) SetValue(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conditions: encode %q: %w", key, err)
	}
	c.Set(key, raw)
	return nil
}

func (c *Conditions) Get(key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok := c.values[key]
	return raw, ok
}

func (c *Conditions) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Conditions) Delete(key string) {
	if c == nil {
		return
	}
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys 返回按插入顺序排列的 key 副本。
func (c *Conditions) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Conditions) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Clone 深拷贝映射。
func (c *Conditions) Clone() *Conditions {
	out := NewConditions()
	if c == nil {
		return out
	}
	for _, k := range c.keys {
		raw := make(json.RawMessage, len(c.values[k]))
		copy(raw, c.values[k])
		out.Set(k, raw)
	}
	return out
}

// MarshalJSON 按插入顺序输出 JSON 对象。
func (c *Conditions) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v := c.values[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按文档顺序读取 JSON 对象。null 解码为空映射。
func (c *Conditions) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]json.RawMessage)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("conditions: expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("conditions: expected string key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("conditions: decode %q: %w", key, err)
		}
		c.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
