// Package sections holds the section-level content model shared by the
// versioning engine: an ordered section map, its canonical hash and the
// section diff between two snapshots.
package sections

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Content is an ordered map of section name to section text. Insertion order
// is kept for presentation and JSON round trips; it never affects Hash or Diff.
type Content struct {
	keys   []string
	values map[string]string
}

// New builds a Content from name/text pairs, e.g. New("abstract", "...", "methods", "...").
func New(pairs ...string) Content {
	if len(pairs)%2 != 0 {
		panic("sections.New: odd number of arguments")
	}
	var c Content
	for i := 0; i < len(pairs); i += 2 {
		c.Set(pairs[i], pairs[i+1])
	}
	return c
}

// FromMap builds a Content from a plain map. Keys are ordered lexically since
// a Go map carries no order.
func FromMap(values map[string]string) Content {
	var c Content
	for _, key := range sortedKeys(values) {
		c.Set(key, values[key])
	}
	return c
}

// Set assigns text to a section, appending the section if it is new. Set and
// Delete never write through to storage shared with a copy of c.
func (c *Content) Set(name, text string) {
	values := c.Map()
	if _, ok := values[name]; !ok {
		c.keys = append(c.keys[:len(c.keys):len(c.keys)], name)
	}
	values[name] = text
	c.values = values
}

func (c Content) Get(name string) (string, bool) {
	text, ok := c.values[name]
	return text, ok
}

func (c *Content) Delete(name string) {
	if _, ok := c.values[name]; !ok {
		return
	}
	values := c.Map()
	delete(values, name)
	c.values = values
	for i, key := range c.keys {
		if key == name {
			c.keys = append(c.keys[:i:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the section names in insertion order.
func (c Content) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c Content) Len() int {
	return len(c.keys)
}

// Map returns an unordered copy of the sections.
func (c Content) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for key, value := range c.values {
		out[key] = value
	}
	return out
}

func (c Content) Clone() Content {
	if len(c.keys) == 0 {
		return Content{}
	}
	return Content{keys: c.Keys(), values: c.Map()}
}

// Equal reports whether both snapshots hold the same sections with the same
// text, ignoring order.
func (c Content) Equal(other Content) bool {
	if len(c.values) != len(other.values) {
		return false
	}
	for key, value := range c.values {
		if otherValue, ok := other.values[key]; !ok || otherValue != value {
			return false
		}
	}
	return true
}

// Overlay returns base with every section of top written over it. Sections
// only present in base keep their position; new sections from top are appended.
func Overlay(base, top Content) Content {
	out := base.Clone()
	for _, key := range top.keys {
		out.Set(key, top.values[key])
	}
	return out
}

// WordCount sums whitespace-delimited tokens over all sections.
func (c Content) WordCount() int {
	total := 0
	for _, text := range c.values {
		total += len(strings.Fields(text))
	}
	return total
}

// SectionWordCounts returns the token count of each section.
func (c Content) SectionWordCounts() map[string]int {
	out := make(map[string]int, len(c.values))
	for key, text := range c.values {
		out[key] = len(strings.Fields(text))
	}
	return out
}

// MarshalJSON writes the sections as a JSON object in insertion order.
func (c Content) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		text, err := json.Marshal(c.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(text)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of string values, keeping document order.
// A JSON null decodes to empty content.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("decode sections: %w", err)
	}
	if token == nil {
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode sections: expected object")
	}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decode sections: %w", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("decode sections: expected section name")
		}
		var text string
		if err := decoder.Decode(&text); err != nil {
			return fmt.Errorf("decode section %q: %w", key, err)
		}
		c.Set(key, text)
	}
	if _, err := decoder.Token(); err != nil {
		return fmt.Errorf("decode sections: %w", err)
	}
	return nil
}
