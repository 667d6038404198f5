package session

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DataCache memoizes intermediate results by caller-chosen key.
// Re-inserting a key overwrites the previous value.
type DataCache struct {
	entries map[string]interface{}
}

func newDataCache() *DataCache {
	return &DataCache{entries: make(map[string]interface{})}
}

func (c *DataCache) set(key string, value interface{}) {
	c.entries[key] = value
}

func (c *DataCache) get(key string) (interface{}, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *DataCache) keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *DataCache) len() int {
	return len(c.entries)
}

func (c *DataCache) clear() {
	c.entries = make(map[string]interface{})
}

// sizeOf approximates the payload size in bytes.
func sizeOf(v interface{}) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return len(val)
	case []byte:
		return len(val)
	case json.RawMessage:
		return len(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return len(fmt.Sprint(v))
	}
	return len(data)
}
