package sections

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

// Hash returns the content address of a snapshot. Keys are sorted before
// serialization, so two snapshots with the same sections hash equally
// regardless of insertion order.
func Hash(c Content) string {
	// encoding/json writes map keys sorted, which is the canonical form. A
	// map of strings always marshals.
	data, _ := json.Marshal(canonical(c))
	sum := xxhash.Sum64(data)
	return hex.EncodeToString(binary.BigEndian.AppendUint64(nil, sum))
}

func canonical(c Content) map[string]string {
	if c.values == nil {
		return map[string]string{}
	}
	return c.values
}

func sortedKeys[V any](values map[string]V) []string {
	keys := lo.Keys(values)
	sort.Strings(keys)
	return keys
}
