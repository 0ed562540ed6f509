package collection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/waterline/internal/orm/record"
)

// normalize replaces records given as association values with their primary keys
func normalize(data map[string]interface{}) map[string]interface{} {
	for k, v := range data {
		if rec, ok := v.(*record.Record); ok {
			if rec == nil {
				data[k] = nil
				continue
			}
			data[k] = rec.ID()
		}
	}
	return data
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatWhere(where map[string]interface{}) string {
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
