package utils

import (
	"maps"
	"slices"
)

// KeyValue is a single named value in a deterministic listing
type KeyValue struct {
	Key   string
	Value string
}

// MergeValues merges multiple value maps with later maps having higher precedence.
// Empty values never override a non-empty value from an earlier map.
func MergeValues(pp ...map[string]string) map[string]string {
	m := map[string]string{}
	for _, p := range pp {
		for k, v := range p {
			if v == "" {
				if _, ok := m[k]; ok {
					continue
				}
			}
			m[k] = v
		}
	}
	return m
}

// Sorted returns the entries of m ordered by key
func Sorted(m map[string]string) []KeyValue {
	results := make([]KeyValue, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, KeyValue{Key: k, Value: m[k]})
	}
	return results
}
