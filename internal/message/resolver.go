package message

import (
	"encoding/json"
	"strconv"
)

// lookupPath walks a dotted path through a decoded JSON value. Each segment
// is an object-key lookup, or an index when the segment is a non-negative
// integer and the current value is an array. Traversal stops at the first
// segment that cannot be applied; that is the defined miss case, not an error.
func lookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	current := root
	start := 0
	for start <= len(path) {
		end := start
		for end < len(path) && path[end] != '.' {
			end++
		}
		segment := path[start:end]
		if segment == "" {
			return nil, false
		}

		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}

		if end == len(path) {
			return current, true
		}
		start = end + 1
	}
	return nil, false
}

// stringifyValue converts a resolved payload value to its string form.
// Scalars are stringified directly. Objects and arrays are an authoring
// error, but rendering must stay total, so they are serialized to their
// canonical JSON form instead of failing.
func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Lookup resolves a dotted path against a decoded JSON value, reporting
// whether the path hit. Exposed for collaborators that read well-known
// payload locations with the same traversal rules as variable resolution.
func Lookup(root interface{}, path string) (interface{}, bool) {
	return lookupPath(root, path)
}

// ResolveVariables resolves each declared variable against the event payload,
// producing a mapping from placeholder token to resolved string. A path miss
// or a null value substitutes the variable's default (empty string when none
// is declared). The result depends only on the inputs.
func ResolveVariables(vars []TemplateVariable, data map[string]interface{}) map[string]string {
	values := make(map[string]string, len(vars))
	for _, v := range vars {
		resolved, ok := lookupPath(data, v.DataPath)
		if !ok || resolved == nil {
			values[v.VariableName] = v.DefaultValue
			continue
		}
		values[v.VariableName] = stringifyValue(resolved)
	}
	return values
}
