package renderer

// Helpers for walking the loosely-typed renderer payloads. Any field can be
// absent at any nesting level, so every accessor tolerates nil and wrong
// types and returns a zero value instead.

// DigMap follows a chain of object keys and returns the final object, or nil
// when any hop is missing or not an object.
func DigMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// DigSlice follows keys to a final array value.
func DigSlice(m map[string]any, keys ...string) []any {
	if len(keys) == 0 {
		return nil
	}
	parent := m
	if len(keys) > 1 {
		parent = DigMap(m, keys[:len(keys)-1]...)
		if parent == nil {
			return nil
		}
	}
	arr, _ := parent[keys[len(keys)-1]].([]any)
	return arr
}

// StringField returns m[key] when it is a plain string.
func StringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// NumberField returns m[key] as int64, accepting both JSON numbers and the
// stringified integers the API mixes in.
func NumberField(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case string:
		var n int64
		var neg bool
		s := v
		if len(s) > 0 && s[0] == '-' {
			neg = true
			s = s[1:]
		}
		if s == "" {
			return 0, false
		}
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
		}
		if neg {
			n = -n
		}
		return n, true
	}
	return 0, false
}

// SimpleText resolves a {"simpleText": ...} or {"runs": [...]} text node
// under m[key] into its flattened string form.
func SimpleText(m map[string]any, key string) string {
	node := DigMap(m, key)
	if node == nil {
		return ""
	}
	if s, ok := node["simpleText"].(string); ok {
		return s
	}
	plain, _ := FlattenRuns(node)
	return plain
}
