package treestore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SplitPath breaks a slash separated path into its segments, dropping empty ones.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath joins segments into a normalized path.
func JoinPath(segs ...string) string {
	return strings.Join(SplitPath(strings.Join(segs, "/")), "/")
}

// normalize round-trips a value through JSON so stored trees only hold
// map[string]any, []any, string, float64, bool and nil.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// clone deep copies a normalized value.
func clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = clone(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = clone(child)
		}
		return out
	default:
		return v
	}
}

// lookup walks segs below node. Lists are addressed by decimal index.
func lookup(node any, segs []string) any {
	for _, seg := range segs {
		switch v := node.(type) {
		case map[string]any:
			node = v[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			node = v[idx]
		default:
			return nil
		}
	}
	return node
}

// assign returns node with value placed at segs. A nil value removes the
// entry and prunes containers left empty.
func assign(node any, segs []string, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg, rest := segs[0], segs[1:]

	switch v := node.(type) {
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid list index %q", seg)
		}
		switch {
		case idx >= 0 && idx < len(v):
			child, err := assign(v[idx], rest, value)
			if err != nil {
				return nil, err
			}
			if child == nil {
				v = append(v[:idx], v[idx+1:]...)
			} else {
				v[idx] = child
			}
		case idx == len(v):
			if value == nil {
				return emptyToNil(v), nil
			}
			child, err := assign(nil, rest, value)
			if err != nil {
				return nil, err
			}
			v = append(v, child)
		default:
			return nil, fmt.Errorf("list index %d out of range", idx)
		}
		return emptyToNil(v), nil
	case map[string]any:
		child, err := assign(v[seg], rest, value)
		if err != nil {
			return nil, err
		}
		if child == nil {
			delete(v, seg)
		} else {
			v[seg] = child
		}
		return emptyToNil(v), nil
	default:
		if value == nil {
			return node, nil
		}
		child, err := assign(nil, rest, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{seg: child}, nil
	}
}

func emptyToNil(node any) any {
	switch v := node.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
	case []any:
		if len(v) == 0 {
			return nil
		}
	}
	return node
}

// children exposes the direct children of a value keyed the way a child
// path would address them.
func children(node any) map[string]any {
	switch v := node.(type) {
	case map[string]any:
		return v
	case []any:
		out := make(map[string]any, len(v))
		for i, child := range v {
			out[strconv.Itoa(i)] = child
		}
		return out
	default:
		return nil
	}
}

// sortedKeys orders keys so list indices come out numerically.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// overlaps reports whether a write at a affects an observer at b or vice versa.
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
