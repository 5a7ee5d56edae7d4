// Package jsonpatch computes and applies RFC 6902 patches between revisions
// of a persisted session record. Object keys are visited in sorted order so
// the same pair of documents always yields the same patch.
package jsonpatch

import (
	"slices"
	"strconv"
	"strings"
)

// Operation is one RFC 6902 operation. Only add, remove and replace are
// produced.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Diff computes a patch that transforms a into b. Both should be the result
// of json.Unmarshal into any. Path should be "" for the root document.
func Diff(a, b any, path string) []Operation {
	fwd, _ := DiffBoth(a, b, path)
	return fwd
}

// DiffBoth computes both forward (a→b) and backward (b→a) patches in a single traversal.
func DiffBoth(a, b any, path string) (fwd, bwd []Operation) {
	if a == nil && b == nil {
		return nil, nil
	}
	if a == nil || b == nil {
		return []Operation{replaceOp(path, b)}, []Operation{replaceOp(path, a)}
	}

	aMap, aIsMap := a.(map[string]any)
	bMap, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		return diffObjectsBoth(aMap, bMap, path)
	}

	aArr, aIsArr := a.([]any)
	bArr, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		return diffArraysBoth(aArr, bArr, path)
	}

	if aIsMap || bIsMap || aIsArr || bIsArr || a != b {
		return []Operation{replaceOp(path, b)}, []Operation{replaceOp(path, a)}
	}
	return nil, nil
}

func diffObjectsBoth(a, b map[string]any, path string) (fwd, bwd []Operation) {
	for _, k := range sortedKeys(a) {
		if _, ok := b[k]; !ok {
			childPath := path + "/" + escapeKey(k)
			fwd = append(fwd, removeOp(childPath))
			bwd = append(bwd, addOp(childPath, a[k]))
		}
	}

	for _, k := range sortedKeys(b) {
		childPath := path + "/" + escapeKey(k)
		bv := b[k]
		av, inA := a[k]
		if !inA {
			fwd = append(fwd, addOp(childPath, bv))
			bwd = append(bwd, removeOp(childPath))
			continue
		}
		subFwd, subBwd := DiffBoth(av, bv, childPath)
		fwd = append(fwd, subFwd...)
		bwd = append(bwd, subBwd...)
	}

	return fwd, bwd
}

// diffArraysBoth pairs elements by index. Whichever side is longer owns a
// tail: going toward it adds the tail in order, going away removes it from
// the back so earlier indexes stay valid.
func diffArraysBoth(a, b []any, path string) (fwd, bwd []Operation) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		f, r := DiffBoth(a[i], b[i], indexPath(path, i))
		fwd, bwd = append(fwd, f...), append(bwd, r...)
	}

	grow, shrink := tail(a, n, path)
	fwd, bwd = append(fwd, shrink...), append(bwd, grow...)
	grow, shrink = tail(b, n, path)
	fwd, bwd = append(fwd, grow...), append(bwd, shrink...)
	return fwd, bwd
}

func tail(arr []any, from int, path string) (grow, shrink []Operation) {
	for i := from; i < len(arr); i++ {
		grow = append(grow, addOp(indexPath(path, i), arr[i]))
		shrink = append(shrink, removeOp(indexPath(path, len(arr)-1-(i-from))))
	}
	return grow, shrink
}

func indexPath(path string, i int) string {
	return path + "/" + strconv.Itoa(i)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func replaceOp(path string, value any) Operation {
	return Operation{Op: "replace", Path: path, Value: value}
}

func addOp(path string, value any) Operation {
	return Operation{Op: "add", Path: path, Value: value}
}

func removeOp(path string) Operation {
	return Operation{Op: "remove", Path: path}
}

// escapeKey escapes a JSON Pointer token per RFC 6901.
func escapeKey(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return s
}

func unescapeKey(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	s = strings.ReplaceAll(s, "~0", "~")
	return s
}
