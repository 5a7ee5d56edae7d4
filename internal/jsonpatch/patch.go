package jsonpatch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var emptyPatch = []byte("[]")

var (
	ErrBadPath = errors.New("patch path does not resolve")
	ErrBadOp   = errors.New("unsupported patch operation")
)

// MarshalJSON keeps "value": null on add and replace, which omitempty
// would drop.
func (o Operation) MarshalJSON() ([]byte, error) {
	if o.Op == "remove" {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{o.Op, o.Path})
	}
	return json.Marshal(struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value"`
	}{o.Op, o.Path, o.Value})
}

// Marshal encodes a patch; an empty patch encodes as "[]".
func Marshal(ops []Operation) ([]byte, error) {
	if len(ops) == 0 {
		return emptyPatch, nil
	}
	return json.Marshal(ops)
}

// DiffJSON diffs two encoded documents. A nil prev is treated as JSON null,
// so the first revision's patch replaces the whole document.
func DiffJSON(prev, next []byte) (fwd, bwd []byte, err error) {
	a, err := decode(prev)
	if err != nil {
		return nil, nil, fmt.Errorf("decode previous: %w", err)
	}
	b, err := decode(next)
	if err != nil {
		return nil, nil, fmt.Errorf("decode next: %w", err)
	}
	f, r := DiffBoth(a, b, "")
	if fwd, err = Marshal(f); err != nil {
		return nil, nil, err
	}
	if bwd, err = Marshal(r); err != nil {
		return nil, nil, err
	}
	return fwd, bwd, nil
}

func decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ApplyJSON applies an encoded patch to an encoded document.
func ApplyJSON(doc, patch []byte) ([]byte, error) {
	v, err := decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	var ops []Operation
	if err := json.Unmarshal(patch, &ops); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	out, err := Apply(v, ops)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// Apply applies ops to doc in order and returns the new document. doc is
// modified in place where possible.
func Apply(doc any, ops []Operation) (any, error) {
	var err error
	for i, op := range ops {
		if doc, err = applyOne(doc, op); err != nil {
			return nil, fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return doc, nil
}

func applyOne(doc any, op Operation) (any, error) {
	if op.Op != "add" && op.Op != "remove" && op.Op != "replace" {
		return nil, ErrBadOp
	}
	if op.Path == "" {
		if op.Op == "remove" {
			return nil, nil
		}
		return op.Value, nil
	}
	if !strings.HasPrefix(op.Path, "/") {
		return nil, ErrBadPath
	}

	tokens := strings.Split(op.Path[1:], "/")
	parentTokens, last := tokens[:len(tokens)-1], unescapeKey(tokens[len(tokens)-1])

	var setParent func(any)
	parent := doc
	setParent = func(v any) { doc = v }
	for _, tok := range parentTokens {
		key := unescapeKey(tok)
		switch p := parent.(type) {
		case map[string]any:
			child, ok := p[key]
			if !ok {
				return nil, ErrBadPath
			}
			setParent = func(v any) { p[key] = v }
			parent = child
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(p) {
				return nil, ErrBadPath
			}
			setParent = func(v any) { p[idx] = v }
			parent = p[idx]
		default:
			return nil, ErrBadPath
		}
	}

	switch p := parent.(type) {
	case map[string]any:
		if _, ok := p[last]; !ok && op.Op != "add" {
			return nil, ErrBadPath
		}
		if op.Op == "remove" {
			delete(p, last)
		} else {
			p[last] = op.Value
		}
	case []any:
		idx, err := strconv.Atoi(last)
		switch {
		case op.Op == "add" && last == "-":
			idx, err = len(p), nil
		case err != nil:
			return nil, ErrBadPath
		}
		switch op.Op {
		case "add":
			if idx < 0 || idx > len(p) {
				return nil, ErrBadPath
			}
			p = append(p, nil)
			copy(p[idx+1:], p[idx:])
			p[idx] = op.Value
		case "remove":
			if idx < 0 || idx >= len(p) {
				return nil, ErrBadPath
			}
			p = append(p[:idx], p[idx+1:]...)
		case "replace":
			if idx < 0 || idx >= len(p) {
				return nil, ErrBadPath
			}
			p[idx] = op.Value
		}
		setParent(p)
	default:
		return nil, ErrBadPath
	}
	return doc, nil
}
