package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a path expression: an object key or an array index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

func (s segment) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	return s.key
}

// parsePath parses expressions such as `body.auth.api_key`,
// `body.credentials[0].token` and `body["x-key"]`.
func parsePath(expr string) ([]segment, error) {
	var segs []segment
	i := 0
	n := len(expr)
	expectKey := true

	for i < n {
		switch c := expr[i]; {
		case c == '.':
			if expectKey {
				return nil, fmt.Errorf("empty segment at offset %d in %q", i, expr)
			}
			expectKey = true
			i++
		case c == '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated '[' in %q", expr)
			}
			inner := strings.TrimSpace(expr[i+1 : i+end])
			seg, err := bracketSegment(inner)
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, expr)
			}
			if len(segs) == 0 {
				return nil, fmt.Errorf("expression %q must start with a name", expr)
			}
			segs = append(segs, seg)
			expectKey = false
			i += end + 1
		default:
			if !expectKey {
				return nil, fmt.Errorf("unexpected %q at offset %d in %q", c, i, expr)
			}
			start := i
			for i < n && expr[i] != '.' && expr[i] != '[' {
				i++
			}
			segs = append(segs, segment{key: expr[start:i]})
			expectKey = false
		}
	}
	if expectKey {
		return nil, fmt.Errorf("expression %q ends with '.' or is empty", expr)
	}
	return segs, nil
}

func bracketSegment(inner string) (segment, error) {
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		return segment{key: inner[1 : len(inner)-1]}, nil
	}
	idx, err := strconv.Atoi(inner)
	if err != nil || idx < 0 {
		return segment{}, fmt.Errorf("invalid index [%s]", inner)
	}
	return segment{index: idx, isIndex: true}, nil
}

// setPath writes value at segs inside node and returns the updated node.
// Missing objects and arrays are created; existing values are overwritten.
func setPath(node any, segs []segment, value any) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]

	if seg.isIndex {
		var arr []any
		switch v := node.(type) {
		case nil:
		case []any:
			arr = v
		default:
			return nil, fmt.Errorf("cannot index %T with %s", node, seg)
		}
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		child, err := setPath(arr[seg.index], segs[1:], value)
		if err != nil {
			return nil, err
		}
		arr[seg.index] = child
		return arr, nil
	}

	var obj map[string]any
	switch v := node.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = v
	default:
		return nil, fmt.Errorf("cannot set field %q on %T", seg.key, node)
	}
	child, err := setPath(obj[seg.key], segs[1:], value)
	if err != nil {
		return nil, err
	}
	obj[seg.key] = child
	return obj, nil
}
