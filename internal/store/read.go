package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPathNotFound is returned by Read for paths that do not resolve.
var ErrPathNotFound = errors.New("path not found")

// Read returns the JSON value at a dotted path such as "gamification.total_xp" or
// "workouts.<id>.exercises.0". An empty path returns the whole document.
func (s *Store) Read(path string) (json.RawMessage, error) {
	raw, err := json.Marshal(s.State())
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return raw, nil
	}

	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	for _, segment := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
	}
	return json.Marshal(node)
}
