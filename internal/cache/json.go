package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// GetJSON decodes the value at key. found is false for a missing key.
func GetJSON[T any](ctx context.Context, s Store, key string) (v T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, true, nil
}

// SetJSON encodes v at key.
func SetJSON[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// UpdateJSON atomically rewrites the value at key. fn receives the
// decoded current value (zero when missing) and returns the new value and
// whether to write it.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(cur T, found bool) (T, bool, error)) error {
	return s.Update(ctx, key, func(raw []byte, found bool) ([]byte, error) {
		var cur T
		if found {
			if err := json.Unmarshal(raw, &cur); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", key, err)
			}
		}

		next, write, err := fn(cur, found)
		if err != nil || !write {
			return nil, err
		}
		return json.Marshal(next)
	})
}
