package sessionvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	return &store{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (s *store) Get(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	bytes, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(s.key(objectType, objectID)).Build()).AsBytes()
	if err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return serviceerr.ErrNotFound
		}

		return fmt.Errorf("executing get command: %w", err)
	}

	if err := json.Unmarshal(bytes, decodeInto); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}

// Set writes val with the given TTL. A zero TTL keeps the key forever. With
// onlyNew, an existing key is reported as a conflict.
func (s *store) Set(ctx context.Context, objectType ObjectType, id string, val any, ttl time.Duration, onlyNew bool) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	key := s.key(objectType, id)
	value := valkey.BinaryString(bytes)

	var cmd valkey.Completed
	switch {
	case onlyNew && ttl > 0:
		cmd = s.valkey.B().Set().Key(key).Value(value).Nx().Px(ttl).Build()
	case onlyNew:
		cmd = s.valkey.B().Set().Key(key).Value(value).Nx().Build()
	case ttl > 0:
		cmd = s.valkey.B().Set().Key(key).Value(value).Px(ttl).Build()
	default:
		cmd = s.valkey.B().Set().Key(key).Value(value).Build()
	}

	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		if valkeyErr, ok := valkey.IsValkeyErr(err); ok && valkeyErr.IsNil() {
			return serviceerr.ErrConflict
		}

		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

// Destroy deletes the key and reports serviceerr.ErrNotFound when it did not exist.
func (s *store) Destroy(ctx context.Context, objectType ObjectType, id string) error {
	n, err := s.valkey.Do(ctx, s.valkey.B().Del().Key(s.key(objectType, id)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}
	if n == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func (s *store) key(objectType ObjectType, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}
