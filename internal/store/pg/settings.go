package pg

import (
	"context"
	"encoding/json"
)

func (s *Store) GetSetting(ctx context.Context, tenant, key string) (json.RawMessage, error) {
	const q = `SELECT value FROM auth_settings WHERE tenant = $1 AND key = $2`

	var raw json.RawMessage
	if err := s.pool.QueryRow(ctx, q, tenant, key).Scan(&raw); err != nil {
		return nil, interpret(err)
	}
	return raw, nil
}
