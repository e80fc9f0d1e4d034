// Package tokens supplements auth/tokens.rs from original_source: a
// bbolt-backed manager for temporary, possibly single-use WebSocket
// authentication tokens, generated alongside the daemon's static bearer
// token. spec.md's HTTP surface only names the static
// "Authorization: Bearer lightd_<token>" header; this package keeps the
// original's richer TTL/remove_on_use token lifecycle alive as a
// collaborator the WebSocket gateway may consult.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/storage"
	"github.com/rs/zerolog/log"
)

const bucket = "tokens"

// Data is the durable record for one generated token.
type Data struct {
	Token       string `json:"token"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	RemoveOnUse bool   `json:"remove_on_use"`
	Used        bool   `json:"used"`
}

// Manager issues and validates temporary tokens.
type Manager struct {
	db *storage.DB
}

func NewManager(db *storage.DB) *Manager {
	return &Manager{db: db}
}

// Generate creates a fresh "lightd_<uuid>" token valid for ttl.
func (m *Manager) Generate(ctx context.Context, ttl time.Duration, removeOnUse bool) (string, error) {
	now := time.Now().Unix()
	token := "lightd_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	data := Data{
		Token:       token,
		CreatedAt:   now,
		ExpiresAt:   now + int64(ttl.Seconds()),
		RemoveOnUse: removeOnUse,
	}
	if err := m.db.Put(bucket, token, data); err != nil {
		return "", apierr.External(err)
	}
	log.Info().Dur("ttl", ttl).Bool("remove_on_use", removeOnUse).Msg("generated token")
	return token, nil
}

// Validate reports whether token is currently valid, removing it if
// expired or if it was single-use and markUsed is set.
func (m *Manager) Validate(ctx context.Context, token string, markUsed bool) (bool, error) {
	var data Data
	found, err := m.db.Get(bucket, token, &data)
	if err != nil {
		return false, apierr.External(err)
	}
	if !found {
		return false, nil
	}

	now := time.Now().Unix()
	if now > data.ExpiresAt {
		_ = m.db.Delete(bucket, token)
		return false, nil
	}
	if data.Used && data.RemoveOnUse {
		_ = m.db.Delete(bucket, token)
		return false, nil
	}

	if markUsed && data.RemoveOnUse {
		if err := m.db.Delete(bucket, token); err != nil {
			return false, apierr.External(err)
		}
	}
	return true, nil
}

// CleanupExpired removes every token past its expiry, returning the
// count removed. Intended to run on a periodic ticker from cmd/lightd.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	now := time.Now().Unix()
	var expired []string
	err := m.db.ForEach(bucket, func(key string, raw []byte) error {
		var data Data
		if err := unmarshalData(raw, &data); err != nil {
			return err
		}
		if now > data.ExpiresAt {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return 0, apierr.External(err)
	}
	for _, key := range expired {
		if err := m.db.Delete(bucket, key); err != nil {
			return 0, apierr.External(err)
		}
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("cleaned up expired tokens")
	}
	return len(expired), nil
}

func unmarshalData(raw []byte, dest *Data) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty token record")
	}
	return json.Unmarshal(raw, dest)
}
