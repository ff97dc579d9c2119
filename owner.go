package kvsession

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

const (
	maskPrefix   = "********"
	maskedSuffix = 4
)

// OwnerSession describes one session of an owner without exposing its
// identifier.
type OwnerSession struct {
	MaskedID    string `json:"masked_id"`
	PayloadSize int    `json:"payload_size"`
}

// OwnerAdmin enumerates and invalidates the sessions created for an owner
// token by OwnerIDGenerator. On a backend without key enumeration every
// method fails with ErrScanUnsupported.
type OwnerAdmin struct {
	conn   *Connection
	logger zerolog.Logger
}

func NewOwnerAdmin(conn *Connection, logger zerolog.Logger) (*OwnerAdmin, error) {
	if conn == nil {
		return nil, configError("connection is required")
	}
	return &OwnerAdmin{
		conn:   conn,
		logger: logger.With().Str("component", "owner_admin").Logger(),
	}, nil
}

func (a *OwnerAdmin) keys(ctx context.Context, owner string) ([]string, error) {
	pattern, err := OwnerPattern(owner)
	if err != nil {
		return nil, err
	}
	return a.conn.Scan(ctx, pattern)
}

// ForceInvalidateOwner deletes every session of owner and returns how many
// were actually deleted. Individual failures are skipped.
func (a *OwnerAdmin) ForceInvalidateOwner(ctx context.Context, owner string) (int, error) {
	keys, err := a.keys(ctx, owner)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, k := range keys {
		ok, err := a.conn.Delete(ctx, k)
		if err != nil {
			a.logger.Warn().Err(err).Str("id", MaskID(k)).Msg("failed to invalidate session")
			continue
		}
		if ok {
			deleted++
		}
	}

	a.logger.Info().
		Int("matched", len(keys)).
		Int("deleted", deleted).
		Msg("owner sessions invalidated")
	return deleted, nil
}

// ListOwnerSessions returns the sessions of owner keyed by session id. Values
// carry only the masked identifier and the payload size. Sessions that
// vanish or fail to load are skipped.
func (a *OwnerAdmin) ListOwnerSessions(ctx context.Context, owner string) (map[string]OwnerSession, error) {
	keys, err := a.keys(ctx, owner)
	if err != nil {
		return nil, err
	}

	out := make(map[string]OwnerSession, len(keys))
	for _, k := range keys {
		raw, found, err := a.conn.Get(ctx, k)
		if err != nil || !found {
			continue
		}
		out[k] = OwnerSession{MaskedID: MaskID(k), PayloadSize: len(raw)}
	}
	return out, nil
}

// CountOwnerSessions counts the sessions of owner without loading them.
func (a *OwnerAdmin) CountOwnerSessions(ctx context.Context, owner string) (int, error) {
	keys, err := a.keys(ctx, owner)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// OwnerPattern returns the scan pattern matching every session of owner.
func OwnerPattern(owner string) (string, error) {
	if owner == "" {
		return "", configError("owner token must not be empty")
	}
	return OwnerMarker + EscapePattern(owner) + string(idDelimiter) + "*", nil
}

// EscapePattern backslash-escapes the glob metacharacters \ * ? [ ] in s.
// Each input byte is examined once, so an escape is never escaped again.
func EscapePattern(s string) string {
	if !strings.ContainsAny(s, `\*?[]`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '*', '?', '[', ']':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// MaskID hides all but the last few characters of a session identifier.
func MaskID(id string) string {
	if len(id) <= maskedSuffix {
		return maskPrefix
	}
	return maskPrefix + id[len(id)-maskedSuffix:]
}
