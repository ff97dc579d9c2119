package kvsession

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxLifetime is the session time-to-live used when none is set.
	DefaultMaxLifetime = 1440 * time.Second

	// DefaultMaxIDAttempts bounds the collision-avoidance loop in CreateID.
	DefaultMaxIDAttempts = 10
)

// HandlerConfig configures a Handler. Zero fields take defaults.
type HandlerConfig struct {
	Codec         Codec
	IDGenerator   IDGenerator
	Pipeline      *Pipeline
	MaxLifetime   time.Duration
	MaxIDAttempts int
	Logger        *zerolog.Logger
}

// Handler runs the session lifecycle over a Connection: reads and writes pass
// through the hook pipeline and the codec, expiry is left to the store.
//
// Failures never escape as errors from Read, Write, Destroy, ValidateID or
// Touch. They are logged and reported as an empty session or false. Only
// CreateID and Regenerate return errors.
type Handler struct {
	conn          *Connection
	codec         Codec
	ids           IDGenerator
	pipeline      *Pipeline
	maxLifetime   time.Duration
	maxIDAttempts int
	logger        zerolog.Logger
}

func NewHandler(conn *Connection, cfg HandlerConfig) (*Handler, error) {
	if conn == nil {
		return nil, configError("connection is required")
	}
	if cfg.MaxLifetime < 0 {
		return nil, configError("max lifetime must not be negative, got %s", cfg.MaxLifetime)
	}
	if cfg.MaxIDAttempts < 0 {
		return nil, configError("max id attempts must not be negative, got %d", cfg.MaxIDAttempts)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	h := &Handler{
		conn:          conn,
		codec:         cfg.Codec,
		ids:           cfg.IDGenerator,
		pipeline:      cfg.Pipeline,
		maxLifetime:   cfg.MaxLifetime,
		maxIDAttempts: cfg.MaxIDAttempts,
		logger:        logger.With().Str("component", "handler").Logger(),
	}
	if h.codec == nil {
		h.codec = StructuredCodec{}
	}
	if h.ids == nil {
		h.ids = HexIDGenerator{}
	}
	if h.pipeline == nil {
		h.pipeline = NewPipeline(logger)
	}
	if h.maxLifetime == 0 {
		h.maxLifetime = DefaultMaxLifetime
	}
	if h.maxIDAttempts == 0 {
		h.maxIDAttempts = DefaultMaxIDAttempts
	}
	return h, nil
}

// MaxLifetime returns the time-to-live applied by Write and Touch.
func (h *Handler) MaxLifetime() time.Duration {
	return h.maxLifetime
}

// Open connects to the store. It returns false instead of an error so that
// an unavailable store degrades to "no session" for the caller.
func (h *Handler) Open(ctx context.Context) bool {
	if err := h.conn.Connect(ctx); err != nil {
		h.logger.Error().Err(err).Msg("failed to open session storage")
		return false
	}
	return true
}

// Close ends the unit of work. Persistent connections stay marked as
// connected for the next one; others reconnect on next use.
func (h *Handler) Close() bool {
	if !h.conn.Config().PersistentConnection {
		h.conn.Close()
	}
	return true
}

// Read returns the wire payload of session id, or "" when it is missing or
// undecodable. Without read hooks a decodable payload is returned untouched.
func (h *Handler) Read(ctx context.Context, id string) string {
	h.pipeline.RunBeforeRead(ctx, id)

	raw, found, err := h.conn.Get(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("id", MaskID(id)).Msg("session read failed")
		return ""
	}
	if !found {
		return ""
	}

	data, err := h.codec.Decode(raw)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", MaskID(id)).Msg("discarding undecodable session")
		return ""
	}
	if !h.pipeline.HasReadHooks() {
		return raw
	}

	data, _ = h.pipeline.RunAfterRead(ctx, id, data)

	out, err := h.codec.Encode(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", MaskID(id)).Msg("failed to encode session after read hooks")
		return ""
	}
	return out
}

// Write stores the wire payload for session id with the configured max
// lifetime. A filter veto stores nothing and skips every write hook.
func (h *Handler) Write(ctx context.Context, id, wire string) bool {
	data, err := h.codec.Decode(wire)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", MaskID(id)).Msg("refusing to write undecodable session")
		return false
	}

	if allow, _ := h.pipeline.RunFilters(ctx, id, data); !allow {
		return false
	}

	data, _ = h.pipeline.RunBeforeWrite(ctx, id, data)

	payload, err := h.codec.Encode(data)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", MaskID(id)).Msg("failed to encode session")
		h.pipeline.RunAfterWrite(ctx, id, false)
		return false
	}

	ok, err := h.conn.Set(ctx, id, payload, h.maxLifetime)
	if err != nil {
		h.logger.Error().Err(err).Str("id", MaskID(id)).Msg("session write failed")
		ok = false
	}

	h.pipeline.RunAfterWrite(ctx, id, ok)
	return ok
}

// Destroy deletes session id. A missing session counts as destroyed, so only
// an unreachable store yields false.
func (h *Handler) Destroy(ctx context.Context, id string) bool {
	if _, err := h.conn.Delete(ctx, id); err != nil {
		h.logger.Error().Err(err).Str("id", MaskID(id)).Msg("session destroy failed")
		return false
	}
	return true
}

// GC relies on the store's own per-key expiry and never removes anything.
func (h *Handler) GC(_ context.Context, maxLifetime time.Duration) int {
	h.logger.Debug().Dur("max_lifetime", maxLifetime).Msg("gc delegated to store expiry")
	return 0
}

// ValidateID reports whether session id exists in the store.
func (h *Handler) ValidateID(ctx context.Context, id string) bool {
	ok, err := h.conn.Exists(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("id", MaskID(id)).Msg("session validation failed")
		return false
	}
	return ok
}

// Touch extends the lifetime of session id without rewriting its payload.
func (h *Handler) Touch(ctx context.Context, id, _ string) bool {
	ok, err := h.conn.Expire(ctx, id, h.maxLifetime)
	if err != nil {
		h.logger.Error().Err(err).Str("id", MaskID(id)).Msg("session touch failed")
		return false
	}
	return ok
}

// CreateID generates identifiers until one is absent from the store, trying
// at most MaxIDAttempts times.
func (h *Handler) CreateID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= h.maxIDAttempts; attempt++ {
		id, err := h.ids.Generate(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: generate session id: %w", ErrOperation, err)
		}

		exists, err := h.conn.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}

		ev := h.logger.Warn()
		if attempt == 1 {
			ev = h.logger.Debug()
		}
		ev.Int("attempt", attempt).
			Str("id", MaskID(id)).
			Msg("session id collision")
	}

	return "", fmt.Errorf("%w: no free session id after %d attempts", ErrOperation, h.maxIDAttempts)
}

// Regenerate moves session oldID to a freshly allocated identifier and
// deletes the old key. If the old key cannot be removed the new one is
// deleted again and an error is returned, so the caller never ends up with
// two live identifiers for one session.
func (h *Handler) Regenerate(ctx context.Context, oldID string) (string, error) {
	newID, err := h.CreateID(ctx)
	if err != nil {
		return "", err
	}

	raw, found, err := h.conn.Get(ctx, oldID)
	if err != nil {
		return "", err
	}
	if !found {
		return newID, nil
	}

	ok, err := h.conn.Set(ctx, newID, raw, h.maxLifetime)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: failed to store regenerated session", ErrOperation)
	}

	deleted, err := h.conn.Delete(ctx, oldID)
	if err == nil && !deleted {
		// The old key may simply have expired in between.
		var stillThere bool
		stillThere, err = h.conn.Exists(ctx, oldID)
		if err == nil && stillThere {
			err = fmt.Errorf("%w: old session id survived deletion", ErrOperation)
		}
	}
	if err != nil {
		_, _ = h.conn.Delete(ctx, newID)
		return "", err
	}

	h.logger.Debug().
		Str("old_id", MaskID(oldID)).
		Str("new_id", MaskID(newID)).
		Msg("session id regenerated")
	return newID, nil
}
