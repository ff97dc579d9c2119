package kvsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// DefaultIDLength is the length of generated hex identifiers.
	DefaultIDLength = 32

	// OwnerMarker starts every owner-scoped identifier.
	OwnerMarker = "owner"

	// MaxOwnerTokenLength bounds owner tokens in bytes.
	MaxOwnerTokenLength = 64

	idDelimiter = '_'

	// randomAlphabet is used for the random part of prefixed identifiers. It
	// excludes the delimiter so the prefix boundary stays unambiguous.
	randomAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// IDGenerator produces candidate session identifiers. Uniqueness against the
// store is enforced by Handler.CreateID, not by the generator.
type IDGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// HexIDGenerator produces fixed-length lowercase hex identifiers.
type HexIDGenerator struct {
	// Length is the number of hex characters. Zero means DefaultIDLength.
	Length int
	// Entropy defaults to crypto/rand.Reader.
	Entropy io.Reader
}

func (g HexIDGenerator) Generate(_ context.Context) (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultIDLength
	}
	src := g.Entropy
	if src == nil {
		src = rand.Reader
	}

	raw := (n + 1) / 2
	ptr := getIDBuffer(raw + 2*raw)
	defer putIDBuffer(ptr)
	b := *ptr

	entropy := b[:raw]
	if _, err := io.ReadFull(src, entropy); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	// Encode directly into the tail of the scratch buffer.
	dst := b[raw:]
	hex.Encode(dst, entropy)
	return string(dst[:n]), nil
}

// PrefixedIDGenerator produces `{prefix}_{random}` identifiers.
type PrefixedIDGenerator struct {
	prefix string
	length int
}

// NewPrefixedIDGenerator validates prefix and returns a generator whose random
// part is length characters long (DefaultIDLength when length <= 0).
func NewPrefixedIDGenerator(prefix string, length int) (*PrefixedIDGenerator, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	if length <= 0 {
		length = DefaultIDLength
	}
	return &PrefixedIDGenerator{prefix: prefix, length: length}, nil
}

func (g *PrefixedIDGenerator) Generate(_ context.Context) (string, error) {
	return randomWithPrefix(g.prefix, g.length)
}

// OwnerIDGenerator produces `owner{token}_{random}` when an owner token is
// bound to the context with WithOwner, and `{anonymousPrefix}_{random}`
// otherwise.
type OwnerIDGenerator struct {
	anonymousPrefix string
	length          int
}

// NewOwnerIDGenerator validates anonymousPrefix and returns an owner-scoped
// generator.
func NewOwnerIDGenerator(anonymousPrefix string, length int) (*OwnerIDGenerator, error) {
	if err := validatePrefix(anonymousPrefix); err != nil {
		return nil, err
	}
	if length <= 0 {
		length = DefaultIDLength
	}
	return &OwnerIDGenerator{anonymousPrefix: anonymousPrefix, length: length}, nil
}

func (g *OwnerIDGenerator) Generate(ctx context.Context) (string, error) {
	token, ok := OwnerFromContext(ctx)
	if !ok {
		return randomWithPrefix(g.anonymousPrefix, g.length)
	}
	if err := ValidateOwnerToken(token, g.anonymousPrefix); err != nil {
		return "", err
	}
	return randomWithPrefix(OwnerMarker+token, g.length)
}

// UUIDGenerator produces random (version 4) UUIDs.
type UUIDGenerator struct {
	// Entropy defaults to crypto/rand.Reader.
	Entropy io.Reader
}

func (g UUIDGenerator) Generate(_ context.Context) (string, error) {
	if g.Entropy == nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("failed to generate uuid: %w", err)
		}
		return id.String(), nil
	}
	id, err := uuid.NewRandomFromReader(g.Entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

func randomWithPrefix(prefix string, length int) (string, error) {
	random, err := gonanoid.Generate(randomAlphabet, length)
	if err != nil {
		return "", fmt.Errorf("failed to generate identifier: %w", err)
	}
	return prefix + string(idDelimiter) + random, nil
}

func isPrefixChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == ',' || c == '-'
}

func isOwnerChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '.' || c == '@' || c == '-'
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return configError("identifier prefix must not be empty")
	}
	for i := 0; i < len(prefix); i++ {
		if !isPrefixChar(prefix[i]) {
			return configError("identifier prefix %q contains invalid character %q", prefix, prefix[i])
		}
	}
	if hasPrefixFold(prefix, OwnerMarker) {
		return configError("identifier prefix %q must not start with %q", prefix, OwnerMarker)
	}
	return nil
}

// ValidateOwnerToken checks that token is non-empty, at most
// MaxOwnerTokenLength bytes, made of letters, digits, '.', '@' and '-', and
// does not start with the reserved anonymous prefix.
func ValidateOwnerToken(token, reserved string) error {
	if token == "" {
		return configError("owner token must not be empty")
	}
	if len(token) > MaxOwnerTokenLength {
		return configError("owner token exceeds %d bytes", MaxOwnerTokenLength)
	}
	for i := 0; i < len(token); i++ {
		if !isOwnerChar(token[i]) {
			return configError("owner token contains invalid character %q", token[i])
		}
	}
	if reserved != "" && hasPrefixFold(token, reserved) {
		return configError("owner token must not start with reserved prefix %q", reserved)
	}
	return nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

type ownerKey struct{}

// WithOwner binds an owner token to ctx for owner-scoped identifier
// generation.
func WithOwner(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ownerKey{}, token)
}

// OwnerFromContext returns the owner token bound by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ownerKey{}).(string)
	return token, ok
}
