package id

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the symbol set for paste ids and secret keys.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	// PasteLength gives 36^8 (about 2.8e12) possible paste ids.
	PasteLength = 8
	// SecretLength is used for the per-paste secret key.
	SecretLength = 16
)

// Generator produces random lowercase alphanumeric identifiers from a
// cryptographically secure source. It does not check for uniqueness.
type Generator struct {
	length int
}

// New returns a Generator with the provided length. If length <= 0, PasteLength is used.
func New(length int) *Generator {
	if length <= 0 {
		length = PasteLength
	}
	return &Generator{length: length}
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return gonanoid.Generate(Alphabet, g.length)
}
