// Package secrets generates the random values used by init.generate directives.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"

	"llmn/internal/descriptor"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// DefaultLength applies when a directive does not set a length.
const DefaultLength = 32

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces secrets. The zero value reads from crypto/rand.
type Generator struct{}

// SecretKey returns length random alphanumeric characters.
func (Generator) SecretKey(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "reading random bytes")
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// RandomBase64 returns the standard base64 encoding of length random bytes.
func (Generator) RandomBase64(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// UUID returns a random version 4 UUID.
func (Generator) UUID() string {
	return uuid.NewString()
}

// Generate applies a directive: method, length and prefix.
func (g Generator) Generate(d descriptor.Generate) (string, error) {
	var (
		value string
		err   error
	)
	switch d.Method {
	case descriptor.MethodSecretKey:
		value, err = g.SecretKey(d.Length)
	case descriptor.MethodRandomBase64:
		value, err = g.RandomBase64(d.Length)
	case descriptor.MethodUUID:
		value = g.UUID()
	default:
		return "", errors.Newf("unknown generation method %q", d.Method)
	}
	if err != nil {
		return "", err
	}
	return d.Prefix + value, nil
}
