package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// Parameters for newly hashed admin passwords. Verification uses whatever
// parameters the stored hash names, so these can be raised later.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

var (
	errEmptyPassword = errors.New("admin password is empty")
	errInvalidHash   = errors.New("invalid argon2id hash")
)

var b64 = base64.RawStdEncoding

// argonHash is a decoded PHC string:
// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
type argonHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h argonHash) String() string {
	var b strings.Builder
	b.WriteString("$argon2id$v=")
	b.WriteString(strconv.Itoa(argon2.Version))
	b.WriteString("$m=")
	b.WriteString(strconv.FormatUint(uint64(h.memory), 10))
	b.WriteString(",t=")
	b.WriteString(strconv.FormatUint(uint64(h.time), 10))
	b.WriteString(",p=")
	b.WriteString(strconv.FormatUint(uint64(h.threads), 10))
	b.WriteByte('$')
	b.WriteString(b64.EncodeToString(h.salt))
	b.WriteByte('$')
	b.WriteString(b64.EncodeToString(h.key))
	return b.String()
}

// matches derives a key from password with h's parameters and compares in
// constant time.
func (h argonHash) matches(password string) bool {
	key := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1
}

// HashPassword hashes password with Argon2id into the PHC string form
// accepted by ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	h := argonHash{
		memory:  argonMemory,
		time:    argonTime,
		threads: argonThreads,
		salt:    make([]byte, saltLen),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	h.key = argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, argonKeyLen)
	return h.String(), nil
}

// VerifyPassword reports whether password matches the encoded hash. A
// malformed hash is an error, never a match.
func VerifyPassword(encoded, password string) (bool, error) {
	h, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	return h.matches(password), nil
}

// CheckHash reports whether encoded is a usable Argon2id hash.
func CheckHash(encoded string) error {
	_, err := parseHash(encoded)
	return err
}

func parseHash(encoded string) (argonHash, error) {
	// Leading "$" yields an empty first field.
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return argonHash{}, errors.Wrap(errInvalidHash, "want 5 $-separated fields")
	}
	if fields[1] != "argon2id" {
		return argonHash{}, errors.Wrapf(errInvalidHash, "algorithm %q", fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return argonHash{}, errors.Wrapf(errInvalidHash, "version %q", fields[2])
	}

	var h argonHash
	if err := h.parseParams(fields[3]); err != nil {
		return argonHash{}, err
	}
	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return argonHash{}, errors.Wrap(errInvalidHash, "salt is not base64")
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil {
		return argonHash{}, errors.Wrap(errInvalidHash, "key is not base64")
	}
	if len(h.key) == 0 {
		return argonHash{}, errors.Wrap(errInvalidHash, "empty key")
	}
	return h, nil
}

// parseParams reads "m=..,t=..,p=.." in any order; all three are required.
func (h *argonHash) parseParams(s string) error {
	seen := 0
	for _, kv := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return errors.Wrapf(errInvalidHash, "parameter %q", kv)
		}
		bits := 32
		if name == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil || v == 0 {
			return errors.Wrapf(errInvalidHash, "parameter %s=%s", name, raw)
		}
		switch name {
		case "m":
			h.memory = uint32(v)
		case "t":
			h.time = uint32(v)
		case "p":
			h.threads = uint8(v)
		default:
			return errors.Wrapf(errInvalidHash, "unknown parameter %q", name)
		}
		seen++
	}
	if seen != 3 || h.memory == 0 || h.time == 0 || h.threads == 0 {
		return errors.Wrap(errInvalidHash, "need m, t and p")
	}
	return nil
}
