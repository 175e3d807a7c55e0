package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const encryptionInfo = "go-auth-client token store v1"

var DecryptErr = errors.New("stored value cannot be decrypted")

var _ KeyValueStore = (*EncryptedStore)(nil)

// EncryptedStore seals values with XChaCha20-Poly1305 before handing them to the wrapped
// store. The key name is bound as associated data so values cannot be swapped between keys.
type EncryptedStore struct {
	inner KeyValueStore
	key   []byte
}

// NewEncryptedStore derives the sealing key from secret with HKDF-SHA256.
func NewEncryptedStore(inner KeyValueStore, secret []byte) (*EncryptedStore, error) {
	if inner == nil {
		return nil, errors.New("[NewEncryptedStore] inner store is required")
	}
	if len(secret) < 16 {
		return nil, errors.New("[NewEncryptedStore] secret must be at least 16 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(encryptionInfo)), key); err != nil {
		return nil, errors.Wrap(err, "[NewEncryptedStore] hkdf")
	}
	return &EncryptedStore{inner: inner, key: key}, nil
}

func (e *EncryptedStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := e.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", false, errors.Wrap(DecryptErr, err.Error())
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", false, errors.Wrap(err, "EncryptedStore.Get NewX")
	}
	if len(raw) < aead.NonceSize() {
		return "", false, DecryptErr
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", false, errors.Wrap(DecryptErr, err.Error())
	}
	return string(plain), true, nil
}

func (e *EncryptedStore) Set(ctx context.Context, key, value string) error {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return errors.Wrap(err, "EncryptedStore.Set NewX")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "EncryptedStore.Set rand.Read")
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return e.inner.Set(ctx, key, base64.RawURLEncoding.EncodeToString(sealed))
}

func (e *EncryptedStore) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}
