package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

var ErrInvalidKey = errors.New("invalid encryption key")

// KeyProvider hands the article encryption key to a callback. The key never
// leaves the provider's protected memory except for the duration of fn.
type KeyProvider interface {
	WithKey(fn func(key []byte) error) error
}

// LockedKeyProvider keeps a single AES key in a memguard enclave for the
// lifetime of the process.
type LockedKeyProvider struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
}

// NewLockedKeyProvider takes ownership of raw and wipes it.
func NewLockedKeyProvider(raw []byte) (*LockedKeyProvider, error) {
	if err := validateKeyLength(len(raw)); err != nil {
		memguard.WipeBytes(raw)
		return nil, err
	}
	return &LockedKeyProvider{buf: memguard.NewBufferFromBytes(raw)}, nil
}

// KeyProviderFromBase64 decodes a standard base64 key such as the value of
// ARTICLE_ENCRYPTION_KEY.
func KeyProviderFromBase64(encoded string) (*LockedKeyProvider, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrInvalidKey)
	}
	return NewLockedKeyProvider(raw)
}

// KeyProviderFromFile reads a key file holding either raw key bytes or a
// base64 encoded key.
func KeyProviderFromFile(path string) (*LockedKeyProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer memguard.WipeBytes(data)

	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); err == nil && validateKeyLength(len(decoded)) == nil {
		return NewLockedKeyProvider(decoded)
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return NewLockedKeyProvider(raw)
}

func (p *LockedKeyProvider) WithKey(fn func(key []byte) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf == nil || !p.buf.IsAlive() {
		return fmt.Errorf("%w: key provider destroyed", ErrInvalidKey)
	}
	return fn(p.buf.Bytes())
}

// Destroy wipes the key. Later calls to WithKey fail.
func (p *LockedKeyProvider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf != nil {
		p.buf.Destroy()
	}
}

func validateKeyLength(n int) error {
	switch n {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("%w: key must be 16, 24 or 32 bytes, got %d", ErrInvalidKey, n)
}
