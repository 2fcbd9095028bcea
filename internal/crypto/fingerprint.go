package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

const (
	fingerprintInfo    = "article-service-key-fingerprint-v1"
	fingerprintContext = "article-service backup key marker"
)

// KeyFingerprint returns a commitment to the configured key. Backups carry
// it so a restore can tell whether the blob was written under the same key.
func KeyFingerprint(keys KeyProvider) ([]byte, error) {
	var tag []byte
	err := keys.WithKey(func(key []byte) error {
		sub := make([]byte, sha256.Size)
		defer memguard.WipeBytes(sub)

		r := hkdf.New(sha256.New, key, nil, []byte(fingerprintInfo))
		if _, err := io.ReadFull(r, sub); err != nil {
			return err
		}
		mac := hmac.New(sha256.New, sub)
		mac.Write([]byte(fingerprintContext))
		tag = mac.Sum(nil)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: key fingerprint: %v", ErrCryptoFailure, err)
	}
	return tag, nil
}

// FingerprintsEqual compares two fingerprints in constant time
func FingerprintsEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
