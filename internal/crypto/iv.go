package crypto

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const IVSize = 16

// NewIV derives a fresh IV from a random UUID.
func NewIV() []byte {
	return IVFromSeed(uuid.NewString())
}

// IVFromSeed fills an IV by cycling through the bytes of seed.
func IVFromSeed(seed string) []byte {
	iv := make([]byte, IVSize)
	if seed == "" {
		return iv
	}
	for i := range iv {
		iv[i] = seed[i%len(seed)]
	}
	return iv
}

func EncodeIV(iv []byte) string {
	return base64.StdEncoding.EncodeToString(iv)
}

func DecodeIV(encoded string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: iv is not valid base64", ErrCryptoFailure)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCryptoFailure, IVSize, len(iv))
	}
	return iv, nil
}
