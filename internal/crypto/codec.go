package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrCryptoFailure is wrapped by every encryption or decryption error. A
// failed decryption never yields plaintext.
var ErrCryptoFailure = errors.New("crypto failure")

// Codec encrypts individual article fields with AES-CBC and PKCS#5 padding.
// All fields of one record share the record's IV.
type Codec struct {
	keys KeyProvider
}

func NewCodec(keys KeyProvider) *Codec {
	return &Codec{keys: keys}
}

// EncryptField returns base64(AES-CBC(plaintext)) under iv.
func (c *Codec) EncryptField(plaintext string, iv []byte) (string, error) {
	if len(iv) != IVSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCryptoFailure, IVSize, len(iv))
	}

	var out []byte
	err := c.keys.WithKey(func(key []byte) error {
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		padded := pkcs5Pad([]byte(plaintext), block.BlockSize())
		out = make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: encrypt: %v", ErrCryptoFailure, err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptField reverses EncryptField. It always uses the caller's iv, which
// must be the one stored with the record.
func (c *Codec) DecryptField(ciphertextB64 string, iv []byte) (string, error) {
	if len(iv) != IVSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCryptoFailure, IVSize, len(iv))
	}
	data, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not valid base64", ErrCryptoFailure)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrCryptoFailure, len(data))
	}

	var plain []byte
	err = c.keys.WithKey(func(key []byte) error {
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		buf := make([]byte, len(data))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, data)
		plain, err = pkcs5Unpad(buf, block.BlockSize())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: decrypt: %v", ErrCryptoFailure, err)
	}
	return string(plain), nil
}

var errBadPadding = errors.New("bad padding")

func pkcs5Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs5Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
