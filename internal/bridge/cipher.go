package bridge

import (
	"fmt"

	"github.com/fernet/fernet-go"
)

// Cipher encrypts whole frames.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(token []byte) ([]byte, error)
}

// FernetCipher implements Cipher with Fernet tokens (AES-128-CBC with an
// HMAC-SHA256 signature). Tokens never expire.
type FernetCipher struct {
	key  *fernet.Key
	keys []*fernet.Key
}

// NewFernetCipher parses a url-safe base64 encoded 32-byte key.
func NewFernetCipher(key string) (*FernetCipher, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &FernetCipher{key: k, keys: []*fernet.Key{k}}, nil
}

// GenerateKey returns a new random key in the encoding NewFernetCipher
// expects.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}

func (c *FernetCipher) Encrypt(plain []byte) ([]byte, error) {
	return fernet.EncryptAndSign(plain, c.key)
}

func (c *FernetCipher) Decrypt(token []byte) ([]byte, error) {
	plain := fernet.VerifyAndDecrypt(token, -1, c.keys)
	if plain == nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
