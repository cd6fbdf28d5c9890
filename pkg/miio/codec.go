package miio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
)

// Codec encrypts and decrypts payloads under a device token. The AES-CBC
// key is MD5(token) and the IV is MD5(key ++ token), both fixed for the
// lifetime of the token.
type Codec struct {
	token []byte
	key   []byte
	iv    []byte
}

// NewCodec derives a codec from the 32-character hex token printed on the
// device or recovered from the cloud directory.
func NewCodec(token string) (*Codec, error) {
	raw, err := hex.DecodeString(token)
	if err != nil || len(raw) != 16 {
		return nil, ErrBadToken
	}
	key := md5.Sum(raw)
	iv := md5.Sum(append(key[:], raw...))
	return &Codec{token: raw, key: key[:], iv: iv[:]}, nil
}

// Token returns the raw token bytes.
func (c *Codec) Token() []byte {
	return c.token
}

// Encrypt pads the plaintext to the AES block size and encrypts it.
func (c *Codec) Encrypt(plain []byte) []byte {
	padded := pkcs7Pad(plain, aes.BlockSize)
	block, err := aes.NewCipher(c.key)
	if err != nil {
		// Key length is fixed by construction.
		panic(err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out
}

// Decrypt reverses Encrypt and strips the padding.
func (c *Codec) Decrypt(enc []byte) ([]byte, error) {
	if len(enc) == 0 || len(enc)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		panic(err)
	}
	plain := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, enc)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-pad], nil
}
