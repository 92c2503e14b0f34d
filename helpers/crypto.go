package helpers

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrBadCiphertext = errors.New("bad ciphertext")

// AESEncrypt encrypts plain with AES-CBC and PKCS7 padding and returns it
// as unpadded base64url.
func AESEncrypt(key, iv string, plain []byte) (string, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", err
	}
	if len(iv) != block.BlockSize() {
		return "", errors.New("iv length must equal block size")
	}

	padded := pkcs7Pad(plain, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(iv)).CryptBlocks(out, padded)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// AESDecrypt reverses AESEncrypt. Padded base64url input is accepted too.
func AESDecrypt(key, iv, encoded string) ([]byte, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.New("iv length must equal block size")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, ErrBadCiphertext
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, ErrBadCiphertext
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(iv)).CryptBlocks(out, raw)
	return pkcs7Unpad(out, block.BlockSize())
}

func MD5Hex(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadCiphertext
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrBadCiphertext
		}
	}
	return b[:len(b)-n], nil
}
