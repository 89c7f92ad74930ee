// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exporter

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealer wraps every NDJSON line in an AES-256-GCM envelope before it is
// handed to gzip. It is only constructed when WithEncryption is used;
// nil-Exporter.sealer means the plain unencrypted format, which is the
// default so existing readers of the trace file format are unaffected.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(passphrase string) *sealer {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("mcp-agent-inspector/trace-export"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		// hkdf.New's Reader only errors on an oversized output request,
		// which a fixed 32-byte key never triggers.
		panic(fmt.Sprintf("exporter: derive encryption key: %v", err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		panic(fmt.Sprintf("exporter: init AES cipher: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("exporter: init GCM: %v", err))
	}
	return &sealer{aead: aead}
}

// seal encrypts plaintext, prefixing the result with a random nonce so
// decryption is self-contained per line.
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a line produced by seal.
func (s *sealer) open(ciphertext []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	return s.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
}
