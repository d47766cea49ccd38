// Package communicator connects to the temporary builder instance over SSH.
package communicator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a throwaway ed25519 key used for a single build.
type KeyPair struct {
	private ed25519.PrivateKey
	public  ssh.PublicKey
	comment string
}

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return &KeyPair{private: priv, public: sshPub, comment: comment}, nil
}

// AuthorizedKey returns the public key in authorized_keys format.
func (k *KeyPair) AuthorizedKey() []byte {
	return ssh.MarshalAuthorizedKey(k.public)
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (k *KeyPair) Fingerprint() string {
	return ssh.FingerprintSHA256(k.public)
}

// PrivateKeyPEM returns the private key as an OpenSSH PEM block.
func (k *KeyPair) PrivateKeyPEM() ([]byte, error) {
	block, err := ssh.MarshalPrivateKey(k.private, k.comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// Signer returns an ssh.Signer for authenticating with the key.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	return ssh.NewSignerFromKey(k.private)
}

// WritePrivateKey writes the private key to dir/name with mode 0600 and
// returns its path.
func (k *KeyPair) WritePrivateKey(dir, name string) (string, error) {
	data, err := k.PrivateKeyPEM()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}
	return path, nil
}
