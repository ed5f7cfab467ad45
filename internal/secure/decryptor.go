package secure

import (
	"context"
	"fmt"
	"sync"
)

// KeySource fetches the encoded key, usually from GET /security/encryption-key.
type KeySource func(ctx context.Context) (string, error)

// Decryptor fetches the key once on first use and caches it.
type Decryptor struct {
	source KeySource

	mu  sync.Mutex
	key *Key
}

func NewDecryptor(source KeySource) *Decryptor {
	return &Decryptor{source: source}
}

func (d *Decryptor) loadKey(ctx context.Context) (*Key, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key != nil {
		return d.key, nil
	}
	raw, err := d.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch encryption key: %w", err)
	}
	k, err := ParseKey(raw)
	if err != nil {
		return nil, err
	}
	d.key = k
	return k, nil
}

// DecryptString opens a token and returns the plaintext as a string. A token
// that fails verification drops the cached key so the next call refetches it,
// which covers a backend that rotated its key across a restart.
func (d *Decryptor) DecryptString(ctx context.Context, token string) (string, error) {
	k, err := d.loadKey(ctx)
	if err != nil {
		return "", err
	}
	b, err := k.Decrypt(token, 0)
	if err != nil {
		d.mu.Lock()
		d.key = nil
		d.mu.Unlock()
		return "", err
	}
	return string(b), nil
}
