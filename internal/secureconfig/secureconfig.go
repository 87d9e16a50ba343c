// Package secureconfig implements an age-encrypted (filippo.io/age)
// secure configuration store: blobs saved through it are encrypted at
// rest and decrypted only in memory. Within this module its only user is
// internal/acme, which stores issued certificates and their private
// keys; the oauth key and the fallback-admin secret are kept in the
// plain configuration. Adapted from the teacher's
// cmd/update-app-certificate/main.go encrypt/decrypt pair and the
// cmd/acme/main.go config.NewSecureConfigAge call site.
package secureconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"filippo.io/age"
	"github.com/goccy/go-json"

	"github.com/caasmo/restinmail/internal/store/sqlitedata"
)

// ErrNotFound is returned by Latest when a scope has never been saved.
var ErrNotFound = errors.New("secureconfig: scope not found")

// Store persists age-encrypted blobs scoped by name, backed by the same
// sqlite Data store the rest of boot uses.
type Store struct {
	data       *sqlitedata.Store
	identities []age.Identity
	recipient  age.Recipient
}

// Open loads the age identity file and wires it to the given Data store.
func Open(identityPath string, data *sqlitedata.Store) (*Store, error) {
	keyData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("secureconfig: read identity file %q: %w", identityPath, err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("secureconfig: parse identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("secureconfig: no identities in %q", identityPath)
	}

	var recipient age.Recipient
	for _, id := range identities {
		if x25519, ok := id.(*age.X25519Identity); ok {
			recipient = x25519.Recipient()
			break
		}
	}
	if recipient == nil {
		return nil, fmt.Errorf("secureconfig: no X25519 identity in %q", identityPath)
	}

	return &Store{data: data, identities: identities, recipient: recipient}, nil
}

// record wraps the age ciphertext with the format/description metadata
// the caller attached at Save time, mirroring the teacher's app_config
// table (content, format, description, created_at columns) without
// requiring a dedicated SQL schema: the envelope travels as the blob
// payload itself.
type record struct {
	Format      string    `json:"format"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Ciphertext  []byte    `json:"ciphertext"`
}

// Save encrypts data and persists it under scope, along with the
// supplied format/description metadata.
func (s *Store) Save(ctx context.Context, scope string, data []byte, format, description string) error {
	out := &bytes.Buffer{}
	w, err := age.Encrypt(out, s.recipient)
	if err != nil {
		return fmt.Errorf("secureconfig: encrypt %q: %w", scope, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("secureconfig: write %q: %w", scope, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("secureconfig: close encryptor %q: %w", scope, err)
	}

	rec := record{Format: format, Description: description, CreatedAt: now(), Ciphertext: out.Bytes()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("secureconfig: encode %q: %w", scope, err)
	}

	return s.data.PutBlob(ctx, latestBlobKey(scope), payload)
}

// Latest decrypts and returns the most recently saved blob for scope.
func (s *Store) Latest(ctx context.Context, scope string) ([]byte, error) {
	payload, ok, err := s.data.GetBlob(ctx, latestBlobKey(scope), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("secureconfig: read %q: %w", scope, err)
	}
	if !ok || len(payload) == 0 {
		return nil, ErrNotFound
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("secureconfig: decode %q: %w", scope, err)
	}

	r, err := age.Decrypt(bytes.NewReader(rec.Ciphertext), s.identities...)
	if err != nil {
		return nil, fmt.Errorf("secureconfig: decrypt %q: %w", scope, err)
	}
	return io.ReadAll(r)
}

func latestBlobKey(scope string) string { return "secureconfig/" + scope + "/latest" }

// now is overridden in tests so CreatedAt can be asserted deterministically.
var now = time.Now
