package license

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/scrypt"
)

// schemaVersion tags the persisted record format. Records with any other
// version are treated as no cache at all.
const schemaVersion = 1

// signingSalt is the fixed salt for deriving the record signing key from
// the machine fingerprint. The signature detects accidental corruption and
// casual tampering; it is not a DRM boundary.
const signingSalt = "codecontext-license-record-v1"

// record is the on-disk envelope around the entitlement
type record struct {
	SchemaVersion int         `json:"schema_version"`
	Entitlement   Entitlement `json:"entitlement"`
	CachedAt      time.Time   `json:"cached_at"`
	Signature     string      `json:"signature,omitempty"`
}

// Store persists the entitlement to a single versioned file. The store is
// the exclusive writer of that file; writes are atomic so a concurrent
// reader never observes a partial record.
type Store struct {
	path       string
	signingKey []byte
	logger     *slog.Logger
}

// NewStore creates a store writing to path, signing records with a key
// derived from the machine fingerprint digest.
func NewStore(path, fingerprintDigest string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	key, err := scrypt.Key([]byte(fingerprintDigest), []byte(signingSalt), 1<<14, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &Store{
		path:       path,
		signingKey: key,
		logger:     logger.With(slog.String("component", "license_store")),
	}, nil
}

// Path returns the cache file location
func (s *Store) Path() string {
	return s.path
}

// Save writes the entitlement durably. The write goes to a temp file in the
// same directory followed by a rename, so concurrent readers see either the
// old record or the new one, never a partial write.
func (s *Store) Save(ctx context.Context, ent Entitlement) error {
	rec := record{
		SchemaVersion: schemaVersion,
		Entitlement:   ent,
		CachedAt:      time.Now(),
	}
	rec.Signature = s.sign(rec)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write license record: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace license record: %w", err)
	}

	s.logger.InfoContext(ctx, "license record saved",
		slog.String("path", s.path),
		slog.Int("size_bytes", len(data)),
		slog.String("key_masked", maskLicenseKey(ent.Key)),
	)

	return nil
}

// Load reads the persisted entitlement. A missing file returns (nil, nil).
// A record that fails the version, parse, or signature check is removed and
// reported as no cache - fail-safe, not fail-loud.
func (s *Store) Load(ctx context.Context) (*Entitlement, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read license record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.discardCorrupt(ctx, "parse_failure", err.Error())
		return nil, nil
	}

	if rec.SchemaVersion != schemaVersion {
		s.discardCorrupt(ctx, "schema_mismatch",
			fmt.Sprintf("record version %d, expected %d", rec.SchemaVersion, schemaVersion))
		return nil, nil
	}

	expected := s.sign(rec)
	if !hmac.Equal([]byte(expected), []byte(rec.Signature)) {
		s.discardCorrupt(ctx, "signature_mismatch", "record signature does not match")
		return nil, nil
	}

	s.logger.DebugContext(ctx, "license record loaded",
		slog.String("path", s.path),
		slog.String("key_masked", maskLicenseKey(rec.Entitlement.Key)),
		slog.Bool("active", rec.Entitlement.Active),
		slog.Time("cached_at", rec.CachedAt),
	)

	ent := rec.Entitlement
	return &ent, nil
}

// Delete removes the cache file if present
func (s *Store) Delete(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove license record: %w", err)
	}
	if err == nil {
		s.logger.InfoContext(ctx, "license record removed", slog.String("path", s.path))
	}
	return nil
}

// discardCorrupt removes a record that failed an integrity check so it does
// not repeatedly fail on every startup
func (s *Store) discardCorrupt(ctx context.Context, check, detail string) {
	s.logger.WarnContext(ctx, "discarding corrupt license record",
		slog.String("path", s.path),
		slog.String("failed_check", check),
		slog.String("detail", detail),
	)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.ErrorContext(ctx, "failed to remove corrupt license record",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}
}

// sign computes the HMAC-SHA256 signature over the record's stable fields
func (s *Store) sign(rec record) string {
	payload := struct {
		SchemaVersion int         `json:"schema_version"`
		Entitlement   Entitlement `json:"entitlement"`
		CachedAt      time.Time   `json:"cached_at"`
	}{rec.SchemaVersion, rec.Entitlement, rec.CachedAt}

	data, err := json.Marshal(payload)
	if err != nil {
		// Entitlement contains only marshalable fields; reaching this is a
		// programming error.
		panic(fmt.Sprintf("license record not marshalable: %v", err))
	}

	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
