package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/fedgate/fedgate/internal/crypto"
	"github.com/fedgate/fedgate/internal/saml"
)

const schema = `
CREATE TABLE IF NOT EXISTS service_providers (
	entity_id TEXT PRIMARY KEY,
	config    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS signin_states (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS logout_messages (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLite backs the SP trust store and both single-use state stores with one
// database file. In production deployments the state stores would live in a
// distributed cache; the interface seam is the same either way.
type SQLite struct {
	db        *sql.DB
	signinTTL time.Duration
	logoutTTL time.Duration
	now       func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. now is
// overridable for tests; nil means time.Now.
func OpenSQLite(path string, signinTTL, logoutTTL time.Duration, now func() time.Time) (*SQLite, error) {
	if now == nil {
		now = time.Now
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db, signinTTL: signinTTL, logoutTTL: logoutTTL, now: now}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// StartJanitor launches a background sweep for expired state rows. The
// destructive reads already ignore expired rows; the sweep only reclaims
// space from abandoned flows.
func (s *SQLite) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := s.now().UnixMilli()
				for _, table := range []string{"signin_states", "logout_messages"} {
					if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at <= ?", cutoff); err != nil {
						log.WithError(err).WithField("table", table).Warn("state cleanup failed")
					}
				}
			}
		}
	}()
}

// ============================================================================
// Service Provider Store
// ============================================================================

// spRecord is the JSON shape persisted per SP; certificates travel as PEM.
type spRecord struct {
	EntityID                     string   `json:"entityId"`
	Enabled                      bool     `json:"enabled"`
	AssertionConsumerServiceURLs []string `json:"assertionConsumerServiceUrls"`
	SingleLogoutServiceURL       string   `json:"singleLogoutServiceUrl,omitempty"`
	SingleLogoutServiceBinding   string   `json:"singleLogoutServiceBinding,omitempty"`
	SigningCertificatesPEM       []string `json:"signingCertificates,omitempty"`
	RequireSignedAuthnRequests   bool     `json:"requireSignedAuthnRequests"`
	AllowIdpInitiated            bool     `json:"allowIdpInitiated"`
	RequireConsent               bool     `json:"requireConsent"`
	DefaultNameIDFormat          string   `json:"defaultNameIdFormat,omitempty"`
	PersistentNameIDClaimType    string   `json:"persistentNameIdClaimType,omitempty"`
	ClockSkewSeconds             int      `json:"clockSkewSeconds,omitempty"`
}

func toRecord(sp *saml.ServiceProvider) spRecord {
	rec := spRecord{
		EntityID:                     sp.EntityID,
		Enabled:                      sp.Enabled,
		AssertionConsumerServiceURLs: sp.AssertionConsumerServiceURLs,
		SingleLogoutServiceURL:       sp.SingleLogoutServiceURL,
		SingleLogoutServiceBinding:   sp.SingleLogoutServiceBinding,
		RequireSignedAuthnRequests:   sp.RequireSignedAuthnRequests,
		AllowIdpInitiated:            sp.AllowIdpInitiated,
		RequireConsent:               sp.RequireConsent,
		DefaultNameIDFormat:          sp.DefaultNameIDFormat,
		PersistentNameIDClaimType:    sp.PersistentNameIDClaimType,
		ClockSkewSeconds:             int(sp.ClockSkew.Seconds()),
	}
	for _, cert := range sp.SigningCertificates {
		rec.SigningCertificatesPEM = append(rec.SigningCertificatesPEM, string(pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		})))
	}
	return rec
}

func (rec spRecord) toServiceProvider() (*saml.ServiceProvider, error) {
	sp := &saml.ServiceProvider{
		EntityID:                     rec.EntityID,
		Enabled:                      rec.Enabled,
		AssertionConsumerServiceURLs: rec.AssertionConsumerServiceURLs,
		SingleLogoutServiceURL:       rec.SingleLogoutServiceURL,
		SingleLogoutServiceBinding:   rec.SingleLogoutServiceBinding,
		RequireSignedAuthnRequests:   rec.RequireSignedAuthnRequests,
		AllowIdpInitiated:            rec.AllowIdpInitiated,
		RequireConsent:               rec.RequireConsent,
		DefaultNameIDFormat:          rec.DefaultNameIDFormat,
		PersistentNameIDClaimType:    rec.PersistentNameIDClaimType,
		ClockSkew:                    time.Duration(rec.ClockSkewSeconds) * time.Second,
	}
	for _, certPEM := range rec.SigningCertificatesPEM {
		cert, err := crypto.ParseCertificatePEM([]byte(certPEM))
		if err != nil {
			return nil, fmt.Errorf("service provider %q: %w", rec.EntityID, err)
		}
		sp.SigningCertificates = append(sp.SigningCertificates, cert)
	}
	return sp, nil
}

// UpsertServiceProvider inserts or replaces an SP's trust configuration.
func (s *SQLite) UpsertServiceProvider(ctx context.Context, sp *saml.ServiceProvider) error {
	if sp.EntityID == "" {
		return fmt.Errorf("service provider has no entity id")
	}
	payload, err := json.Marshal(toRecord(sp))
	if err != nil {
		return fmt.Errorf("failed to serialize service provider: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO service_providers (entity_id, config) VALUES (?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET config = excluded.config`,
		sp.EntityID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to store service provider: %w", err)
	}
	return nil
}

// FindByEntityID implements saml.ServiceProviderStore.
func (s *SQLite) FindByEntityID(ctx context.Context, entityID string) (*saml.ServiceProvider, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT config FROM service_providers WHERE entity_id = ?", entityID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load service provider: %w", err)
	}
	var rec spRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("corrupt service provider record %q: %w", entityID, err)
	}
	return rec.toServiceProvider()
}

// All implements saml.ServiceProviderStore.
func (s *SQLite) All(ctx context.Context) ([]*saml.ServiceProvider, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT config FROM service_providers ORDER BY entity_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list service providers: %w", err)
	}
	defer rows.Close()

	var sps []*saml.ServiceProvider
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec spRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("corrupt service provider record: %w", err)
		}
		sp, err := rec.toServiceProvider()
		if err != nil {
			return nil, err
		}
		sps = append(sps, sp)
	}
	return sps, rows.Err()
}

// ============================================================================
// Single-Use State Stores
// ============================================================================

// SigninStates exposes the signin-state store backed by this database.
func (s *SQLite) SigninStates() saml.SigninStateStore {
	return &stateTable[saml.SigninState]{db: s.db, table: "signin_states", ttl: s.signinTTL, now: s.now}
}

// LogoutMessages exposes the logout-message store backed by this database.
func (s *SQLite) LogoutMessages() saml.LogoutMessageStore {
	return &stateTable[saml.LogoutMessage]{db: s.db, table: "logout_messages", ttl: s.logoutTTL, now: s.now}
}

// stateTable is the shared single-use keyed-record implementation. Take
// deletes the row in the same transaction as the read, so a replayed id
// finds nothing regardless of caller discipline.
type stateTable[T any] struct {
	db    *sql.DB
	table string
	ttl   time.Duration
	now   func() time.Time
}

func (t *stateTable[T]) Store(ctx context.Context, value *T) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize state: %w", err)
	}
	id := uuid.NewString()
	expires := t.now().Add(t.ttl).UnixMilli()
	_, err = t.db.ExecContext(ctx,
		"INSERT INTO "+t.table+" (id, payload, expires_at) VALUES (?, ?, ?)",
		id, string(payload), expires)
	if err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}
	return id, nil
}

func (t *stateTable[T]) Peek(ctx context.Context, id string) (*T, error) {
	var payload string
	var expiresAt int64
	err := t.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM "+t.table+" WHERE id = ?", id).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if expiresAt <= t.now().UnixMilli() {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, fmt.Errorf("corrupt state record %q: %w", id, err)
	}
	return &value, nil
}

func (t *stateTable[T]) Take(ctx context.Context, id string) (*T, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM "+t.table+" WHERE id = ?", id).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit state read: %w", err)
	}

	if expiresAt <= t.now().UnixMilli() {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, fmt.Errorf("corrupt state record %q: %w", id, err)
	}
	return &value, nil
}
