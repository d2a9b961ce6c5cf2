package core

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/internal/crypto"
	"github.com/fedgate/fedgate/internal/frontend"
	"github.com/fedgate/fedgate/internal/host"
	"github.com/fedgate/fedgate/internal/saml"
	"github.com/fedgate/fedgate/internal/store"
)

// BootstrapResult holds the initialized application dependencies.
type BootstrapResult struct {
	Config    *Config
	KeySet    *crypto.KeySet
	Store     *store.SQLite
	Sessions  *store.SessionManager
	Frontends *frontend.Collection
	Caches    *frontend.CacheInvalidator
	Protocol  *saml.Service
	Pages     *host.Pages
}

// Bootstrap wires the application from configuration: logging, signing keys,
// storage, sessions, the frontend registry and the protocol service.
func Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	cfg := LoadConfig()
	configureLogging(cfg)

	keySet, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenSQLite(cfg.DatabasePath, cfg.SigninStateTTL, cfg.LogoutMessageTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.ServiceProvidersPath != "" {
		sps, err := store.LoadServiceProviderConfig(cfg.ServiceProvidersPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load service provider config: %w", err)
		}
		if err := db.SeedServiceProviders(ctx, sps); err != nil {
			return nil, fmt.Errorf("failed to seed service providers: %w", err)
		}
		log.WithField("count", len(sps)).Info("service providers seeded")
	}

	frontends := frontend.NewCollection()
	if cfg.FrontendsPath != "" {
		if err := frontend.Reload(frontends, cfg.FrontendsPath); err != nil {
			return nil, fmt.Errorf("failed to load frontend config: %w", err)
		}
	}
	caches := frontend.NewCacheInvalidator(frontends.Events())

	sessions := store.NewSessionManager(cfg.SecureCookies())
	opts := cfg.ProtocolOptions()

	protocol := saml.NewService(saml.ServiceConfig{
		ServiceProviders: db,
		SigninStates:     db.SigninStates(),
		LogoutMessages:   db.LogoutMessages(),
		Sessions:         sessions,
		Issuer:           issuerService{entityID: cfg.EntityID},
		Signer:           keySet,
		Options:          opts,
		CookieKey:        keySet.RSAPrivateKey(),
		SecureCookies:    cfg.SecureCookies(),
	})

	pages := host.NewPages(host.NewDirectory(), sessions, db, db.LogoutMessages(), protocol.Notifier(), opts)

	return &BootstrapResult{
		Config:    cfg,
		KeySet:    keySet,
		Store:     db,
		Sessions:  sessions,
		Frontends: frontends,
		Caches:    caches,
		Protocol:  protocol,
		Pages:     pages,
	}, nil
}

func configureLogging(cfg *Config) {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if !cfg.IsDevelopment() {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func loadKeys(cfg *Config) (*crypto.KeySet, error) {
	if cfg.SigningKeyPath != "" && cfg.SigningCertPath != "" {
		ks, err := crypto.LoadKeySet(cfg.SigningKeyPath, cfg.SigningCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
		log.Info("signing keys loaded")
		return ks, nil
	}

	ks, err := crypto.NewKeySet(cfg.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing keys: %w", err)
	}
	log.Warn("using ephemeral self-signed signing keys; published metadata changes on every restart")
	return ks, nil
}

// issuerService answers with the configured entity id. Multi-tenant
// deployments can swap in a per-frontend implementation.
type issuerService struct {
	entityID string
}

func (s issuerService) Current(context.Context) (string, error) {
	return s.entityID, nil
}
