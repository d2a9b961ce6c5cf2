package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/internal/saml"
)

// LoadServiceProviderConfig reads SP trust configuration from a JSON file:
// an array of SP records with PEM-encoded certificates.
func LoadServiceProviderConfig(path string) ([]*saml.ServiceProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service provider config: %w", err)
	}
	var recs []spRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to parse service provider config: %w", err)
	}
	sps := make([]*saml.ServiceProvider, 0, len(recs))
	for _, rec := range recs {
		sp, err := rec.toServiceProvider()
		if err != nil {
			return nil, err
		}
		sps = append(sps, sp)
	}
	return sps, nil
}

// SeedServiceProviders upserts the given SPs into the trust store.
func (s *SQLite) SeedServiceProviders(ctx context.Context, sps []*saml.ServiceProvider) error {
	for _, sp := range sps {
		if err := s.UpsertServiceProvider(ctx, sp); err != nil {
			return err
		}
		log.WithField("entityId", sp.EntityID).Debug("service provider registered")
	}
	return nil
}
