package saml

import (
	"fmt"

	"github.com/dchest/uniuri"
)

// NameIDGenerator derives the subject identifier asserted to an SP.
type NameIDGenerator struct {
	opts Options
}

// NewNameIDGenerator builds a generator for the configured format set.
func NewNameIDGenerator(opts Options) *NameIDGenerator {
	return &NameIDGenerator{opts: opts}
}

// ResolveFormat picks the effective NameID format by priority:
// request-requested format, then the SP's configured default, then the
// IdP-global default.
func (g *NameIDGenerator) ResolveFormat(sp *ServiceProvider, requestedFormat string) string {
	if requestedFormat != "" {
		return requestedFormat
	}
	if sp.DefaultNameIDFormat != "" {
		return sp.DefaultNameIDFormat
	}
	return g.opts.DefaultNameIDFormat
}

// Generate mints the NameID for identity under the resolved format. Errors
// here indicate IdP misconfiguration or missing mandatory claims and are
// hard failures, never silently defaulted.
func (g *NameIDGenerator) Generate(identity *Identity, sp *ServiceProvider, requestedFormat string) (*NameID, error) {
	format := g.ResolveFormat(sp, requestedFormat)

	switch format {
	case NameIDFormatEmail:
		email := identity.Claim("email")
		if email == "" {
			return nil, fmt.Errorf("subject %q has no email claim required by format %s", identity.SubjectID, format)
		}
		return &NameID{Format: format, Value: email}, nil

	case NameIDFormatPersistent:
		claimType := sp.PersistentNameIDClaimType
		if claimType == "" {
			return nil, fmt.Errorf("service provider %q has no persistent NameID claim type configured", sp.EntityID)
		}
		value := identity.Claim(claimType)
		if value == "" {
			return nil, fmt.Errorf("subject %q has no %q claim required for persistent NameID", identity.SubjectID, claimType)
		}
		return &NameID{
			Format:          format,
			Value:           value,
			SPNameQualifier: sp.EntityID,
		}, nil

	case NameIDFormatTransient:
		return &NameID{Format: format, Value: uniuri.NewLen(24)}, nil

	default:
		return &NameID{Format: format, Value: identity.SubjectID}, nil
	}
}
