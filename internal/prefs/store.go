// Package prefs loads and saves patient preferences. The portal is the
// sole source of truth; a read-only legacy provider covers clients that
// still hold pre-migration local values.
package prefs

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/domain"
)

// RemoteStore is the portal's preference endpoint. rest.Client
// satisfies it.
type RemoteStore interface {
	Preferences(ctx context.Context) (domain.Preferences, error)
	SavePreferences(ctx context.Context, p domain.Preferences) error
}

// LegacyProvider exposes pre-migration local values. It is read-only
// except for Clear, which drops the values once the remote copy is
// authoritative.
type LegacyProvider interface {
	Preferences() (domain.Preferences, bool)
	Clear()
}

type Store struct {
	Remote RemoteStore
	Legacy LegacyProvider
}

// Load returns the remote preferences, falling back to the legacy
// values only when the remote read fails.
func (s *Store) Load(ctx context.Context) (domain.Preferences, error) {
	p, err := s.Remote.Preferences(ctx)
	if err == nil {
		return p, nil
	}
	if s.Legacy != nil {
		if lp, ok := s.Legacy.Preferences(); ok {
			log.Warn().Err(err).Str("module", "prefs").Msg("remote load failed, using legacy values")
			return lp, nil
		}
	}
	return domain.Preferences{}, err
}

// Save writes through to the portal. A successful save finishes the
// migration by clearing the legacy values.
func (s *Store) Save(ctx context.Context, p domain.Preferences) error {
	if err := s.Remote.SavePreferences(ctx, p); err != nil {
		return err
	}
	if s.Legacy != nil {
		s.Legacy.Clear()
	}
	return nil
}
