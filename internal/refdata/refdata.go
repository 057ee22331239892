// Package refdata supplies the read-only mode and map catalog that drives
// generation of mode buttons and map items.
package refdata

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/config"
	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

//go:embed reference.yaml
var embeddedReference []byte

type catalog struct {
	Modes []domain.Mode `yaml:"modes"`
	Maps  []domain.Map  `yaml:"maps"`
}

// Parse decodes a YAML catalog of modes and maps.
func Parse(raw []byte) (*domain.ReferenceData, error) {
	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse reference data: %w", err)
	}
	return Build(c.Modes, c.Maps)
}

// Embedded returns the catalog compiled into the binary.
func Embedded() (*domain.ReferenceData, error) {
	return Parse(embeddedReference)
}

// Build indexes modes and maps by id, keeping the given order for display.
func Build(modes []domain.Mode, maps []domain.Map) (*domain.ReferenceData, error) {
	ref := &domain.ReferenceData{
		Modes: make(map[string]domain.Mode, len(modes)),
		Maps:  make(map[string]domain.Map, len(maps)),
	}
	for _, m := range modes {
		if m.ID == "" {
			return nil, fmt.Errorf("mode %q has no id", m.Name)
		}
		if _, dup := ref.Modes[m.ID]; dup {
			return nil, fmt.Errorf("duplicate mode id %q", m.ID)
		}
		ref.Modes[m.ID] = m
		ref.ModeOrder = append(ref.ModeOrder, m.ID)
	}
	for _, m := range maps {
		if m.ID == "" {
			return nil, fmt.Errorf("map %q has no id", m.Name)
		}
		if _, dup := ref.Maps[m.ID]; dup {
			return nil, fmt.Errorf("duplicate map id %q", m.ID)
		}
		ref.Maps[m.ID] = m
		ref.MapOrder = append(ref.MapOrder, m.ID)
	}
	return ref, nil
}

type fetcher interface {
	Configured() bool
	GetModes(ctx context.Context) (*api.ModesResponse, error)
	GetMaps(ctx context.Context) (*api.MapsResponse, error)
}

// Provider fetches the catalog from the remote API and caches it for ttl.
// Without a remote it serves the embedded catalog.
type Provider struct {
	client fetcher
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	cached    *domain.ReferenceData
	fetchedAt time.Time
}

func NewProvider(client *api.Client, cfg *config.Config, logger zerolog.Logger) *Provider {
	return newProvider(client, cfg.CacheTTL, logger)
}

func newProvider(client fetcher, ttl time.Duration, logger zerolog.Logger) *Provider {
	return &Provider{client: client, ttl: ttl, logger: logger}
}

func (p *Provider) Get(ctx context.Context) (*domain.ReferenceData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	ref, err := p.load(ctx)
	if err != nil {
		if p.cached != nil {
			p.logger.Warn().Err(err).Msg("reference refresh failed, serving stale catalog")
			return p.cached, nil
		}
		return nil, err
	}

	p.cached = ref
	p.fetchedAt = time.Now()
	p.logger.Info().
		Int("modes", len(ref.Modes)).
		Int("maps", len(ref.Maps)).
		Msg("reference data loaded")
	return ref, nil
}

func (p *Provider) load(ctx context.Context) (*domain.ReferenceData, error) {
	if p.client == nil || !p.client.Configured() {
		return Embedded()
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	var modes *api.ModesResponse
	var maps *api.MapsResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		modes, err = p.client.GetModes(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch modes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		maps, err = p.client.GetMaps(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch maps: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Build(modes.Modes, maps.Maps)
}
