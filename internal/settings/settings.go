package settings

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/scoutware/scanrelay/pkg/logger"
)

// ErrInvalidEndpoint is returned when a settings update carries an endpoint
// URL that does not parse as an absolute http(s) URL.
var ErrInvalidEndpoint = errors.New("invalid aggregation endpoint URL")

// Settings are the operator-tunable values persisted across restarts: where
// deliveries go and whether payloads are always treated as compact-encoded.
type Settings struct {
	EndpointURL  string `json:"endpoint_url"`
	ForceCompact bool   `json:"force_compact"`
}

// Persister stores settings durably. The service calls it synchronously on
// every accepted update.
type Persister interface {
	SaveSettings(s Settings) error
}

// Service holds the current settings and guards every change behind
// validation, so a malformed endpoint is rejected before any record is
// affected by it.
type Service struct {
	mu      sync.RWMutex
	current Settings
	persist Persister
	logger  *logger.Logger
}

// NewService creates a settings service with the given starting values.
// The initial values are trusted (they come from config defaults or a
// previously validated persisted copy).
func NewService(initial Settings, persist Persister, log *logger.Logger) *Service {
	return &Service{
		current: initial,
		persist: persist,
		logger:  log.Named("settings"),
	}
}

// Current returns the settings as they stand.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// EndpointURL returns the current aggregation endpoint.
func (s *Service) EndpointURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.EndpointURL
}

// ForceCompact reports whether payloads are always treated as
// compact-encoded.
func (s *Service) ForceCompact() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.ForceCompact
}

// Update validates and applies new settings, persisting them on success.
// An empty endpoint is allowed and disables delivery until one is set.
func (s *Service) Update(next Settings) error {
	if err := ValidateEndpointURL(next.EndpointURL); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = next
	if s.persist != nil {
		if err := s.persist.SaveSettings(next); err != nil {
			// The in-memory copy already changed; the next accepted update
			// writes a full snapshot again.
			s.logger.Warn("Failed to persist settings", logger.Error(err))
		}
	}

	s.logger.Info("Settings updated",
		logger.String("endpoint_url", next.EndpointURL),
		logger.Bool("force_compact", next.ForceCompact))
	return nil
}

// ValidateEndpointURL checks that the endpoint is an absolute http or https
// URL with a host. Empty is valid (delivery disabled).
func ValidateEndpointURL(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}
