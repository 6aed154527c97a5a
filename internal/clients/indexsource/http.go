package indexsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// HTTPSource fetches the composition as JSON from a URL.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	logger     *common.Logger
}

// Option configures the HTTP source
type Option func(*HTTPSource)

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.httpClient.Timeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(s *HTTPSource) {
		s.logger = logger
	}
}

// NewHTTPSource creates a source reading url
func NewHTTPSource(url string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type compositionPayload struct {
	TotalMarketValue float64 `json:"total_market_value"`
	LastUpdated      string  `json:"last_updated"`
	Holdings         []struct {
		Symbol string  `json:"symbol"`
		Name   string  `json:"name"`
		Weight float64 `json:"weight"`
		Sector string  `json:"sector"`
	} `json:"holdings"`
}

// FetchComposition downloads and validates the composition
func (s *HTTPSource) FetchComposition(ctx context.Context) (*models.Composition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch composition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("composition feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload compositionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode composition: %w", err)
	}
	if len(payload.Holdings) == 0 {
		return nil, fmt.Errorf("composition feed returned no holdings")
	}

	comp := &models.Composition{
		TotalMarketValue: payload.TotalMarketValue,
		LastUpdated:      time.Now(),
		Holdings:         make([]*models.IndexHolding, 0, len(payload.Holdings)),
	}
	if t, err := time.Parse(time.RFC3339, payload.LastUpdated); err == nil {
		comp.LastUpdated = t
	}
	for _, h := range payload.Holdings {
		if h.Symbol == "" || h.Weight <= 0 {
			s.logger.Warn().Str("symbol", h.Symbol).Float64("weight", h.Weight).Msg("Skipping invalid composition row")
			continue
		}
		comp.Holdings = append(comp.Holdings, &models.IndexHolding{
			Symbol: strings.ToUpper(h.Symbol),
			Name:   h.Name,
			Weight: h.Weight,
			Sector: h.Sector,
		})
	}
	if len(comp.Holdings) == 0 {
		return nil, fmt.Errorf("composition feed returned no valid holdings")
	}
	return comp, nil
}

var _ interfaces.CompositionSource = (*HTTPSource)(nil)
