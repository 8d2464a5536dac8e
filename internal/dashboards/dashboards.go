package dashboards

import (
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/pkg/config"
)

const (
	// DefaultWindow is the time range shown when none is configured
	DefaultWindow = 30 * time.Minute

	// DefaultHeight is the embed height in pixels when none is configured
	DefaultHeight = 400
)

// Dashboard is a Grafana dashboard link with its time range applied
type Dashboard struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Height int    `json:"height"`
}

// Provider produces dashboard links ending at the current time
type Provider struct {
	dashboards []config.DashboardConfig
	window     time.Duration
	now        func() time.Time
}

// NewProvider creates a provider for the configured dashboards
func NewProvider(dashboards []config.DashboardConfig, window time.Duration) *Provider {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Provider{
		dashboards: dashboards,
		window:     window,
		now:        time.Now,
	}
}

// List returns every dashboard with from/to set to the trailing window
func (p *Provider) List() []Dashboard {
	now := p.now()
	out := make([]Dashboard, 0, len(p.dashboards))
	for _, d := range p.dashboards {
		height := d.Height
		if height <= 0 {
			height = DefaultHeight
		}
		out = append(out, Dashboard{
			Name:   d.Name,
			URL:    WithTimeRange(d.URL, now.Add(-p.window), now),
			Height: height,
		})
	}
	return out
}

// WithTimeRange sets the from and to query parameters in epoch milliseconds.
// Empty or unparseable URLs are returned unchanged.
func WithTimeRange(rawURL string, from, to time.Time) string {
	if rawURL == "" {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("Skipping time range for unparseable dashboard URL")
		return rawURL
	}

	query := u.Query()
	query.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	query.Set("to", strconv.FormatInt(to.UnixMilli(), 10))
	u.RawQuery = query.Encode()
	return u.String()
}
