// Package telemetry carries the server's outbound observability: custom
// events posted to Application Insights and Prometheus collectors exposed on
// /metrics.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
)

// DefaultIngestionEndpoint is used when the connection string names none.
const DefaultIngestionEndpoint = "https://dc.services.visualstudio.com"

// postTimeout bounds each event post, independent of the caller's request.
const postTimeout = 5 * time.Second

// ConnectionString is the parsed form of an Application Insights
// connection string.
type ConnectionString struct {
	InstrumentationKey string
	IngestionEndpoint  string
}

// ParseConnectionString splits "Key=Value;Key=Value" pairs. Keys are
// matched case-insensitively. A string without an InstrumentationKey is
// an error.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "instrumentationkey":
			cs.InstrumentationKey = strings.TrimSpace(v)
		case "ingestionendpoint":
			cs.IngestionEndpoint = strings.TrimRight(strings.TrimSpace(v), "/")
		}
	}
	if cs.InstrumentationKey == "" {
		return ConnectionString{}, fmt.Errorf("connection string has no InstrumentationKey")
	}
	if cs.IngestionEndpoint == "" {
		cs.IngestionEndpoint = DefaultIngestionEndpoint
	}
	return cs, nil
}

// TrackURL is where events are posted.
func (cs ConnectionString) TrackURL() string {
	return cs.IngestionEndpoint + "/v2/track"
}

type envelope struct {
	Name string            `json:"name"`
	Time string            `json:"time"`
	IKey string            `json:"iKey"`
	Tags map[string]string `json:"tags,omitempty"`
	Data envelopeData      `json:"data"`
}

type envelopeData struct {
	BaseType string    `json:"baseType"`
	BaseData eventData `json:"baseData"`
}

type eventData struct {
	Ver        int               `json:"ver"`
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AppInsightsConfig configures an AppInsights client.
type AppInsightsConfig struct {
	// ConnectionString disables the client when empty or unparseable.
	ConnectionString string
	// RoleName tags every event with cloud role name.
	RoleName string
	HTTP     Doer
	Clock    clock.Clock
	Logger   *zap.Logger
}

// AppInsights posts custom events without blocking the caller. Failures are
// logged at debug level and otherwise dropped.
type AppInsights struct {
	cfg     AppInsightsConfig
	conn    ConnectionString
	enabled bool
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewAppInsights returns a client. It is a no-op when the connection string
// is empty.
func NewAppInsights(cfg AppInsightsConfig) *AppInsights {
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: postTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	a := &AppInsights{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "telemetry")),
	}
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		return a
	}
	conn, err := ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		a.logger.Warn("telemetry disabled", zap.Error(err))
		return a
	}
	a.conn = conn
	a.enabled = true
	return a
}

// Enabled reports whether events are sent anywhere.
func (a *AppInsights) Enabled() bool { return a.enabled }

// Track queues one custom event. It never blocks on the network.
func (a *AppInsights) Track(name string, props map[string]string) {
	if !a.enabled {
		return
	}
	ev := a.envelope(name, props)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		defer cancel()
		if err := a.post(ctx, ev); err != nil {
			a.logger.Debug("telemetry post failed", zap.String("event", name), zap.Error(err))
		}
	}()
}

// Flush waits for queued events or until ctx is done.
func (a *AppInsights) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AppInsights) envelope(name string, props map[string]string) envelope {
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	tags := map[string]string{"ai.operation.id": uuid.NewString()}
	if a.cfg.RoleName != "" {
		tags["ai.cloud.role"] = a.cfg.RoleName
	}
	return envelope{
		Name: "Microsoft.ApplicationInsights." + strings.ReplaceAll(a.conn.InstrumentationKey, "-", "") + ".Event",
		Time: a.cfg.Clock.Now().UTC().Format(time.RFC3339Nano),
		IKey: a.conn.InstrumentationKey,
		Tags: tags,
		Data: envelopeData{
			BaseType: "EventData",
			BaseData: eventData{Ver: 2, Name: name, Properties: copied},
		},
	}
}

func (a *AppInsights) post(ctx context.Context, ev envelope) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.conn.TrackURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion returned HTTP %d", resp.StatusCode)
	}
	return nil
}
