// Package credential resolves the Graph bearer token for CLI-driven calls.
// The HTTP transport never uses it: there the caller's Authorization header
// is forwarded as received.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
)

// GraphScope is the .default scope for Microsoft Graph.
const GraphScope = "https://graph.microsoft.com/.default"

// EnvToken names the environment variable holding a ready-made token.
const EnvToken = "GRAPH_TOKEN"

// refreshMargin is how long before expiry a cached token is replaced.
const refreshMargin = 5 * time.Minute

// ErrNoCredential means every source was tried and none produced a token.
var ErrNoCredential = errors.New("no Graph credential available: pass --token, set GRAPH_TOKEN, or sign in with az login")

// SecretReader prompts for a token. *approval.Prompter satisfies it.
type SecretReader interface {
	ReadSecret(label string) (string, error)
}

// Config lists the token sources, tried in field order.
type Config struct {
	// Token is an explicit token (--token flag).
	Token string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Azure is tried when no static token is set.
	Azure azcore.TokenCredential
	// Prompt is the last resort.
	Prompt SecretReader
	Clock  clock.Clock
	Logger *zap.Logger
}

// Resolver produces "Bearer <token>" values. It implements
// mcp.AuthorizationSource and is safe for concurrent use.
type Resolver struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewResolver returns a Resolver with defaults applied to cfg.
func NewResolver(cfg Config) *Resolver {
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "credential"))}
}

// DefaultAzureCredential builds the azidentity chain (environment, workload
// identity, managed identity, Azure CLI, azd).
func DefaultAzureCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	return cred, nil
}

// Authorization returns the Authorization header value.
func (r *Resolver) Authorization(ctx context.Context) (string, error) {
	if tok := bare(r.cfg.Token); tok != "" {
		return "Bearer " + tok, nil
	}
	if tok := bare(r.cfg.Getenv(EnvToken)); tok != "" {
		return "Bearer " + tok, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" && (r.expires.IsZero() || r.cfg.Clock.Now().Before(r.expires.Add(-refreshMargin))) {
		return "Bearer " + r.cached, nil
	}

	var azErr error
	if r.cfg.Azure != nil {
		tok, err := r.cfg.Azure.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{GraphScope}})
		if err == nil && tok.Token != "" {
			r.cached, r.expires = tok.Token, tok.ExpiresOn
			r.logger.Debug("acquired Graph token from Azure credential", zap.Time("expires", tok.ExpiresOn))
			return "Bearer " + tok.Token, nil
		}
		azErr = err
		r.logger.Debug("Azure credential unavailable", zap.Error(err))
	}

	if r.cfg.Prompt != nil {
		secret, err := r.cfg.Prompt.ReadSecret("Graph access token")
		if err == nil {
			if tok := bare(secret); tok != "" {
				// Prompted tokens carry no expiry; keep them for the session.
				r.cached, r.expires = tok, time.Time{}
				return "Bearer " + tok, nil
			}
		}
	}

	if azErr != nil {
		return "", fmt.Errorf("%w (Azure: %v)", ErrNoCredential, azErr)
	}
	return "", ErrNoCredential
}

// bare strips whitespace and an optional "Bearer " prefix.
func bare(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
