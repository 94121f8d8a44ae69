// Package discovery finds candidate Microsoft Graph operations for a
// natural-language query by mining the MS Learn documentation search.
package discovery

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gzhole/graphpower/internal/clock"
	"github.com/gzhole/graphpower/internal/graph"
)

// FallbackNote marks operations served when the docs endpoint failed.
const FallbackNote = "Common endpoint pattern - MS Learn MCP unavailable"

const (
	tipFound = "Call invoke_graph with an endpoint and method from this list. " +
		"Replace any {placeholder} with a real ID first (list the parent collection to find it), " +
		"and make sure the signed-in user has the requiredPermissions."
	tipEmpty = "No Graph endpoints matched. Try a more specific query, or pass a category " +
		"such as mail, calendar, users, groups, teams, or files."
)

// Outcomes reported to a DiscoveryObserver.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeFallback = "fallback"
)

// Searcher runs a documentation search. *DocsClient satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Observer counts discovery outcomes.
type Observer interface {
	ObserveDiscovery(outcome string)
}

// Result is the discover_graph payload.
type Result struct {
	Success        bool        `json:"success"`
	Query          string      `json:"query"`
	Category       string      `json:"category,omitempty"`
	OperationCount int         `json:"operationCount"`
	Operations     []Operation `json:"operations"`
	Tip            string      `json:"tip"`
	Cached         bool        `json:"cached,omitempty"`
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Searcher Searcher
	Clock    clock.Clock
	// CacheTTL defaults to DefaultCacheTTL.
	CacheTTL time.Duration
	// SearchTimeout defaults to DefaultSearchTimeout.
	SearchTimeout time.Duration
	Logger        *zap.Logger
	Observer      Observer
}

// DefaultSearchTimeout bounds a shared documentation search.
const DefaultSearchTimeout = 30 * time.Second

// Engine answers discover_graph. It owns its cache.
type Engine struct {
	searcher      Searcher
	cache         *Cache
	group         singleflight.Group
	searchTimeout time.Duration
	logger        *zap.Logger
	observer      Observer
}

// NewEngine returns an Engine with an empty cache.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	return &Engine{
		searcher:      cfg.Searcher,
		cache:         NewCache(cfg.Clock, cfg.CacheTTL),
		searchTimeout: cfg.SearchTimeout,
		logger:        cfg.Logger.With(zap.String("component", "discovery")),
		observer:      cfg.Observer,
	}
}

// Cache exposes the engine's cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Discover returns candidate operations for query. Docs failures never
// fail the call; they produce the uncached fallback list instead.
func (e *Engine) Discover(ctx context.Context, query, category string) (*Result, error) {
	query = strings.TrimSpace(query)
	category = strings.TrimSpace(category)
	if query == "" {
		return nil, graph.Argf("query is required")
	}

	key := CacheKey(query, category)
	var cached Result
	if e.cache.Get(key, &cached) {
		e.observe(OutcomeHit)
		cached.Cached = true
		return &cached, nil
	}

	// The search is shared by every caller missing on key, so it runs
	// detached from any one caller's cancellation.
	ch := e.group.DoChan(key, func() (interface{}, error) {
		searchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.searchTimeout)
		defer cancel()
		return e.discover(searchCtx, key, query, category), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return cloneResult(r.Val.(*Result)), nil
	}
}

func (e *Engine) discover(ctx context.Context, key, query, category string) *Result {
	search := EnhanceQuery(query, category)

	text, err := e.search(ctx, search)
	if err != nil {
		e.observe(OutcomeFallback)
		e.logger.Warn("docs search failed, serving fallback operations",
			zap.String("query", search),
			zap.Error(err))
		return newResult(query, category, FallbackOperations())
	}

	e.observe(OutcomeMiss)
	ops := Extract(ParsePayload(text))
	result := newResult(query, category, ops)
	if err := e.cache.Set(key, result); err != nil {
		e.logger.Warn("caching discovery result", zap.Error(err))
	}
	e.logger.Debug("discovery complete",
		zap.String("query", search),
		zap.Int("operations", len(ops)))
	return result
}

func (e *Engine) search(ctx context.Context, query string) (string, error) {
	if e.searcher == nil {
		return "", errNoSearcher
	}
	return e.searcher.Search(ctx, query)
}

func (e *Engine) observe(outcome string) {
	if e.observer != nil {
		e.observer.ObserveDiscovery(outcome)
	}
}

type discoveryError string

func (d discoveryError) Error() string { return string(d) }

const errNoSearcher = discoveryError("no documentation searcher configured")

// EnhanceQuery scopes a search to Microsoft Graph, and to a category API
// when one is given.
func EnhanceQuery(query, category string) string {
	if category != "" {
		return "Microsoft Graph " + category + " API " + query
	}
	return "Microsoft Graph " + query
}

func newResult(query, category string, ops []Operation) *Result {
	if ops == nil {
		ops = []Operation{}
	}
	tip := tipFound
	if len(ops) == 0 {
		tip = tipEmpty
	}
	return &Result{
		Success:        true,
		Query:          query,
		Category:       category,
		OperationCount: len(ops),
		Operations:     ops,
		Tip:            tip,
	}
}

// FallbackOperations is served when the docs endpoint is unreachable.
func FallbackOperations() []Operation {
	common := []struct{ endpoint, description string }{
		{"/me", "Get the signed-in user's profile"},
		{"/me/messages", "List the signed-in user's email messages"},
		{"/me/events", "List the signed-in user's calendar events"},
		{"/me/drive/root/children", "List files in the root of the user's OneDrive"},
		{"/users", "List users in the organization"},
		{"/groups", "List groups in the organization"},
		{"/me/joinedTeams", "List the teams the user belongs to"},
	}
	ops := make([]Operation, 0, len(common))
	for _, c := range common {
		ops = append(ops, Operation{
			Endpoint:            c.endpoint,
			Method:              "GET",
			Description:         c.description,
			RequiredPermissions: graph.InferPermissions(c.endpoint, "GET"),
			Note:                FallbackNote,
		})
	}
	return ops
}

// cloneResult deep-copies r so concurrent callers never share slices.
func cloneResult(r *Result) *Result {
	data, err := json.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *r
		return &cp
	}
	return &out
}
