// Package builtin provides the stock tools used by the research pipeline:
// web search and page reading for research, arithmetic and descriptive
// statistics for analysis, and text metrics for writing.
package builtin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/martinemde/observagent/tools"
)

// Tool categories used by the pipeline stages.
const (
	CategoryResearch = "research"
	CategoryAnalysis = "analysis"
	CategoryWriting  = "writing"
)

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultMaxResults     = 5
	defaultMaxPageChars   = 10000
	userAgent             = "Mozilla/5.0 (compatible; observagent/1.0)"
)

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

type options struct {
	client         *http.Client
	searchEndpoint string
	maxPageChars   int
	allowPrivate   bool
	lookup         LookupFunc
	logger         *slog.Logger
}

// Option configures the built-in tools.
type Option func(*options)

// WithHTTPClient sets the client used by the web tools.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithSearchEndpoint points search_web at a different DuckDuckGo-compatible
// HTML endpoint.
func WithSearchEndpoint(url string) Option {
	return func(o *options) { o.searchEndpoint = url }
}

// WithMaxPageChars bounds the text returned by read_webpage.
func WithMaxPageChars(n int) Option {
	return func(o *options) { o.maxPageChars = n }
}

// WithAllowPrivateHosts disables the private-network check on URLs.
// Only meant for tests against local servers.
func WithAllowPrivateHosts(allow bool) Option {
	return func(o *options) { o.allowPrivate = allow }
}

// WithLookup replaces DNS resolution used by the URL check.
func WithLookup(fn LookupFunc) Option {
	return func(o *options) { o.lookup = fn }
}

// WithLogger sets the logger for the web tools.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Register adds every built-in tool to reg.
func Register(reg *tools.Registry, opts ...Option) error {
	o := &options{
		client:         &http.Client{Timeout: 10 * time.Second},
		searchEndpoint: defaultSearchEndpoint,
		maxPageChars:   defaultMaxPageChars,
		lookup:         net.DefaultResolver.LookupIPAddr,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	w := &web{opts: o}
	client := *o.client
	client.CheckRedirect = w.checkRedirect
	o.client = &client
	registrations := []struct {
		d  tools.Descriptor
		fn tools.Func
	}{
		{searchWebDescriptor, w.searchWeb},
		{readWebpageDescriptor, w.readWebpage},
		{calculateDescriptor, calculate},
		{describeNumbersDescriptor, describeNumbers},
		{wordCountDescriptor, wordCount},
	}
	for _, r := range registrations {
		if err := reg.Register(r.d, r.fn); err != nil {
			return err
		}
	}
	return nil
}
