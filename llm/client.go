package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler performs one completion call.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps a completion call. It calls next to continue down the
// chain and may inspect or replace the request and response.
type Middleware func(ctx context.Context, req Request, next Handler) (*Response, error)

// Client routes requests to registered provider adapters through a
// middleware chain. It satisfies the agent's completer interface.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.providers[name] = adapter }
}

// WithDefaultProvider names the provider used when a request has none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithMiddleware appends middleware. The first registered runs outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// NewClient creates a Client. With exactly one provider and no explicit
// default, that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds adapter after construction. The first provider
// registered on a client without a default becomes the default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// route picks the adapter for req: the request's own provider, then the
// default, then the provider the model catalog lists for req.Model.
func (c *Client) route(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &Error{Kind: KindConfiguration, Message: "no provider given and no default configured"}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &Error{Kind: KindConfiguration, Provider: name, Message: "provider is not registered"}
	}
	return adapter, nil
}

// Complete sends req through the middleware chain to its provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.route(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	h := Handler(adapter.Complete)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw, next := c.middleware[i], h
		h = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return h(ctx, req)
}

// Close closes every adapter that holds resources and returns their
// errors joined.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for name, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LoggingMiddleware logs every completion with its latency and token usage.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			logger.WarnContext(ctx, "completion failed",
				"provider", req.Provider,
				"model", req.Model,
				"kind", KindOf(err),
				"duration_ms", elapsed,
				"error", err,
			)
			return nil, err
		}
		logger.DebugContext(ctx, "completion",
			"provider", resp.Provider,
			"model", resp.Model,
			"duration_ms", elapsed,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"tool_calls", len(resp.Message.ToolCalls),
		)
		return resp, nil
	}
}
