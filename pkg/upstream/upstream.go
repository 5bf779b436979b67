// Package upstream produces completions from OpenAI-compatible chat
// providers, trying each configured route in order until one succeeds.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/pario-ai/simcache/pkg/config"
	"github.com/pario-ai/simcache/pkg/semcache"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves requested model names to ordered provider+model chains
// and calls them.
type Router struct {
	cfg     *config.Config
	logger  *slog.Logger
	clients map[string]*openai.Client
}

// New creates a Router from the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	clients := make(map[string]*openai.Client, len(cfg.Providers))
	for _, p := range cfg.Providers {
		clientConfig := openai.DefaultConfig(p.APIKey)
		if p.URL != "" {
			clientConfig.BaseURL = strings.TrimRight(p.URL, "/") + "/v1"
		}
		clients[p.Name] = openai.NewClientWithConfig(clientConfig)
	}
	return &Router{cfg: cfg, logger: logger, clients: clients}
}

// Resolve returns an ordered list of routes for the requested model.
// If the model matches a configured route, the route's targets are returned.
// Otherwise, the first provider is used with the original model name.
func (r *Router) Resolve(requestedModel string) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	for _, route := range r.cfg.Routes {
		if route.Model != requestedModel {
			continue
		}
		var routes []Route
		for _, target := range route.Targets {
			provider, ok := providerIndex[target.Provider]
			if !ok {
				continue // skip unknown providers
			}
			model := target.Model
			if model == "" {
				model = requestedModel
			}
			routes = append(routes, Route{Provider: provider, Model: model})
		}
		if len(routes) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", requestedModel)
		}
		return routes, nil
	}

	return []Route{{Provider: r.cfg.Providers[0], Model: requestedModel}}, nil
}

// Complete sends prompt as a single user message along the routes for
// model and returns the first successful reply along with the route used.
func (r *Router) Complete(ctx context.Context, model, prompt string) (string, Route, error) {
	routes, err := r.Resolve(model)
	if err != nil {
		return "", Route{}, err
	}

	var errs []error
	for _, route := range routes {
		resp, err := r.clients[route.Provider.Name].CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: route.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err == nil && len(resp.Choices) == 0 {
			err = errors.New("empty response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", Route{}, ctx.Err()
			}
			r.logger.Warn("upstream failed, trying next",
				"provider", route.Provider.Name,
				"model", route.Model,
				"error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", route.Provider.Name, route.Model, err))
			continue
		}
		return resp.Choices[0].Message.Content, route, nil
	}
	return "", Route{}, fmt.Errorf("all upstreams failed for %q: %w", model, errors.Join(errs...))
}

// Producer returns a semcache.Producer that completes prompt with model.
// The route that answered, possibly a fallback, is written to *used when
// used is non-nil. Callers scope cache records by the primary route from
// Resolve, so a fallback answer is cached under the primary provider.
func (r *Router) Producer(model, prompt string, used *Route) semcache.Producer {
	return func(ctx context.Context) ([]byte, error) {
		content, route, err := r.Complete(ctx, model, prompt)
		if err != nil {
			return nil, err
		}
		if used != nil {
			*used = route
		}
		return []byte(content), nil
	}
}
