package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/policy"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 90 * time.Second

// Client is the ModelClient: a registry of providers guarded by the PHI policy.
type Client struct {
	mu        sync.RWMutex
	providers map[string]Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient registers providers under their Name().
func NewClient(timeout time.Duration, logger *slog.Logger, providers ...Provider) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{providers: map[string]Provider{}, timeout: timeout, logger: logger}
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

// Register adds or replaces a provider.
func (c *Client) Register(p Provider) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.providers[p.Name()] = p
	c.mu.Unlock()
}

// Lookup returns the provider registered under name.
func (c *Client) Lookup(name string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.providers[name]
	return p, ok
}

// Authorize checks that name is registered and that the clearance admits it.
func (c *Client) Authorize(name string, cl Clearance) error {
	if _, ok := c.Lookup(name); !ok {
		return fmt.Errorf("%w: %q is not configured", common.ErrProviderUnavailable, name)
	}
	if policy.IsAllowed(name, cl.AllowExternal, cl.Consent) {
		return nil
	}
	if !cl.AllowExternal {
		return fmt.Errorf("%w: provider %q sends data off-site", common.ErrExternalProcessingDisallowed, name)
	}
	return fmt.Errorf("%w: provider %q", common.ErrConsentRequired, name)
}

// Analyze runs the named provider under the client timeout. The clearance is
// re-checked here so the policy is enforced at the point data leaves the process.
func (c *Client) Analyze(ctx context.Context, name string, req Request, cl Clearance) (RawResult, error) {
	if err := c.Authorize(name, cl); err != nil {
		return RawResult{}, err
	}
	p, _ := c.Lookup(name)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := common.LoggerWith(ctx, c.logger)
	start := time.Now()
	log.Info("llm.analyze.start", "provider", name, "model", p.Model(), "text_len", len(req.Text))

	res, err := p.Analyze(ctx, req)
	if err != nil {
		log.Error("llm.analyze.failed", "provider", name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if errors.Is(err, common.ErrProviderCallFailed) {
			return RawResult{}, err
		}
		return RawResult{}, fmt.Errorf("%w: %s: %w", common.ErrProviderCallFailed, name, err)
	}
	if res.Provider == "" {
		res.Provider = name
	}
	if res.Model == "" {
		res.Model = p.Model()
	}
	log.Info("llm.analyze.ok",
		"provider", name,
		"fallback", res.Fallback,
		"fields", len(res.Fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Providers lists registered providers sorted by name, with Usable reflecting
// whether a consenting upload could run them under the current flag.
func (c *Client) Providers(allowExternal bool) []entity.ProviderInfo {
	c.mu.RLock()
	out := make([]entity.ProviderInfo, 0, len(c.providers))
	for name, p := range c.providers {
		loc := policy.Classify(name)
		out = append(out, entity.ProviderInfo{
			Name:            name,
			Model:           p.Model(),
			Locality:        string(loc),
			RequiresConsent: loc == policy.External,
			Usable:          policy.IsAllowed(name, allowExternal, true),
		})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
