package provider

import (
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/provider/adapters"
	"github.com/kwachapay/kwachapay/internal/provider/adapters/airtel"
	"github.com/kwachapay/kwachapay/internal/provider/adapters/mtn"
	"github.com/kwachapay/kwachapay/internal/provider/domain"
)

// Directory holds one constructed adapter per configured provider.
type Directory struct {
	adapters map[string]domain.Adapter
}

func (d *Directory) Adapter(provider string) (domain.Adapter, error) {
	if d == nil {
		return nil, domain.ErrUnknownProvider
	}
	adapter, ok := d.adapters[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return adapter, nil
}

func (d *Directory) Exists(provider string) bool {
	_, err := d.Adapter(provider)
	return err == nil
}

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(mtn.Factory{}, airtel.Factory{})
}

func NewDirectory(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (*Directory, error) {
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	baseURLs := map[string]string{
		mtn.ProviderName:    cfg.MTNBaseURL,
		airtel.ProviderName: cfg.AirtelBaseURL,
	}
	dir := &Directory{adapters: map[string]domain.Adapter{}}
	for _, name := range registry.Providers() {
		baseURL := baseURLs[name]
		if baseURL == "" {
			log.Warn("provider base url not configured, skipping", zap.String("provider", name))
			continue
		}
		adapter, err := registry.NewAdapter(name, domain.AdapterConfig{
			BaseURL: baseURL,
			Timeout: cfg.ProviderTimeout,
			Client:  client,
		})
		if err != nil {
			return nil, err
		}
		dir.adapters[name] = adapter
	}
	return dir, nil
}

var Module = fx.Module("provider",
	fx.Provide(
		NewRegistry,
		NewDirectory,
	),
)
