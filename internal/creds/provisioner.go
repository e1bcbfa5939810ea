// Package creds assembles optional extra environment variables for spawned
// shells from a secret store. Injection is off unless explicitly enabled in
// configuration or by the PERCH_INJECT_CREDENTIALS override; values are never
// logged.
package creds

import (
	"context"
	"log/slog"

	"github.com/viant/scy"

	"github.com/perchlabs/perch/internal/config"
)

// Loader fetches one secret value. The default implementation goes through
// viant/scy; tests substitute a stub.
type Loader func(ctx context.Context, sourceURL, key string) (string, error)

// Provisioner resolves configured credential providers into env var values.
type Provisioner struct {
	enabled   bool
	providers []config.ProviderConfig
	load      Loader
	log       *slog.Logger
}

// New builds a provisioner backed by a scy secret service.
func New(cfg config.CredentialsConfig) *Provisioner {
	svc := scy.New()
	return &Provisioner{
		enabled:   cfg.Inject,
		providers: cfg.Providers,
		load: func(ctx context.Context, sourceURL, key string) (string, error) {
			secret, err := svc.Load(ctx, scy.NewResource(nil, sourceURL, key))
			if err != nil {
				return "", err
			}
			return secret.String(), nil
		},
		log: slog.Default().With("component", "creds"),
	}
}

// NewWithLoader builds a provisioner with a custom loader, for tests.
func NewWithLoader(cfg config.CredentialsConfig, load Loader) *Provisioner {
	return &Provisioner{
		enabled:   cfg.Inject,
		providers: cfg.Providers,
		load:      load,
		log:       slog.Default().With("component", "creds"),
	}
}

// Enabled reports whether injection is switched on.
func (p *Provisioner) Enabled() bool { return p.enabled }

// Names lists the configured provider names, for the informational field in
// create replies. Available regardless of the injection gate.
func (p *Provisioner) Names() []string {
	names := make([]string, 0, len(p.providers))
	for _, prov := range p.providers {
		name := prov.Name
		if name == "" {
			name = prov.Env
		}
		names = append(names, name)
	}
	return names
}

// All loads every provider and returns env var name to value. Returns nil
// when injection is disabled. A provider that fails to load is skipped with a
// log line naming the provider, never the value.
func (p *Provisioner) All(ctx context.Context) map[string]string {
	if !p.enabled || len(p.providers) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.providers))
	for _, prov := range p.providers {
		value, err := p.load(ctx, prov.SourceURL, prov.Key)
		if err != nil {
			p.log.Warn("credential load failed", "provider", prov.Name, "env", prov.Env, "err", err)
			continue
		}
		if value == "" {
			continue
		}
		out[prov.Env] = value
	}
	return out
}
