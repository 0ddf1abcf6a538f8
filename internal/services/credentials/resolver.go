package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/itadmit/quickshopcrm-sub010/internal/integrations/carrier"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/pkg/errors"
)

const (
	ReasonNotConfigured = "not_configured"
	ReasonIncomplete    = "incomplete"
	ReasonAmbiguous     = "ambiguous"
)

var ErrConfiguration = errors.New("shipping provider configuration error")

// ConfigurationError means the tenant's integration for a provider cannot be used.
type ConfigurationError struct {
	CompanyID string
	Provider  carrier.ProviderID
	Reason    string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s integration %s for company %s", e.Provider, strings.ReplaceAll(e.Reason, "_", " "), e.CompanyID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

type IntegrationStore interface {
	ListActiveIntegrations(ctx context.Context, companyID, integrationType string) ([]*models.Integration, error)
}

// Resolver turns a tenant's stored integration into typed carrier credentials.
type Resolver struct {
	store IntegrationStore
}

func New(store IntegrationStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the credentials of the single active integration of the
// given provider. It never writes.
func (r *Resolver) Resolve(ctx context.Context, companyID string, provider carrier.ProviderID) (carrier.Credentials, error) {
	list, err := r.store.ListActiveIntegrations(ctx, companyID, string(provider))
	if err != nil {
		return carrier.Credentials{}, errors.Wrap(err, "list integrations")
	}

	cfgErr := func(reason, detail string) error {
		return &ConfigurationError{CompanyID: companyID, Provider: provider, Reason: reason, Detail: detail}
	}

	switch {
	case len(list) == 0:
		return carrier.Credentials{}, cfgErr(ReasonNotConfigured, "")
	case len(list) > 1:
		return carrier.Credentials{}, cfgErr(ReasonAmbiguous, fmt.Sprintf("%d active integrations", len(list)))
	}

	in := list[0]
	apiKey := strings.TrimSpace(in.APIKey)
	apiSecret := strings.TrimSpace(in.APISecret)
	if apiKey == "" {
		return carrier.Credentials{}, cfgErr(ReasonIncomplete, "apiKey is empty")
	}
	if carrier.RequiresSecret(provider) && apiSecret == "" {
		return carrier.Credentials{}, cfgErr(ReasonIncomplete, "apiSecret is empty")
	}

	cfg, err := carrier.DecodeConfig(provider, in.Config)
	if err != nil {
		return carrier.Credentials{}, cfgErr(ReasonIncomplete, err.Error())
	}

	return carrier.Credentials{
		CompanyID: companyID,
		Provider:  provider,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Config:    cfg,
	}, nil
}
