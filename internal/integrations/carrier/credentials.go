package carrier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New()

// Credentials is everything an adapter needs to talk to a carrier on behalf of one tenant.
type Credentials struct {
	CompanyID string
	Provider  ProviderID
	APIKey    string
	APISecret string
	Config    ProviderConfig
}

// ProviderConfig is implemented only by the config types in this package.
type ProviderConfig interface {
	provider() ProviderID
}

type FocusConfig struct {
	Host           string `json:"host" validate:"required,url"`
	CustomerNumber string `json:"customerNumber" validate:"required"`
	ShipmentType   string `json:"shipmentType" validate:"omitempty,oneof=regular express return"`
	// Packages is the number of packages declared when the order does not say.
	Packages int `json:"packages" validate:"gte=0,lte=99"`
}

func (FocusConfig) provider() ProviderID { return ProviderFocus }

type CargoConfig struct {
	Host       string `json:"host" validate:"required,url"`
	SenderCode string `json:"senderCode" validate:"required"`
	CollectCOD bool   `json:"collectCod"`
}

func (CargoConfig) provider() ProviderID { return ProviderCargo }

type FakeConfig struct {
	// FailCreate makes CreateShipment return a rejection; used for demos.
	FailCreate bool `json:"failCreate"`
}

func (FakeConfig) provider() ProviderID { return ProviderFake }

// RequiresSecret reports whether the provider authenticates with a key/secret pair.
func RequiresSecret(p ProviderID) bool {
	switch p {
	case ProviderFocus:
		return true
	case ProviderCargo:
		return false
	case ProviderFake:
		return false
	}
	return false
}

// DecodeConfig parses the integration's raw config for the given provider and validates it.
func DecodeConfig(p ProviderID, raw []byte) (ProviderConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	switch p {
	case ProviderFocus:
		var c FocusConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		if c.ShipmentType == "" {
			c.ShipmentType = "regular"
		}
		if c.Packages == 0 {
			c.Packages = 1
		}
		return c, nil
	case ProviderCargo:
		var c CargoConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ProviderFake:
		var c FakeConfig
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, &UnsupportedProviderError{Provider: string(p)}
}

func decodeStrict(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, "decode provider config")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return errors.Errorf("invalid provider config: %s", strings.Join(fields, ", "))
		}
		return errors.Wrap(err, "validate provider config")
	}
	return nil
}

// ConfigAs returns the typed config of creds or a rejection when it belongs to another provider.
func ConfigAs[T ProviderConfig](creds Credentials) (T, error) {
	c, ok := creds.Config.(T)
	if !ok {
		var zero T
		return zero, Rejected("INVALID_CREDENTIALS", fmt.Sprintf("credentials for %s carry no %T", creds.Provider, zero), nil)
	}
	return c, nil
}
