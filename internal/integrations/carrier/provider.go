package carrier

import "strings"

type ProviderID string

const (
	ProviderFocus ProviderID = "focus"
	ProviderCargo ProviderID = "cargo"
	ProviderFake  ProviderID = "fake"
)

// KnownProviders is the closed set of carriers. Adding a carrier means adding
// a constant here, a case in DecodeConfig and an adapter in the registry.
func KnownProviders() []ProviderID {
	return []ProviderID{ProviderFocus, ProviderCargo, ProviderFake}
}

func ParseProvider(s string) (ProviderID, error) {
	p := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownProviders() {
		if p == known {
			return p, nil
		}
	}
	return "", &UnsupportedProviderError{Provider: s}
}

func (p ProviderID) String() string { return string(p) }
