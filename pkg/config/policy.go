package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MixedInvoicePolicy controls whether mixed-mode engagements combine the
// package fee and hourly labor on one invoice or issue them separately.
type MixedInvoicePolicy string

const (
	MixedCombined MixedInvoicePolicy = "combined"
	MixedSplit    MixedInvoicePolicy = "split"
)

// FirmPolicy is the per-firm billing policy.
type FirmPolicy struct {
	// MixedInvoice decides combined vs split billing for mixed-mode
	// engagements.
	MixedInvoice MixedInvoicePolicy `yaml:"mixed_invoice"`

	// TaxRateBps is the tax rate in basis points (850 = 8.5%).
	TaxRateBps int64 `yaml:"tax_rate_bps"`

	// AutoApplyCredit applies available client credit to freshly
	// generated invoices.
	AutoApplyCredit bool `yaml:"auto_apply_credit"`

	// AutopayCadence is the default charge timing for scheduled autopay:
	// "on_due" charges on the due date.
	AutopayCadence string `yaml:"autopay_cadence"`
}

// DefaultFirmPolicy returns the policy used when a firm has no entry in the
// policy file.
func DefaultFirmPolicy() FirmPolicy {
	return FirmPolicy{
		MixedInvoice:    MixedCombined,
		TaxRateBps:      0,
		AutoApplyCredit: false,
		AutopayCadence:  "on_due",
	}
}

// policyFile is the YAML shape of the policy file.
type policyFile struct {
	Default *FirmPolicy           `yaml:"default"`
	Firms   map[string]FirmPolicy `yaml:"firms"`
}

// PolicyResolver answers per-firm policy questions.
type PolicyResolver struct {
	defaultPolicy FirmPolicy
	firms         map[string]FirmPolicy
}

// NewPolicyResolver creates a resolver with the built-in defaults and no
// per-firm overrides.
func NewPolicyResolver() *PolicyResolver {
	return &PolicyResolver{
		defaultPolicy: DefaultFirmPolicy(),
		firms:         make(map[string]FirmPolicy),
	}
}

// LoadPolicies reads the YAML policy file. An empty path returns a resolver
// with defaults only.
func LoadPolicies(path string) (*PolicyResolver, error) {
	resolver := NewPolicyResolver()
	if path == "" {
		return resolver, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if pf.Default != nil {
		resolver.defaultPolicy = normalizePolicy(*pf.Default)
	}
	for firmID, p := range pf.Firms {
		resolver.firms[firmID] = normalizePolicy(p)
	}
	return resolver, nil
}

// SetFirmPolicy registers a per-firm override. Tests and embedded callers
// use this instead of a file.
func (r *PolicyResolver) SetFirmPolicy(firmID string, p FirmPolicy) {
	r.firms[firmID] = normalizePolicy(p)
}

// ForFirm returns the policy for a firm, falling back to the default.
func (r *PolicyResolver) ForFirm(firmID string) FirmPolicy {
	if p, ok := r.firms[firmID]; ok {
		return p
	}
	return r.defaultPolicy
}

func normalizePolicy(p FirmPolicy) FirmPolicy {
	if p.MixedInvoice == "" {
		p.MixedInvoice = MixedCombined
	}
	if p.AutopayCadence == "" {
		p.AutopayCadence = "on_due"
	}
	if p.TaxRateBps < 0 {
		p.TaxRateBps = 0
	}
	return p
}
