package rehab

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// ExemptionPolicy names properties whose rehabs start with the vendor key step
// excluded, typically sites where the owner manages vendor access directly.
type ExemptionPolicy struct {
	Name                      string   `yaml:"name"`
	VendorKeyExemptProperties []string `yaml:"vendor_key_exempt_properties"`

	folded map[string]struct{}
}

// NewExemptionPolicy builds a policy from property names.
func NewExemptionPolicy(name string, properties ...string) *ExemptionPolicy {
	p := &ExemptionPolicy{Name: name, VendorKeyExemptProperties: properties}
	p.index()
	return p
}

// LoadExemptionPolicy reads a YAML policy file and merges extra property names.
// An empty path yields a policy holding only extra.
func LoadExemptionPolicy(path string, extra []string) (*ExemptionPolicy, error) {
	policy := &ExemptionPolicy{Name: "default"}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("rehab: read exemption policy: %w", err)
		}
		if err := yaml.Unmarshal(raw, policy); err != nil {
			return nil, fmt.Errorf("rehab: parse exemption policy: %w", err)
		}
	}
	policy.VendorKeyExemptProperties = append(policy.VendorKeyExemptProperties, extra...)
	policy.index()
	return policy, nil
}

func (p *ExemptionPolicy) index() {
	fold := cases.Fold()
	p.folded = make(map[string]struct{}, len(p.VendorKeyExemptProperties))
	for _, name := range p.VendorKeyExemptProperties {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p.folded[fold.String(name)] = struct{}{}
	}
}

// VendorKeyExempt reports whether property falls under the policy.
// Matching ignores case and surrounding whitespace.
func (p *ExemptionPolicy) VendorKeyExempt(property string) bool {
	if p == nil || len(p.folded) == 0 {
		return false
	}
	_, ok := p.folded[cases.Fold().String(strings.TrimSpace(property))]
	return ok
}
