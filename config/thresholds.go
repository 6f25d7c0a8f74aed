package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ParityThresholds maps ISO currency code to the tolerated absolute difference
// between invoiced totals and the legacy income ledger.
type ParityThresholds struct {
	Default    decimal.Decimal
	Currencies map[string]decimal.Decimal
}

type parityThresholdsFile struct {
	Default    string            `yaml:"default"`
	Currencies map[string]string `yaml:"currencies"`
}

func (t ParityThresholds) For(currency string) decimal.Decimal {
	if v, ok := t.Currencies[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return v
	}
	return t.Default
}

// LoadParityThresholds builds thresholds from settings, reading the optional YAML file.
//
//	default: 50
//	currencies:
//	  MXN: 50
//	  USD: 5
func LoadParityThresholds(s Settings) (ParityThresholds, error) {
	def, err := decimal.NewFromString(s.ParityThresholdDefault)
	if err != nil {
		return ParityThresholds{}, fmt.Errorf("PARITY_THRESHOLD_DEFAULT: %w", err)
	}
	out := ParityThresholds{Default: def, Currencies: map[string]decimal.Decimal{}}
	if s.ParityThresholdsFile == "" {
		return out, nil
	}
	raw, err := os.ReadFile(s.ParityThresholdsFile)
	if err != nil {
		return ParityThresholds{}, fmt.Errorf("read parity thresholds: %w", err)
	}
	return ParseParityThresholds(raw, def)
}

func ParseParityThresholds(raw []byte, fallback decimal.Decimal) (ParityThresholds, error) {
	var f parityThresholdsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return ParityThresholds{}, fmt.Errorf("parse parity thresholds: %w", err)
	}
	out := ParityThresholds{Default: fallback, Currencies: map[string]decimal.Decimal{}}
	if strings.TrimSpace(f.Default) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(f.Default))
		if err != nil {
			return ParityThresholds{}, fmt.Errorf("parity thresholds default: %w", err)
		}
		out.Default = d
	}
	for code, v := range f.Currencies {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return ParityThresholds{}, fmt.Errorf("parity threshold %s: %w", code, err)
		}
		if d.IsNegative() {
			return ParityThresholds{}, fmt.Errorf("parity threshold %s: must not be negative", code)
		}
		out.Currencies[strings.ToUpper(strings.TrimSpace(code))] = d
	}
	return out, nil
}
