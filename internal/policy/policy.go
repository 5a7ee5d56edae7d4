// Package policy holds the per-year HSA contribution limits. Every PolicyYear
// is immutable once loaded; lookups return copies.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hsa-planner/internal/model"
)

//go:embed policies.yaml
var defaultPolicies []byte

var (
	ErrUnsupportedYear = errors.New("unsupported tax year")
	ErrDuplicateYear   = errors.New("duplicate tax year")
	ErrInvalidPolicy   = errors.New("invalid policy year")
)

// UnsupportedYearError is returned when no limits are provisioned for Year.
type UnsupportedYearError struct {
	Year int
}

func (e *UnsupportedYearError) Error() string {
	return fmt.Sprintf("tax year %d is not supported", e.Year)
}

func (e *UnsupportedYearError) Unwrap() error {
	return ErrUnsupportedYear
}

// PolicyYear is the set of numeric rules for one tax year.
type PolicyYear struct {
	Year                       int             `json:"year"`
	IndividualLimit            decimal.Decimal `json:"individual_limit"`
	FamilyLimit                decimal.Decimal `json:"family_limit"`
	CatchUpAmount              decimal.Decimal `json:"catch_up_amount"`
	CatchUpAge                 int             `json:"catch_up_age"`
	ExcessExciseRate           decimal.Decimal `json:"excess_excise_rate"`
	LastMonthAdditionalTaxRate decimal.Decimal `json:"last_month_additional_tax_rate"`
}

// LimitFor returns the annual base limit for a coverage category.
func (p PolicyYear) LimitFor(c model.Coverage) (decimal.Decimal, error) {
	switch c {
	case model.CoverageIndividual:
		return p.IndividualLimit, nil
	case model.CoverageFamily:
		return p.FamilyLimit, nil
	}
	return decimal.Zero, model.ErrInvalidCoverage
}

func (p PolicyYear) validate() error {
	switch {
	case p.Year < 2004 || p.Year > 9999:
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPolicy, p.Year)
	case !p.IndividualLimit.IsPositive() || !p.FamilyLimit.IsPositive():
		return fmt.Errorf("%w: %d: limits must be positive", ErrInvalidPolicy, p.Year)
	case p.FamilyLimit.LessThan(p.IndividualLimit):
		return fmt.Errorf("%w: %d: family limit below individual limit", ErrInvalidPolicy, p.Year)
	case p.CatchUpAmount.IsNegative():
		return fmt.Errorf("%w: %d: negative catch-up amount", ErrInvalidPolicy, p.Year)
	case p.CatchUpAge <= 0:
		return fmt.Errorf("%w: %d: catch-up age must be positive", ErrInvalidPolicy, p.Year)
	case p.ExcessExciseRate.IsNegative() || p.LastMonthAdditionalTaxRate.IsNegative():
		return fmt.Errorf("%w: %d: negative tax rate", ErrInvalidPolicy, p.Year)
	}
	return nil
}

// Provider resolves the rules for a tax year.
type Provider interface {
	LimitsFor(year int) (PolicyYear, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(year int) (PolicyYear, error)

func (f ProviderFunc) LimitsFor(year int) (PolicyYear, error) {
	return f(year)
}

// Table is an in-memory Provider keyed by tax year.
type Table struct {
	years map[int]PolicyYear
}

// NewTable builds a table from explicit years. Used directly by tests that
// need a specific set of limits.
func NewTable(years ...PolicyYear) (*Table, error) {
	t := &Table{years: make(map[int]PolicyYear, len(years))}
	for _, y := range years {
		if err := y.validate(); err != nil {
			return nil, err
		}
		if _, ok := t.years[y.Year]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateYear, y.Year)
		}
		t.years[y.Year] = y
	}
	return t, nil
}

// LimitsFor implements Provider.
func (t *Table) LimitsFor(year int) (PolicyYear, error) {
	p, ok := t.years[year]
	if !ok {
		return PolicyYear{}, &UnsupportedYearError{Year: year}
	}
	return p, nil
}

// Years returns the provisioned years in ascending order.
func (t *Table) Years() []int {
	out := make([]int, 0, len(t.years))
	for y := range t.years {
		out = append(out, y)
	}
	slices.Sort(out)
	return out
}

// Default returns the table compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultPolicies)
}

// LoadFile reads a YAML policy file from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

type fileYear struct {
	Year                       int    `yaml:"year"`
	Individual                 string `yaml:"individual"`
	Family                     string `yaml:"family"`
	CatchUp                    string `yaml:"catch_up"`
	CatchUpAge                 int    `yaml:"catch_up_age"`
	ExcessExciseRate           string `yaml:"excess_excise_rate"`
	LastMonthAdditionalTaxRate string `yaml:"last_month_additional_tax_rate"`
}

type file struct {
	Years []fileYear `yaml:"years"`
}

// Parse decodes a YAML policy document.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode policy yaml: %w", err)
	}

	years := make([]PolicyYear, 0, len(f.Years))
	for _, fy := range f.Years {
		py := PolicyYear{Year: fy.Year, CatchUpAge: fy.CatchUpAge}
		fields := []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"individual", fy.Individual, &py.IndividualLimit},
			{"family", fy.Family, &py.FamilyLimit},
			{"catch_up", fy.CatchUp, &py.CatchUpAmount},
			{"excess_excise_rate", fy.ExcessExciseRate, &py.ExcessExciseRate},
			{"last_month_additional_tax_rate", fy.LastMonthAdditionalTaxRate, &py.LastMonthAdditionalTaxRate},
		}
		for _, fld := range fields {
			d, err := decimal.NewFromString(fld.raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %d: %s: %q", ErrInvalidPolicy, fy.Year, fld.name, fld.raw)
			}
			*fld.dst = d
		}
		years = append(years, py)
	}
	return NewTable(years...)
}
