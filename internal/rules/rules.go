// Package rules loads operator-maintained preprocessing rules: extra
// commands injected ahead of an entity's own directives, keyed by id glob.
// Rules live outside the catalog so one-off source quirks (a county that
// ships double-zipped archives, a misencoded shapefile) can be patched
// without touching catalog rows.
package rules

import (
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/mosaicgis/cartographer/internal/catalog"
)

type Operation struct {
	Run               string `mapstructure:"run" validate:"required"`
	ContinueOnFailure bool   `mapstructure:"continue_on_failure"`
}

type Rule struct {
	Match      string      `mapstructure:"match" validate:"required"`
	Operations []Operation `mapstructure:"operations" validate:"required,dive"`
}

type Set struct {
	rules []Rule
}

// NewSetFromFile loads a rules file (yaml, json, or toml by extension).
// An empty path yields an empty set.
func NewSetFromFile(fpath string) (*Set, error) {
	if fpath == "" {
		return &Set{}, nil
	}

	v := viper.New()
	v.SetConfigFile(fpath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc struct {
		Rules []Rule `mapstructure:"rules"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	validate := validator.New()
	for i, r := range doc.Rules {
		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, err := path.Match(r.Match, ""); err != nil {
			return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, r.Match, err)
		}
	}
	return &Set{rules: doc.Rules}, nil
}

// For returns the extra directives for an entity id, in file order.
func (s *Set) For(entityID string) []catalog.Directive {
	var out []catalog.Directive
	for _, r := range s.rules {
		ok, err := path.Match(r.Match, entityID)
		if err != nil || !ok {
			continue
		}
		for _, op := range r.Operations {
			out = append(out, catalog.Directive{
				Raw:               op.Run,
				ContinueOnFailure: op.ContinueOnFailure,
			})
		}
	}
	return out
}

func (s *Set) Len() int {
	return len(s.rules)
}
