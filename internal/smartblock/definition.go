/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package smartblock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Template is an ordered list of slots a generated day is built from.
type Template struct {
	Name  string `yaml:"name" json:"name"`
	Slots []Slot `yaml:"slots" json:"slots" validate:"required,min=1,dive"`
}

// Slot asks for media totalling Duration within Tolerance.
type Slot struct {
	Name      string   `yaml:"name" json:"name"`
	Duration  Seconds  `yaml:"duration" json:"duration" validate:"gt=0"`
	Tolerance Seconds  `yaml:"tolerance" json:"tolerance" validate:"gte=0"`
	Shuffle   bool     `yaml:"shuffle" json:"shuffle"`
	Category  string   `yaml:"category" json:"category"`
	Folders   []string `yaml:"folders" json:"folders"`
}

// Length returns the sum of slot durations.
func (t Template) Length() float64 {
	var total float64
	for _, s := range t.Slots {
		total += float64(s.Duration)
	}
	return total
}

// Seconds is a length given either as a number of seconds or as
// "HH:MM:SS[.fff]".
type Seconds float64

// UnmarshalYAML accepts numbers and clock strings.
func (s *Seconds) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSeconds(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = Seconds(v)
	return nil
}

// UnmarshalJSON accepts numbers and clock strings.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := parseSeconds(raw)
	if err != nil {
		return err
	}
	*s = Seconds(v)
	return nil
}

func parseSeconds(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if !strings.Contains(v, ":") {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid length %q", v)
		}
		return f, nil
	}

	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid length %q", v)
	}
	var total float64
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid length %q", v)
		}
		total = total*60 + f
	}
	return total, nil
}

// LoadTemplate reads a YAML or JSON template file.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template: %w", err)
	}

	var tpl Template
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&tpl)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&tpl)
	}
	if err != nil {
		return Template{}, fmt.Errorf("decode template %s: %w", path, err)
	}

	if err := validator.New().Struct(tpl); err != nil {
		return Template{}, fmt.Errorf("validate template %s: %w", path, err)
	}
	for i := range tpl.Slots {
		if tpl.Slots[i].Name == "" {
			tpl.Slots[i].Name = fmt.Sprintf("slot-%d", i+1)
		}
	}
	return tpl, nil
}
