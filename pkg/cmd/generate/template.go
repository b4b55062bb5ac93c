package generate

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v3"
)

type template struct {
	Weight      int    `csv:"weight" yaml:"weight" json:"weight,omitempty"`
	Description string `csv:"description" yaml:"description" json:"description"`
	Image       string `csv:"image" yaml:"image" json:"image,omitempty"`
}

func (t template) String() string {
	return fmt.Sprintf("{w: %d, d: %s, i: %s}", t.Weight, t.Description, t.Image)
}

// loadTemplates reads generation templates from a csv or yaml file.
func loadTemplates(input string) ([]template, error) {
	b, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't read input %s: %w", input, err)
	}
	var ts []template
	switch ext := filepath.Ext(input); ext {
	case ".csv":
		if err := gocsv.UnmarshalBytes(b, &ts); err != nil {
			return nil, fmt.Errorf("generate: couldn't unmarshal csv %s: %w", input, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &ts); err != nil {
			return nil, fmt.Errorf("generate: couldn't unmarshal yaml %s: %w", input, err)
		}
	default:
		return nil, fmt.Errorf("generate: unsupported input extension: %s", ext)
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("generate: no templates in %s", input)
	}
	return ts, nil
}

// nextTemplate picks a template using the weights as relative frequencies.
func nextTemplate(ts []template) template {
	var opts []template
	for _, t := range ts {
		opts = append(opts, options(t.Weight, t)...)
	}
	return opts[rand.Intn(len(opts))]
}

func options(n int, t template) []template {
	if n <= 0 {
		n = 1
	}
	var opts []template
	for i := 0; i < n; i++ {
		opts = append(opts, t)
	}
	return opts
}
