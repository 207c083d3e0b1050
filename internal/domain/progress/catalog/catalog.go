// Package catalog loads the badge catalog from YAML. The default catalog is
// embedded in the binary; a file can replace it at start-up.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/study-progress/internal/domain/progress"
	"github.com/alem-hub/study-progress/internal/domain/shared"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// SupportedVersion is the only document version this loader understands.
const SupportedVersion = 1

var (
	loadDefaultOnce sync.Once
	defaultCatalog  *progress.Catalog
	defaultErr      error
)

type document struct {
	Version int        `yaml:"version"`
	Badges  []badgeDoc `yaml:"badges"`
}

type badgeDoc struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Category    string       `yaml:"category"`
	Rarity      string       `yaml:"rarity"`
	XPReward    int64        `yaml:"xp_reward"`
	Condition   conditionDoc `yaml:"condition"`
}

type conditionDoc struct {
	Kind           string `yaml:"kind"`
	Field          string `yaml:"field,omitempty"`
	Set            string `yaml:"set,omitempty"`
	Window         string `yaml:"window,omitempty"`
	AtLeast        int64  `yaml:"at_least,omitempty"`
	AtLeastSeconds int64  `yaml:"at_least_seconds,omitempty"`
}

// Default returns the embedded catalog. It panics if the embedded document is
// broken, which can only happen with a bad build.
func Default() *progress.Catalog {
	loadDefaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(defaultCatalogYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", defaultErr))
	}
	return defaultCatalog
}

// Load returns the catalog at path, or the embedded default when path is empty.
func Load(path string) (*progress.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile parses the catalog file at path.
func LoadFile(path string) (*progress.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog document held in memory.
func Parse(data []byte) (*progress.Catalog, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a YAML catalog. Unknown keys, unknown condition kinds,
// duplicate ids and negative rewards are structural errors and fail the load.
// Unknown field or set names inside a known kind are not: they surface per
// badge from Check and are skipped during evaluation.
func Decode(r io.Reader) (*progress.Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty catalog document")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Version != 0 && doc.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", doc.Version)
	}

	badges := make([]progress.Badge, 0, len(doc.Badges))
	for i, b := range doc.Badges {
		cond, err := b.Condition.toCondition()
		if err != nil {
			return nil, fmt.Errorf("badge #%d (%s): %w", i, b.ID, err)
		}
		badges = append(badges, progress.Badge{
			ID:          strings.TrimSpace(b.ID),
			Name:        b.Name,
			Description: b.Description,
			Category:    progress.Category(b.Category),
			Rarity:      progress.Rarity(b.Rarity),
			XPReward:    b.XPReward,
			Condition:   cond,
		})
	}
	return progress.NewCatalog(badges)
}

func (c conditionDoc) toCondition() (progress.Condition, error) {
	if c.AtLeast < 0 || c.AtLeastSeconds < 0 {
		return nil, errors.New("thresholds must be non-negative")
	}
	switch c.Kind {
	case progress.KindFieldThreshold:
		return progress.FieldThreshold{Field: c.Field, AtLeast: c.AtLeast}, nil
	case progress.KindSetCardinality:
		return progress.SetCardinality{Set: c.Set, AtLeast: int(c.AtLeast)}, nil
	case progress.KindDailySessions:
		return progress.DailySessions{AtLeast: c.AtLeast}, nil
	case progress.KindLongSession:
		return progress.LongSession{AtLeastSeconds: c.AtLeastSeconds}, nil
	case progress.KindClockWindow:
		return progress.ClockWindow{Window: progress.Window(c.Window), AtLeast: c.AtLeast}, nil
	case "":
		return nil, errors.New("condition kind is required")
	default:
		return nil, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// Encode writes c back as a YAML document.
func Encode(w io.Writer, c *progress.Catalog) error {
	doc := document{Version: SupportedVersion}
	for _, b := range c.Badges() {
		bd := badgeDoc{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			Category:    string(b.Category),
			Rarity:      string(b.Rarity),
			XPReward:    b.XPReward,
		}
		switch cond := b.Condition.(type) {
		case progress.FieldThreshold:
			bd.Condition = conditionDoc{Kind: cond.Kind(), Field: cond.Field, AtLeast: cond.AtLeast}
		case progress.SetCardinality:
			bd.Condition = conditionDoc{Kind: cond.Kind(), Set: cond.Set, AtLeast: int64(cond.AtLeast)}
		case progress.DailySessions:
			bd.Condition = conditionDoc{Kind: cond.Kind(), AtLeast: cond.AtLeast}
		case progress.LongSession:
			bd.Condition = conditionDoc{Kind: cond.Kind(), AtLeastSeconds: cond.AtLeastSeconds}
		case progress.ClockWindow:
			bd.Condition = conditionDoc{Kind: cond.Kind(), Window: string(cond.Window), AtLeast: cond.AtLeast}
		}
		doc.Badges = append(doc.Badges, bd)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	return enc.Close()
}

// Check lints a catalog: every badge whose condition names an unknown field,
// set or window is reported.
func Check(c *progress.Catalog) []*shared.CatalogError {
	return c.Check()
}
