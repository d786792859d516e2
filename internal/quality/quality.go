package quality

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Custom is the applied-quality name recorded for caller-specified settings.
const Custom = "custom"

// CustomCRF is the constant rate factor used for custom conversions.
const CustomCRF = 23

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q: bad height", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Preset is a named set of encoder settings.
type Preset struct {
	Name        string
	Label       string
	BitrateKbps int
	Resolution  Resolution
	CRF         int
}

// IsCustom reports whether p was built from caller-supplied settings.
func (p Preset) IsCustom() bool {
	return p.Name == Custom
}

// Description renders "<resolution> @ <bitrate> kbps".
func (p Preset) Description() string {
	return fmt.Sprintf("%s @ %d kbps", p.Resolution, p.BitrateKbps)
}

// NewCustom builds the preset used for caller-specified settings.
func NewCustom(bitrateKbps int, res Resolution) Preset {
	return Preset{
		Name:        Custom,
		Label:       "Custom",
		BitrateKbps: bitrateKbps,
		Resolution:  res,
		CRF:         CustomCRF,
	}
}

// Table is an immutable, ordered set of presets. The zero value is empty.
type Table struct {
	byName map[string]Preset
	order  []string
}

// NewTable builds a table, rejecting duplicates, the reserved custom name
// and non-positive settings.
func NewTable(presets []Preset) (*Table, error) {
	t := &Table{byName: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		switch {
		case name == "":
			return nil, errors.New("preset name is required")
		case name == Custom:
			return nil, fmt.Errorf("preset name %q is reserved", Custom)
		case p.BitrateKbps <= 0:
			return nil, fmt.Errorf("preset %q: bitrate must be positive", name)
		case p.Resolution.Width <= 0 || p.Resolution.Height <= 0:
			return nil, fmt.Errorf("preset %q: resolution must be positive", name)
		case p.CRF < 0 || p.CRF > 51:
			return nil, fmt.Errorf("preset %q: crf must be between 0 and 51", name)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", name)
		}
		p.Name = name
		if p.Label == "" {
			p.Label = strings.ToUpper(name[:1]) + name[1:]
		}
		t.byName[name] = p
		t.order = append(t.order, name)
	}
	return t, nil
}

// DefaultTable returns the built-in presets.
func DefaultTable() *Table {
	t, err := NewTable([]Preset{
		{Name: "baixa", BitrateKbps: 800, Resolution: Resolution{854, 480}, CRF: 28},
		{Name: "media", BitrateKbps: 1500, Resolution: Resolution{1280, 720}, CRF: 25},
		{Name: "alta", BitrateKbps: 2500, Resolution: Resolution{1920, 1080}, CRF: 23},
		{Name: "fullhd", BitrateKbps: 4000, Resolution: Resolution{1920, 1080}, CRF: 21},
	})
	if err != nil {
		panic(err)
	}
	return t
}

type presetFile struct {
	Presets []struct {
		Name       string `yaml:"name" json:"name"`
		Label      string `yaml:"label" json:"label"`
		Bitrate    int    `yaml:"bitrate" json:"bitrate"`
		Resolution string `yaml:"resolution" json:"resolution"`
		CRF        int    `yaml:"crf" json:"crf"`
	} `yaml:"presets" json:"presets"`
}

// LoadTable reads presets from a YAML or JSON file.
func LoadTable(path string) (*Table, error) {
	var file presetFile
	if err := cleanenv.ReadConfig(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read presets file %s: %w", path, err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("presets file %s defines no presets", path)
	}

	presets := make([]Preset, 0, len(file.Presets))
	for _, fp := range file.Presets {
		res, err := ParseResolution(fp.Resolution)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", fp.Name, err)
		}
		presets = append(presets, Preset{
			Name:        fp.Name,
			Label:       fp.Label,
			BitrateKbps: fp.Bitrate,
			Resolution:  res,
			CRF:         fp.CRF,
		})
	}
	return NewTable(presets)
}

// Lookup returns the preset with the given name.
func (t *Table) Lookup(name string) (Preset, bool) {
	if t == nil {
		return Preset{}, false
	}
	p, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Presets returns all presets in table order.
func (t *Table) Presets() []Preset {
	if t == nil {
		return nil
	}
	out := make([]Preset, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}

// Option is a preset annotated with whether a plan may use it.
type Option struct {
	Preset
	Available bool
}

// Options annotates every preset with availability under limitKbps.
// A preset is available when its bitrate does not exceed the limit.
func (t *Table) Options(limitKbps int) []Option {
	presets := t.Presets()
	out := make([]Option, len(presets))
	for i, p := range presets {
		out[i] = Option{Preset: p, Available: p.BitrateKbps <= limitKbps}
	}
	return out
}
