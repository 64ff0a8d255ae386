// Package target loads the machine descriptors code is generated for.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tinyrange/lirgen/internal/lir"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the major descriptor version this package reads.
const SupportedVersion = "v1"

// Descriptor is a target description on disk. Fields left out keep the
// default of the architecture.
type Descriptor struct {
	Version string           `yaml:"version"`
	Name    string           `yaml:"name"`
	Arch    lir.Architecture `yaml:"arch"`

	WordKind Kind      `yaml:"wordKind,omitempty"`
	MP       *bool     `yaml:"mp,omitempty"`
	Implicit *Barriers `yaml:"implicit,omitempty"`
	Features []string  `yaml:"features,omitempty"`
}

// Kind is a lir.Kind spelled by name in YAML.
type Kind lir.Kind

func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := lir.ParseKind(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*k = Kind(parsed)
	return nil
}

func (k Kind) MarshalYAML() (any, error) {
	return lir.Kind(k).String(), nil
}

// Barriers is a lir.Barrier set spelled as a list of names, or a single
// name such as "all".
type Barriers lir.Barrier

func (b *Barriers) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	if value.Kind == yaml.ScalarNode {
		names = []string{value.Value}
	} else if err := value.Decode(&names); err != nil {
		return err
	}
	var set lir.Barrier
	for _, name := range names {
		if strings.EqualFold(name, "none") {
			continue
		}
		v, err := lir.ParseBarrier(name)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		set |= v
	}
	*b = Barriers(set)
	return nil
}

func (b Barriers) MarshalYAML() (any, error) {
	set := lir.Barrier(b)
	if set == lir.NoBarriers {
		return []string{}, nil
	}
	return strings.Split(set.String(), "|"), nil
}

func (d *Descriptor) normalize() {
	if d.Version == "" {
		d.Version = SupportedVersion + ".0.0"
	}
	if d.Name == "" {
		d.Name = string(d.Arch)
	}
}

// Check validates the version and architecture of d.
func (d *Descriptor) Check() error {
	v := d.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("target: %s: invalid version %q", d.Name, d.Version)
	}
	if semver.Major(v) != SupportedVersion {
		return fmt.Errorf("target: %s: version %s is not supported (want %s.x)", d.Name, d.Version, SupportedVersion)
	}
	if _, err := defaults(d.Arch, true); err != nil {
		return fmt.Errorf("target: %s: %w", d.Name, err)
	}
	if k := lir.Kind(d.WordKind); k != lir.Illegal && k != lir.Int64 {
		return fmt.Errorf("target: %s: word kind %s is not supported", d.Name, k)
	}
	return nil
}

func defaults(arch lir.Architecture, isMP bool) (*lir.Target, error) {
	switch arch {
	case lir.ArchitectureAMD64:
		return lir.AMD64(isMP), nil
	case lir.ArchitectureSPARC:
		return lir.SPARC(isMP), nil
	}
	return nil, fmt.Errorf("unknown architecture %q", arch)
}

// Target builds the lir.Target d describes. Targets are multiprocessor
// unless the descriptor says otherwise.
func (d *Descriptor) Target() (*lir.Target, error) {
	if err := d.Check(); err != nil {
		return nil, err
	}
	isMP := true
	if d.MP != nil {
		isMP = *d.MP
	}
	t, err := defaults(d.Arch, isMP)
	if err != nil {
		return nil, err
	}
	t.Name = d.Name
	if d.Implicit != nil {
		t.Implicit = lir.Barrier(*d.Implicit)
	}
	if d.Features != nil {
		t.Features = make(map[string]bool, len(d.Features))
		for _, f := range d.Features {
			t.Features[f] = true
		}
	}
	return t, nil
}

// Describe is the inverse of Descriptor.Target.
func Describe(t *lir.Target) Descriptor {
	isMP := t.IsMP
	implicit := Barriers(t.Implicit)
	d := Descriptor{
		Name:     t.Name,
		Arch:     t.Arch,
		WordKind: Kind(t.WordKind),
		MP:       &isMP,
		Implicit: &implicit,
		Features: []string{},
	}
	for f, ok := range t.Features {
		if ok {
			d.Features = append(d.Features, f)
		}
	}
	slices.Sort(d.Features)
	d.normalize()
	return d
}

// Parse decodes a descriptor and checks it.
func Parse(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("target: parse: %w", err)
	}
	d.normalize()
	if err := d.Check(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Load reads the descriptor at path.
func Load(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("target: read %s: %w", path, err)
	}
	return Parse(data)
}

// Write stores d as YAML at path, creating the parent directory.
func Write(path string, d Descriptor) error {
	d.normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("target: create dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("target: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&d); err != nil {
		return fmt.Errorf("target: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("target: close %s: %w", path, err)
	}
	return nil
}
