// Package profile handles jvminstr.toml instrumentation profiles.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"jvminstr/internal/flow"
	"jvminstr/internal/passes"
	"jvminstr/internal/sidecar"
)

// FileName is the profile looked up next to the classes.
const FileName = "jvminstr.toml"

var ErrUnknownPass = errors.New("profile: unknown pass")

// Profile represents a jvminstr.toml configuration.
type Profile struct {
	Instrument Instrument `toml:"instrument"`
	FieldRead  FieldRead  `toml:"fieldread"`
	Usage      Usage      `toml:"usage"`
	Output     Output     `toml:"output"`

	// Dir is the directory containing the profile (set at load time).
	Dir string `toml:"-"`
}

// Instrument selects the passes and how failures are handled.
type Instrument struct {
	Passes             []string `toml:"passes"`
	BestEffort         bool     `toml:"best-effort"`
	StrictReachability bool     `toml:"strict-reachability"`
}

type FieldRead struct {
	Threshold int32 `toml:"threshold"`
	Static    bool  `toml:"static"`
}

type Usage struct {
	Sidecar         string `toml:"sidecar"`
	ReservedPrefix  string `toml:"reserved-prefix"`
	ReportThreshold uint64 `toml:"report-threshold"`
}

// Output configures the optional analysis files.
type Output struct {
	Dir   string `toml:"dir"`
	Graph bool   `toml:"graph"`
}

// Default returns the profile used when no file is present.
func Default() *Profile {
	return &Profile{
		FieldRead: FieldRead{Threshold: passes.DefaultThreshold},
		Usage: Usage{
			Sidecar:         passes.DefaultSidecar,
			ReservedPrefix:  "m",
			ReportThreshold: sidecar.DefaultThreshold,
		},
	}
}

// Parse decodes a profile over the defaults. Keys that are absent keep
// their default; an explicit empty reserved-prefix disables the prefix.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	md, err := toml.Decode(string(data), p)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys %v", undecoded)
	}
	if p.Usage.Sidecar == "" {
		p.Usage.Sidecar = passes.DefaultSidecar
	}
	for _, name := range p.Instrument.Passes {
		if _, err := p.pass(name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Load parses jvminstr.toml from the given directory.
func Load(dir string) (*Profile, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	p.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return p, nil
}

// FindAndLoad walks up from startDir to find a jvminstr.toml file,
// then loads and returns the profile. Returns nil if no profile is found.
func FindAndLoad(startDir string) (*Profile, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// PassNames lists the passes a profile may name.
var PassNames = []string{"callresult", "fieldread", "usage"}

func (p *Profile) pass(name string) (passes.Pass, error) {
	switch name {
	case "callresult":
		return passes.CallResult{}, nil
	case "fieldread":
		return &passes.FieldRead{Threshold: p.FieldRead.Threshold, Static: p.FieldRead.Static}, nil
	case "usage":
		return &passes.UsageCounter{Sidecar: p.Usage.Sidecar, ReservedPrefix: p.Usage.ReservedPrefix}, nil
	}
	return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownPass, name, PassNames)
}

// Passes builds the named passes, or the profile's own list when names is
// empty.
func (p *Profile) Passes(names ...string) ([]passes.Pass, error) {
	if len(names) == 0 {
		names = p.Instrument.Passes
	}
	var out []passes.Pass
	for _, name := range names {
		ps, err := p.pass(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

// Options returns the run options the profile selects.
func (p *Profile) Options() passes.Options {
	opts := passes.Options{Flow: flow.Options{StrictReachability: p.Instrument.StrictReachability}}
	if p.Instrument.BestEffort {
		opts.Mode = passes.ModeBestEffort
	}
	return opts
}
