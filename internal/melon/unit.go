// SPDX-License-Identifier: MPL-2.0

package melon

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/version"
)

// Unit kinds.
const (
	KindOther Kind = iota
	KindMod
	KindPlugin
)

// ConfigResourceSuffix is appended to the unit name to form the name of the
// embedded UnitConfig resource.
const ConfigResourceSuffix = ".melonconfig.json"

type (
	// Kind classifies a unit binary.
	Kind int

	// Unit is one managed binary, read from its embedded manifest.
	Unit struct {
		Name         string
		Author       string
		Version      *version.Version
		DownloadLink string
		Kind         Kind
		Loader       version.Requirement
		// Reference is the host framework version the unit was built against.
		Reference *version.Version
		// Config is nil when the unit ships no policy document.
		Config *Config

		Path   string
		OS     string
		Arch   string
		Format binfmt.Format
	}
)

// String returns "mod", "plugin" or "other".
func (k Kind) String() string {
	switch k {
	case KindMod:
		return "mod"
	case KindPlugin:
		return "plugin"
	default:
		return "other"
	}
}

// ParseKind maps a manifest kind string to a Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mod":
		return KindMod
	case "plugin":
		return KindPlugin
	default:
		return KindOther
	}
}

// FromImage builds a Unit from a parsed binary. Binaries without a usable
// manifest yield a Unit of KindOther and a nil error; an unparsable declared
// version or a broken UnitConfig is an error.
func FromImage(img *binfmt.Image) (*Unit, error) {
	u := &Unit{Path: img.Path, OS: img.OS, Arch: img.Arch, Format: img.Format}
	if !img.HasIdentity() {
		return u, nil
	}

	info := img.Manifest.Info
	u.Name = info.Name
	u.Author = info.Author
	u.DownloadLink = strings.TrimSpace(info.DownloadLink)
	u.Kind = ParseKind(info.Kind)

	v, err := version.Parse(info.Version)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", info.Name, err)
	}
	u.Version = v

	if l := img.Manifest.Loader; l != nil && l.Version != "" {
		lv, err := version.Parse(l.Version)
		if err != nil {
			return nil, fmt.Errorf("unit %s: loader requirement: %w", info.Name, err)
		}
		u.Loader = version.Requirement{Version: lv, Minimum: l.Minimum}
	}

	if fw := img.Manifest.Framework; fw != nil && fw.Reference != "" {
		// An unreadable framework reference only weakens candidate ranking.
		if rv, err := version.Parse(fw.Reference); err == nil {
			u.Reference = rv
		}
	}

	if doc, ok := img.Manifest.Resource(info.Name + ConfigResourceSuffix); ok {
		cfg, err := ParseConfig([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", info.Name, err)
		}
		u.Config = cfg
	}
	return u, nil
}

// Load opens path and builds its Unit.
func Load(path string) (*Unit, error) {
	img, err := binfmt.Open(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img)
}

// ParseConfig decodes a UnitConfig JSON document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding unit config: %w", err)
	}
	return &cfg, nil
}

// Managed reports whether the unit is a Mod or Plugin.
func (u *Unit) Managed() bool {
	return u.Kind == KindMod || u.Kind == KindPlugin
}

// Disabled reports whether the unit's policy disables updates.
func (u *Unit) Disabled() bool {
	return u.Config != nil && u.Config.Disabled
}

// CompatibleWith reports whether the unit's loader requirement accepts loader.
func (u *Unit) CompatibleWith(loader *version.Version) bool {
	return version.IsCompatible(u.Loader, loader)
}

// Label returns "Name by Author" for log lines and reports.
func (u *Unit) Label() string {
	if u.Author == "" {
		return u.Name
	}
	return u.Name + " by " + u.Author
}
