// SPDX-License-Identifier: MPL-2.0

package binfmt

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

type (
	// Manifest is the identity document embedded in a unit binary.
	Manifest struct {
		Info      Info              `toml:"info"`
		Loader    *Loader           `toml:"loader,omitempty"`
		Framework *Framework        `toml:"framework,omitempty"`
		Resources map[string]string `toml:"resources,omitempty"`
	}

	// Info names the unit and where it is published.
	Info struct {
		Name         string `toml:"name"`
		Version      string `toml:"version"`
		Author       string `toml:"author"`
		DownloadLink string `toml:"download_link,omitempty"`
		// Kind is "mod" or "plugin".
		Kind string `toml:"kind"`
	}

	// Loader is the host loader version the unit was built for.
	Loader struct {
		Version string `toml:"version"`
		Minimum bool   `toml:"minimum,omitempty"`
	}

	// Framework records the host framework reference the unit was linked against.
	Framework struct {
		Reference string `toml:"reference"`
	}
)

// HasIdentity reports whether the manifest names a unit.
func (m *Manifest) HasIdentity() bool {
	return m != nil && m.Info.Name != "" && m.Info.Version != ""
}

// Resource returns an embedded resource by name.
func (m *Manifest) Resource(name string) (string, bool) {
	if m == nil || m.Resources == nil {
		return "", false
	}
	v, ok := m.Resources[name]
	return v, ok
}

// DecodeManifest parses a metadata section payload. Trailing NUL and
// whitespace padding is ignored; an all-padding payload yields (nil, nil).
func DecodeManifest(data []byte) (*Manifest, error) {
	data = bytes.TrimRight(data, "\x00 \t\r\n")
	if len(data) == 0 {
		return nil, nil
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// EncodeManifest serializes m and pads it with NUL bytes to exactly size
// bytes. It fails with ErrSlotTooSmall when the encoded form is larger.
func EncodeManifest(m *Manifest, size int) ([]byte, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if len(data) > size {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrSlotTooSmall, len(data), size)
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}
