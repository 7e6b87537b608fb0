// SPDX-License-Identifier: MPL-2.0

// Package melontest builds minimal but well-formed ELF unit binaries for
// tests. The images carry a ".melon" section holding a TOML manifest, so the
// real binfmt reader, installer, and selector operate on them unchanged.
package melontest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

// DefaultSlack is the NUL padding reserved after the manifest.
const DefaultSlack = 256

type (
	// Unit describes the binary to build. Zero values are omitted from the
	// manifest.
	Unit struct {
		Name         string
		Version      string
		Author       string
		DownloadLink string
		// Kind defaults to "mod".
		Kind string

		LoaderVersion string
		LoaderMinimum bool
		Framework     string

		// Config is the JSON UnitConfig document, embedded as the resource
		// "<Name>.melonconfig.json".
		Config string

		// Machine defaults to the host-independent EM_X86_64.
		Machine elf.Machine

		// Slack overrides DefaultSlack; negative means no padding.
		Slack int

		// NoManifest builds an ELF without a metadata section.
		NoManifest bool
		// RawSection replaces the encoded manifest verbatim.
		RawSection []byte
	}
)

// Manifest returns the encoded TOML manifest for u, without padding.
func (u Unit) Manifest() []byte {
	info := map[string]any{
		"name":    u.Name,
		"version": u.Version,
		"author":  u.Author,
		"kind":    defaultString(u.Kind, "mod"),
	}
	if u.DownloadLink != "" {
		info["download_link"] = u.DownloadLink
	}
	doc := map[string]any{"info": info}
	if u.LoaderVersion != "" {
		doc["loader"] = map[string]any{"version": u.LoaderVersion, "minimum": u.LoaderMinimum}
	}
	if u.Framework != "" {
		doc["framework"] = map[string]any{"reference": u.Framework}
	}
	if u.Config != "" {
		doc["resources"] = map[string]any{u.Name + ".melonconfig.json": u.Config}
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// Build returns the bytes of an ELF64 little-endian image for u.
func Build(u Unit) []byte {
	machine := u.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}

	var payload []byte
	if !u.NoManifest {
		payload = u.RawSection
		if payload == nil {
			payload = u.Manifest()
		}
		slack := u.Slack
		if slack == 0 {
			slack = DefaultSlack
		}
		if slack > 0 {
			payload = append(payload, make([]byte, slack)...)
		}
	}

	shstrtab := []byte("\x00.shstrtab\x00.melon\x00")
	const (
		ehsize     = 64
		shentsize  = 64
		nameShstr  = 1
		nameMelon  = 11
		sectionSet = 3
	)

	payloadOff := uint64(ehsize)
	strOff := payloadOff + uint64(len(payload))
	shoff := align8(strOff + uint64(len(shstrtab)))

	shnum := uint16(sectionSet)
	shstrndx := uint16(2)
	if u.NoManifest {
		shnum = 2
		shstrndx = 1
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehsize,
		Phentsize: 56,
		Shentsize: shentsize,
		Shnum:     shnum,
		Shstrndx:  shstrndx,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	mustWrite(&buf, hdr)
	buf.Write(payload)
	buf.Write(shstrtab)
	buf.Write(make([]byte, shoff-uint64(buf.Len())))

	mustWrite(&buf, elf.Section64{})
	if !u.NoManifest {
		mustWrite(&buf, elf.Section64{
			Name:      nameMelon,
			Type:      uint32(elf.SHT_PROGBITS),
			Off:       payloadOff,
			Size:      uint64(len(payload)),
			Addralign: 1,
		})
	}
	mustWrite(&buf, elf.Section64{
		Name:      nameShstr,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       strOff,
		Size:      uint64(len(shstrtab)),
		Addralign: 1,
	})

	return buf.Bytes()
}

// Write builds u into dir/name and returns the full path.
func Write(t testing.TB, dir, name string, u Unit) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, Build(u), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func mustWrite(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
