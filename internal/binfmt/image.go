// SPDX-License-Identifier: MPL-2.0

package binfmt

import (
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// SectionName is the metadata section in ELF and PE images.
	SectionName = ".melon"
	// MachOSectionName is the metadata section in Mach-O images.
	MachOSectionName = "__melon"
)

type (
	// Image is a parsed unit binary.
	Image struct {
		Path   string
		Format Format
		// OS and Arch use GOOS/GOARCH spelling; empty when unknown.
		OS   string
		Arch string

		// Manifest is nil when the binary has no metadata section, or when
		// the section could not be decoded (see ManifestErr).
		Manifest    *Manifest
		ManifestErr error

		slot *slot
	}

	slot struct {
		offset int64
		size   int64
	}

	section struct {
		data   []byte
		offset int64
		size   int64
	}
)

// Open parses the binary at path. It returns ErrUnrecognized for files that
// are not executables and ErrMalformed for executables whose headers are
// unreadable. A missing or undecodable manifest is not an error.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // read-only file

	return Read(f, path)
}

// Read parses a binary from r. path is informational.
func Read(r io.ReaderAt, path string) (*Image, error) {
	format, err := Sniff(r)
	if err != nil {
		return nil, err
	}

	img := &Image{Path: path, Format: format}
	var sec *section
	switch format {
	case FormatELF:
		sec, err = readELF(r, img)
	case FormatPE:
		sec, err = readPE(r, img)
	case FormatMachO:
		sec, err = readMachO(r, img)
	default:
		return nil, ErrUnrecognized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, format, err)
	}

	if sec != nil {
		img.slot = &slot{offset: sec.offset, size: sec.size}
		img.Manifest, img.ManifestErr = DecodeManifest(sec.data)
	}
	return img, nil
}

// HasIdentity reports whether the image carries a usable unit manifest.
func (img *Image) HasIdentity() bool {
	return img.Manifest.HasIdentity()
}

func readELF(r io.ReaderAt, img *Image) (*section, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	img.OS = "linux"
	if f.OSABI == elf.ELFOSABI_FREEBSD {
		img.OS = "freebsd"
	}
	switch f.Machine {
	case elf.EM_X86_64:
		img.Arch = "amd64"
	case elf.EM_386:
		img.Arch = "386"
	case elf.EM_AARCH64:
		img.Arch = "arm64"
	case elf.EM_ARM:
		img.Arch = "arm"
	case elf.EM_RISCV:
		img.Arch = "riscv64"
	}

	s := f.Section(SectionName)
	if s == nil || s.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	return &section{data: data, offset: int64(s.Offset), size: int64(s.Size)}, nil
}

func readPE(r io.ReaderAt, img *Image) (*section, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	img.OS = "windows"
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		img.Arch = "amd64"
	case pe.IMAGE_FILE_MACHINE_I386:
		img.Arch = "386"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		img.Arch = "arm64"
	}

	s := f.Section(SectionName)
	if s == nil {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	return &section{data: data, offset: int64(s.Offset), size: int64(s.Size)}, nil
}

func readMachO(r io.ReaderAt, img *Image) (*section, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	img.OS = "darwin"
	switch f.Cpu {
	case macho.CpuAmd64:
		img.Arch = "amd64"
	case macho.Cpu386:
		img.Arch = "386"
	case macho.CpuArm64:
		img.Arch = "arm64"
	}

	s := f.Section(MachOSectionName)
	if s == nil {
		return nil, nil
	}
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	return &section{data: data, offset: int64(s.Offset), size: int64(s.Size)}, nil
}

// PatchVersion rewrites the embedded version of the binary at path.
func PatchVersion(path, v string) error {
	return patch(path, func(m *Manifest) { m.Info.Version = v })
}

// PatchDownloadLink rewrites the embedded download link of the binary at path.
func PatchDownloadLink(path, link string) error {
	return patch(path, func(m *Manifest) { m.Info.DownloadLink = link })
}

// patch re-reads the manifest, applies mutate, and writes the re-encoded
// manifest back over the same section bytes. The file is left untouched
// when the new manifest does not fit.
func patch(path string, mutate func(*Manifest)) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	img, err := Read(f, path)
	if err != nil {
		_ = f.Close()
		return err
	}
	if img.slot == nil || img.Manifest == nil {
		_ = f.Close()
		if img.ManifestErr != nil {
			return errors.Join(ErrNoManifest, img.ManifestErr)
		}
		return ErrNoManifest
	}

	mutate(img.Manifest)
	data, err := EncodeManifest(img.Manifest, int(img.slot.size))
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.WriteAt(data, img.slot.offset); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	return f.Close()
}

// Patcher exposes the in-place metadata rewrites as a value, so callers can
// substitute it in tests.
type Patcher struct{}

// PatchVersion implements installer.MetadataWriter.
func (Patcher) PatchVersion(path, v string) error { return PatchVersion(path, v) }

// PatchDownloadLink implements installer.MetadataWriter.
func (Patcher) PatchDownloadLink(path, link string) error { return PatchDownloadLink(path, link) }
