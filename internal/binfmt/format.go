// SPDX-License-Identifier: MPL-2.0

package binfmt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Recognized formats.
const (
	FormatUnknown Format = iota
	FormatELF
	FormatPE
	FormatMachO
)

var (
	// ErrUnrecognized is returned when a file does not start with a known
	// executable magic number.
	ErrUnrecognized = errors.New("unrecognized binary format")

	// ErrMalformed is returned when a file carries a known magic number but
	// its headers cannot be parsed.
	ErrMalformed = errors.New("malformed binary")

	// ErrNoManifest is returned by patch operations on binaries without a
	// metadata section.
	ErrNoManifest = errors.New("no metadata section")

	// ErrSlotTooSmall is returned when a re-encoded manifest does not fit the
	// section reserved for it.
	ErrSlotTooSmall = errors.New("metadata section too small")
)

var (
	magicELF    = []byte{0x7f, 'E', 'L', 'F'}
	magicPE     = []byte{'M', 'Z'}
	magicsMachO = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
	}
)

// Format identifies an executable container format.
type Format int

// String returns the conventional name of the format.
func (f Format) String() string {
	switch f {
	case FormatELF:
		return "ELF"
	case FormatPE:
		return "PE"
	case FormatMachO:
		return "Mach-O"
	default:
		return "unknown"
	}
}

// Sniff identifies the format of r from its leading magic bytes.
func Sniff(r io.ReaderAt) (Format, error) {
	head := make([]byte, 4)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("reading magic: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicELF):
		return FormatELF, nil
	case bytes.HasPrefix(head, magicPE):
		return FormatPE, nil
	}
	for _, m := range magicsMachO {
		if bytes.HasPrefix(head, m) {
			return FormatMachO, nil
		}
	}
	return FormatUnknown, ErrUnrecognized
}

// SniffFile identifies the format of the file at path.
func SniffFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() { _ = f.Close() }() // read-only file

	return Sniff(f)
}

// IsBinary reports whether path starts with a recognized executable magic.
// I/O errors are treated as "not a binary".
func IsBinary(path string) bool {
	f, err := SniffFile(path)
	return err == nil && f != FormatUnknown
}
