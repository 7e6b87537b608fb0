// SPDX-License-Identifier: MPL-2.0

// Package contenttype maps MIME types and file extensions onto a canonical
// (MIME type, extension) pair using a bundled, read-only table.
package contenttype

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"
)

// Lookup kinds accepted by Resolve.
const (
	ByMimeType Kind = iota
	ByExtension
)

// GenericMIMEType is the catch-all type servers use for unknown binaries.
const GenericMIMEType = "application/octet-stream"

// ErrNotFound is returned when the table has no entry for the value.
var ErrNotFound = errors.New("content type not found")

//go:embed mimedb.json
var mimeDB []byte

type (
	// Kind selects how Resolve interprets its value.
	Kind int

	// Type is a resolved content type. Extension carries a leading dot.
	Type struct {
		MIMEType     string
		Extension    string
		Compressible bool
	}

	entry struct {
		mimeType     string
		extensions   []string
		compressible bool
	}

	wireEntry struct {
		Compressible bool     `json:"compressible"`
		Extensions   []string `json:"extensions"`
	}

	table struct {
		ordered []entry
		byMIME  map[string]int
	}
)

var loadTable = sync.OnceValues(func() (*table, error) {
	return parseTable(mimeDB)
})

// parseTable decodes the dataset token by token so that the document order
// of entries is preserved; extension lookup returns the first match.
func parseTable(data []byte) (*table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("mime table: expected object")
	}

	t := &table{byMIME: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("mime table: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("mime table: unexpected token %v", tok)
		}
		var w wireEntry
		if err := dec.Decode(&w); err != nil {
			return nil, fmt.Errorf("mime table: entry %s: %w", key, err)
		}
		key = strings.ToLower(key)
		t.byMIME[key] = len(t.ordered)
		t.ordered = append(t.ordered, entry{mimeType: key, extensions: w.Extensions, compressible: w.Compressible})
	}
	return t, nil
}

// Resolve looks value up in the table. For ByMimeType, any parameters
// ("; charset=...") are ignored and the first listed extension is returned.
// For ByExtension, the first entry listing the extension wins.
func Resolve(kind Kind, value string) (Type, error) {
	t, err := loadTable()
	if err != nil {
		return Type{}, err
	}

	switch kind {
	case ByMimeType:
		e, ok := t.lookupMIME(value)
		if !ok {
			return Type{}, fmt.Errorf("%w: mime type %q", ErrNotFound, value)
		}
		return e.toType(firstOrEmpty(e.extensions)), nil
	case ByExtension:
		ext := normalizeExt(value)
		if ext == "" {
			return Type{}, fmt.Errorf("%w: empty extension", ErrNotFound)
		}
		for _, e := range t.ordered {
			for _, x := range e.extensions {
				if x == ext {
					return e.toType(ext), nil
				}
			}
		}
		return Type{}, fmt.Errorf("%w: extension %q", ErrNotFound, value)
	default:
		return Type{}, fmt.Errorf("unknown lookup kind %d", kind)
	}
}

// ForDownload resolves the content type of a downloaded file. The MIME type
// is the declared one, falling back to the response's. The file name's own
// extension is kept when the MIME type lists it, or when the MIME type is
// generic or unknown; otherwise the MIME type's first extension is used.
func ForDownload(declared, response, fileName string) (Type, error) {
	mimeType := declared
	if strings.TrimSpace(mimeType) == "" {
		mimeType = response
	}
	fileExt := normalizeExt(path.Ext(fileName))

	t, err := loadTable()
	if err != nil {
		return Type{}, err
	}
	resolved, err := t.forDownload(mimeType, fileExt, fileName)
	if err != nil {
		return Type{}, err
	}
	if resolved.Extension == ".gz" && strings.HasSuffix(strings.ToLower(fileName), ".tar.gz") {
		resolved.Extension = ".tgz"
	}
	return resolved, nil
}

func (t *table) forDownload(mimeType, fileExt, fileName string) (Type, error) {
	e, ok := t.lookupMIME(mimeType)
	if !ok || e.mimeType == GenericMIMEType {
		if fileExt == "" {
			return Type{}, fmt.Errorf("%w: no usable mime type or extension for %q", ErrNotFound, fileName)
		}
		if byExt, err := Resolve(ByExtension, fileExt); err == nil && !ok {
			return byExt, nil
		}
		mt := GenericMIMEType
		if ok {
			mt = e.mimeType
		}
		return Type{MIMEType: mt, Extension: "." + fileExt}, nil
	}

	for _, x := range e.extensions {
		if x == fileExt {
			return e.toType(x), nil
		}
	}
	if len(e.extensions) == 0 && fileExt != "" {
		return e.toType(fileExt), nil
	}
	return e.toType(firstOrEmpty(e.extensions)), nil
}

func (t *table) lookupMIME(value string) (entry, bool) {
	mt, _, err := mime.ParseMediaType(value)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(value))
	}
	i, ok := t.byMIME[mt]
	if !ok {
		return entry{}, false
	}
	return t.ordered[i], true
}

func (e entry) toType(ext string) Type {
	if ext != "" {
		ext = "." + ext
	}
	return Type{MIMEType: e.mimeType, Extension: ext, Compressible: e.compressible}
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
