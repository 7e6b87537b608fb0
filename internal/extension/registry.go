// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/melon"
	"github.com/melonup/melonup/internal/version"
)

type (
	// LoadOptions configure Load.
	LoadOptions struct {
		HostVersion *version.Version
		ToolVersion *version.Version
		// StorageDir holds per-extension storage files. Empty disables storage.
		StorageDir string
		HTTPClient *http.Client
		UserAgent  string
		Logger     *log.Logger
	}

	// Registry holds the loaded extensions of one run in registration order.
	Registry struct {
		logger *log.Logger

		mu      sync.Mutex
		entries []*Entry
	}

	// Entry is one registered extension and its runtime state.
	Entry struct {
		Desc   Descriptor
		Origin string

		ext      Extension
		logger   *log.Logger
		registry *Registry

		// guarded by registry.mu
		rotten bool
		reason string
	}

	// RottenEntry describes an extension removed during the run.
	RottenEntry struct {
		Descriptor Descriptor
		Origin     string
		Reason     string
	}
)

// Load instantiates every factory of every candidate, validates and
// deduplicates the results, and runs their Init hooks. Faults in one
// extension never prevent the others from loading.
func Load(ctx context.Context, candidates []Candidate, opts LoadOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{logger: logger}

	for _, c := range candidates {
		for i, factory := range c.Factories {
			ext, err := instantiate(factory)
			if err != nil {
				logger.Error("instantiating extension", "origin", c.Origin, "index", i, "err", err)
				continue
			}
			if _, err := r.register(ext, c.Origin, opts); err != nil {
				logger.Warn("skipping extension", "origin", c.Origin, "err", err)
			}
		}
	}

	for _, e := range r.snapshot() {
		e.init(ctx, opts)
	}
	return r
}

func instantiate(factory Factory) (ext Extension, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &FaultError{Op: "instantiate", Panic: p}
		}
	}()
	ext, err = factory()
	if err == nil && ext == nil {
		err = fmt.Errorf("factory returned no extension")
	}
	return ext, err
}

func (r *Registry) register(ext Extension, origin string, opts LoadOptions) (*Entry, error) {
	desc, err := describe(ext)
	if err != nil {
		return nil, err
	}
	if desc.Name == "" || desc.Author == "" || desc.Version == nil {
		return nil, fmt.Errorf("%w: %q by %q", ErrMissingIdentity, desc.Name, desc.Author)
	}
	if _, ok := ext.(Searchable); !ok {
		if _, ok := ext.(Installable); !ok {
			return nil, fmt.Errorf("%s declares no capability", desc.Label())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if duplicates(existing.Desc, desc) {
			return nil, fmt.Errorf("%w: %s (first registered from %s)", ErrDuplicate, desc.Label(), existing.Origin)
		}
	}

	e := &Entry{
		Desc:     desc,
		Origin:   origin,
		ext:      ext,
		logger:   r.logger.WithPrefix(desc.Name),
		registry: r,
	}
	if opts.HostVersion != nil && desc.MinHostVersion != nil && opts.HostVersion.Less(desc.MinHostVersion) {
		e.logger.Warn("extension expects a newer host loader; it may misbehave",
			"requires", desc.MinHostVersion.String(), "loader", opts.HostVersion.String())
	}
	if opts.ToolVersion != nil && desc.MinToolVersion != nil && opts.ToolVersion.Less(desc.MinToolVersion) {
		e.logger.Warn("extension expects a newer melonup; check for updates",
			"requires", desc.MinToolVersion.String(), "current", opts.ToolVersion.String())
	}
	r.entries = append(r.entries, e)
	e.logger.Debug("registered", "version", desc.Version.String(), "origin", origin)
	return e, nil
}

func describe(ext Extension) (desc Descriptor, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &FaultError{Op: "describe", Panic: p}
		}
	}()
	return ext.Descriptor(), nil
}

// duplicates implements the uniqueness rule: same name and author, and the
// same ID whenever either side declares one.
func duplicates(a, b Descriptor) bool {
	if !strings.EqualFold(a.Name, b.Name) || !strings.EqualFold(a.Author, b.Author) {
		return false
	}
	if a.ID == "" && b.ID == "" {
		return true
	}
	return a.ID == b.ID
}

func (e *Entry) init(ctx context.Context, opts LoadOptions) {
	initializer, ok := e.ext.(Initializer)
	if !ok {
		return
	}
	env := Env{
		Logger:     e.logger,
		HTTPClient: opts.HTTPClient,
		UserAgent:  opts.UserAgent,
		Unload:     func(reason string) { e.registry.unload(e, reason) },
	}
	if env.HTTPClient == nil {
		env.HTTPClient = http.DefaultClient
	}
	if opts.StorageDir != "" {
		storage, err := OpenStorage(opts.StorageDir, e.Desc.Name)
		if err != nil {
			e.logger.Warn("extension storage unavailable", "err", err)
		} else {
			env.Storage = storage
		}
	}
	_ = e.guard("init", func() error { return initializer.Init(ctx, env) })
}

// Entries returns every registered extension, active or rotten.
func (r *Registry) Entries() []*Entry {
	return r.snapshot()
}

func (r *Registry) snapshot() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// ActiveSources returns the active Searchable extensions in registration order.
func (r *Registry) ActiveSources() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for _, e := range r.entries {
		if _, ok := e.ext.(Searchable); ok && !e.rotten {
			out = append(out, e)
		}
	}
	return out
}

// ActiveInstallers returns the active Installable extensions claiming ext
// (".zip" style), highest priority first. Equal priorities keep registration
// order.
func (r *Registry) ActiveInstallers(ext string) []*Entry {
	r.mu.Lock()
	var out []*Entry
	for _, e := range r.entries {
		inst, ok := e.ext.(Installable)
		if !ok || e.rotten {
			continue
		}
		if claims(inst, ext) {
			out = append(out, e)
		}
	}
	r.mu.Unlock()

	slices.SortStableFunc(out, func(a, b *Entry) int {
		return b.priority() - a.priority()
	})
	return out
}

func claims(inst Installable, ext string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	for _, x := range inst.FileExtensions() {
		if x == Wildcard || strings.EqualFold(x, ext) {
			return true
		}
	}
	return false
}

// Unload removes the extension with the given key for the rest of the run.
// It reports false when no active extension has that key.
func (r *Registry) Unload(key, reason string) bool {
	for _, e := range r.snapshot() {
		if e.Key() == key {
			return r.unload(e, reason)
		}
	}
	return false
}

func (r *Registry) unload(e *Entry, reason string) bool {
	r.mu.Lock()
	if e.rotten {
		r.mu.Unlock()
		return false
	}
	e.rotten = true
	e.reason = reason
	r.mu.Unlock()

	e.logger.Error("extension unloaded for the rest of this run", "reason", reason)
	return true
}

// Rotten lists the extensions unloaded so far, in registration order.
func (r *Registry) Rotten() []RottenEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RottenEntry
	for _, e := range r.entries {
		if e.rotten {
			out = append(out, RottenEntry{Descriptor: e.Desc, Origin: e.Origin, Reason: e.reason})
		}
	}
	return out
}

// Key identifies the entry for Unload: "name/author[/id]".
func (e *Entry) Key() string {
	k := e.Desc.Name + "/" + e.Desc.Author
	if e.Desc.ID != "" {
		k += "/" + e.Desc.ID
	}
	return k
}

// Rotten reports whether the entry has been unloaded, and why.
func (e *Entry) Rotten() (bool, string) {
	e.registry.mu.Lock()
	defer e.registry.mu.Unlock()
	return e.rotten, e.reason
}

// Capabilities lists "source", "brute-check" and "install" as applicable.
func (e *Entry) Capabilities() []string {
	var caps []string
	if _, ok := e.ext.(Searchable); ok {
		caps = append(caps, "source")
	}
	if e.SupportsBruteCheck() {
		caps = append(caps, "brute-check")
	}
	if _, ok := e.ext.(Installable); ok {
		caps = append(caps, "install")
	}
	return caps
}

// SupportsBruteCheck reports whether the extension implements name+author lookups.
func (e *Entry) SupportsBruteCheck() bool {
	_, ok := e.ext.(BruteCheckable)
	return ok
}

// CanSearch reports whether the unit's platform policy allows this source.
func (e *Entry) CanSearch(cfg *melon.Config) bool {
	return cfg.AllowsPlatform(e.Desc.Name)
}

// Search calls the extension's Search inside the fault boundary.
func (e *Entry) Search(ctx context.Context, url string, current *version.Version) (*SourceResult, error) {
	s, ok := e.ext.(Searchable)
	if !ok {
		return nil, nil
	}
	var res *SourceResult
	err := e.guard("search", func() error {
		var err error
		res, err = s.Search(ctx, url, current)
		return err
	})
	return res, err
}

// BruteCheck calls the extension's BruteCheck inside the fault boundary.
func (e *Entry) BruteCheck(ctx context.Context, name, author string, current *version.Version) (*SourceResult, error) {
	b, ok := e.ext.(BruteCheckable)
	if !ok {
		return nil, nil
	}
	var res *SourceResult
	err := e.guard("brute check", func() error {
		var err error
		res, err = b.BruteCheck(ctx, name, author, current)
		return err
	})
	return res, err
}

// Install calls the extension's Install inside the fault boundary.
func (e *Entry) Install(ctx context.Context, req InstallRequest) (InstallResult, error) {
	inst, ok := e.ext.(Installable)
	if !ok {
		return InstallResult{}, nil
	}
	var res InstallResult
	err := e.guard("install", func() error {
		var err error
		res, err = inst.Install(ctx, req)
		return err
	})
	return res, err
}

// PrepareUnit runs the per-unit hook, if any, inside the fault boundary.
func (e *Entry) PrepareUnit(ctx context.Context, u *melon.Unit) error {
	p, ok := e.ext.(UnitPreparer)
	if !ok {
		return nil
	}
	return e.guard("prepare unit", func() error { return p.PrepareUnit(ctx, u) })
}

func (e *Entry) priority() (p int) {
	defer func() {
		if recover() != nil {
			p = 0
		}
	}()
	if inst, ok := e.ext.(Installable); ok {
		return inst.Priority()
	}
	return 0
}

// guard runs fn, turning panics into FaultErrors. Any error wrapping
// ErrFault rots the extension. Calls on a rotten extension return ErrRotten
// without running fn.
func (e *Entry) guard(op string, fn func() error) (err error) {
	if rotten, _ := e.Rotten(); rotten {
		return ErrRotten
	}
	defer func() {
		if p := recover(); p != nil {
			err = &FaultError{Extension: e.Desc.Name, Op: op, Panic: p}
		}
		if err != nil && isFault(err) {
			if fe, ok := asFault(err); ok && fe.Extension == "" {
				fe.Extension = e.Desc.Name
			}
			e.registry.unload(e, err.Error())
		}
	}()
	return fn()
}
