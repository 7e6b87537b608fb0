// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

const (
	// DefaultTimeout bounds a single script call when Options.Timeout is unset.
	DefaultTimeout = 30 * time.Second

	// MaxDownloads caps the download entries one search result may list.
	MaxDownloads = 256
)

var (
	// ErrTimeout is returned when a script call was interrupted.
	ErrTimeout = errors.New("script timed out")

	// ErrMalformedResult wraps search results the host cannot interpret,
	// including unparsable versions.
	ErrMalformedResult = errors.New("malformed script result")

	errAlreadyRegistered = errors.New("melon.register called more than once")
)

type (
	// Options configures script loading.
	Options struct {
		Timeout time.Duration
		Logger  *log.Logger
	}

	// Script is a JavaScript source extension.
	Script struct {
		name    string
		timeout time.Duration
		desc    extension.Descriptor
		search  goja.Callable
		brute   goja.Callable

		// mu serializes use of vm; goja runtimes are not goroutine-safe.
		mu  sync.Mutex
		vm  *goja.Runtime
		ctx context.Context
		env extension.Env
		// transient records the last network failure seen by a binding
		// during the current call.
		transient error
	}

	// bruteScript is a Script whose registration provided bruteCheck.
	bruteScript struct {
		*Script
	}

	callResult struct {
		val goja.Value
		err error
	}
)

// Discover returns one candidate per *.js file in dir, in name order. A
// missing directory yields no candidates.
func Discover(dir string, opts Options) ([]extension.Candidate, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading extensions directory: %w", err)
	}

	var candidates []extension.Candidate
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".js") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		candidates = append(candidates, extension.Candidate{
			Origin: path,
			Factories: []extension.Factory{func() (extension.Extension, error) {
				return Compile(path, opts)
			}},
		})
	}
	slices.SortFunc(candidates, func(a, b extension.Candidate) int {
		return strings.Compare(a.Origin, b.Origin)
	})
	return candidates, nil
}

// Compile reads and evaluates the script at path.
func Compile(path string, opts Options) (extension.Extension, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return New(filepath.Base(path), string(src), opts)
}

// New evaluates src and returns the extension it registers. Scripts that
// never call melon.register are rejected with extension.ErrMissingIdentity.
func New(name, src string, opts Options) (extension.Extension, error) {
	s := &Script{
		name:    name,
		timeout: opts.Timeout,
		vm:      goja.New(),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.env.Logger = opts.Logger
	if s.env.Logger == nil {
		s.env.Logger = log.Default().WithPrefix(name)
	}
	s.bind()

	program, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	if _, err := s.run(context.Background(), "load", func() (goja.Value, error) {
		return s.vm.RunProgram(program)
	}); err != nil {
		return nil, err
	}

	if s.search == nil {
		return nil, fmt.Errorf("%s: %w: melon.register was not called", name, extension.ErrMissingIdentity)
	}
	if s.brute != nil {
		return &bruteScript{Script: s}, nil
	}
	return s, nil
}

// Descriptor implements extension.Extension.
func (s *Script) Descriptor() extension.Descriptor {
	return s.desc
}

// Init implements extension.Initializer.
func (s *Script) Init(_ context.Context, env extension.Env) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.Logger == nil {
		env.Logger = s.env.Logger
	}
	s.env = env
	return nil
}

// Search calls the registered search function.
func (s *Script) Search(ctx context.Context, url string, current *version.Version) (*extension.SourceResult, error) {
	return s.lookup(ctx, "search", s.search, url, versionArg(current))
}

// BruteCheck calls the registered bruteCheck function.
func (b *bruteScript) BruteCheck(ctx context.Context, name, author string, current *version.Version) (*extension.SourceResult, error) {
	return b.lookup(ctx, "bruteCheck", b.brute, name, author, versionArg(current))
}

func (s *Script) lookup(ctx context.Context, op string, fn goja.Callable, args ...any) (*extension.SourceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The result is converted under the same deadline as the call: reading
	// it can run script getters.
	var (
		res     *extension.SourceResult
		convErr error
	)
	_, err := s.run(ctx, op, func() (goja.Value, error) {
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = s.vm.ToValue(a)
		}
		val, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			return nil, err
		}
		res, convErr = s.toResult(val)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if convErr != nil {
		return nil, fmt.Errorf("%s %s: %w", s.name, op, convErr)
	}
	return res, nil
}

// run executes fn on a separate goroutine so it can be interrupted when ctx
// or the script timeout expires. Callers other than New hold s.mu.
func (s *Script) run(ctx context.Context, op string, fn func() (goja.Value, error)) (goja.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.ctx = ctx
	s.transient = nil
	defer func() { s.ctx = nil }()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if ie, ok := r.(*goja.InterruptedError); ok {
					done <- callResult{err: ie}
					return
				}
				done <- callResult{err: &extension.FaultError{Extension: s.name, Op: op, Panic: r}}
			}
		}()
		v, err := fn()
		done <- callResult{val: v, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		s.vm.Interrupt(ctx.Err())
		res = <-done
	}
	s.vm.ClearInterrupt()

	if res.err == nil {
		return res.val, nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(res.err, &interrupted) {
		return nil, fmt.Errorf("%s %s: %w after %s", s.name, op, ErrTimeout, s.timeout)
	}
	var fe *extension.FaultError
	if errors.As(res.err, &fe) {
		return nil, fe
	}
	if s.transient != nil {
		// An uncaught exception raised by a failed request is an upstream
		// failure, not a script defect.
		return nil, fmt.Errorf("%s %s: %w", s.name, op, s.transient)
	}
	return nil, &extension.FaultError{Extension: s.name, Op: op, Cause: res.err}
}

func (s *Script) toResult(val goja.Value) (*extension.SourceResult, error) {
	if isNullish(val) {
		return nil, nil
	}
	obj := val.ToObject(s.vm)

	raw := str(obj, "latest")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing latest", ErrMalformedResult)
	}
	latest, err := version.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}

	res := &extension.SourceResult{Latest: latest, PageURL: str(obj, "pageUrl")}
	downloads := obj.Get("downloads")
	if isNullish(downloads) {
		return res, nil
	}
	list, ok := downloads.(*goja.Object)
	if !ok || list.ClassName() != "Array" {
		return nil, fmt.Errorf("%w: downloads is not an array", ErrMalformedResult)
	}
	n := list.Get("length").ToInteger()
	if n > MaxDownloads {
		return nil, fmt.Errorf("%w: %d downloads exceed the limit of %d", ErrMalformedResult, n, MaxDownloads)
	}
	for i := range n {
		item := list.Get(fmt.Sprint(i))
		if isNullish(item) {
			continue
		}
		entry := item.ToObject(s.vm)
		dl := extension.DownloadEntry{
			URL:         str(entry, "url"),
			ContentType: str(entry, "contentType"),
			FileName:    str(entry, "fileName"),
		}
		if dl.URL == "" {
			return nil, fmt.Errorf("%w: download %d has no url", ErrMalformedResult, i)
		}
		res.Downloads = append(res.Downloads, dl)
	}
	return res, nil
}

// register implements melon.register.
func (s *Script) register(call goja.FunctionCall) goja.Value {
	if s.search != nil {
		panic(s.vm.NewGoError(errAlreadyRegistered))
	}
	arg := call.Argument(0)
	if isNullish(arg) {
		panic(s.vm.NewTypeError("melon.register expects an object"))
	}
	obj := arg.ToObject(s.vm)

	search, ok := goja.AssertFunction(obj.Get("search"))
	if !ok {
		panic(s.vm.NewTypeError("melon.register: search must be a function"))
	}
	var brute goja.Callable
	if v := obj.Get("bruteCheck"); !isNullish(v) {
		if brute, ok = goja.AssertFunction(v); !ok {
			panic(s.vm.NewTypeError("melon.register: bruteCheck must be a function"))
		}
	}

	desc := extension.Descriptor{
		Name:   str(obj, "name"),
		Author: str(obj, "author"),
		ID:     str(obj, "id"),
		Link:   str(obj, "link"),
	}
	for _, f := range []struct {
		key string
		dst **version.Version
	}{
		{"version", &desc.Version},
		{"minHostVersion", &desc.MinHostVersion},
		{"minToolVersion", &desc.MinToolVersion},
	} {
		raw := str(obj, f.key)
		if raw == "" {
			continue
		}
		v, err := version.Parse(raw)
		if err != nil {
			panic(s.vm.NewTypeError(fmt.Sprintf("melon.register: %s: %v", f.key, err)))
		}
		*f.dst = v
	}

	s.desc = desc
	s.search = search
	s.brute = brute
	return goja.Undefined()
}

func versionArg(v *version.Version) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func str(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if isNullish(v) {
		return ""
	}
	return strings.TrimSpace(v.String())
}
