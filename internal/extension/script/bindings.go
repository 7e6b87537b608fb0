// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dop251/goja"
)

// maxResponseBytes bounds bodies returned to scripts (10 MB).
const maxResponseBytes = 10 << 20

// bind installs the host objects. Binding functions run on the script
// goroutine while s.mu is held by the caller of run.
func (s *Script) bind() {
	melon := s.vm.NewObject()
	_ = melon.Set("register", s.register)
	_ = melon.Set("unload", func(call goja.FunctionCall) goja.Value {
		reason := call.Argument(0).String()
		if s.env.Unload != nil {
			s.env.Unload(reason)
		}
		return goja.Undefined()
	})
	_ = s.vm.Set("melon", melon)

	httpObj := s.vm.NewObject()
	_ = httpObj.Set("get", s.httpGet)
	_ = httpObj.Set("getJSON", s.httpGetJSON)
	_ = s.vm.Set("http", httpObj)

	storage := s.vm.NewObject()
	_ = storage.Set("get", func(call goja.FunctionCall) goja.Value {
		if s.env.Storage == nil {
			return goja.Null()
		}
		v, ok := s.env.Storage.Get(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return s.vm.ToValue(v)
	})
	_ = storage.Set("set", func(call goja.FunctionCall) goja.Value {
		if s.env.Storage == nil {
			panic(s.vm.NewGoError(errors.New("storage is not available before init")))
		}
		if err := s.env.Storage.Set(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(s.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	_ = s.vm.Set("storage", storage)

	logObj := s.vm.NewObject()
	_ = logObj.Set("info", s.logFunc(func(msg string, kv ...any) { s.env.Logger.Info(msg, kv...) }))
	_ = logObj.Set("warn", s.logFunc(func(msg string, kv ...any) { s.env.Logger.Warn(msg, kv...) }))
	_ = logObj.Set("error", s.logFunc(func(msg string, kv ...any) { s.env.Logger.Error(msg, kv...) }))
	_ = s.vm.Set("log", logObj)
}

func (s *Script) logFunc(emit func(string, ...any)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		kv := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments[min(1, len(call.Arguments)):] {
			kv = append(kv, a.Export())
		}
		if len(kv)%2 != 0 {
			kv = append(kv, nil)
		}
		emit(call.Argument(0).String(), kv...)
		return goja.Undefined()
	}
}

// httpGet implements http.get(url[, headers]) returning
// {status, body, headers}.
func (s *Script) httpGet(call goja.FunctionCall) goja.Value {
	status, body, header := s.fetch(call)
	headers := make(map[string]any, len(header))
	for k := range header {
		headers[k] = header.Get(k)
	}
	return s.vm.ToValue(map[string]any{
		"status":  status,
		"body":    string(body),
		"headers": headers,
	})
}

// httpGetJSON implements http.getJSON(url[, headers]): the decoded body on
// 200, null on 404, an exception otherwise.
func (s *Script) httpGetJSON(call goja.FunctionCall) goja.Value {
	status, body, _ := s.fetch(call)
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return goja.Null()
	default:
		err := fmt.Errorf("GET %s: unexpected status %d", call.Argument(0).String(), status)
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			s.transient = err
		}
		panic(s.vm.NewGoError(err))
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		panic(s.vm.NewGoError(fmt.Errorf("GET %s: decoding JSON: %w", call.Argument(0).String(), err)))
	}
	return s.vm.ToValue(v)
}

func (s *Script) fetch(call goja.FunctionCall) (int, []byte, http.Header) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, call.Argument(0).String(), http.NoBody)
	if err != nil {
		panic(s.vm.NewGoError(err))
	}
	if s.env.UserAgent != "" {
		req.Header.Set("User-Agent", s.env.UserAgent)
	}
	if h := call.Argument(1); !isNullish(h) {
		obj := h.ToObject(s.vm)
		for _, k := range obj.Keys() {
			req.Header.Set(k, obj.Get(k).String())
		}
	}

	client := s.env.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		s.transient = err
		panic(s.vm.NewGoError(err))
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.transient = err
		panic(s.vm.NewGoError(err))
	}
	return resp.StatusCode, body, resp.Header
}
