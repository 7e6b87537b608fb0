// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"mode"}, "mode"},
		{[]string{"ignore", "2"}, "ignore[2]"},
		{[]string{"sources", "s3", "region"}, "sources.s3.region"},
		{[]string{"0", "name"}, "0.name"},
	}
	for _, tt := range tests {
		if got := formatPath(tt.in); got != tt.want {
			t.Errorf("formatPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatError_CUEPath(t *testing.T) {
	t.Parallel()

	ctx := cuecontext.New()
	schema := ctx.CompileString(`#C: { mode: "auto" | "manual" }`).LookupPath(cue.ParsePath("#C"))
	v := schema.Unify(ctx.CompileString(`mode: "sometimes"`))
	err := FormatError(v.Validate(cue.Concrete(true)), "config.cue")
	if err == nil {
		t.Fatal("FormatError() = nil")
	}
	if !strings.HasPrefix(err.Error(), "config.cue: mode") {
		t.Errorf("FormatError() = %q, want file and path prefix", err)
	}
}

func TestFormatError_PlainError(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := FormatError(base, "x.cue")
	if err == nil || !strings.HasPrefix(err.Error(), "x.cue: ") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("FormatError() = %v", err)
	}
	if FormatError(nil, "x.cue") != nil {
		t.Error("FormatError(nil) != nil")
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "a"); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "a"); err == nil {
		t.Error("over limit: nil error")
	}
}
