/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"reflect"
	"strings"
	"testing"
)

func TestRingKeepsLastLines(t *testing.T) {
	r := New(3)
	_, _ = r.Write([]byte("one\ntwo\nthree\nfour\n"))

	got := r.Last(0)
	want := []string{"two", "three", "four"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Last(0) = %v, want %v", got, want)
	}
	if got := r.Last(1); !reflect.DeepEqual(got, []string{"four"}) {
		t.Fatalf("Last(1) = %v", got)
	}
}

func TestRingJoinsPartialWrites(t *testing.T) {
	r := New(4)
	_, _ = r.Write([]byte("No such fi"))
	_, _ = r.Write([]byte("le or directory\r\n\n"))

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if got := r.Last(1)[0]; got != "No such file or directory" {
		t.Fatalf("line = %q", got)
	}
}

func TestRingCapsLongLines(t *testing.T) {
	r := New(2)
	_, _ = r.Write([]byte(strings.Repeat("x", maxLineLength+10)))

	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if len(r.Last(1)[0]) != maxLineLength {
		t.Fatalf("line length = %d", len(r.Last(1)[0]))
	}
}
