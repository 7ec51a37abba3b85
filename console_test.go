package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/export"
)

func TestConsole_Run(t *testing.T) {
	c := &console{cmd: newTestCommandContext(t)}
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "out.ply")

	testCases := []struct {
		line     string
		expected string
		err      error
	}{
		{line: "", expected: ""},
		{line: "points", expected: "1000"},
		{line: "cluster_param", expected: "0.03 30"},
		{line: "cluster 0.5 5", expected: "1000 900"},
		{line: "cluster_param", expected: "0.5 5"},
		{line: "crop 0 0 0 0.45 1 1", expected: "900 500"},
		{line: "gsmode", expected: "1"},
		{line: "save " + out, expected: ""},
		{line: "undo", expected: "900"},
		{line: "reset", expected: "1000"},
		{line: "undo", err: errNothingToUndo},
		{line: "points 1", err: errArgumentNumber},
		{line: "crop 0 0 0", err: errArgumentNumber},
		{line: "save", err: errArgumentNumber},
		{line: "rotate 90", err: errInvalidCommand},
	}
	for _, tt := range testCases {
		res, err := c.Run(ctx, tt.line)
		switch {
		case tt.err != nil:
			if !errors.Is(err, tt.err) {
				t.Errorf("%q: expected error %v, got %v", tt.line, tt.err, err)
			}
			continue
		case err != nil:
			t.Errorf("%q: unexpected error: %v", tt.line, err)
			continue
		}
		if res != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.line, tt.expected, res)
		}
	}

	saved, err := readPLY(out)
	if err != nil {
		t.Fatal(err)
	}
	if n := saved.Vertex.Len(); n != 500 {
		t.Errorf("Expected 500 saved records, got %d", n)
	}
}

func TestConsole_Refused(t *testing.T) {
	c := &console{cmd: newTestCommandContext(t)}
	ctx := context.Background()

	var ce *filter.ConfigError
	if _, err := c.Run(ctx, "voxel 0.2"); !errors.As(err, &ce) {
		t.Errorf("Expected ConfigError in GS mode, got %v", err)
	}
	if _, err := c.Run(ctx, "cluster_param -1 5"); !errors.As(err, &ce) {
		t.Errorf("Expected ConfigError, got %v", err)
	}
	if _, err := c.Run(ctx, "cluster 0.5 x"); err == nil {
		t.Error("Expected parse error")
	}

	res, err := c.Run(ctx, "bounds")
	if err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Split(res, "\n")); n != 2 {
		t.Errorf("Expected 2 lines, got %d", n)
	}

	if res, err := c.Run(ctx, "gsmode 0"); err != nil || res != "0" {
		t.Fatalf("Expected gsmode 0, got %q (%v)", res, err)
	}
	if res, err := c.Run(ctx, "voxel 0.2"); err != nil || res == "" {
		t.Errorf("Expected voxel to run outside GS mode, got %q (%v)", res, err)
	}
}

func TestConsole_EmptyResult(t *testing.T) {
	c := &console{cmd: newTestCommandContext(t)}
	ctx := context.Background()

	if res, err := c.Run(ctx, "crop 100 100 100 101 101 101"); err != nil || res != "1000 0" {
		t.Fatalf("Expected \"1000 0\", got %q (%v)", res, err)
	}
	if res, err := c.Run(ctx, "radius 0.1 3"); err != nil || res != "0 0" {
		t.Errorf("Expected \"0 0\", got %q (%v)", res, err)
	}
	out := filepath.Join(t.TempDir(), "out.ply")
	if _, err := c.Run(ctx, "save "+out); !errors.Is(err, export.ErrEmptySelection) {
		t.Errorf("Expected %v, got %v", export.ErrEmptySelection, err)
	}
	if res, err := c.Run(ctx, "undo"); err != nil || res != "1000" {
		t.Errorf("Expected \"1000\", got %q (%v)", res, err)
	}
}

func TestConsole_Orient(t *testing.T) {
	c := &console{cmd: newTestCommandContext(t)}
	ctx := context.Background()

	testCases := []struct {
		line     string
		expected string
		err      error
	}{
		{line: "flip_x", expected: "1000"},
		{line: "crop 0 -1 -1 1 -0.85 1", expected: "1000 90"},
		{line: "undo", expected: "1000"},
		{line: "undo", expected: "1000"},
		{line: "undo", err: errNothingToUndo},
		{line: "swap_yz 1", expected: "1000"},
		{line: "auto_orient", expected: "1"},
		{line: "swap_yz 1 2", err: errArgumentNumber},
		{line: "auto_orient 0", expected: "0"},
	}
	for _, tt := range testCases {
		res, err := c.Run(ctx, tt.line)
		switch {
		case tt.err != nil:
			if !errors.Is(err, tt.err) {
				t.Errorf("%q: expected error %v, got %v", tt.line, tt.err, err)
			}
			continue
		case err != nil:
			t.Errorf("%q: unexpected error: %v", tt.line, err)
			continue
		}
		if res != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.line, tt.expected, res)
		}
	}
	if o := c.cmd.store.Profile.Orientation; o != cloud.NoOrientation {
		t.Errorf("Expected %s, got %s", cloud.NoOrientation, o)
	}
}

func TestConsole_Serve(t *testing.T) {
	c := &console{cmd: newTestCommandContext(t)}
	in := strings.NewReader("points\nfoo\ncluster 0.5 5\nquit\npoints\n")
	var out bytes.Buffer
	if err := c.Serve(context.Background(), in, &out); err != nil {
		t.Fatal(err)
	}
	expected := "> 1000\n> error: invalid command\n> 1000 900\n> "
	if out.String() != expected {
		t.Errorf("Expected %q, got %q", expected, out.String())
	}
}

func TestFormatValue(t *testing.T) {
	testCases := map[string]struct {
		v        float64
		expected string
	}{
		"Integer":  {1000, "1000"},
		"Negative": {-3, "-3"},
		"Float32":  {float64(float32(0.03)), "0.03"},
		"Large":    {12345678, "12345678"},
	}
	for name, tt := range testCases {
		t.Run(name, func(t *testing.T) {
			if s := formatValue(tt.v); s != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, s)
			}
		})
	}
}
