// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/compositor/virtual"
	"github.com/gogpu/screencap/internal/config"
	"github.com/gogpu/screencap/internal/gputest"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var out, errBuf bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errBuf.String(), err
}

// useVirtual points the command hooks at a noop device and a fresh
// virtual compositor with one 64x32 output.
func useVirtual(t *testing.T) *virtual.Compositor {
	t.Helper()
	viper.Reset()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	device, queue, cleanup := gputest.CreateNoopDevice(t)
	t.Cleanup(cleanup)
	comp := virtual.New()
	comp.AddOutput("Test-1", 64, 32)

	oldDevice, oldComp := newDevice, newCompositor
	newDevice = func(*config.Config) (*screencap.Device, error) {
		return screencap.NewDevice(device, queue), nil
	}
	newCompositor = func(*config.Config) (compositor.Compositor, error) {
		return comp, nil
	}
	t.Cleanup(func() {
		comp.Stop()
		newDevice, newCompositor = oldDevice, oldComp
		screencap.SetLogger(nil)
		viper.Reset()
	})
	return comp
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "screencap" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "screencap")
	}
	want := []string{"outputs", "grab", "bench", "serve"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
	for _, flag := range []string{"config", "driver", "output", "adapter", "log-level"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestOutputsCommand(t *testing.T) {
	useVirtual(t)

	out, _, err := executeCommand(rootCmd, "outputs")
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	for _, want := range []string{"driver: virtual", "Test-1", "64x32", "virtual-0"} {
		if !strings.Contains(out, want) {
			t.Errorf("outputs output missing %q:\n%s", want, out)
		}
	}
}

func TestGrabToFile(t *testing.T) {
	useVirtual(t)
	path := filepath.Join(t.TempDir(), "shot.png")

	_, stderr, err := executeCommand(rootCmd, "grab", path)
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if !strings.Contains(stderr, "wrote "+path) {
		t.Errorf("stderr = %q, want a wrote line", stderr)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("image size = %dx%d, want 64x32", b.Dx(), b.Dy())
	}
}

func TestGrabToStdout(t *testing.T) {
	useVirtual(t)

	out, _, err := executeCommand(rootCmd, "grab", "--format", "bmp")
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if !strings.HasPrefix(out, "BM") {
		t.Errorf("stdout does not start with a BMP header: % x", []byte(out)[:min(len(out), 8)])
	}
}

func TestGrabUnknownOutput(t *testing.T) {
	useVirtual(t)

	_, _, err := executeCommand(rootCmd, "grab", "--output", "nope", filepath.Join(t.TempDir(), "x.png"))
	if err == nil {
		t.Fatal("grab of a missing output succeeded")
	}
	_ = rootCmd.PersistentFlags().Set("output", "")
}

func TestBenchCommand(t *testing.T) {
	useVirtual(t)

	out, _, err := executeCommand(rootCmd, "bench", "--sessions", "2", "--duration", "150ms")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	for _, want := range []string{"sessions: 2", "session 0:", "session 1:", "total:"} {
		if !strings.Contains(out, want) {
			t.Errorf("bench output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintBenchGroupsDigits(t *testing.T) {
	var buf bytes.Buffer
	results := []benchResult{{
		Stats:   screencap.Stats{Frames: 1234},
		Bytes:   1234567,
		Elapsed: 2e9,
		Width:   64,
		Height:  32,
	}}
	printBench(&buf, "noop", results)
	out := buf.String()
	for _, want := range []string{"frames 1,234", "617.0 fps", "1,234,567 bytes"} {
		if !strings.Contains(out, want) {
			t.Errorf("bench report missing %q:\n%s", want, out)
		}
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	useVirtual(t)
	e, err := openEnv(config.Default())
	if err != nil {
		t.Fatalf("openEnv: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(newServer(ctx, e).routes())
	t.Cleanup(func() {
		cancel()
		srv.Close()
		e.close()
	})
	return srv
}

func TestServeFrame(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/frame.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("image size = %dx%d, want 64x32", b.Dx(), b.Dy())
	}
}

func TestServeFrameBadFormat(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/frame.png?format=webp")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeWebSocket(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=png"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := range 2 {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if typ != websocket.BinaryMessage {
			t.Errorf("frame %d: message type %d, want binary", i, typ)
		}
		if _, err := png.Decode(bytes.NewReader(data)); err != nil {
			t.Errorf("frame %d: decode: %v", i, err)
		}
	}
}
