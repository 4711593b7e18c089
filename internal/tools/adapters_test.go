package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/mofagent/internal/config"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	return p
}

// registryFor builds the default registry with every service pointed at url.
func registryFor(t *testing.T, url string) *Registry {
	t.Helper()
	services := map[string]config.ServiceConfig{}
	for _, name := range []string{config.ServiceConverter, config.ServiceMaceOpt, config.ServiceXTB, config.ServiceDFTB, config.ServiceZeo} {
		services[name] = config.ServiceConfig{BaseURL: url, TimeoutSeconds: 5}
	}
	r, err := NewDefaultRegistry(services, fastRetry(), nil)
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	return r
}

func run(t *testing.T, r *Registry, ws Workspace, name string, input map[string]any) Outcome {
	t.Helper()
	tool, err := r.Resolve(name, ws)
	if err != nil {
		t.Fatalf("Resolve(%s) failed: %v", name, err)
	}
	in, err := tool.Validate(input)
	if err != nil {
		t.Fatalf("Validate(%s) failed: %v", name, err)
	}
	return tool.Execute(context.Background(), in)
}

func TestDefaultRegistryHasAllTools(t *testing.T) {
	r := registryFor(t, "http://127.0.0.1:1")
	want := []string{
		"analyze_channels", "calculate_accessible_volume", "calculate_pore_diameter",
		"calculate_probe_volume", "calculate_surface_area", "convert_structure_file",
		"optimize_structure_with_dftb_xtb", "optimize_structure_with_mace", "optimize_structure_with_xtb",
	}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(defs))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("Tool %d: expected %s, got %s", i, want[i], d.Name)
		}
	}
}

func TestUnconfiguredServiceFailsOnResolve(t *testing.T) {
	r, err := NewDefaultRegistry(map[string]config.ServiceConfig{}, fastRetry(), nil)
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	_, err = r.Resolve("convert_structure_file", testWorkspace{t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "base URL is not configured") {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestConverterTool(t *testing.T) {
	var gotFormat, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convert/" {
			http.NotFound(w, r)
			return
		}
		gotFormat = r.FormValue("target_format")
		_, hdr, err := r.FormFile("file")
		if err == nil {
			gotFile = hdr.Filename
		}
		w.Write([]byte("3\nxyz data\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data_mof")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "convert_structure_file",
		map[string]any{"input_file_path": src, "target_format": ".XYZ"})

	if !out.OK() {
		t.Fatalf("Expected success, got %q", out.Message)
	}
	if gotFormat != "xyz" || gotFile != "mof.cif" {
		t.Errorf("Unexpected request: format=%q file=%q", gotFormat, gotFile)
	}
	path := out.Data["output_file_path"].(string)
	if filepath.Base(path) != "mof.xyz" {
		t.Errorf("Unexpected output name: %s", path)
	}
	if !strings.HasPrefix(path, dir) {
		t.Errorf("Output %s not inside workspace %s", path, dir)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "3\nxyz data\n" {
		t.Errorf("Unexpected converted content: %q", data)
	}
}

func TestMissingInputFileFailsWithoutCallingService(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	out := run(t, registryFor(t, srv.URL), testWorkspace{t.TempDir()}, "optimize_structure_with_mace",
		map[string]any{"input_file_path": "/does/not/exist.cif"})

	if out.OK() || !strings.Contains(out.Message, "not found") {
		t.Errorf("Expected not-found failure, got %+v", out)
	}
	if calls.Load() != 0 {
		t.Error("Service must not be called for a missing file")
	}
}

func TestMaceOptTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/optimize", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("fmax") != "0.05" || r.FormValue("device") != "cpu" {
			http.Error(w, "bad params", http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "n_atoms": 54, "output_file": "/srv/out/opt.cif",
			"energy": -42.1, "free_energy": -42.0,
		})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("path") != "/srv/out/opt.cif" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("optimized"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data_mof")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "optimize_structure_with_mace",
		map[string]any{"input_file_path": src, "fmax": 0.05})

	if !out.OK() {
		t.Fatalf("Expected success, got %q", out.Message)
	}
	if out.Data["energy"] != -42.1 || out.Data["n_atoms"] != 54 {
		t.Errorf("Unexpected data: %v", out.Data)
	}
	path := out.Data["output_file_path"].(string)
	if filepath.Base(path) != "mof_maceopt.cif" {
		t.Errorf("Unexpected output name: %s", path)
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		io.WriteString(w, content)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestXTBOptTool(t *testing.T) {
	archive := zipBytes(t, map[string]string{"xtbopt.xyz": "opt", "xtb.log": "log"})

	mux := http.NewServeMux()
	mux.HandleFunc("/optimize", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("gfn") != "2" || r.FormValue("charge") != "0" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"job_id": "job-7"})
	})
	mux.HandleFunc("/download/job-7", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.xyz", "3\n")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "optimize_structure_with_xtb",
		map[string]any{"input_file_path": src})

	if !out.OK() {
		t.Fatalf("Expected success, got %q", out.Message)
	}
	path := out.Data["output_file_path"].(string)
	if filepath.Base(path) != "mof_xtbopt.xyz" {
		t.Errorf("Unexpected output name: %s", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "opt" {
		t.Errorf("Unexpected optimized content: %q", data)
	}
	if out.Data["job_id"] != "job-7" {
		t.Errorf("Unexpected job id: %v", out.Data["job_id"])
	}
}

func TestXTBRequiresXYZ(t *testing.T) {
	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data")

	out := run(t, registryFor(t, "http://127.0.0.1:1"), testWorkspace{dir}, "optimize_structure_with_xtb",
		map[string]any{"input_file_path": src})
	if out.OK() || !strings.Contains(out.Message, ".xyz") {
		t.Errorf("Expected .xyz requirement failure, got %+v", out)
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	archive := zipBytes(t, map[string]string{"../escape.txt": "x"})
	if err := extractZip(archive, t.TempDir()); err == nil {
		t.Error("Expected traversal entry to be rejected")
	}
}

func TestDFTBOptTool(t *testing.T) {
	cif := "data_optimized"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/optimize/" {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("input_file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "success",
			"request_id": "req-1",
			"detailed_results": map[string]any{
				"summary":     map[string]any{"convergence_status": "Geometry converged: YES"},
				"energies_eV": map[string]any{"Total": -1234.5},
			},
			"optimized_structure_cif_b64": base64.StdEncoding.EncodeToString([]byte(cif)),
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data_mof")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "optimize_structure_with_dftb_xtb",
		map[string]any{"input_file_path": src})

	if !out.OK() {
		t.Fatalf("Expected success, got %q", out.Message)
	}
	if out.Data["is_converged"] != true || out.Data["final_energy_eV"] != -1234.5 {
		t.Errorf("Unexpected data: %v", out.Data)
	}
	path := out.Data["output_file_path"].(string)
	if data, _ := os.ReadFile(path); string(data) != cif {
		t.Errorf("Unexpected CIF content: %q", data)
	}
}

func TestDFTBReportsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "failed",
			"detailed_results": map[string]any{"summary": map[string]any{"error": "SCC did not converge"}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data_mof")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "optimize_structure_with_dftb_xtb",
		map[string]any{"input_file_path": src})
	if out.OK() || !strings.Contains(out.Message, "SCC did not converge") {
		t.Errorf("Expected service error in message, got %+v", out)
	}
}

func TestZeoTool(t *testing.T) {
	var gotSamples, gotHA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/accessible_volume" {
			http.NotFound(w, r)
			return
		}
		gotSamples = r.FormValue("samples")
		gotHA = r.FormValue("ha")
		json.NewEncoder(w).Encode(map[string]any{
			"unitcell_volume": 1000.0, "density": 0.9,
			"av": map[string]any{"fraction": 0.55}, "nav": map[string]any{}, "cached": false,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := writeInput(t, dir, "mof.cif", "data_mof")

	out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "calculate_accessible_volume",
		map[string]any{"input_file_path": src, "chan_radius": 1.2, "probe_radius": 1.2, "samples": 5000.0})

	if !out.OK() {
		t.Fatalf("Expected success, got %q", out.Message)
	}
	if gotSamples != "5000" || gotHA != "true" {
		t.Errorf("Unexpected form values: samples=%q ha=%q", gotSamples, gotHA)
	}
	av := out.Data["av"].(map[string]any)
	if av["fraction"] != 0.55 {
		t.Errorf("Unexpected av: %v", av)
	}
}

func TestZeoToolResultShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		expectOK  bool
		expectMsg string
	}{
		{name: "null body", body: `null`, expectMsg: "empty result"},
		{name: "empty object", body: `{}`, expectMsg: "empty result"},
		{name: "failed status", body: `{"status":"failed","error":"network unreadable"}`, expectMsg: "network unreadable"},
		{name: "success status", body: `{"status":"success","density":0.9}`, expectOK: true},
		{name: "plain fields", body: `{"density":0.9}`, expectOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			dir := t.TempDir()
			src := writeInput(t, dir, "mof.cif", "data_mof")

			out := run(t, registryFor(t, srv.URL), testWorkspace{dir}, "calculate_pore_diameter",
				map[string]any{"input_file_path": src})

			if out.OK() != tt.expectOK {
				t.Fatalf("Expected OK=%v, got %+v", tt.expectOK, out)
			}
			if !tt.expectOK && !strings.Contains(out.Message, tt.expectMsg) {
				t.Errorf("Expected message containing %q, got %q", tt.expectMsg, out.Message)
			}
			if tt.expectOK {
				if _, ok := out.Data["status"]; ok {
					t.Errorf("status key should not be part of the data: %v", out.Data)
				}
				if out.Data["density"] != 0.9 {
					t.Errorf("Expected density 0.9, got %v", out.Data["density"])
				}
			}
		})
	}
}

func TestServiceClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := NewServiceClient("zeo", config.ServiceConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, NewBreakerRegistry(nil), fastRetry(), nil)
	if err != nil {
		t.Fatalf("NewServiceClient failed: %v", err)
	}

	body, err := c.Get(context.Background(), "/health", nil)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(body) != "ok" || calls.Load() != 3 {
		t.Errorf("Expected 3 calls and body 'ok', got %d calls and %q", calls.Load(), body)
	}
}

func TestServiceClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad structure", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, _ := NewServiceClient("zeo", config.ServiceConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, NewBreakerRegistry(nil), fastRetry(), nil)

	_, err := c.Get(context.Background(), "/x", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 call, got %d", calls.Load())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	noRetry := fastRetry()
	noRetry.MaxElapsedTime = time.Nanosecond

	breakers := NewBreakerRegistry(nil)
	c, _ := NewServiceClient("maceopt", config.ServiceConfig{BaseURL: srv.URL, TimeoutSeconds: 5}, breakers, noRetry, nil)

	for i := 0; i < 5; i++ {
		_, _ = c.Get(context.Background(), "/x", nil)
	}
	if breakers.Get("maceopt").State() != gobreaker.StateOpen {
		t.Fatalf("Expected breaker open after 5 failures, state %s", breakers.Get("maceopt").State())
	}

	before := calls.Load()
	_, err := c.Get(context.Background(), "/x", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}
	if calls.Load() != before {
		t.Error("Open breaker must not reach the service")
	}
}
