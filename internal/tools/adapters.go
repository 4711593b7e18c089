package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// serviceTool carries what every remote-service adapter needs: its
// definition, a client for its service and the task workspace.
type serviceTool struct {
	def    Definition
	client *ServiceClient
	ws     Workspace
	logger *slog.Logger
}

func (t *serviceTool) Definition() Definition { return t.def }

func (t *serviceTool) Validate(input map[string]any) (Input, error) {
	return t.def.Validate(input)
}

// inputFile returns the absolute path of the input_file_path parameter and
// checks that it exists. Relative paths are taken relative to the workspace.
func (t *serviceTool) inputFile(in Input) (string, error) {
	p := in.String("input_file_path")
	if p == "" {
		return "", fmt.Errorf("input_file_path is empty")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(t.ws.Root(), p)
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("input file not found: %s", p)
	}
	if info.IsDir() {
		return "", fmt.Errorf("input path is a directory: %s", p)
	}
	return p, nil
}

func splitName(path string) (base, ext string) {
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// converterTool converts a structure file to another format.
type converterTool struct{ serviceTool }

func (t *converterTool) Execute(ctx context.Context, in Input) Outcome {
	src, err := t.inputFile(in)
	if err != nil {
		return Failure("%v", err)
	}
	format := strings.TrimPrefix(strings.ToLower(in.String("target_format")), ".")

	body, err := t.client.PostFile(ctx, "/convert/", Upload{Field: "file", Path: src}, map[string]string{
		"target_format": format,
	})
	if err != nil {
		return Failure("file conversion failed: %v", err)
	}
	if len(body) == 0 {
		return Failure("file conversion returned an empty file")
	}

	dir, err := t.ws.TempDir("converter_output_")
	if err != nil {
		return Failure("creating output directory: %v", err)
	}
	base, _ := splitName(src)
	out := filepath.Join(dir, base+"."+format)
	if err := os.WriteFile(out, body, 0644); err != nil {
		return Failure("saving converted file: %v", err)
	}

	t.logger.Info("structure converted", "input", src, "output", out)
	return Success(map[string]any{
		"output_file_path": out,
		"target_format":    format,
	})
}

// maceOptTool relaxes a structure with the MACE potential.
type maceOptTool struct{ serviceTool }

type maceOptimizeResponse struct {
	Success    bool    `json:"success"`
	NAtoms     int     `json:"n_atoms"`
	OutputFile string  `json:"output_file"`
	Energy     float64 `json:"energy"`
	FreeEnergy float64 `json:"free_energy"`
	Session    string  `json:"session"`
}

func (t *maceOptTool) Execute(ctx context.Context, in Input) Outcome {
	src, err := t.inputFile(in)
	if err != nil {
		return Failure("%v", err)
	}

	body, err := t.client.PostFile(ctx, "/optimize", Upload{Field: "structure_file", Path: src}, map[string]string{
		"fmax":   formatFloat(in.Float("fmax")),
		"device": in.String("device"),
	})
	if err != nil {
		return Failure("MACE optimization failed: %v", err)
	}

	var resp maceOptimizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Failure("decoding MACE response: %v", err)
	}
	if resp.OutputFile == "" {
		return Failure("MACE service did not return an output file")
	}

	structure, err := t.client.Get(ctx, "/download", url.Values{"path": {resp.OutputFile}})
	if err != nil {
		return Failure("downloading MACE result: %v", err)
	}

	dir, err := t.ws.TempDir("maceopt_output_")
	if err != nil {
		return Failure("creating output directory: %v", err)
	}
	base, ext := splitName(src)
	out := filepath.Join(dir, base+"_maceopt"+ext)
	if err := os.WriteFile(out, structure, 0644); err != nil {
		return Failure("saving optimized structure: %v", err)
	}

	return Success(map[string]any{
		"output_file_path": out,
		"energy":           resp.Energy,
		"free_energy":      resp.FreeEnergy,
		"n_atoms":          resp.NAtoms,
	})
}

// xtbOptTool relaxes an .xyz structure with GFN-xTB.
type xtbOptTool struct{ serviceTool }

func (t *xtbOptTool) Execute(ctx context.Context, in Input) Outcome {
	src, err := t.inputFile(in)
	if err != nil {
		return Failure("%v", err)
	}
	if !strings.EqualFold(filepath.Ext(src), ".xyz") {
		return Failure("xTB requires an .xyz input file, got %s", filepath.Base(src))
	}

	body, err := t.client.PostFile(ctx, "/optimize", Upload{Field: "file", Path: src}, map[string]string{
		"charge": strconv.Itoa(in.Int("charge")),
		"uhf":    strconv.Itoa(in.Int("uhf")),
		"gfn":    strconv.Itoa(in.Int("gfn")),
	})
	if err != nil {
		return Failure("xTB optimization failed: %v", err)
	}

	var job struct {
		JobID   string `json:"job_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		return Failure("decoding xTB response: %v", err)
	}
	if job.JobID == "" {
		return Failure("xTB service did not return a job id")
	}

	archive, err := t.client.Get(ctx, "/download/"+url.PathEscape(job.JobID), nil)
	if err != nil {
		return Failure("downloading xTB results: %v", err)
	}

	dir, err := t.ws.TempDir("xtb_output_")
	if err != nil {
		return Failure("creating output directory: %v", err)
	}
	if err := extractZip(archive, dir); err != nil {
		return Failure("unpacking xTB results: %v", err)
	}

	optimized := filepath.Join(dir, "xtbopt.xyz")
	if _, err := os.Stat(optimized); err != nil {
		return Failure("xtbopt.xyz not found in xTB results")
	}
	base, _ := splitName(src)
	out := filepath.Join(dir, base+"_xtbopt.xyz")
	if err := os.Rename(optimized, out); err != nil {
		return Failure("renaming xTB result: %v", err)
	}

	return Success(map[string]any{
		"output_file_path": out,
		"output_directory": dir,
		"job_id":           job.JobID,
	})
}

// extractZip unpacks data into dir, rejecting entries that escape it.
func extractZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes output directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxResponseBytes)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// dftbOptTool relaxes a CIF structure with GFN-xTB through DFTB+.
type dftbOptTool struct{ serviceTool }

type dftbOptimizeResponse struct {
	Status             string         `json:"status"`
	RequestID          string         `json:"request_id"`
	DetailedResults    map[string]any `json:"detailed_results"`
	OptimizedStructure string         `json:"optimized_structure_cif_b64"`
}

func (t *dftbOptTool) Execute(ctx context.Context, in Input) Outcome {
	src, err := t.inputFile(in)
	if err != nil {
		return Failure("%v", err)
	}

	body, err := t.client.PostFile(ctx, "/api/v1/optimize/", Upload{Field: "input_file", Path: src}, map[string]string{
		"fmax":   formatFloat(in.Float("fmax")),
		"method": in.String("method"),
	})
	if err != nil {
		return Failure("DFTB+ optimization failed: %v", err)
	}

	var resp dftbOptimizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Failure("decoding DFTB+ response: %v", err)
	}

	summary, _ := resp.DetailedResults["summary"].(map[string]any)
	if resp.Status != "success" {
		msg, _ := summary["error"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return Failure("DFTB+ optimization failed: %s", msg)
	}

	cif, err := base64.StdEncoding.DecodeString(resp.OptimizedStructure)
	if err != nil {
		return Failure("decoding optimized structure: %v", err)
	}

	dir, err := t.ws.TempDir("dftb_output_")
	if err != nil {
		return Failure("creating output directory: %v", err)
	}
	base, _ := splitName(src)
	out := filepath.Join(dir, base+"_dftbopt.cif")
	if err := os.WriteFile(out, cif, 0644); err != nil {
		return Failure("saving optimized structure: %v", err)
	}

	convergence, _ := summary["convergence_status"].(string)
	energies, _ := resp.DetailedResults["energies_eV"].(map[string]any)

	return Success(map[string]any{
		"output_file_path": out,
		"request_id":       resp.RequestID,
		"is_converged":     strings.Contains(convergence, "YES"),
		"final_energy_eV":  energies["Total"],
		"detailed_results": resp.DetailedResults,
	})
}

// zeoTool runs one Zeo++ analysis endpoint and returns its fields as-is.
type zeoTool struct {
	serviceTool
	endpoint string
}

func (t *zeoTool) Execute(ctx context.Context, in Input) Outcome {
	src, err := t.inputFile(in)
	if err != nil {
		return Failure("%v", err)
	}

	fields := make(map[string]string)
	for _, p := range t.def.Params {
		if p.Name == "input_file_path" {
			continue
		}
		v, ok := in[p.Name]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			fields[p.Name] = formatFloat(x)
		case bool:
			fields[p.Name] = strconv.FormatBool(x)
		default:
			fields[p.Name] = fmt.Sprint(x)
		}
	}

	body, err := t.client.PostFile(ctx, t.endpoint, Upload{Field: "structure_file", Path: src}, fields)
	if err != nil {
		return Failure("Zeo++ %s failed: %v", t.def.Name, err)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return Failure("decoding Zeo++ response: %v", err)
	}
	if len(result) == 0 {
		return Failure("Zeo++ %s returned an empty result", t.def.Name)
	}
	if _, ok := result["status"]; ok {
		return OutcomeFromMap(result)
	}
	return Success(result)
}
