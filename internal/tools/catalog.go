package tools

import (
	"fmt"
	"log/slog"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/logging"
)

var inputFileParam = Param{
	Name:        "input_file_path",
	Type:        TypeString,
	Description: "Absolute path to the input structure file.",
	Required:    true,
}

var haParam = Param{
	Name:        "ha",
	Type:        TypeBoolean,
	Description: "Enable high accuracy mode.",
	Default:     true,
}

var chanRadiusParam = Param{Name: "chan_radius", Type: TypeNumber, Description: "Channel radius in Angstroms.", Required: true}
var probeRadiusParam = Param{Name: "probe_radius", Type: TypeNumber, Description: "Probe molecule radius in Angstroms.", Required: true}
var samplesParam = Param{Name: "samples", Type: TypeInteger, Description: "Number of Monte Carlo samples.", Required: true}

// ConverterDefinition describes convert_structure_file.
var ConverterDefinition = Definition{
	Name: "convert_structure_file",
	Description: "Converts a crystal structure file from one format to another (e.g. .cif to .xyz). " +
		"Use it when a later tool requires a specific format.",
	Params: []Param{
		inputFileParam,
		{Name: "target_format", Type: TypeString, Description: "Target file extension without the dot (e.g. xyz, cif).", Required: true},
	},
	Outputs: []string{"output_file_path", "target_format"},
}

// MaceOptDefinition describes optimize_structure_with_mace.
var MaceOptDefinition = Definition{
	Name: "optimize_structure_with_mace",
	Description: "Geometry optimization with the MACE machine learning potential. A good first step " +
		"for any new structure; generally faster than xTB for similar accuracy.",
	Params: []Param{
		inputFileParam,
		{Name: "fmax", Type: TypeNumber, Description: "Force tolerance for the BFGS optimizer.", Default: 0.1},
		{Name: "device", Type: TypeString, Description: "Device to run MACE on.", Default: "cpu", Enum: []string{"cpu", "cuda"}},
	},
	Outputs: []string{"output_file_path", "energy", "free_energy", "n_atoms"},
}

// XTBOptDefinition describes optimize_structure_with_xtb.
var XTBOptDefinition = Definition{
	Name: "optimize_structure_with_xtb",
	Description: "Geometry optimization with the semi-empirical GFN-xTB method. REQUIRES an .xyz input file; " +
		"convert first if needed.",
	Params: []Param{
		inputFileParam,
		{Name: "charge", Type: TypeInteger, Description: "Total molecular charge.", Default: 0},
		{Name: "uhf", Type: TypeInteger, Description: "Number of unpaired electrons.", Default: 0},
		{Name: "gfn", Type: TypeInteger, Description: "GFN-xTB parametrisation (0, 1 or 2).", Default: 2, Enum: []string{"0", "1", "2"}},
	},
	Outputs: []string{"output_file_path", "output_directory", "job_id"},
}

// DFTBOptDefinition describes optimize_structure_with_dftb_xtb.
var DFTBOptDefinition = Definition{
	Name:        "optimize_structure_with_dftb_xtb",
	Description: "Geometry optimization of a CIF structure with GFN-xTB through the DFTB+ engine. Returns convergence, final energy and the optimized CIF.",
	Params: []Param{
		inputFileParam,
		{Name: "fmax", Type: TypeNumber, Description: "Force convergence threshold in eV/Angstrom.", Default: 0.1},
		{Name: "method", Type: TypeString, Description: "GFN-xTB method.", Default: "GFN2-xTB", Enum: []string{"GFN1-xTB", "GFN2-xTB"}},
	},
	Outputs: []string{"output_file_path", "is_converged", "final_energy_eV", "detailed_results", "request_id"},
}

// zeoEndpoints maps each Zeo++ tool to its service endpoint.
var zeoEndpoints = map[string]string{
	"calculate_pore_diameter":     "/api/pore_diameter",
	"calculate_surface_area":      "/api/surface_area",
	"calculate_accessible_volume": "/api/accessible_volume",
	"calculate_probe_volume":      "/api/probe_volume",
	"analyze_channels":            "/api/channel_analysis",
}

// ZeoDefinitions describes the Zeo++ analysis tools.
var ZeoDefinitions = []Definition{
	{
		Name:        "calculate_pore_diameter",
		Description: "Largest included sphere (Di) and largest free sphere (Df) of a framework. Input should be a CIF file.",
		Params:      []Param{inputFileParam, haParam},
		Outputs:     []string{"included_diameter", "free_diameter", "included_along_free", "cached"},
	},
	{
		Name:        "calculate_surface_area",
		Description: "Accessible surface area (ASA) by Monte Carlo sampling. Input should be a CIF file.",
		Params:      []Param{inputFileParam, chanRadiusParam, probeRadiusParam, samplesParam, haParam},
		Outputs:     []string{"asa_unitcell", "asa_volume", "asa_mass", "nasa_unitcell", "nasa_volume", "nasa_mass", "cached"},
	},
	{
		Name:        "calculate_accessible_volume",
		Description: "Accessible volume (AV) and framework density. Input should be a CIF file.",
		Params:      []Param{inputFileParam, chanRadiusParam, probeRadiusParam, samplesParam, haParam},
		Outputs:     []string{"unitcell_volume", "density", "av", "nav", "cached"},
	},
	{
		Name:        "calculate_probe_volume",
		Description: "Probe-occupiable accessible volume (POAV). Input should be a CIF file.",
		Params:      []Param{inputFileParam, chanRadiusParam, probeRadiusParam, samplesParam, haParam},
		Outputs:     []string{"poav_unitcell", "poav_fraction", "poav_mass", "ponav_unitcell", "ponav_fraction", "ponav_mass", "cached"},
	},
	{
		Name:        "analyze_channels",
		Description: "Dimensionality of the channel system (0D cages to 3D networks) plus pore diameters. Input should be a CIF file.",
		Params:      []Param{inputFileParam, probeRadiusParam, haParam},
		Outputs:     []string{"dimension", "included_diameter", "free_diameter", "included_along_free", "cached"},
	},
}

// NewDefaultRegistry registers every built-in adapter. One ServiceClient
// (and breaker) is shared per service; each Resolve builds a fresh handle
// bound to the calling task's workspace. A service without a base URL still
// registers its tools, but resolving them fails with a configuration error.
func NewDefaultRegistry(services map[string]config.ServiceConfig, retry RetryPolicy, logger *slog.Logger) (*Registry, error) {
	logger = logging.OrNop(logger).With("component", "tools")
	breakers := NewBreakerRegistry(logger)
	r := NewRegistry()

	clientFor := func(service string) (*ServiceClient, error) {
		return NewServiceClient(service, services[service], breakers, retry, logger)
	}

	type binding struct {
		def     Definition
		service string
		build   func(base serviceTool) Tool
	}

	bindings := []binding{
		{ConverterDefinition, config.ServiceConverter, func(b serviceTool) Tool { return &converterTool{b} }},
		{MaceOptDefinition, config.ServiceMaceOpt, func(b serviceTool) Tool { return &maceOptTool{b} }},
		{XTBOptDefinition, config.ServiceXTB, func(b serviceTool) Tool { return &xtbOptTool{b} }},
		{DFTBOptDefinition, config.ServiceDFTB, func(b serviceTool) Tool { return &dftbOptTool{b} }},
	}
	for _, def := range ZeoDefinitions {
		endpoint := zeoEndpoints[def.Name]
		bindings = append(bindings, binding{def, config.ServiceZeo, func(b serviceTool) Tool {
			return &zeoTool{serviceTool: b, endpoint: endpoint}
		}})
	}

	for _, b := range bindings {
		client, clientErr := clientFor(b.service)
		def, build := b.def, b.build

		err := r.Register(def, func(ws Workspace) (Tool, error) {
			if clientErr != nil {
				return nil, clientErr
			}
			if ws == nil {
				return nil, fmt.Errorf("tool %s needs a workspace", def.Name)
			}
			return build(serviceTool{
				def:    def,
				client: client,
				ws:     ws,
				logger: logger.With("tool", def.Name),
			}), nil
		})
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}
