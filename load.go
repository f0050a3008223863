package cistar

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"gopkg.in/yaml.v3"
)

// LoadExperiment reads an experiment file on top of
// DefaultExperiment.
//
// Files ending in .yaml or .yml are decoded as YAML and
// files ending in .hcl as HCL. Settings missing from the
// file keep their default values. If the file lists any
// vehicles, they replace the default population.
func LoadExperiment(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiment file %s: %w", path, err)
	}
	var exp *Experiment
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		exp, err = ParseExperimentYAML(data)
	case ".hcl":
		exp, err = ParseExperimentHCL(path, data)
	default:
		return nil, fmt.Errorf("unsupported experiment file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse experiment file %s: %w", path, err)
	}
	return exp, nil
}

type experimentFile struct {
	Experiment `yaml:",inline"`
	Vehicles   []VehicleSpec `yaml:"vehicles"`
}

// ParseExperimentYAML decodes a YAML experiment.
func ParseExperimentYAML(data []byte) (*Experiment, error) {
	file := experimentFile{Experiment: *DefaultExperiment()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}
	exp := file.Experiment
	if file.Vehicles != nil {
		vehicles, err := resolveVehicles(file.Vehicles)
		if err != nil {
			return nil, err
		}
		exp.Vehicles = vehicles
	}
	return &exp, nil
}

var hclSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "sumo_binary"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "sumo"},
		{Type: "env"},
		{Type: "net"},
		{Type: "cfg"},
		{Type: "initial"},
		{Type: "policy"},
		{Type: "algo"},
		{Type: "run"},
		{Type: "vehicle", LabelNames: []string{"label"}},
	},
}

// ParseExperimentHCL decodes an HCL experiment. The name is
// only used in diagnostics.
func ParseExperimentHCL(name string, data []byte) (*Experiment, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, diags
	}
	content, diags := file.Body.Content(hclSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	exp := DefaultExperiment()
	ctx := hclEvalContext()

	if attr, ok := content.Attributes["sumo_binary"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, ctx, &exp.SumoBinary); diags.HasErrors() {
			return nil, diags
		}
	}

	targets := map[string]any{
		"sumo":    &exp.Sumo,
		"env":     &exp.Env,
		"net":     &exp.Net,
		"cfg":     &exp.Cfg,
		"initial": &exp.Initial,
		"policy":  &exp.Policy,
		"algo":    &exp.Algo,
		"run":     &exp.Run,
	}
	seen := map[string]bool{}
	var specs []VehicleSpec
	for _, block := range content.Blocks {
		if block.Type == "vehicle" {
			spec := VehicleSpec{Label: block.Labels[0]}
			if diags := gohcl.DecodeBody(block.Body, ctx, &spec); diags.HasErrors() {
				return nil, diags
			}
			specs = append(specs, spec)
			continue
		}
		if seen[block.Type] {
			return nil, fmt.Errorf("%s: duplicate %q block", block.DefRange, block.Type)
		}
		seen[block.Type] = true
		if diags := gohcl.DecodeBody(block.Body, ctx, targets[block.Type]); diags.HasErrors() {
			return nil, diags
		}
	}
	if specs != nil {
		vehicles, err := resolveVehicles(specs)
		if err != nil {
			return nil, err
		}
		exp.Vehicles = vehicles
	}
	return exp, nil
}

func hclEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: map[string]function.Function{
			"format": stdlib.FormatFunc,
			"max":    stdlib.MaxFunc,
			"min":    stdlib.MinFunc,
			"ceil":   stdlib.CeilFunc,
			"floor":  stdlib.FloorFunc,
		},
	}
}

func resolveVehicles(specs []VehicleSpec) (VehicleTypes, error) {
	res := make(VehicleTypes, 0, len(specs))
	for _, s := range specs {
		v, err := s.VehicleType()
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}
