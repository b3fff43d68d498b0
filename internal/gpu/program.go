//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// program is a compiled compute pipeline and the layout of its bindings.
type program struct {
	label      string
	inputs     int
	outputs    int
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// bindings returns the number of storage buffers the program binds.
func (p *program) bindings() int { return 2 + p.inputs + p.outputs }

func layoutEntries(inputs, outputs int) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, 2+inputs+outputs)
	add := func(typ gputypes.BufferBindingType) {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(len(entries)),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		})
	}
	add(gputypes.BufferBindingTypeReadOnlyStorage) // params
	add(gputypes.BufferBindingTypeReadOnlyStorage) // dims
	for range inputs {
		add(gputypes.BufferBindingTypeReadOnlyStorage)
	}
	for range outputs {
		add(gputypes.BufferBindingTypeStorage)
	}
	return entries
}

func (d *Device) buildProgram(desc *gpucore.ProgramDesc) (*program, error) {
	switch {
	case desc.WGSL == "":
		return nil, errors.New("no WGSL source")
	case desc.Outputs <= 0:
		return nil, errors.New("program writes no targets")
	case desc.Inputs > kernels.MaxInputs || desc.Outputs > kernels.MaxOutputs:
		return nil, fmt.Errorf("%d inputs and %d targets exceed %d and %d",
			desc.Inputs, desc.Outputs, kernels.MaxInputs, kernels.MaxOutputs)
	}
	p := &program{label: desc.Label, inputs: desc.Inputs, outputs: desc.Outputs}
	if limit := int(d.limits.MaxStorageBuffersPerShaderStage); p.bindings() > limit {
		return nil, fmt.Errorf("%d storage buffers, device allows %d", p.bindings(), limit)
	}

	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: shaderSource(desc.Label, desc.WGSL),
	})
	if err != nil {
		return nil, fmt.Errorf("shader module: %w", err)
	}
	p.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: layoutEntries(desc.Inputs, desc.Outputs),
	})
	if err != nil {
		p.destroy(d.device)
		return nil, fmt.Errorf("bind group layout: %w", err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.destroy(d.device)
		return nil, fmt.Errorf("pipeline layout: %w", err)
	}
	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.pipeLayout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		p.destroy(d.device)
		return nil, fmt.Errorf("compute pipeline: %w", err)
	}
	return p, nil
}

func (p *program) destroy(dev hal.Device) {
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
		p.module = nil
	}
}
