// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernels defines the compute programs of the water simulation.
//
// Every program exists twice: as WGSL compute shader source for hardware
// devices, and as a CPU reference kernel for the software device. Both read
// textures with clamped fetches, so cells outside the grid behave as copies
// of the nearest edge cell.
package kernels

import (
	"embed"
	"fmt"

	"github.com/gogpu/sandbox/gpucore"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// Kind identifies a program.
type Kind int

const (
	DerivativeTraditional Kind = iota
	DerivativeEngineering
	EulerTraditional
	EulerEngineering
	RungeKuttaTraditional
	RungeKuttaEngineering
	Boundary
	BathymetryUpdate
	WaterAdapt
	WaterUpdate
	ReduceMin
	AddDisk
	AddConstant
	Resample

	// KindCount is the number of programs.
	KindCount
)

// Derivative program parameters.
const (
	ParamCellSizeX = iota
	ParamCellSizeY
	ParamTheta
	ParamGravity
	ParamEpsilon
	ParamMaxSpeedX
	ParamMaxSpeedY
	NumDerivativeParams
)

// Euler and Runge-Kutta program parameters. Traditional programs read the
// attenuation factor; engineering programs read gravity and epsilon.
const (
	ParamStepSize        = 0
	ParamStepAttenuation = 1
	ParamStepGravity     = 1
	ParamStepEpsilon     = 2
)

// Water update parameters.
const (
	ParamSnowLine = 0
	ParamSnowMelt = 1
)

// Max-step reduction parameters: the last valid column and row of the
// level being reduced.
const (
	ParamReduceLastX = 0
	ParamReduceLastY = 1
)

// Disk source parameters, in water-add texel space.
const (
	ParamDiskCenterX = iota
	ParamDiskCenterY
	ParamDiskRadius
	ParamDiskAmount
)

// Resample parameters: the inverse of the target frame's xy block (4),
// its z column and translation for x and y (4), its z row (4), and the
// grid-to-texel scale and offset of the source for x and y (4).
const (
	ParamResampleInverse = 0
	NumResampleParams    = 16
)

type programInfo struct {
	name    string
	shader  string
	kernel  gpucore.Kernel
	inputs  int
	outputs int
}

var programs = [KindCount]programInfo{
	DerivativeTraditional: {"derivative_traditional", "derivative.wgsl", derivativeKernel(false), 2, 2},
	DerivativeEngineering: {"derivative_engineering", "derivative.wgsl", derivativeKernel(true), 3, 2},
	EulerTraditional:      {"euler_traditional", "integrate.wgsl", eulerKernel(false), 3, 1},
	EulerEngineering:      {"euler_engineering", "integrate.wgsl", eulerKernel(true), 4, 1},
	RungeKuttaTraditional: {"runge_kutta_traditional", "integrate.wgsl", rungeKuttaKernel(false), 4, 1},
	RungeKuttaEngineering: {"runge_kutta_engineering", "integrate.wgsl", rungeKuttaKernel(true), 5, 1},
	Boundary:              {"boundary", "boundary.wgsl", boundaryKernel, 1, 1},
	BathymetryUpdate:      {"bathymetry_update", "bathymetry_update.wgsl", bathymetryUpdateKernel, 3, 1},
	WaterAdapt:            {"water_adapt", "water_adapt.wgsl", waterAdaptKernel, 2, 1},
	WaterUpdate:           {"water_update", "water_update.wgsl", waterUpdateKernel, 4, 2},
	ReduceMin:             {"reduce_min", "reduce_min.wgsl", reduceMinKernel, 1, 1},
	AddDisk:               {"add_disk", "add_disk.wgsl", addDiskKernel, 0, 1},
	AddConstant:           {"add_constant", "add_constant.wgsl", addConstantKernel, 0, 1},
	Resample:              {"resample", "resample.wgsl", resampleKernel, 1, 1},
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return programs[k].name
}

// defines returns the WGSL constants that select a shader variant.
func (k Kind) defines() string {
	engineering, rk := false, false
	switch k {
	case DerivativeEngineering, EulerEngineering:
		engineering = true
	case RungeKuttaTraditional:
		rk = true
	case RungeKuttaEngineering:
		engineering, rk = true, true
	}
	return fmt.Sprintf("const ENGINEERING: bool = %t;\nconst RUNGE_KUTTA: bool = %t;\n", engineering, rk)
}

// Source returns the complete WGSL source of program k.
func Source(k Kind) (string, error) {
	info := programs[k]
	body, err := shaderFS.ReadFile("shaders/" + info.shader)
	if err != nil {
		return "", fmt.Errorf("kernels: shader for %s: %w", k, err)
	}
	return prelude(info.inputs, info.outputs) + k.defines() + common + string(body), nil
}

// Desc returns the program descriptor of k.
func Desc(k Kind) (*gpucore.ProgramDesc, error) {
	src, err := Source(k)
	if err != nil {
		return nil, err
	}
	info := programs[k]
	return &gpucore.ProgramDesc{
		Label:   info.name,
		WGSL:    src,
		Kernel:  info.kernel,
		Inputs:  info.inputs,
		Outputs: info.outputs,
	}, nil
}

// Create builds program k on dev.
func Create(dev gpucore.Device, k Kind) (gpucore.ProgramID, error) {
	desc, err := Desc(k)
	if err != nil {
		return gpucore.InvalidID, &gpucore.ProgramError{Label: k.String(), Err: err}
	}
	return dev.CreateProgram(desc)
}
