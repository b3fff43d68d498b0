// Package sandbox simulates water flowing over a changing terrain surface.
//
// # Overview
//
// A WaterTable integrates the shallow-water equations on a regular grid of
// cells with a second-order central-upwind scheme. All grids live on a
// gpucore.Device: the software device runs every pass on the CPU, and the
// hardware device registered by the gpu package runs the same programs as
// WGSL compute shaders.
//
// # Quick Start
//
//	import "github.com/gogpu/sandbox"
//
//	dev := sandbox.NewDevice(false)
//	defer dev.Close()
//
//	table, err := sandbox.NewOfflineWaterTable(256, 256, [2]float32{0.1, 0.1})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer table.Close()
//
//	table.SetBathymetry(dev, terrain)  // 255x255 vertices
//	table.SetWaterDeposit(0.01)        // rain, height per second
//	for range 1000 {
//	    if _, err := table.RunSimulationStep(dev, false); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Grids
//
// The bathymetry is stored at cell corners, one vertex per interior
// corner, so it is one smaller than the water grid in each direction.
// Cells on the border share their missing corners with the nearest
// vertex. Water is stored per cell as the surface elevation w and the
// discharges hu and hv.
//
// # Devices
//
// Every device a table is used with gets its own textures and programs,
// created on first use. ReleaseContext frees them for one device, Close
// for all.
//
// # Coordinate System
//
// The upright elevation space has z along the terrain's base plane normal.
// The simulated domain is an axis-aligned box in that space; cell (0, 0)
// is at its minimum corner.
package sandbox

// Version is the current version of the module.
const Version = "0.1.0"
