// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemProbe reads host and process resource usage. Implementations
// back health checks and performance monitoring; tests substitute a
// stub so assertions don't depend on the host.
type SystemProbe interface {
	// CPUPercent returns host CPU utilization (0-100).
	CPUPercent() (float64, error)

	// MemoryPercent returns host virtual memory utilization (0-100).
	MemoryPercent() (float64, error)

	// DiskPercent returns utilization of the filesystem holding path.
	DiskPercent(path string) (float64, error)

	// ProcessMemoryMB returns this process's resident set size in MB.
	ProcessMemoryMB() (float64, error)
}

// hostProbe is the gopsutil-backed SystemProbe used in production.
type hostProbe struct {
	proc *process.Process
}

// NewSystemProbe returns a SystemProbe reading from the host.
func NewSystemProbe() SystemProbe {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &hostProbe{proc: proc}
}

func (p *hostProbe) CPUPercent() (float64, error) {
	// Zero interval compares against the previous call instead of
	// blocking the health check for a sampling window.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func (p *hostProbe) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (p *hostProbe) DiskPercent(path string) (float64, error) {
	if path == "" {
		path = "/"
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (p *hostProbe) ProcessMemoryMB() (float64, error) {
	if p.proc == nil {
		return 0, nil
	}
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / 1024 / 1024, nil
}
