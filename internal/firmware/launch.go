package firmware

import (
	"fmt"
	"strconv"
)

// LaunchOptions describes one emulator invocation. Paths are as seen by the
// emulator, i.e. inside the team's container.
type LaunchOptions struct {
	Machine         Machine
	Firmware        string
	DiskPath        string
	GDBPort         int
	QMPPort         int
	PeripheralStubs bool
	MMIOLog         bool
	MMIOLogPath     string
}

// BuildLaunchArgs returns the emulator argv, binary first. It is passed to
// exec as a vector and never joined into a shell string.
func BuildLaunchArgs(opts LaunchOptions) ([]string, error) {
	p, ok := ProfileFor(opts.Machine)
	if !ok {
		return nil, fmt.Errorf("no emulator profile for machine %q", opts.Machine)
	}

	args := []string{
		p.Binary,
		"-M", p.Board,
		"-cpu", p.CPU,
		"-m", p.Memory,
		p.FirmwareFlag, opts.Firmware,
		// savevm/loadvm need a writable qcow2 device to hold the VM state.
		"-drive", fmt.Sprintf("file=%s,if=none,format=qcow2,id=snap0", opts.DiskPath),
		"-qmp", "tcp:0.0.0.0:" + strconv.Itoa(opts.QMPPort) + ",server,nowait",
		"-gdb", "tcp::" + strconv.Itoa(opts.GDBPort),
		"-nographic",
	}

	if opts.PeripheralStubs {
		for _, dev := range p.Stubs {
			args = append(args, "-device", dev)
		}
	}
	if opts.MMIOLog && opts.MMIOLogPath != "" {
		args = append(args, "-d", "guest_errors,unimp", "-D", opts.MMIOLogPath)
	}
	return args, nil
}
