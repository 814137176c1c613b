// Package firmware runs microcontroller firmware under a full-system emulator
// inside a team's container and gives it a sub-second reset path: boot once,
// save a golden snapshot over QMP, then load it before every iteration.
package firmware

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

// Machine is an emulated architecture.
type Machine string

const (
	MachineARM     Machine = "arm"
	MachineAArch64 Machine = "aarch64"
	MachineX86_64  Machine = "x86_64"
	MachineI386    Machine = "i386"
	MachineRISCV64 Machine = "riscv64"
	MachineMIPS    Machine = "mips"
)

// Profile holds the emulator flags for one architecture.
type Profile struct {
	Binary       string // qemu-system-* executable
	Board        string // -M value
	CPU          string // -cpu value
	FirmwareFlag string // -kernel or -bios
	Memory       string // -m value
	// Stubs are -device values added when peripheral stubs are enabled.
	Stubs []string
}

var profiles = map[Machine]Profile{
	MachineARM: {
		Binary: "qemu-system-arm", Board: "virt", CPU: "cortex-a15", FirmwareFlag: "-kernel", Memory: "256M",
		Stubs: []string{"virtio-rng-device", "virtio-serial-device"},
	},
	MachineAArch64: {
		Binary: "qemu-system-aarch64", Board: "virt", CPU: "cortex-a57", FirmwareFlag: "-kernel", Memory: "512M",
		Stubs: []string{"virtio-rng-device", "virtio-serial-device"},
	},
	MachineX86_64: {
		Binary: "qemu-system-x86_64", Board: "q35", CPU: "qemu64", FirmwareFlag: "-bios", Memory: "512M",
		Stubs: []string{"isa-debug-exit,iobase=0xf4,iosize=0x04", "pvpanic"},
	},
	MachineI386: {
		Binary: "qemu-system-i386", Board: "pc", CPU: "qemu32", FirmwareFlag: "-bios", Memory: "256M",
		Stubs: []string{"isa-debug-exit,iobase=0xf4,iosize=0x04"},
	},
	MachineRISCV64: {
		Binary: "qemu-system-riscv64", Board: "virt", CPU: "rv64", FirmwareFlag: "-kernel", Memory: "256M",
		Stubs: []string{"virtio-rng-device"},
	},
	MachineMIPS: {
		Binary: "qemu-system-mips", Board: "malta", CPU: "24Kf", FirmwareFlag: "-kernel", Memory: "256M",
	},
}

// Machines returns every supported architecture.
func Machines() []Machine {
	return []Machine{MachineARM, MachineAArch64, MachineX86_64, MachineI386, MachineRISCV64, MachineMIPS}
}

// ParseMachine validates an architecture name.
func ParseMachine(s string) (Machine, error) {
	m := Machine(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[m]; ok {
		return m, nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("unsupported machine %q", s)).WithField("machine").WithValue(s)
}

// ProfileFor returns the emulator profile for m.
func ProfileFor(m Machine) (Profile, bool) {
	p, ok := profiles[m]
	return p, ok
}

var elfMachines = map[elf.Machine]Machine{
	elf.EM_ARM:     MachineARM,
	elf.EM_AARCH64: MachineAArch64,
	elf.EM_X86_64:  MachineX86_64,
	elf.EM_386:     MachineI386,
	elf.EM_RISCV:   MachineRISCV64,
	elf.EM_MIPS:    MachineMIPS,
}

var extMachines = map[string]Machine{
	".bin": MachineARM,
	".hex": MachineARM,
	".img": MachineX86_64,
	".rv":  MachineRISCV64,
}

// DetectMachine picks an architecture from the ELF header of the firmware,
// falling back to the file extension for raw images and to arm when nothing
// matches. A missing file returns errors.ErrFirmwareMissing.
func DetectMachine(path string) (Machine, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errors.NewTwinError("firmware image not readable", errors.ErrFirmwareMissing).
			WithMode("qemu").WithPath(path)
	}

	if f, err := elf.Open(path); err == nil {
		defer f.Close()
		if m, ok := elfMachines[f.Machine]; ok {
			return m, nil
		}
		return MachineARM, nil
	}

	if m, ok := extMachines[strings.ToLower(filepath.Ext(path))]; ok {
		return m, nil
	}
	return MachineARM, nil
}
