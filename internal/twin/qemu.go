package twin

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/firmware"
	"github.com/Iron-Ham/twinbattle/internal/logging"
)

// QEMUOptions configures emulator twins.
type QEMUOptions struct {
	// Image must provide qemu-system-* and qemu-img.
	Image string
	// Machine overrides architecture detection when set.
	Machine  string
	Firmware string
	// Red uses the base port, blue uses base+1.
	QMPPortBase     int
	GDBPortBase     int
	BootWait        time.Duration
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	RestoreTarget   time.Duration
	PeripheralStubs bool
	MMIOLog         bool
	// Snapshot is the state restored before every round. Defaults to golden.
	Snapshot string
}

// LatencyProber is implemented by backends whose restore latency is worth
// measuring on its own.
type LatencyProber interface {
	MeasureRestores(ctx context.Context, h *Handle, n int) firmware.LatencyReport
}

// qemuBackend runs the firmware under an emulator inside one container per
// team and restores it by loading a snapshot taken right after boot.
type qemuBackend struct {
	opts    Options
	machine firmware.Machine
	manager *firmware.Manager
	logger  *logging.Logger
}

func newQEMUBackend(opts Options) (Backend, error) {
	q := &opts.QEMU
	if q.Image == "" {
		q.Image = "twinbattle/qemu:latest"
	}
	if q.QMPPortBase == 0 {
		q.QMPPortBase = 4444
	}
	if q.GDBPortBase == 0 {
		q.GDBPortBase = 1234
	}
	if q.Snapshot == "" {
		q.Snapshot = firmware.GoldenSnapshot
	}
	if opts.Docker.CommandTimeout <= 0 {
		opts.Docker.CommandTimeout = 2 * time.Minute
	}

	if q.Firmware == "" {
		return nil, errors.NewTwinError("qemu mode needs a firmware image", errors.ErrFirmwareMissing).
			WithMode(string(ModeQEMU))
	}
	abs, err := filepath.Abs(q.Firmware)
	if err != nil {
		return nil, errors.NewTwinError("invalid firmware path", errors.ErrFirmwareMissing).WithPath(q.Firmware)
	}
	q.Firmware = abs

	var machine firmware.Machine
	if q.Machine != "" {
		machine, err = firmware.ParseMachine(q.Machine)
	} else {
		machine, err = firmware.DetectMachine(q.Firmware)
	}
	if err != nil {
		return nil, err
	}

	manager := firmware.NewManager(firmware.ManagerOptions{
		Runner:          opts.Runner,
		Logger:          opts.Logger,
		ConnectTimeout:  q.ConnectTimeout,
		CommandTimeout:  q.CommandTimeout,
		BootWait:        q.BootWait,
		RestoreTarget:   q.RestoreTarget,
		PeripheralStubs: q.PeripheralStubs,
		MMIOLog:         q.MMIOLog,
	})
	return &qemuBackend{opts: opts, machine: machine, manager: manager, logger: opts.Logger}, nil
}

func (b *qemuBackend) Mode() Mode { return ModeQEMU }

// Machine reports the architecture the firmware runs under.
func (b *qemuBackend) Machine() firmware.Machine { return b.machine }

func (b *qemuBackend) ports(team Team) (qmp, gdb int) {
	offset := 0
	if team == Blue {
		offset = 1
	}
	return b.opts.QEMU.QMPPortBase + offset, b.opts.QEMU.GDBPortBase + offset
}

// Create starts the team's container with the firmware mounted read-only,
// boots the emulator and saves the golden snapshot.
func (b *qemuBackend) Create(ctx context.Context, team Team) (*Handle, error) {
	q := b.opts.QEMU
	if info, err := os.Stat(q.Firmware); err != nil || info.IsDir() {
		return nil, errors.NewTwinError("firmware image not readable", errors.ErrFirmwareMissing).
			WithTeam(string(team)).WithMode(string(ModeQEMU)).WithPath(q.Firmware)
	}

	dir := b.opts.TeamDir(team)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewTwinError("failed to create twin directory", err).WithTeam(string(team)).WithPath(dir)
	}

	name := b.opts.ContainerName(team)
	qmpPort, gdbPort := b.ports(team)
	h := &Handle{
		Team:      team,
		Dir:       dir,
		Target:    containerTarget(name),
		Container: name,
		Image:     q.Image,
	}

	_, _ = b.docker(ctx, "rm", "-f", name)
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "twinbattle.battle=" + b.opts.BattleID,
		"--label", "twinbattle.team=" + string(team),
		"-v", filepath.Dir(q.Firmware) + ":/firmware:ro",
		"-v", dir + ":/twin",
		"-p", portMapping(qmpPort),
		"-p", portMapping(gdbPort),
		q.Image,
		"sleep", "infinity",
	}
	if out, err := b.docker(ctx, args...); err != nil {
		return nil, errors.NewTwinError("failed to start emulator container", err).
			WithTeam(string(team)).WithMode(string(ModeQEMU)).WithOutput(out)
	}

	b.manager.Register(firmware.Emulator{
		Team:      string(team),
		Container: name,
		HostDir:   dir,
		GuestDir:  "/twin",
		Firmware:  "/firmware/" + filepath.Base(q.Firmware),
		Machine:   b.machine,
		QMPAddr:   "127.0.0.1:" + strconv.Itoa(qmpPort),
		QMPPort:   qmpPort,
		GDBPort:   gdbPort,
	})

	if err := b.manager.Start(ctx, string(team)); err != nil {
		_, _ = b.docker(ctx, "rm", "-f", name)
		return nil, err
	}
	if _, err := b.manager.CreateGoldenSnapshot(ctx, string(team), q.Snapshot); err != nil {
		_, _ = b.docker(ctx, "rm", "-f", name)
		return nil, errors.NewTwinError("failed to save golden snapshot", err).
			WithTeam(string(team)).WithMode(string(ModeQEMU))
	}

	b.logger.Info("emulator twin created",
		"team", string(team),
		"container", name,
		"machine", string(b.machine),
		"qmp_port", qmpPort,
		"gdb_port", gdbPort,
	)
	return h, nil
}

// RestoreBaseline loads the golden snapshot. A failed load is returned once;
// the caller decides whether the round proceeds.
func (b *qemuBackend) RestoreBaseline(ctx context.Context, h *Handle) error {
	_, err := b.manager.RestoreSnapshot(ctx, string(h.Team), b.opts.QEMU.Snapshot)
	return err
}

// MeasureRestores runs n consecutive restores of the golden snapshot.
func (b *qemuBackend) MeasureRestores(ctx context.Context, h *Handle, n int) firmware.LatencyReport {
	return b.manager.MeasureRestores(ctx, string(h.Team), b.opts.QEMU.Snapshot, n)
}

// Teardown removes the container, which stops the emulator with it.
func (b *qemuBackend) Teardown(ctx context.Context, h *Handle) error {
	var errs []error
	if out, err := b.docker(ctx, "rm", "-f", h.Container); err != nil {
		errs = append(errs, errors.NewTwinError("failed to remove emulator container", err).
			WithTeam(string(h.Team)).WithOutput(out))
	}
	_ = os.RemoveAll(h.Dir)
	return errors.Join(errs...)
}

func (b *qemuBackend) docker(ctx context.Context, args ...string) (string, error) {
	return runDocker(ctx, b.opts.Runner, b.opts.Docker.CommandTimeout, args...)
}

func portMapping(port int) string {
	p := strconv.Itoa(port)
	return "127.0.0.1:" + p + ":" + p
}
