package firmware

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/runner"
)

// GoldenSnapshot is the default snapshot name restored before each round.
const GoldenSnapshot = "golden"

// Emulator describes one team's emulator as the Manager reaches it.
type Emulator struct {
	Team      string
	Container string
	// HostDir is the team directory on the host; it is mounted at GuestDir.
	HostDir  string
	GuestDir string
	// Firmware is the firmware path inside the container.
	Firmware string
	Machine  Machine
	// QMPAddr is host:port of the published control socket.
	QMPAddr string
	QMPPort int
	GDBPort int
}

// DiskPath returns the guest path of the writable qcow2 that holds VM state.
func (e Emulator) DiskPath() string { return path.Join(e.GuestDir, "snapshot.qcow2") }

// MMIOLogPath returns the guest path of the MMIO access log.
func (e Emulator) MMIOLogPath() string { return path.Join(e.GuestDir, "mmio.log") }

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Runner          runner.Runner
	Logger          *logging.Logger
	ConnectTimeout  time.Duration // default 10s
	CommandTimeout  time.Duration // default 10s
	BootWait        time.Duration
	RestoreTarget   time.Duration // default 500ms
	PeripheralStubs bool
	MMIOLog         bool
	DiskSize        string // default "64M"
}

// Manager starts emulators and saves and loads their snapshots. At most one
// QMP operation per team is in flight at a time.
type Manager struct {
	opts   ManagerOptions
	logger *logging.Logger

	mu        sync.Mutex
	emulators map[string]Emulator
	locks     map[string]*sync.Mutex
}

// NewManager creates a Manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Runner == nil {
		opts.Runner = runner.NewExec()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.RestoreTarget <= 0 {
		opts.RestoreTarget = 500 * time.Millisecond
	}
	if opts.DiskSize == "" {
		opts.DiskSize = "64M"
	}
	return &Manager{
		opts:      opts,
		logger:    opts.Logger,
		emulators: make(map[string]Emulator),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Register adds or replaces a team's emulator.
func (m *Manager) Register(e Emulator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.GuestDir == "" {
		e.GuestDir = "/twin"
	}
	m.emulators[e.Team] = e
	if _, ok := m.locks[e.Team]; !ok {
		m.locks[e.Team] = &sync.Mutex{}
	}
}

// Emulator returns a registered emulator.
func (m *Manager) Emulator(team string) (Emulator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emulators[team]
	return e, ok
}

func (m *Manager) lookup(team string) (Emulator, *sync.Mutex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emulators[team]
	if !ok {
		return Emulator{}, nil, fmt.Errorf("no emulator registered for team %q", team)
	}
	return e, m.locks[team], nil
}

// Start creates a fresh qcow2 disk in the team's container, launches the
// emulator detached and waits the boot grace period.
func (m *Manager) Start(ctx context.Context, team string) error {
	e, lock, err := m.lookup(team)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	logger := m.logger.WithTeam(team)

	if _, err := m.opts.Runner.Run(ctx, runner.Command{
		Name:    "docker",
		Args:    []string{"exec", e.Container, "qemu-img", "create", "-f", "qcow2", e.DiskPath(), m.opts.DiskSize},
		Timeout: m.opts.CommandTimeout,
	}); err != nil {
		return errors.NewTwinError("failed to create snapshot disk", err).WithTeam(team).WithMode("qemu")
	}

	argv, err := BuildLaunchArgs(LaunchOptions{
		Machine:         e.Machine,
		Firmware:        e.Firmware,
		DiskPath:        e.DiskPath(),
		GDBPort:         e.GDBPort,
		QMPPort:         e.QMPPort,
		PeripheralStubs: m.opts.PeripheralStubs,
		MMIOLog:         m.opts.MMIOLog,
		MMIOLogPath:     e.MMIOLogPath(),
	})
	if err != nil {
		return errors.NewTwinError("invalid emulator profile", err).WithTeam(team).WithMode("qemu")
	}

	args := append([]string{"exec", "-d", e.Container}, argv...)
	if res, err := m.opts.Runner.Run(ctx, runner.Command{Name: "docker", Args: args, Timeout: m.opts.CommandTimeout}); err != nil {
		return errors.NewTwinError("failed to launch emulator", err).WithTeam(team).WithMode("qemu").WithOutput(res.Output())
	}
	logger.Info("emulator launched", "machine", string(e.Machine), "qmp", e.QMPAddr, "gdb_port", e.GDBPort)

	if m.opts.BootWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.opts.BootWait):
		}
	}
	return nil
}

// CreateGoldenSnapshot saves the running machine state as name and records
// it in the team's sidecar.
func (m *Manager) CreateGoldenSnapshot(ctx context.Context, team, name string) (SnapshotMeta, error) {
	e, lock, err := m.lookup(team)
	if err != nil {
		return SnapshotMeta{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	if err := m.monitor(ctx, e, "savevm "+name); err != nil {
		return SnapshotMeta{}, errors.NewSnapshotError("save failed", err).
			WithTeam(team).WithSnapshot(name).WithCommand("savevm")
	}

	meta := newSnapshotMeta(name, e.HostDir, e.Machine)
	if e.HostDir != "" {
		if err := recordSnapshot(e.HostDir, meta); err != nil {
			m.logger.WithTeam(team).Warn("failed to record snapshot metadata", "error", err.Error())
		}
	}
	m.logger.WithTeam(team).Info("snapshot saved", "snapshot", name, "duration_ms", time.Since(start).Milliseconds())
	return meta, nil
}

// RestoreSnapshot loads name and returns how long the load took. Latency
// above the target is logged at WARN but is not an error. There is no retry.
func (m *Manager) RestoreSnapshot(ctx context.Context, team, name string) (time.Duration, error) {
	e, lock, err := m.lookup(team)
	if err != nil {
		return 0, err
	}
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err = m.monitor(ctx, e, "loadvm "+name)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, errors.NewSnapshotError("restore failed", err).
			WithTeam(team).WithSnapshot(name).WithCommand("loadvm")
	}

	logger := m.logger.WithTeam(team)
	if elapsed > m.opts.RestoreTarget {
		logger.Warn("snapshot restore slower than target",
			"snapshot", name,
			"duration_ms", elapsed.Milliseconds(),
			"target_ms", m.opts.RestoreTarget.Milliseconds(),
		)
	} else {
		logger.Debug("snapshot restored", "snapshot", name, "duration_ms", elapsed.Milliseconds())
	}
	return elapsed, nil
}

// MeasureRestores performs n consecutive restores and summarizes latency.
// Failed restores are counted, not fatal. A failure that is not transient,
// such as a refused control socket or a missing snapshot, ends the
// measurement early since every later restore would fail the same way.
func (m *Manager) MeasureRestores(ctx context.Context, team, name string, n int) LatencyReport {
	var samples []time.Duration
	var errs []string
	failures := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		d, err := m.RestoreSnapshot(ctx, team, name)
		if err != nil {
			failures++
			errs = append(errs, err.Error())
			if !errors.IsRetryable(err) {
				m.logger.WithTeam(team).Warn("restore measurement stopped",
					"snapshot", name,
					"attempts", i+1,
					"severity", errors.GetSeverity(err).String(),
					"error", err.Error(),
				)
				break
			}
			continue
		}
		samples = append(samples, d)
	}
	report := Summarize(name, samples, failures, m.opts.RestoreTarget)
	report.Errors = errs
	if report.SlowMean {
		m.logger.WithTeam(team).Warn("mean restore latency above target",
			"snapshot", name,
			"mean_ms", report.Mean.Milliseconds(),
			"target_ms", report.Target.Milliseconds(),
		)
	}
	return report
}

// monitor opens a fresh QMP session, runs one monitor command and closes it.
// The control socket accepts a single client, so the session is never held
// across calls.
func (m *Manager) monitor(ctx context.Context, e Emulator, cmdline string) error {
	client, err := DialQMP(ctx, e.QMPAddr, m.opts.ConnectTimeout, m.opts.CommandTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.HumanMonitorCommand(ctx, cmdline)
	return err
}
