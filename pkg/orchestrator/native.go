package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

// stopGrace is how long a SIGTERM'd process gets before SIGKILL
const stopGrace = 10 * time.Second

// startNative spawns the service as a child process with stdio piped
// into its log file. The child is detached into its own process group
// so it survives the CLI exiting.
func (o *Orchestrator) startNative(desc *types.ServiceDescriptor) error {
	if len(desc.Command) == 0 {
		return fmt.Errorf("native mode requires a command")
	}

	logFile, err := os.OpenFile(desc.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(desc.Command[0], desc.Command[1:]...)
	cmd.Env = append(os.Environ(), desc.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn process: %w", err)
	}

	desc.PID = cmd.Process.Pid
	if err := os.WriteFile(o.pidPath(desc.ServiceID), []byte(strconv.Itoa(desc.PID)), 0644); err != nil {
		o.logger.Warn().Err(err).Str("service_id", string(desc.ServiceID)).Msg("failed to write pidfile")
	}

	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}

// stopNative sends SIGTERM, waits out the grace period, then SIGKILLs.
// The pidfile is removed only after the process is confirmed gone.
func (o *Orchestrator) stopNative(desc *types.ServiceDescriptor) error {
	pid := desc.PID
	if pid == 0 {
		pid = o.readPidfile(desc.ServiceID)
	}
	if pid == 0 {
		return nil
	}

	if !processAlive(pid) {
		_ = os.Remove(o.pidPath(desc.ServiceID))
		return nil
	}

	// Negative pid signals the whole process group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(o.pidPath(desc.ServiceID))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	o.logger.Warn().Int("pid", pid).Str("service_id", string(desc.ServiceID)).Msg("grace period elapsed, killing")
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	_ = os.Remove(o.pidPath(desc.ServiceID))
	return nil
}

// adoptRunning rebuilds descriptors for services left running by a
// previous invocation, keyed off their pidfiles. Stale pidfiles for
// dead processes are removed.
func (o *Orchestrator) adoptRunning() {
	for _, id := range []types.ServiceID{types.ServiceAPI, types.ServiceWorker, types.ServiceRuntime} {
		pid := o.readPidfile(id)
		if pid == 0 {
			continue
		}
		if !processAlive(pid) {
			_ = os.Remove(o.pidPath(id))
			continue
		}
		o.services[id] = &types.ServiceDescriptor{
			ServiceID: id,
			Mode:      types.ModeNative,
			PID:       pid,
			LogPath:   o.logPath(id),
			State:     types.ServiceStateRunning,
		}
		o.logger.Debug().Str("service_id", string(id)).Int("pid", pid).Msg("adopted running service")
	}
}

func (o *Orchestrator) readPidfile(id types.ServiceID) int {
	data, err := os.ReadFile(o.pidPath(id))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// processAlive probes a pid with signal 0
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
