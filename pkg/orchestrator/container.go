package orchestrator

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/llamafarm/llamafarm/pkg/types"
)

// containerName derives the docker container name for a service
func containerName(id types.ServiceID) string {
	return "llamafarm-" + string(id)
}

// startContainer runs the service image detached via the docker CLI
func (o *Orchestrator) startContainer(desc *types.ServiceDescriptor) error {
	if desc.Image == "" {
		return fmt.Errorf("container mode requires an image")
	}

	// A leftover container from a crashed run blocks the name; clear it.
	_ = exec.Command("docker", "rm", "-f", containerName(desc.ServiceID)).Run()

	args := []string{
		"run", "-d",
		"--name", containerName(desc.ServiceID),
		"--label", "app=llamafarm",
		"--label", "llamafarm.service=" + string(desc.ServiceID),
		"-p", fmt.Sprintf("%d:%d", desc.Port, desc.Port),
	}
	for _, env := range desc.Env {
		args = append(args, "-e", env)
	}
	args = append(args, desc.Image)
	args = append(args, desc.Command...)

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run failed: %s: %w", strings.TrimSpace(string(out)), err)
	}

	desc.ContainerID = strings.TrimSpace(string(out))
	o.logger.Debug().Str("service_id", string(desc.ServiceID)).Str("container_id", desc.ContainerID).Msg("container started")
	return nil
}

// stopContainer stops the container with the same grace period native
// mode uses, then removes it.
func (o *Orchestrator) stopContainer(desc *types.ServiceDescriptor) error {
	name := containerName(desc.ServiceID)
	if desc.ContainerID != "" {
		name = desc.ContainerID
	}

	out, err := exec.Command("docker", "stop", "-t", fmt.Sprintf("%d", int(stopGrace.Seconds())), name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		return fmt.Errorf("docker stop failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	_ = exec.Command("docker", "rm", "-f", name).Run()
	return nil
}
