package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// containerRuntime is the external container CLI used for TierContainer.
// Podman is preferred over Docker in this corpus's deployment tiers (it
// needs no long-running daemon, which matters on the Pi-class deployment
// target named in spec §6), with a rootless default.
const containerRuntime = "podman"

// buildCommand constructs the exec.Cmd for launching manifest at tier,
// threading the wire secret in via a materialized tmpfs file path (never
// an argv element or bare env var, both of which are visible via
// /proc/<pid>/cmdline or /proc/<pid>/environ to other users on a shared
// host). descriptorPath is the name->path map of the gear's declared
// secrets (empty if none were materialized); it is exposed to the plugin
// the same way — a file path handed over via env, never the secret values
// themselves.
func (h *Host) buildCommand(manifest axismsg.GearManifest, tier Tier, secretPath, descriptorPath string) (*exec.Cmd, error) {
	switch tier {
	case TierProcess:
		return h.buildProcessCommand(manifest, secretPath, descriptorPath), nil
	case TierIsolate:
		return h.buildIsolateCommand(manifest, secretPath, descriptorPath), nil
	case TierContainer:
		return h.buildContainerCommand(manifest, secretPath, descriptorPath)
	default:
		return nil, fmt.Errorf("unknown isolation tier %v", tier)
	}
}

func (h *Host) buildProcessCommand(manifest axismsg.GearManifest, secretPath, descriptorPath string) *exec.Cmd {
	cmd := exec.Command(manifest.EntryPoint)
	cmd.Env = secretEnv(secretPath, descriptorPath)
	return cmd
}

// buildIsolateCommand wraps the plugin in a restricted systemd-run-style
// invocation. The flags mirror the memory/CPU caps a gear manifest declares
// in its Resources block.
func (h *Host) buildIsolateCommand(manifest axismsg.GearManifest, secretPath, descriptorPath string) *exec.Cmd {
	limits := LimitsFromManifest(manifest.Resources)
	args := []string{
		"--user", "--scope", "--collect",
		"-p", "MemoryMax=" + strconv.Itoa(limits.MaxMemoryMB) + "M",
		"-p", "CPUQuota=" + strconv.Itoa(limits.MaxCPUPercent) + "%",
		"--", manifest.EntryPoint,
	}
	cmd := exec.Command("systemd-run", args...)
	cmd.Env = secretEnv(secretPath, descriptorPath)
	return cmd
}

// buildContainerCommand runs the plugin inside a container with: a
// read-only root filesystem, no network namespace, noexec/nosuid tmpfs
// mounts for /tmp and /secrets, a pid limit, and no-new-privileges. The
// materialized secret(s) are bind-mounted read-only into /secrets rather
// than copied into the image.
func (h *Host) buildContainerCommand(manifest axismsg.GearManifest, secretPath, descriptorPath string) (*exec.Cmd, error) {
	limits := LimitsFromManifest(manifest.Resources)
	if limits.MaxPids <= 0 || limits.MaxPids > 256 {
		limits.MaxPids = 256
	}

	args := []string{
		"run", "--rm", "-i",
		"--read-only",
		"--network=none",
		"--security-opt", "no-new-privileges",
		"--pids-limit", strconv.Itoa(limits.MaxPids),
		"--memory", strconv.Itoa(limits.MaxMemoryMB) + "m",
		"--cpus", fmt.Sprintf("%.2f", float64(limits.MaxCPUPercent)/100),
		"--tmpfs", "/tmp:noexec,nosuid,size=64m",
		"--tmpfs", "/secrets:noexec,nosuid,size=1m",
		"-v", secretPath + ":/secrets/wire-hmac:ro",
		"-e", "AXIS_WIRE_SECRET_FILE=/secrets/wire-hmac",
	}
	if descriptorPath != "" {
		args = append(args,
			"-v", descriptorPath+":/secrets/secrets.json:ro",
			"-e", "AXIS_SECRETS_FILE=/secrets/secrets.json",
		)
	}
	args = append(args, gearImageRef(manifest))
	return exec.Command(containerRuntime, args...), nil
}

// secretEnv builds the environment for TierProcess/TierIsolate: the wire
// HMAC key's file path always, the declared-secrets descriptor's file path
// only when one was materialized.
func secretEnv(secretPath, descriptorPath string) []string {
	env := []string{"AXIS_WIRE_SECRET_FILE=" + secretPath}
	if descriptorPath != "" {
		env = append(env, "AXIS_SECRETS_FILE="+descriptorPath)
	}
	return env
}

// gearImageRef derives the container image reference for a gear. Builtin
// gears are expected to ship a pre-built image named after their manifest
// id and version; user/journal-origin gears would need an image build step
// this package does not perform.
func gearImageRef(manifest axismsg.GearManifest) string {
	return fmt.Sprintf("axiscore/gear-%s:%s", manifest.ID, manifest.Version)
}
