package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// ShutdownGrace is how long Host.Shutdown waits for in-flight calls to
// finish before it force-kills remaining plugin processes.
const ShutdownGrace = 10 * time.Second

// rateLimitWindow and rateLimitMax bound how many calls (successful or
// malformed — a parse failure still counts, see DESIGN.md's Open Question
// decision) a single gear may make per window.
const (
	rateLimitWindow = 1 * time.Minute
	rateLimitMax    = 60
)

// Host manages the lifecycle of sandboxed gear processes: launching them at
// the tier SelectTier prescribes, enforcing the wire protocol and resource
// limits, and stamping provenance onto every result.
type Host struct {
	secretsDir    string // tmpfs-backed directory for per-call secret materialization
	workspaceRoot string // root CheckPath gates filesystem-shaped parameters against
	secrets       SecretProvider

	mu       sync.Mutex
	disabled map[string]bool // gear id -> disabled (checksum mismatch)
	plugins  map[string]*pluginProc
	calls    map[string]*rateState

	activeSandboxCount int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SecretProvider resolves one of a gear's manifest-declared
// Permissions.Secrets names to its raw value for materialization at Launch.
// The host holds no secret material of its own — resolving the encrypted
// secrets vault of spec §6 is an external collaborator's job; without a
// provider wired in, declared secrets are logged and skipped rather than
// failing Launch.
type SecretProvider func(gearID, name string) (value []byte, ok bool)

// Option configures a Host at construction.
type Option func(*Host)

// WithSecretProvider wires the SecretProvider Launch consults to
// materialize a gear's declared secrets.
func WithSecretProvider(p SecretProvider) Option {
	return func(h *Host) { h.secrets = p }
}

type rateState struct {
	mu       sync.Mutex
	windowAt time.Time
	count    int
}

type pluginProc struct {
	manifest    axismsg.GearManifest
	tier        Tier
	secret      wireSecret
	cmd         *exec.Cmd
	writer      *frameWriter
	reader      *frameReader
	stdin       io.WriteCloser
	secretPaths []string // materialized secret files to zero at shutdown
}

// NewHost constructs a Host. secretsDir should be a tmpfs mount (e.g.
// /run/axiscore/secrets) so materialized secret material never touches
// durable storage. workspaceRoot is the root CheckPath gates a gear call's
// path-shaped parameters against (spec §4.7).
func NewHost(secretsDir, workspaceRoot string, opts ...Option) *Host {
	h := &Host{
		secretsDir:    secretsDir,
		workspaceRoot: workspaceRoot,
		disabled:      make(map[string]bool),
		plugins:       make(map[string]*pluginProc),
		calls:         make(map[string]*rateState),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Launch verifies a gear's integrity, selects its isolation tier, and
// starts its process. Returns ErrPluginDisabled if the checksum no longer
// matches; the gear is marked disabled and will refuse future Launch calls
// until explicitly re-enabled by an operator (not modeled here — that is a
// config-reload operation, out of this package's scope).
func (h *Host) Launch(ctx context.Context, manifest axismsg.GearManifest) error {
	h.mu.Lock()
	if h.disabled[manifest.ID] {
		h.mu.Unlock()
		return ErrPluginDisabled
	}
	h.mu.Unlock()

	if err := VerifyChecksum(manifest); err != nil {
		h.mu.Lock()
		h.disabled[manifest.ID] = true
		h.mu.Unlock()
		slog.Error("sandbox: disabling gear after checksum mismatch", "gear", manifest.ID, "error", err)
		return err
	}

	tier := SelectTier(manifest)
	secret, err := randomSecret(32)
	if err != nil {
		return fmt.Errorf("generate plugin secret: %w", err)
	}
	wireSecretPath, err := h.materializeSecret(manifest.ID, "wire-hmac", secret)
	if err != nil {
		return fmt.Errorf("materialize wire secret: %w", err)
	}
	secretPaths := []string{wireSecretPath}

	declaredPaths, descriptorPath, err := h.materializeDeclaredSecrets(manifest)
	if err != nil {
		return err
	}
	secretPaths = append(secretPaths, declaredPaths...)

	cmd, err := h.buildCommand(manifest, tier, wireSecretPath, descriptorPath)
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start gear %s: %w", manifest.ID, err)
	}

	proc := &pluginProc{
		manifest:    manifest,
		tier:        tier,
		secret:      secret,
		cmd:         cmd,
		writer:      newFrameWriter(stdin, secret),
		reader:      newFrameReader(stdout, secret),
		stdin:       stdin,
		secretPaths: secretPaths,
	}

	h.mu.Lock()
	h.plugins[manifest.ID] = proc
	h.mu.Unlock()
	atomic.AddInt64(&h.activeSandboxCount, 1)

	slog.Info("sandbox: gear launched", "gear", manifest.ID, "tier", tier)
	return nil
}

// ActiveSandboxCount returns the number of currently running gear
// processes, exposed for the gateway's /health endpoint.
func (h *Host) ActiveSandboxCount() int64 {
	return atomic.LoadInt64(&h.activeSandboxCount)
}

// Manifest returns the manifest a running gear was launched with, so a
// caller (the gear:runtime dispatch handler) can derive its ResourceLimits
// without tracking manifests itself.
func (h *Host) Manifest(gearID string) (axismsg.GearManifest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	proc, ok := h.plugins[gearID]
	if !ok {
		return axismsg.GearManifest{}, false
	}
	return proc.manifest, true
}

// Call invokes action on gear with parameters, enforcing the rate limit,
// per-execution integrity verification, path/domain gating, resource
// limits (via context deadline; memory/CPU/pid caps are applied at
// process-launch time through buildCommand for tier-3), and provenance
// stamping on the result.
func (h *Host) Call(ctx context.Context, gearID, action string, parameters map[string]any, limits ResourceLimits) (map[string]any, error) {
	h.mu.Lock()
	disabled := h.disabled[gearID]
	h.mu.Unlock()
	if disabled {
		return nil, ErrPluginDisabled
	}

	if err := h.checkRateLimit(gearID); err != nil {
		return nil, err
	}

	h.mu.Lock()
	proc, ok := h.plugins[gearID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("gear %s not running", gearID)
	}

	// Spec §4.7: "Before every execution: recompute SHA-256 of the entry
	// point; compare to the manifest's stored checksum." A mismatch here —
	// tampering after Launch — disables the gear the same way a
	// mismatch at Launch does, so every subsequent call short-circuits on
	// the disabled check above without spawning or dispatching anything.
	if err := VerifyChecksum(proc.manifest); err != nil {
		h.mu.Lock()
		h.disabled[gearID] = true
		h.mu.Unlock()
		slog.Error("sandbox: disabling gear after checksum mismatch", "gear", gearID, "error", err)
		return nil, err
	}

	if err := gateParameters(h.workspaceRoot, proc.manifest, parameters); err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if limits.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	correlationID := uuid.NewString()
	req := Request{CorrelationID: correlationID, Action: action, Parameters: parameters}

	type callResult struct {
		resp Response
		err  error
	}
	done := make(chan callResult, 1)

	go func() {
		if err := proc.writer.WriteRequest(req); err != nil {
			done <- callResult{err: fmt.Errorf("write request: %w", err)}
			return
		}
		for {
			resp, err := proc.reader.ReadResponse()
			if err != nil {
				done <- callResult{err: fmt.Errorf("read response: %w", err)}
				return
			}
			if resp.IsProgress() {
				continue // progress frames are logged by callers that care; dropped here
			}
			if resp.CorrelationID == correlationID {
				done <- callResult{resp: resp}
				return
			}
			// Frame for a different in-flight call under concurrent use is
			// out of scope for this single-call helper; a production host
			// would demultiplex by correlationId on a shared reader
			// goroutine instead of reading inline per call.
		}
	}()

	select {
	case <-callCtx.Done():
		return nil, callCtx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp.Error != nil {
			return nil, fmt.Errorf("gear %s action %s failed: %s (%s)", gearID, action, r.resp.Error.Message, r.resp.Error.Code)
		}
		return StampProvenance(r.resp.Result, "gear:"+gearID, action, correlationID), nil
	}
}

func (h *Host) checkRateLimit(gearID string) error {
	h.mu.Lock()
	state, ok := h.calls[gearID]
	if !ok {
		state = &rateState{}
		h.calls[gearID] = state
	}
	h.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	now := time.Now()
	if now.Sub(state.windowAt) > rateLimitWindow {
		state.windowAt = now
		state.count = 0
	}
	state.count++
	if state.count > rateLimitMax {
		return ErrRateLimited
	}
	return nil
}

// Shutdown stops all running gear processes, giving each ShutdownGrace to
// exit cleanly before force-killing it.
func (h *Host) Shutdown() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	procs := make([]*pluginProc, 0, len(h.plugins))
	for _, p := range h.plugins {
		procs = append(procs, p)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *pluginProc) {
			defer wg.Done()
			h.shutdownOne(p)
		}(p)
	}
	wg.Wait()
}

func (h *Host) shutdownOne(p *pluginProc) {
	_ = p.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGrace):
		slog.Warn("sandbox: force-killing gear after grace period", "gear", p.manifest.ID)
		_ = p.cmd.Process.Kill()
		<-done
	}

	for _, path := range p.secretPaths {
		if err := zeroSecretFile(path); err != nil {
			slog.Error("sandbox: failed to zero secret file", "gear", p.manifest.ID, "path", path, "error", err)
		}
	}

	atomic.AddInt64(&h.activeSandboxCount, -1)
}

func randomSecret(n int) (wireSecret, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// materializeSecret writes secret material to a file under h.secretsDir
// with 0600 permissions, returning its path. Callers must call
// zeroSecretFile once the plugin that needed it has exited.
func (h *Host) materializeSecret(gearID, name string, value []byte) (string, error) {
	path := filepath.Join(h.secretsDir, gearID+"-"+name)
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return "", fmt.Errorf("materialize secret %s for %s: %w", name, gearID, err)
	}
	return path, nil
}

// materializeDeclaredSecrets resolves and writes each of manifest's
// declared Permissions.Secrets through h.secrets, one file per secret, then
// writes a small name->path descriptor file a plugin can read to discover
// them — never the values themselves, and never an environment variable
// (spec §4.7). Each resolved value is zeroed in memory immediately after
// its write. An unresolved name (no provider wired, or the provider
// doesn't have it) is logged and skipped rather than failing Launch, since
// the secrets vault is an out-of-scope external collaborator a deployment
// may not have configured. Returns the materialized file paths (the
// descriptor included, if written) for shutdownOne to zero later.
func (h *Host) materializeDeclaredSecrets(manifest axismsg.GearManifest) (paths []string, descriptorPath string, err error) {
	if len(manifest.Permissions.Secrets) == 0 || h.secrets == nil {
		return nil, "", nil
	}

	locations := make(map[string]string, len(manifest.Permissions.Secrets))
	for _, name := range manifest.Permissions.Secrets {
		value, ok := h.secrets(manifest.ID, name)
		if !ok {
			slog.Warn("sandbox: declared secret not resolved, gear will not receive it", "gear", manifest.ID, "secret", name)
			continue
		}
		path, werr := h.materializeSecret(manifest.ID, name, value)
		for i := range value {
			value[i] = 0
		}
		if werr != nil {
			return paths, "", werr
		}
		paths = append(paths, path)
		locations[name] = path
	}
	if len(locations) == 0 {
		return paths, "", nil
	}

	raw, err := json.Marshal(locations)
	if err != nil {
		return paths, "", fmt.Errorf("marshal secret descriptor for %s: %w", manifest.ID, err)
	}
	descriptorPath = filepath.Join(h.secretsDir, manifest.ID+"-secrets.json")
	if err := os.WriteFile(descriptorPath, raw, 0o600); err != nil {
		return paths, "", fmt.Errorf("write secret descriptor for %s: %w", manifest.ID, err)
	}
	paths = append(paths, descriptorPath)
	return paths, descriptorPath, nil
}

// zeroSecretFile overwrites a materialized secret file with zero bytes
// before removing it, so the plaintext doesn't linger in tmpfs pages any
// longer than necessary.
func zeroSecretFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	zeros := make([]byte, info.Size())
	if err := os.WriteFile(path, zeros, 0o600); err != nil {
		return err
	}
	return os.Remove(path)
}
