// Package sandbox implements the Plugin Sandbox Host (C8): it launches gear
// plugins at one of three isolation tiers, speaks a newline-delimited-JSON
// wire protocol with HMAC-signed frames over the plugin's stdio, enforces
// resource limits and filesystem/network gates, and stamps host-authoritative
// provenance onto every result. Adapted from the teacher's pkg/mcp package,
// which plays the same "spawn an external tool process, speak a framed
// protocol over its transport, enforce timeouts, recover from failure" role
// for MCP servers (pkg/mcp/client.go, pkg/mcp/transport.go,
// pkg/mcp/recovery.go) — generalized here to the spec's own hand-rolled
// wire format rather than the Model Context Protocol SDK, since spec §4.7
// specifies a different envelope shape than MCP's JSON-RPC.
package sandbox

import (
	"time"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Tier is the isolation level a gear runs under.
type Tier int

// Tier constants, weakest to strongest isolation.
const (
	// TierProcess runs the plugin as a plain child process sharing the
	// host's network namespace, gated only by the wire protocol and
	// resource limits.
	TierProcess Tier = iota
	// TierIsolate runs the plugin under an OS-level sandboxing facility
	// (e.g. a restricted user, seccomp profile, or similar) in addition to
	// TierProcess's controls.
	TierIsolate
	// TierContainer runs the plugin inside a container with a read-only
	// root filesystem, no network, and a tmpfs-mounted /tmp and /secrets.
	TierContainer
)

func (t Tier) String() string {
	switch t {
	case TierProcess:
		return "process"
	case TierIsolate:
		return "isolate"
	case TierContainer:
		return "container"
	default:
		return "unknown"
	}
}

// SelectTier maps a gear's declared risk surface to the minimum isolation
// tier it must run under: any gear with shell access or write permissions
// outside its own data directory gets the strongest tier; anything with
// declared network access gets at least isolate; everything else can run
// as a plain process.
func SelectTier(manifest axismsg.GearManifest) Tier {
	if manifest.Permissions.Shell {
		return TierContainer
	}
	if len(manifest.Permissions.Network.Domains) > 0 {
		return TierIsolate
	}
	return TierProcess
}

// Request is one call into a running plugin.
type Request struct {
	CorrelationID string         `json:"correlationId"`
	Action        string         `json:"action"`
	Parameters    map[string]any `json:"parameters"`
	HMAC          string         `json:"hmac"`
}

// Response is a plugin's reply to a Request. Exactly one of Result/Error is
// set on a terminal frame; a progress frame has neither correlationId
// requirement lifted (see IsProgress).
type Response struct {
	CorrelationID string         `json:"correlationId,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *ResponseError `json:"error,omitempty"`
	Progress      map[string]any `json:"progress,omitempty"`
	HMAC          string         `json:"hmac"`
}

// IsProgress reports whether resp is a non-terminal progress frame: these
// carry no correlationId because they are not a reply to any specific
// request, just a status update about the plugin's current work.
func (r Response) IsProgress() bool {
	return r.CorrelationID == "" && r.Progress != nil
}

// ResponseError is a structured plugin-reported failure.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResourceLimits bounds what one sandboxed call may consume.
type ResourceLimits struct {
	MaxMemoryMB            int
	MaxCPUPercent          int
	Timeout                time.Duration
	MaxNetworkBytesPerCall int
	MaxPids                int // tier-3 only
}

// LimitsFromManifest derives ResourceLimits from a gear's declared
// resources, applying conservative defaults for anything left unset.
func LimitsFromManifest(r axismsg.Resources) ResourceLimits {
	limits := ResourceLimits{
		MaxMemoryMB:            256,
		MaxCPUPercent:          50,
		Timeout:                30 * time.Second,
		MaxNetworkBytesPerCall: 10 << 20,
		MaxPids:                256,
	}
	if r.MaxMemoryMb > 0 {
		limits.MaxMemoryMB = r.MaxMemoryMb
	}
	if r.MaxCPUPercent > 0 {
		limits.MaxCPUPercent = r.MaxCPUPercent
	}
	if r.TimeoutMs > 0 {
		limits.Timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	if r.MaxNetworkBytesPerCall > 0 {
		limits.MaxNetworkBytesPerCall = r.MaxNetworkBytesPerCall
	}
	return limits
}
