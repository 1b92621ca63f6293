package sandbox

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// CheckPath rejects any candidate path that contains a ".." segment or that
// canonicalizes outside root, even if root itself is a symlink target the
// canonical form would otherwise land inside — the ".." check runs first
// and independently, since canonicalization alone can't be trusted when a
// plugin controls part of the path (spec §4.7).
func CheckPath(root, candidate string) error {
	if strings.Contains(filepath.ToSlash(candidate), "..") {
		return ErrPathEscape
	}
	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, candidate)
	}
	clean := filepath.Clean(abs)
	rootClean := filepath.Clean(root)
	if clean != rootClean && !strings.HasPrefix(clean, rootClean+string(filepath.Separator)) {
		return ErrPathEscape
	}
	return nil
}

// CheckDomain rejects a network target that is a private, loopback, or
// link-local address, and enforces that the host is present in allowed
// (the gear manifest's declared domain allowlist).
func CheckDomain(allowed []string, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return ErrPrivateNetwork
		}
		if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
			return ErrPrivateNetwork // 0.0.0.0/8, "this network" — spec §4.7's denied-range list
		}
	}
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateNetwork
	}
	for _, a := range allowed {
		if strings.EqualFold(a, host) || (strings.HasPrefix(a, "*.") && strings.HasSuffix(strings.ToLower(host), strings.ToLower(a[1:]))) {
			return nil
		}
	}
	return ErrPathEscape // reuse: "not in the declared allowlist" is the same class of rejection
}

// gateParameters is the host's filesystem/network shim (spec §4.7): every
// parameter a step passes to a gear call is inspected, and anything that
// looks like a path is run through CheckPath against workspaceRoot, while
// anything that looks like a URL/host/domain is run through CheckDomain
// against the gear's own declared allowlist. Keys are visited in sorted
// order so a rejection is deterministic across runs rather than depending
// on Go's randomized map iteration.
func gateParameters(workspaceRoot string, manifest axismsg.GearManifest, parameters map[string]any) error {
	for _, key := range sortedKeys(parameters) {
		s, ok := parameters[key].(string)
		if !ok {
			continue
		}
		k := strings.ToLower(key)
		switch {
		case strings.Contains(k, "path") || strings.Contains(k, "file") || strings.Contains(k, "dir"):
			if err := CheckPath(workspaceRoot, s); err != nil {
				return fmt.Errorf("parameter %q: %w", key, err)
			}
		case strings.Contains(k, "url") || strings.Contains(k, "host") || strings.Contains(k, "domain") || strings.Contains(k, "endpoint"):
			host := extractHost(s)
			if host == "" {
				continue
			}
			if err := CheckDomain(manifest.Permissions.Network.Domains, host); err != nil {
				return fmt.Errorf("parameter %q: %w", key, err)
			}
		}
	}
	return nil
}

// extractHost strips a URL's scheme, path, and port, leaving just the
// host/IP portion CheckDomain expects.
func extractHost(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s, "]") {
		s = s[:i]
	}
	return strings.Trim(s, "[]")
}

// StampProvenance overwrites any plugin-set "_provenance" key in result
// with host-authoritative values — the plugin's own claims about where a
// result came from are never trusted, per spec §4.7.
func StampProvenance(result map[string]any, source, action, correlationID string) map[string]any {
	if result == nil {
		result = make(map[string]any)
	}
	result["_provenance"] = axismsg.Provenance{
		Source:        source,
		Action:        action,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	return result
}
