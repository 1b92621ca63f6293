package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// canonicalize produces a stable hash of a plan's decision-relevant
// content: step gear/action/parameters, in step order, with parameter keys
// sorted, numbers normalized to a fixed decimal form, and strings
// NFC-normalized. Reasoning/description/metadata are deliberately excluded
// so that two semantically identical plans that differ only in prose hit
// the same cache entry.
func canonicalize(plan *axismsg.ExecutionPlan) string {
	var b []byte
	for _, step := range plan.Steps {
		b = append(b, []byte(step.Gear)...)
		b = append(b, 0)
		b = append(b, []byte(step.Action)...)
		b = append(b, 0)
		b = append(b, canonicalizeParams(step.Parameters)...)
		b = append(b, 1)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalizeParams(params map[string]any) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	for _, k := range keys {
		b = append(b, []byte(norm.NFC.String(k))...)
		b = append(b, '=')
		b = append(b, canonicalizeValue(params[k])...)
		b = append(b, ';')
	}
	return b
}

func canonicalizeValue(v any) []byte {
	switch t := v.(type) {
	case string:
		return []byte(norm.NFC.String(t))
	case float64:
		return []byte(strconv.FormatFloat(t, 'g', -1, 64))
	case int:
		return []byte(strconv.Itoa(t))
	case int64:
		return []byte(strconv.FormatInt(t, 10))
	case bool:
		return []byte(strconv.FormatBool(t))
	case map[string]any:
		return canonicalizeParams(t)
	case []any:
		var b []byte
		for _, e := range t {
			b = append(b, canonicalizeValue(e)...)
			b = append(b, ',')
		}
		return b
	case nil:
		return []byte("null")
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// approvalEntry is one cached approval decision.
type approvalEntry struct {
	result axismsg.ValidationResult
}

// ApprovalCache is a bounded LRU cache from canonical plan hash to its
// previously computed ValidationResult, avoiding repeat LLM evaluation (or
// repeat user approval prompts) for a plan shape already seen.
type ApprovalCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*approvalEntry
	order    []string // front = most recently used
}

// NewApprovalCache creates a cache holding at most capacity entries.
func NewApprovalCache(capacity int) *ApprovalCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ApprovalCache{
		capacity: capacity,
		entries:  make(map[string]*approvalEntry),
	}
}

// Get returns a cached result for plan, and whether it was found.
func (c *ApprovalCache) Get(plan *axismsg.ExecutionPlan) (axismsg.ValidationResult, bool) {
	key := canonicalize(plan)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return axismsg.ValidationResult{}, false
	}
	c.touch(key)
	return entry.result, true
}

// Put stores result under plan's canonical hash, evicting the
// least-recently-used entry if at capacity.
func (c *ApprovalCache) Put(plan *axismsg.ExecutionPlan, result axismsg.ValidationResult) {
	key := canonicalize(plan)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = &approvalEntry{result: result}
	c.touch(key)
}

func (c *ApprovalCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append([]string{key}, c.order...)
}

func (c *ApprovalCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[len(c.order)-1]
	c.order = c.order[:len(c.order)-1]
	delete(c.entries, oldest)
}
