package localservice

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru"

	"lite-rpc/netutil"
)

// The condition language, case-sensitive after trimming:
//
//	""              always true (remote)
//	"booltrue"      true
//	"boolfalse"     false
//	"timeHHMM-HHMM" true iff the wall clock lies in the range; bounds are
//	                inclusive on both ends and the range may span midnight
//	"ip1.2.3.4"     true iff the host owns that IPv4 on an up,
//	                non-loopback interface (result cached)
//	<custom prefix> evaluated by a registered handler
//	anything else   false
//
// A true condition selects the remote path, false selects the local path.

var (
	timePattern = regexp.MustCompile(`^time(\d{4})-(\d{4})$`)
	ipPattern   = regexp.MustCompile(`^ip([\d.]+)$`)
)

// ipCacheSize bounds the interface-scan result cache. Conditions name at
// most a handful of addresses; the bound only guards against abuse.
const ipCacheSize = 64

// Evaluator evaluates condition strings. The zero value is not usable;
// construct with NewEvaluator.
type Evaluator struct {
	mu       sync.RWMutex
	handlers map[string]func(condition string) bool

	ipCache *lru.Cache

	// now is a test seam; production uses time.Now.
	now func() time.Time
	// hasIP is a test seam; production scans the host interfaces.
	hasIP func(string) bool
}

// NewEvaluator returns an evaluator with the built-in strategies.
func NewEvaluator() *Evaluator {
	cache, _ := lru.New(ipCacheSize)
	return &Evaluator{
		handlers: make(map[string]func(string) bool),
		ipCache:  cache,
		now:      time.Now,
		hasIP:    netutil.HasIP,
	}
}

// RegisterHandler installs a custom strategy for conditions starting with
// prefix.
func (e *Evaluator) RegisterHandler(prefix string, handler func(condition string) bool) {
	e.mu.Lock()
	e.handlers[prefix] = handler
	e.mu.Unlock()
	log.Info("condition handler registered", "prefix", prefix)
}

// RemoveHandler removes a custom strategy.
func (e *Evaluator) RemoveHandler(prefix string) {
	e.mu.Lock()
	delete(e.handlers, prefix)
	e.mu.Unlock()
}

// Evaluate returns the condition's boolean value.
func (e *Evaluator) Evaluate(condition string) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}
	switch condition {
	case "booltrue":
		return true
	case "boolfalse":
		return false
	}
	if m := timePattern.FindStringSubmatch(condition); m != nil {
		return e.evaluateTime(m[1], m[2])
	}
	if m := ipPattern.FindStringSubmatch(condition); m != nil {
		return e.evaluateIP(m[1])
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for prefix, handler := range e.handlers {
		if len(condition) >= len(prefix) && condition[:len(prefix)] == prefix {
			return handler(condition)
		}
	}

	log.Warn("unrecognized condition", "condition", condition)
	return false
}

// ShouldUseLocal applies the selection rule: local service must be enabled
// and the condition must evaluate false.
func (e *Evaluator) ShouldUseLocal(enableLocalService bool, condition string) bool {
	if !enableLocalService {
		return false
	}
	if strings.TrimSpace(condition) == "" {
		return false
	}
	return !e.Evaluate(condition)
}

// evaluateTime checks whether the wall clock lies inside [start, end], both
// bounds inclusive. A start after the end spans midnight.
func (e *Evaluator) evaluateTime(startStr, endStr string) bool {
	start, ok1 := parseHHMM(startStr)
	end, ok2 := parseHHMM(endStr)
	if !ok1 || !ok2 {
		log.Warn("invalid time condition bounds", "start", startStr, "end", endStr)
		return false
	}
	now := e.now()
	minute := now.Hour()*60 + now.Minute()
	if start > end {
		return minute >= start || minute <= end
	}
	return minute >= start && minute <= end
}

func parseHHMM(s string) (int, bool) {
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// evaluateIP checks whether the host owns the address, caching the scan.
func (e *Evaluator) evaluateIP(target string) bool {
	if v, ok := e.ipCache.Get(target); ok {
		return v.(bool)
	}
	result := e.hasIP(target)
	e.ipCache.Add(target, result)
	return result
}

