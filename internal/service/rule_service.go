package service

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	celgo "github.com/google/cel-go/cel"

	celeval "github.com/sqlward/sqlward/internal/adapter/outbound/cel"
)

// Guard rule actions.
const (
	RuleActionDeny             = "deny"
	RuleActionApprovalRequired = "approval_required"
)

// RuleConfig is one guard rule as declared in configuration.
type RuleConfig struct {
	// Name identifies the rule in audit details and logs.
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	// ToolMatch is a glob pattern selecting the operations the rule covers.
	ToolMatch string `mapstructure:"tool_match" yaml:"tool_match" validate:"required"`
	// Condition is a CEL expression over tool, args, user, and roles.
	Condition string `mapstructure:"condition" yaml:"condition" validate:"required"`
	// Action is deny or approval_required.
	Action string `mapstructure:"action" yaml:"action" validate:"required,oneof=deny approval_required"`
}

// compiledRule pairs a rule config with its compiled CEL program.
type compiledRule struct {
	config  RuleConfig
	program celgo.Program
}

// RuleDecision is the outcome of evaluating guard rules for one invocation.
type RuleDecision struct {
	// Matched is the name of the first rule whose condition held, if any.
	Matched string
	// Action is the matched rule's action, empty when no rule matched.
	Action string
}

// lruEntry is a doubly-linked list node for the decision cache.
type lruEntry struct {
	key      uint64
	decision RuleDecision
	prev     *lruEntry
	next     *lruEntry
}

// decisionCache provides bounded LRU caching for rule evaluation results.
// Thread-safe with Mutex since both Get and Put mutate LRU order.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

func (c *decisionCache) Get(key uint64) (RuleDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return RuleDecision{}, false
}

func (c *decisionCache) Put(key uint64, decision RuleDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

func (c *decisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *decisionCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *decisionCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *decisionCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *decisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// cacheKey hashes the evaluation inputs deterministically. Roles are
// sorted and args serialized as JSON so equal inputs always collide.
func cacheKey(tool, user string, roles []string, argsJSON []byte) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(tool)
	_, _ = h.Write([]byte{0})

	sortedRoles := make([]string, len(roles))
	copy(sortedRoles, roles)
	sort.Strings(sortedRoles)
	_, _ = h.WriteString(strings.Join(sortedRoles, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(user)
	_, _ = h.Write([]byte{0})

	_, _ = h.Write(argsJSON)

	return h.Sum64()
}

// RuleService evaluates configured guard rules against tool invocations.
// Rules are compiled once at construction; evaluation results are cached
// per (tool, user, roles, args) in a bounded LRU.
type RuleService struct {
	evaluator *celeval.Evaluator
	rules     []compiledRule
	cache     *decisionCache
	logger    *slog.Logger
}

// RuleOption configures a RuleService.
type RuleOption func(*RuleService)

// WithCacheSize sets the maximum number of cached decisions (default 1000).
func WithCacheSize(size int) RuleOption {
	return func(s *RuleService) {
		if size > 0 {
			s.cache = newDecisionCache(size)
		}
	}
}

// NewRuleService compiles the configured rules. A rule that fails
// validation or compilation aborts construction so a broken guard never
// goes live silently.
func NewRuleService(configs []RuleConfig, logger *slog.Logger, opts ...RuleOption) (*RuleService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create rule evaluator: %w", err)
	}

	s := &RuleService{
		evaluator: evaluator,
		cache:     newDecisionCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, cfg := range configs {
		if cfg.Action != RuleActionDeny && cfg.Action != RuleActionApprovalRequired {
			return nil, fmt.Errorf("rule %q: unknown action %q", cfg.Name, cfg.Action)
		}
		if _, err := path.Match(cfg.ToolMatch, "probe"); err != nil {
			return nil, fmt.Errorf("rule %q: invalid tool_match pattern: %w", cfg.Name, err)
		}
		if err := s.evaluator.ValidateExpression(cfg.Condition); err != nil {
			return nil, fmt.Errorf("rule %q: %w", cfg.Name, err)
		}
		prg, err := s.evaluator.Compile(cfg.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", cfg.Name, err)
		}
		s.rules = append(s.rules, compiledRule{config: cfg, program: prg})
	}

	logger.Info("guard rules compiled", "count", len(s.rules), "cache_max_size", s.cache.maxSize)
	return s, nil
}

// Evaluate runs the guard rules in declaration order and returns the first
// match. Evaluation errors fail closed as a deny carrying the rule name.
func (s *RuleService) Evaluate(tool, user string, roles []string, args map[string]any, argsJSON []byte) RuleDecision {
	if len(s.rules) == 0 {
		return RuleDecision{}
	}

	key := cacheKey(tool, user, roles, argsJSON)
	if decision, ok := s.cache.Get(key); ok {
		return decision
	}

	decision := s.evaluateRules(tool, user, roles, args)
	s.cache.Put(key, decision)
	return decision
}

func (s *RuleService) evaluateRules(tool, user string, roles []string, args map[string]any) RuleDecision {
	for _, rule := range s.rules {
		if ok, _ := path.Match(rule.config.ToolMatch, tool); !ok {
			continue
		}
		matched, err := s.evaluator.Evaluate(rule.program, celeval.Input{
			Tool:  tool,
			Args:  args,
			User:  user,
			Roles: roles,
		})
		if err != nil {
			s.logger.Warn("guard rule evaluation failed, denying",
				"rule", rule.config.Name, "tool", tool, "error", err)
			return RuleDecision{Matched: rule.config.Name, Action: RuleActionDeny}
		}
		if matched {
			return RuleDecision{Matched: rule.config.Name, Action: rule.config.Action}
		}
	}
	return RuleDecision{}
}

// CacheSize returns the current number of cached decisions.
func (s *RuleService) CacheSize() int {
	return s.cache.Size()
}

// ClearCache empties the decision cache.
func (s *RuleService) ClearCache() {
	s.cache.Clear()
}
