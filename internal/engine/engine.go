// Package engine composes the screening components behind a single facade.
// An Engine is an explicit value constructed once and handed to callers;
// there is no global instance, so tests run isolated engines freely. All
// mutation of the configuration and the stores goes through the engine's
// public operations.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/canvasguard/canvasguard/internal/audit"
	"github.com/canvasguard/canvasguard/internal/config"
	"github.com/canvasguard/canvasguard/internal/events"
	"github.com/canvasguard/canvasguard/internal/patterns"
	"github.com/canvasguard/canvasguard/internal/policy"
	"github.com/canvasguard/canvasguard/internal/quarantine"
	"github.com/canvasguard/canvasguard/internal/ratelimit"
	"github.com/canvasguard/canvasguard/internal/scanner"
	"github.com/canvasguard/canvasguard/internal/trust"
	"github.com/canvasguard/canvasguard/internal/validator"
)

// recentWindow is the look-back used for status reporting and prior
// violation counts.
const recentWindow = 24 * time.Hour

// Options configures engine construction.
type Options struct {
	// ConfigPath is the persisted JSON configuration location. Empty means
	// config.DefaultPath().
	ConfigPath string
	// PatternRulesPath optionally points at a YAML file of additional
	// sensitive-data patterns.
	PatternRulesPath string
	// Watch enables hot reload of the persisted configuration.
	Watch  bool
	Logger *logrus.Logger
}

// Engine is the security screening facade.
type Engine struct {
	mu        sync.RWMutex
	cfg       config.SecurityConfig
	scan      *scanner.Scanner
	validate  *validator.Validator
	limiter   *ratelimit.Limiter
	store     *config.Store
	quarStore *quarantine.Store
	auditLog  *audit.Log
	bus       *events.Bus
	logger    *logrus.Logger
	rulesPath string
	stopWatch func()
}

// New constructs an engine from persisted configuration. A missing or
// malformed config file degrades to compiled-in defaults with an error-level
// log entry; construction fails only on programming errors such as an
// unbuildable default pattern library.
func New(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	store := config.NewStore(path, logger)

	cfg, err := store.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load persisted configuration, using defaults")
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		limiter:   ratelimit.New(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests),
		quarStore: quarantine.NewStore(),
		auditLog:  audit.NewLog(),
		bus:       events.NewBus(logger),
		logger:    logger,
		rulesPath: opts.PatternRulesPath,
	}

	if err := e.rebuildScanner(cfg); err != nil {
		return nil, fmt.Errorf("failed to build pattern library: %w", err)
	}

	if opts.Watch {
		stop, err := store.Watch(func(next config.SecurityConfig) {
			if applyErr := e.applyConfig(next); applyErr != nil {
				logger.WithError(applyErr).Error("Rejected reloaded configuration, keeping last known")
				return
			}
			e.bus.Emit(events.ConfigUpdated, map[string]any{"source": "reload"})
		})
		if err != nil {
			logger.WithError(err).Warn("Config hot reload unavailable")
		} else {
			e.stopWatch = stop
		}
	}

	return e, nil
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	if e.stopWatch != nil {
		e.stopWatch()
	}
}

// Events returns the engine's notification bus.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// Config returns a snapshot of the active configuration.
func (e *Engine) Config() config.SecurityConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// rebuildScanner compiles the pattern library for cfg and swaps in a new
// scanner and validator. Invalid custom patterns from a persisted config are
// dropped with a log entry rather than taking the engine down.
func (e *Engine) rebuildScanner(cfg config.SecurityConfig) error {
	custom := append([]string(nil), cfg.CustomSensitivePatterns...)
	if e.rulesPath != "" {
		extra, problems := config.LoadPatternRules(e.rulesPath)
		for _, p := range problems {
			e.logger.WithError(p).Warn("Skipping pattern rule")
		}
		custom = append(custom, extra...)
	}

	lib, err := patterns.NewLibrary(custom)
	if err != nil {
		e.logger.WithError(err).Error("Invalid custom sensitive pattern, continuing without custom patterns")
		lib, err = patterns.NewLibrary(nil)
		if err != nil {
			return err
		}
	}

	sc := scanner.New(lib, e.logger)
	e.mu.Lock()
	e.scan = sc
	e.validate = validator.New(sc, e.limiter, e.logger)
	e.mu.Unlock()
	return nil
}

// applyConfig installs a new configuration across all components.
func (e *Engine) applyConfig(cfg config.SecurityConfig) error {
	if err := e.rebuildScanner(cfg); err != nil {
		return err
	}
	e.limiter.Configure(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// ValidateCanvasRequest screens one request and records the outcome. Blocked
// requests with critical content findings are additionally quarantined for
// review.
func (e *Engine) ValidateCanvasRequest(req policy.CanvasRequest, ctx policy.RequestContext) policy.ValidationResult {
	e.mu.RLock()
	cfg := e.cfg
	v := e.validate
	e.mu.RUnlock()

	result := v.Validate(req, ctx, cfg)
	e.auditLog.AddViolations(result.Violations...)

	auditResult := policy.ResultSuccess
	if !result.Valid {
		auditResult = policy.ResultBlocked
	}
	details := map[string]any{
		"violations": len(result.Violations),
		"sanitised":  result.SanitisedRequest != nil,
	}
	if len(result.Modifications) > 0 {
		details["modifications"] = result.Modifications
	}
	e.record("validateCanvasRequest", ctx.Source, req.URL, auditResult, details, cfg.CanvasSecurityLevel)

	e.emitViolationEvents(result.Violations)

	if !result.Valid && result.HasCritical() {
		id := e.quarStore.Enqueue(req, "critical content violation")
		e.bus.Emit(events.RequestQuarantined, map[string]any{"id": id, "source": ctx.SourceKey()})
	}

	return result
}

// ExfiltrationCheck is the outcome of PreventDataExfiltration.
type ExfiltrationCheck struct {
	Blocked    bool               `json:"blocked"`
	Sanitised  string             `json:"sanitised,omitempty"`
	Violations []policy.Violation `json:"violations"`
}

// PreventDataExfiltration screens free-text content before it crosses the
// boundary. Critical findings block outright; anything else yields a
// best-effort sanitised copy.
func (e *Engine) PreventDataExfiltration(content string, ctx policy.RequestContext) ExfiltrationCheck {
	e.mu.RLock()
	cfg := e.cfg
	sc := e.scan
	e.mu.RUnlock()

	if !cfg.ExfiltrationPrevention {
		return ExfiltrationCheck{Sanitised: content}
	}

	violations := sc.Detect(content, ctx)
	e.auditLog.AddViolations(violations...)

	check := ExfiltrationCheck{Violations: violations}
	critical := false
	for _, v := range violations {
		if v.Severity == policy.SeverityCritical {
			critical = true
			break
		}
	}

	var modifications []string
	if critical {
		check.Blocked = true
	} else if len(violations) > 0 {
		sanitised, mods := sc.Sanitise(content)
		check.Sanitised = sanitised
		modifications = mods
	} else {
		check.Sanitised = content
	}

	auditResult := policy.ResultSuccess
	if check.Blocked {
		auditResult = policy.ResultBlocked
	}
	details := map[string]any{
		"violations": len(violations),
		"blocked":    check.Blocked,
	}
	if len(modifications) > 0 {
		details["modifications"] = modifications
	}
	e.record("preventDataExfiltration", ctx.Source, "", auditResult, details, cfg.CanvasSecurityLevel)
	e.emitViolationEvents(violations)

	return check
}

// ContextualValidation scores the request context against the active
// security level's trust threshold.
func (e *Engine) ContextualValidation(req policy.CanvasRequest, ctx policy.RequestContext) bool {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if ctx.PriorViolations == 0 {
		ctx.PriorViolations = e.auditLog.RecentViolations(recentWindow, ctx.SourceKey())
	}
	trusted := trust.IsTrusted(ctx, &req, cfg.CanvasSecurityLevel)

	auditResult := policy.ResultSuccess
	if !trusted {
		auditResult = policy.ResultBlocked
	}
	e.record("contextualValidation", ctx.Source, req.URL, auditResult, map[string]any{
		"score":     trust.Score(ctx, &req),
		"threshold": trust.Threshold(cfg.CanvasSecurityLevel),
	}, cfg.CanvasSecurityLevel)

	return trusted
}

// QuarantineRequest parks a request for deferred review and returns its id.
func (e *Engine) QuarantineRequest(req policy.CanvasRequest, reason string) string {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	id := e.quarStore.Enqueue(req, reason)
	e.record("quarantineRequest", policy.SourceSystem, id, policy.ResultSuccess, map[string]any{
		"reason": reason,
	}, cfg.CanvasSecurityLevel)
	e.bus.Emit(events.RequestQuarantined, map[string]any{"id": id, "reason": reason})
	return id
}

// ReviewQuarantinedRequest resolves a pending quarantine entry. Returns
// false for unknown or already reviewed ids.
func (e *Engine) ReviewQuarantinedRequest(id string, approved bool) bool {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	ok := e.quarStore.Review(id, approved)
	result := policy.ResultSuccess
	if !ok {
		result = policy.ResultError
	}
	e.record("reviewQuarantinedRequest", policy.SourceSystem, id, result, map[string]any{
		"approved": approved,
	}, cfg.CanvasSecurityLevel)
	if ok {
		e.bus.Emit(events.QuarantineReviewed, map[string]any{"id": id, "approved": approved})
	}
	return ok
}

// PendingQuarantine lists entries awaiting review.
func (e *Engine) PendingQuarantine() []quarantine.Request {
	return e.quarStore.Pending()
}

// UpdateConfig merges a patch into the active configuration and persists
// the result. A failed save is logged and left for the next save; the
// in-memory configuration stays authoritative.
func (e *Engine) UpdateConfig(patch config.Patch) error {
	e.mu.RLock()
	current := e.cfg
	e.mu.RUnlock()

	next, err := current.Apply(patch)
	if err != nil {
		return fmt.Errorf("invalid configuration update: %w", err)
	}
	if err := e.applyConfig(next); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}

	if err := e.store.Save(next); err != nil {
		e.logger.WithError(err).Warn("Failed to persist configuration, in-memory config remains authoritative")
	}

	e.record("updateSecurityConfig", policy.SourceSystem, e.store.Path(), policy.ResultSuccess, map[string]any{
		"level": string(next.CanvasSecurityLevel),
	}, next.CanvasSecurityLevel)
	e.bus.Emit(events.ConfigUpdated, map[string]any{"level": string(next.CanvasSecurityLevel)})
	return nil
}

// record appends an audit entry and mirrors it onto the event bus.
func (e *Engine) record(action string, source policy.RequestSource, target string, result policy.AuditResult, details map[string]any, level policy.SecurityLevel) {
	entry := e.auditLog.Record(action, source, target, result, details, level)
	e.bus.Emit(events.AuditEvent, map[string]any{
		"id":     entry.ID,
		"action": entry.Action,
		"result": string(entry.Result),
	})
}

// emitViolationEvents publishes violation notifications, escalating to a
// critical alert when warranted.
func (e *Engine) emitViolationEvents(violations []policy.Violation) {
	if len(violations) == 0 {
		return
	}
	critical := 0
	for _, v := range violations {
		if v.Severity == policy.SeverityCritical {
			critical++
		}
	}
	e.bus.Emit(events.SecurityViolation, map[string]any{"count": len(violations)})
	if critical > 0 {
		e.bus.Emit(events.CriticalSecurityAlert, map[string]any{"count": critical})
	}
}

// AuditLog exposes the audit log for querying.
func (e *Engine) AuditLog() *audit.Log {
	return e.auditLog
}
