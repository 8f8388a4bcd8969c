// Package orchestrator runs the full decision pipeline over each submitted
// action: emergency stop, constitutional rules, alignment gate, advisory
// detectors, multi-sig requirements, then emergency stop again. The posture
// is fail-closed throughout: any internal fault becomes a blocked decision
// with an audit trace, never an escaped error.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
	"github.com/Aegis-Labs/aegis/core/pkg/alignment"
	"github.com/Aegis-Labs/aegis/core/pkg/approval"
	"github.com/Aegis-Labs/aegis/core/pkg/audit"
	"github.com/Aegis-Labs/aegis/core/pkg/capability"
	"github.com/Aegis-Labs/aegis/core/pkg/constitution"
	"github.com/Aegis-Labs/aegis/core/pkg/detect"
	"github.com/Aegis-Labs/aegis/core/pkg/emergency"
	"github.com/Aegis-Labs/aegis/core/pkg/observability"
	"github.com/Aegis-Labs/aegis/core/pkg/ratelimit"
	"github.com/Aegis-Labs/aegis/core/pkg/registry"
)

// Options wires the orchestrator's collaborators. Nil fields get working
// in-memory defaults so tests and single-process deployments need no setup.
type Options struct {
	Constitution *constitution.Engine
	Gate         *alignment.Gate
	Deception    *detect.DeceptionDetector
	Anomaly      *detect.AnomalyDetector
	Capability   *capability.Controller
	Workflow     *approval.Workflow
	Emergency    *emergency.Controller
	Audit        *audit.Log
	Limiter      *ratelimit.Limiter
	Telemetry    *observability.Provider
	Registry     *registry.Registry

	// Quorum for plain multi-sig operations.
	Quorum approval.Config
	// Stakeholders vote on consensus operations.
	Stakeholders [5]string
}

// Orchestrator is the kernel's single entry point.
type Orchestrator struct {
	constitution *constitution.Engine
	gate         *alignment.Gate
	deception    *detect.DeceptionDetector
	anomaly      *detect.AnomalyDetector
	capability   *capability.Controller
	workflow     *approval.Workflow
	emergency    *emergency.Controller
	audit        *audit.Log
	limiter      *ratelimit.Limiter
	telemetry    *observability.Provider
	registry     *registry.Registry

	quorum       approval.Config
	stakeholders [5]string

	logger *slog.Logger
}

// New builds an orchestrator from options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Constitution == nil {
		engine, err := constitution.NewEngine("1.0.0")
		if err != nil {
			return nil, fmt.Errorf("orchestrator: default constitution: %w", err)
		}
		opts.Constitution = engine
	}
	if opts.Gate == nil {
		opts.Gate = alignment.NewGate(nil, alignment.DefaultThreshold, nil, nil)
	}
	if opts.Deception == nil {
		opts.Deception = detect.NewDeceptionDetector()
	}
	if opts.Anomaly == nil {
		opts.Anomaly = detect.NewAnomalyDetector(nil)
	}
	if opts.Capability == nil {
		opts.Capability = capability.NewController(nil)
	}
	if opts.Workflow == nil {
		opts.Workflow = approval.NewWorkflow(nil, 0)
	}
	if opts.Emergency == nil {
		opts.Emergency = emergency.NewController(0, nil)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLog()
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Quorum.RequiredApprovals == 0 {
		opts.Quorum = approval.Config{RequiredApprovals: 2, TotalApprovers: 3}
	}
	if opts.Telemetry == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: telemetry: %w", err)
		}
		opts.Telemetry = p
	}

	return &Orchestrator{
		constitution: opts.Constitution,
		gate:         opts.Gate,
		deception:    opts.Deception,
		anomaly:      opts.Anomaly,
		capability:   opts.Capability,
		workflow:     opts.Workflow,
		emergency:    opts.Emergency,
		audit:        opts.Audit,
		limiter:      opts.Limiter,
		telemetry:    opts.Telemetry,
		registry:     opts.Registry,
		quorum:       opts.Quorum,
		stakeholders: opts.Stakeholders,
		logger:       slog.Default().With("component", "orchestrator"),
	}, nil
}

// Audit exposes the audit log for query surfaces.
func (o *Orchestrator) Audit() *audit.Log { return o.audit }

// Workflow exposes the approval workflow for approval UIs.
func (o *Orchestrator) Workflow() *approval.Workflow { return o.workflow }

// Capability exposes the capability controller.
func (o *Orchestrator) Capability() *capability.Controller { return o.capability }

// Emergency exposes the emergency stop controller.
func (o *Orchestrator) Emergency() *emergency.Controller { return o.emergency }

// Registry exposes the agent directory.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Evaluate runs the pipeline over one action. operationID references a
// previously created multi-sig operation when the caller is retrying an
// action that required approval; pass "" otherwise.
func (o *Orchestrator) Evaluate(ctx context.Context, a *action.Action, operationID string) (decision Decision) {
	ctx, finish := o.telemetry.TrackEvaluation(ctx, a.AgentID)
	var internalErr error
	defer func() { finish(internalErr) }()

	// Fail closed on any internal fault: the panic becomes a blocked
	// decision plus an audit entry tagged failure.
	defer func() {
		if r := recover(); r != nil {
			internalErr = fmt.Errorf("orchestrator: internal error: %v", r)
			o.logger.Error("evaluation panicked", "agent_id", a.AgentID, "action_id", a.ID, "panic", r)
			_, _ = o.audit.Record(a.AgentID, audit.KindDecision, "evaluate", audit.OutcomeFailure, map[string]any{
				"action_id": a.ID,
				"panic":     fmt.Sprint(r),
			})
			decision = blocked(0, nil)
		}
	}()

	// Every evaluated agent gets a directory record on first sight.
	if _, err := o.registry.Ensure(a.AgentID); err != nil {
		o.logger.Warn("agent registration failed", "agent_id", a.AgentID, "error", err)
	}

	if o.limiter != nil {
		if err := o.limiter.Allow(ctx, a.AgentID); err != nil {
			o.telemetry.RecordBlocked(ctx, "ratelimit")
			o.recordBlocked(a, 0, "rate limit exceeded", nil)
			return blocked(0, nil)
		}
	}

	// Emergency stop gates everything, first and last.
	if o.emergencyActive() {
		o.telemetry.RecordBlocked(ctx, "emergency_stop")
		o.recordBlocked(a, 0, "emergency stop active", nil)
		return blocked(0, nil)
	}

	results := o.constitution.Enforce(a)
	violations := constitution.Violations(results)
	passed := len(violations) == 0
	violationNames := make([]string, 0, len(violations))
	for _, v := range violations {
		violationNames = append(violationNames, v.RuleName)
	}
	if _, err := o.audit.RecordConstitutionalCheck(a.AgentID, a.ID, passed, violationNames); err != nil {
		internalErr = err
		return blocked(0, violations)
	}

	score, attempt, err := o.gate.Check(ctx, a)
	if err != nil {
		// Attempt storage is mandatory; a failed store fails closed.
		internalErr = err
		o.recordBlocked(a, score.Value, "misalignment store failure", violations)
		return blocked(score.Value, violations)
	}
	if stop, tripped := o.emergency.ObserveScore(a.AgentID, score.Value); tripped {
		_, _ = o.audit.RecordEmergencyStop(stop.TriggeredBy, "activate", map[string]any{
			"stop_id":         stop.ID,
			"kind":            string(stop.Kind),
			"reason":          stop.Reason,
			"alignment_score": stop.AlignmentScore,
		})
	}

	if !passed {
		o.telemetry.RecordBlocked(ctx, "constitution")
		_, _ = o.audit.RecordViolationAttempt(a.AgentID, "constitutional violation: "+a.Description, map[string]any{
			"action_id":  a.ID,
			"violations": violationNames,
		})
		o.recordBlocked(a, score.Value, "constitutional violation", violations)
		return blocked(score.Value, violations)
	}

	requiresSig := o.workflow.RequiresMultiSig(a)

	if attempt != nil {
		// A type ceiling below the gate threshold would otherwise make
		// approval-gated actions (large transfers above all) permanently
		// unreachable. When the deficit comes from the ceiling alone, route
		// the action into the multi-sig path instead of hard-blocking.
		ceiling, capped := alignment.TypeCeiling(a)
		cappedOnly := requiresSig && capped && score.Value >= ceiling
		if !cappedOnly {
			o.telemetry.RecordBlocked(ctx, "alignment")
			_, _ = o.audit.RecordViolationAttempt(a.AgentID, "alignment below threshold", map[string]any{
				"action_id": a.ID,
				"score":     score.Value,
				"threshold": attempt.Threshold,
			})
			o.recordBlocked(a, score.Value, "alignment below threshold", nil)
			return blocked(score.Value, nil)
		}
	}

	// Advisory detectors: they never block, their findings are audited and
	// fed to the decision record.
	deceptionReport := o.deception.Analyze(a)
	if deceptionReport.Detected {
		_, _ = o.audit.RecordPromptInjection(a.AgentID, "deception indicators in action", map[string]any{
			"action_id":   a.ID,
			"probability": deceptionReport.Probability,
			"reasoning":   deceptionReport.Reasoning,
		})
	}
	anomalyReport := o.anomaly.Analyze(a)

	// Multi-sig gate.
	if requiresSig && !o.workflow.CanProceed(a, operationID) {
		op, err := o.createOperation(a)
		if err != nil {
			internalErr = err
			o.recordBlocked(a, score.Value, "approval operation creation failed", nil)
			return blocked(score.Value, nil)
		}
		o.telemetry.RecordBlocked(ctx, "approval")
		o.recordDecision(a, false, score.Value, deceptionReport, anomalyReport, "awaiting approval")
		d := blocked(score.Value, nil)
		d.RequiresApproval = true
		d.OperationID = op.ID
		return d
	}

	// Emergency stop may have activated mid-evaluation (including by this
	// very action's score); re-check before allowing.
	if o.emergencyActive() {
		o.telemetry.RecordBlocked(ctx, "emergency_stop")
		o.recordBlocked(a, score.Value, "emergency stop active", nil)
		return blocked(score.Value, nil)
	}

	o.anomaly.Tracker().Observe(a)
	if a.Type == action.TypeReplication {
		o.recordReplication(a)
	}
	o.recordDecision(a, true, score.Value, deceptionReport, anomalyReport, "")
	return Decision{
		Allowed:        true,
		AlignmentScore: score.Value,
	}
}

// emergencyActive runs the lazy dead-man check and reports the global stop
// flag; a dead-man activation surfaced here gets its audit entry, the same as
// every other activation path.
func (o *Orchestrator) emergencyActive() bool {
	if stop, tripped := o.emergency.CheckDeadManSwitch(); tripped {
		_, _ = o.audit.RecordEmergencyStop(stop.TriggeredBy, "activate", map[string]any{
			"stop_id": stop.ID,
			"kind":    string(stop.Kind),
			"reason":  stop.Reason,
		})
	}
	return o.emergency.Active()
}

// recordReplication registers the spawned child in the agent directory when
// the parent is itself registered, preserving lineage for audit.
func (o *Orchestrator) recordReplication(a *action.Action) {
	name, _ := a.Parameters["child_name"].(string)
	if name == "" {
		return
	}
	if _, err := o.registry.Get(a.AgentID); err != nil {
		return
	}
	child, err := o.registry.RegisterChild(a.AgentID, name, a.Description, "", nil)
	if err != nil {
		o.logger.Warn("child registration failed", "agent_id", a.AgentID, "error", err)
		return
	}
	_, _ = o.audit.Record(a.AgentID, audit.KindTransparency, "replicate", audit.OutcomeSuccess, map[string]any{
		"action_id":  a.ID,
		"child_id":   child.ID,
		"generation": child.Generation,
	})
}

func (o *Orchestrator) createOperation(a *action.Action) (approval.Operation, error) {
	op, err := o.workflow.CreateOperation(a.AgentID, a, o.quorum)
	if err != nil {
		return approval.Operation{}, err
	}
	_, _ = o.audit.RecordMultiSigRequest(a.AgentID, op.ID, map[string]any{
		"action_id": a.ID,
		"required":  op.Config.RequiredApprovals,
		"total":     op.Config.TotalApprovers,
	})
	return op, nil
}

func (o *Orchestrator) recordBlocked(a *action.Action, score float64, internalReason string, violations []constitution.Result) {
	names := make([]string, 0, len(violations))
	for _, v := range violations {
		names = append(names, v.RuleName)
	}
	details := map[string]any{
		"alignment_score": score,
		"reason":          internalReason,
	}
	if len(names) > 0 {
		details["violations"] = names
	}
	if _, err := o.audit.RecordDecision(a.AgentID, a.ID, false, details); err != nil {
		o.logger.Error("audit write failed", "action_id", a.ID, "error", err)
	}
	// Blocked attempts cost reputation.
	if _, err := o.registry.Adjust(a.AgentID, -1); err != nil {
		o.logger.Warn("reputation adjustment failed", "agent_id", a.AgentID, "error", err)
	}
}

func (o *Orchestrator) recordDecision(a *action.Action, allowed bool, score float64, dec detect.DeceptionReport, anom detect.AnomalyReport, note string) {
	details := map[string]any{
		"alignment_score":       score,
		"deception_probability": dec.Probability,
		"anomaly_score":         anom.Total,
	}
	if note != "" {
		details["note"] = note
	}
	if _, err := o.audit.RecordDecision(a.AgentID, a.ID, allowed, details); err != nil {
		o.logger.Error("audit write failed", "action_id", a.ID, "error", err)
	}
}
