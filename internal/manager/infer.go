package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"enginegate/internal/budget"
	"enginegate/internal/engine"
	"enginegate/internal/events"
	"enginegate/internal/registry"
	"enginegate/internal/routing"
	"enginegate/pkg/types"
)

const (
	stageDispatch = "dispatch"
	stageBudget   = "budget"
)

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// rejections turns the routing trail into attempts, dropping non-rejections.
func rejections(trail []routing.TrailEntry) []types.Attempt {
	var out []types.Attempt
	for _, e := range trail {
		if e.Verdict != routing.VerdictRejected {
			continue
		}
		out = append(out, types.Attempt{Backend: e.Backend, Stage: e.Policy, Reason: e.Reason})
	}
	return out
}

func validateRequest(req types.InferRequest) error {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return errors.New("prompt is required")
	case req.MaxTokens < 0:
		return errors.New("max_tokens must be >= 0")
	case req.Temperature < 0:
		return errors.New("temperature must be >= 0")
	case req.CostCeiling < 0:
		return errors.New("cost_ceiling must be >= 0")
	}
	return nil
}

// Infer routes req and dispatches it, failing over to the next ranked
// backend on transient errors. A ctx without deadline gets RequestTimeout.
// Errors are *InferenceError and carry every attempted backend.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	start := time.Now()
	if m.shuttingDown.Load() {
		return types.InferResponse{}, &InferenceError{Kind: KindShuttingDown, Err: errors.New("manager is shutting down")}
	}
	if err := validateRequest(req); err != nil {
		return types.InferResponse{}, &InferenceError{Kind: KindInvalid, Err: err}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}
	m.requests.Add(1)
	log := m.log.With().Str("request_id", req.RequestID).Logger()

	decision, err := m.router.Select(m.reg.ListReady(registry.Filter{}), req)
	routingTime := time.Since(start)
	if err != nil {
		var re *routing.Error
		trail := decision.Trail
		if errors.As(err, &re) {
			trail = re.Trail
		}
		attempts := rejections(trail)
		m.publish(events.RouteRejected, "", map[string]any{
			"request_id":     req.RequestID,
			events.FieldKind: kindString(err),
			"attempts":       len(attempts),
		})
		log.Warn().Err(err).Msg("route rejected")
		if m.shuttingDown.Load() {
			return types.InferResponse{}, &InferenceError{Kind: KindShuttingDown, Attempts: attempts, Err: err}
		}
		return types.InferResponse{}, &InferenceError{Kind: KindRouting, Attempts: attempts, Err: err}
	}
	m.publish(events.RouteDecision, decision.Chosen(), map[string]any{
		"request_id": req.RequestID,
		"ranked":     decision.IDs(),
		"trail":      trailStrings(decision.Trail),
	})

	candidates := decision.Ranked
	if n := m.cfg.MaxAttempts; n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	attempts := rejections(decision.Trail)
	var (
		dispatchTime time.Duration
		dispatched   int
		budgetErr    error
	)
	for _, c := range candidates {
		if ctx.Err() != nil {
			return types.InferResponse{}, contextError(ctx, "", attempts)
		}
		hold, err := m.reserve(c, decision.EstimatedTokens)
		if err != nil {
			// Concurrent requests took what routing saw as remaining.
			attempts = append(attempts, types.Attempt{Backend: c.ID, Stage: stageBudget, Reason: err.Error()})
			budgetErr = err
			continue
		}
		if dispatched > 0 {
			m.failovers.Add(1)
			log.Info().Str("backend", c.ID).Int("attempt", dispatched+1).Msg("failover")
		}
		dispatched++
		comp, took, err := m.dispatch(ctx, c.Handle, req, dispatched)
		dispatchTime += took
		if err == nil {
			resp := types.InferResponse{
				Text:             comp.Text,
				FinishReason:     comp.FinishReason,
				PromptTokens:     comp.PromptTokens,
				CompletionTokens: comp.CompletionTokens,
				TotalTokens:      comp.PromptTokens + comp.CompletionTokens,
				ServedBy:         c.ID,
				RequestID:        req.RequestID,
				Attempts:         dispatched,
			}
			m.settleSpend(hold, c, resp, decision.EstimatedTokens)
			resp.Latency = types.Latency{RoutingMS: ms(routingTime), DispatchMS: ms(dispatchTime), TotalMS: ms(time.Since(start))}
			return resp, nil
		}
		hold.Release()

		attempts = append(attempts, types.Attempt{Backend: c.ID, Stage: stageDispatch, Reason: err.Error()})
		switch {
		case ctx.Err() != nil:
			return types.InferResponse{}, contextError(ctx, c.ID, attempts)
		case m.shuttingDown.Load():
			return types.InferResponse{}, &InferenceError{Kind: KindShuttingDown, Backend: c.ID, Attempts: attempts, Err: err}
		case !engine.IsTransient(err):
			return types.InferResponse{}, &InferenceError{Kind: KindAdapter, Backend: c.ID, Attempts: attempts, Err: err}
		}
		log.Warn().Err(err).Str("backend", c.ID).Msg("dispatch failed")
	}

	if dispatched == 0 && budgetErr != nil {
		err = &routing.Error{
			Kind:    routing.KindBudgetExceeded,
			Message: "no candidate fits the remaining budget",
			Trail:   decision.Trail,
			Err:     budgetErr,
		}
		return types.InferResponse{}, &InferenceError{Kind: KindRouting, Attempts: attempts, Err: err}
	}
	err = &routing.Error{
		Kind:    routing.KindAllBackendsFailed,
		Message: fmt.Sprintf("%d attempt(s) failed", dispatched),
		Trail:   decision.Trail,
	}
	return types.InferResponse{}, &InferenceError{Kind: KindRouting, Attempts: attempts, Err: err}
}

// dispatch submits to one backend under DispatchTimeout, tracking its
// in-flight count. An attempt that runs out of its own time is a timeout,
// so the caller can fail over while the request deadline still holds.
func (m *Manager) dispatch(ctx context.Context, h *registry.Handle, req types.InferRequest, attempt int) (engine.Completion, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()
	release := h.Acquire()
	t0 := time.Now()
	comp, err := h.Adapter.Submit(actx, req)
	took := time.Since(t0)
	release()
	if err != nil && ctx.Err() == nil && actx.Err() != nil && !engine.IsTimeout(err) {
		err = &engine.Error{
			Kind:    engine.KindTimeout,
			Engine:  h.Adapter.Engine(),
			Message: "no answer within " + m.cfg.DispatchTimeout.String(),
			Err:     err,
		}
	}

	fields := map[string]any{
		"request_id":           req.RequestID,
		events.FieldAttempt:    attempt,
		events.FieldDurationMS: ms(took),
	}
	if err != nil {
		h.RecordFailure()
		fields[events.FieldKind] = kindString(err)
		fields["error"] = err.Error()
		m.publish(events.DispatchError, h.ID, fields)
		return comp, took, err
	}
	h.RecordCompletion(comp.CompletionTokens, took)
	m.publish(events.DispatchOK, h.ID, fields)
	return comp, took, nil
}

// reserve holds the routing estimate for c against the budget. A nil hold
// means no ledger is configured.
func (m *Manager) reserve(c registry.Snapshot, estimated int) (*budget.Hold, error) {
	if m.ledger == nil {
		return nil, nil
	}
	return m.ledger.Reserve(routing.EstimateCost(c.Tags.CostPerToken, estimated))
}

// settleSpend replaces the hold with the cost of the reported tokens, or of
// the routing estimate when the engine reported none.
func (m *Manager) settleSpend(hold *budget.Hold, c registry.Snapshot, resp types.InferResponse, estimated int) {
	if m.ledger == nil {
		return
	}
	tokens := resp.TotalTokens
	if tokens == 0 {
		tokens = estimated
	}
	cost := routing.EstimateCost(c.Tags.CostPerToken, tokens)
	hold.Settle(cost)
	m.publish(events.BudgetSpend, c.ID, map[string]any{
		"request_id":     resp.RequestID,
		events.FieldCost: cost,
		"tokens":         tokens,
	})
}

func kindString(err error) string {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee.Kind.String()
	}
	var re *routing.Error
	if errors.As(err, &re) {
		return re.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func trailStrings(trail []routing.TrailEntry) []string {
	out := make([]string, len(trail))
	for i, e := range trail {
		out[i] = fmt.Sprintf("%s %s %s: %s", e.Policy, e.Backend, e.Verdict, e.Reason)
	}
	return out
}
