package manager

import (
	"math"
	"time"

	"enginegate/internal/registry"
	"enginegate/internal/supervisor"
	"enginegate/pkg/types"
)

func backendStatus(s registry.Snapshot) types.BackendStatus {
	st := types.BackendStatus{
		ID:           s.ID,
		Engine:       string(s.Tags.Engine),
		Model:        s.Tags.Model,
		State:        string(s.State),
		Region:       s.Tags.Region,
		ChipType:     s.Tags.ChipType,
		CostPerToken: s.Tags.CostPerToken,
		QualityTier:  s.Tags.QualityTier,
		Inflight:     s.Inflight,
	}
	if h := s.Handle; h != nil {
		st.RequestsTotal = h.Requests()
		st.FailuresTotal = h.Failures()
		st.AvgTokensPerSecond = h.TokensPerSecond()
		if h.Adapter != nil {
			st.BaseURL = h.Adapter.BaseURL()
		}
		if h.Process != nil {
			st.PID = h.Process.PID()
			if hs := h.Process.LastHealth(); !hs.Time.IsZero() {
				st.LastHealthUnix = hs.Time.Unix()
				st.LastHealthMsg = hs.Detail
			}
		}
	}
	return st
}

// Backends lists every registered backend in id order, whatever its state.
func (m *Manager) Backends() []types.BackendStatus {
	snaps := m.reg.List()
	out := make([]types.BackendStatus, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, backendStatus(s))
	}
	return out
}

// Backend returns one backend's status.
func (m *Manager) Backend(id string) (types.BackendStatus, error) {
	s, ok := m.reg.Get(id)
	if !ok {
		return types.BackendStatus{}, ErrBackendNotFound(id)
	}
	return backendStatus(s), nil
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		Backends:       m.Backends(),
		ShuttingDown:   m.ShuttingDown(),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		RequestsTotal:  m.requests.Load(),
		FailoversTotal: m.failovers.Load(),
	}
	for _, b := range resp.Backends {
		if b.State == string(supervisor.StateReady) {
			resp.ReadyCount++
		}
	}
	if m.ledger != nil {
		bs := m.ledger.Status()
		if bs.Limit > 0 && !math.IsInf(bs.Remaining, 1) {
			resp.Budget = &types.BudgetStatus{
				Limit:     bs.Limit,
				Spent:     bs.Spent,
				Held:      bs.Held,
				Remaining: bs.Remaining,
				Window:    string(bs.Window),
			}
		}
	}
	return resp
}
