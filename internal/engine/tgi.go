package engine

import (
	"context"
	"fmt"
	"net/http"

	"enginegate/pkg/types"
)

// tgiAdapter speaks text-generation-inference's native /generate API.
type tgiAdapter struct {
	*client
}

type tgiParameters struct {
	MaxNewTokens      int      `json:"max_new_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	DoSample          bool     `json:"do_sample"`
	Stop              []string `json:"stop,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Details           bool     `json:"details"`
}

type tgiGenerateRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
}

type tgiGenerateResponse struct {
	GeneratedText string `json:"generated_text"`
	Details       *struct {
		FinishReason    string `json:"finish_reason"`
		GeneratedTokens int    `json:"generated_tokens"`
		Prefill         []struct {
			ID int `json:"id"`
		} `json:"prefill"`
	} `json:"details"`
}

type tgiInfo struct {
	ModelID string `json:"model_id"`
}

// LoadModel verifies the launcher serves cfg.Model. TGI binds one model at
// launch, so there is nothing to load at runtime.
func (a *tgiAdapter) LoadModel(ctx context.Context, cfg types.ModelConfig) error {
	var info tgiInfo
	if err := a.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return err
	}
	if info.ModelID != cfg.Model {
		return &Error{Kind: KindBackendRejected, Engine: TGI, Status: http.StatusConflict,
			Message: fmt.Sprintf("engine serves %q, want %q", info.ModelID, cfg.Model)}
	}
	a.setModel(cfg.Model)
	return nil
}

func (a *tgiAdapter) Submit(ctx context.Context, req types.InferRequest) (Completion, error) {
	if err := checkParams(TGI, req); err != nil {
		return Completion{}, err
	}
	params := tgiParameters{
		MaxNewTokens:      req.MaxTokens,
		Stop:              req.Stop,
		TopP:              req.TopP,
		TopK:              req.TopK,
		Seed:              req.Seed,
		FrequencyPenalty:  req.FrequencyPenalty,
		RepetitionPenalty: req.RepetitionPenalty,
		Details:           true,
	}
	// TGI rejects temperature <= 0; zero means greedy decoding, which is its default.
	if req.Temperature > 0 {
		t := req.Temperature
		params.Temperature = &t
		params.DoSample = true
	}
	var out tgiGenerateResponse
	if err := a.do(ctx, http.MethodPost, "/generate", tgiGenerateRequest{Inputs: req.Prompt, Parameters: params}, &out); err != nil {
		return Completion{}, err
	}
	c := Completion{Text: out.GeneratedText}
	if out.Details != nil {
		c.FinishReason = normalizeTGIFinish(out.Details.FinishReason)
		c.CompletionTokens = out.Details.GeneratedTokens
		c.PromptTokens = len(out.Details.Prefill)
	}
	return c, nil
}

func normalizeTGIFinish(r string) string {
	switch r {
	case "eos_token", "stop_sequence":
		return "stop"
	default:
		return r
	}
}
