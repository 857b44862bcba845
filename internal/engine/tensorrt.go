package engine

import (
	"context"
	"net/http"
	"net/url"

	"enginegate/pkg/types"
)

// tensorrtAdapter speaks Triton's generate extension as served by the
// TensorRT-LLM backend.
type tensorrtAdapter struct {
	*client
}

type trtGenerateRequest struct {
	TextInput         string   `json:"text_input"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	Temperature       float64  `json:"temperature"`
	StopWords         []string `json:"stop_words,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
}

type trtGenerateResponse struct {
	ModelName  string `json:"model_name"`
	TextOutput string `json:"text_output"`
}

func (a *tensorrtAdapter) modelPath(model string) string {
	return "/v2/models/" + url.PathEscape(model)
}

// LoadModel asks the model repository to load cfg.Model and waits for the
// engine to report it ready.
func (a *tensorrtAdapter) LoadModel(ctx context.Context, cfg types.ModelConfig) error {
	if err := a.do(ctx, http.MethodPost, "/v2/repository/models/"+url.PathEscape(cfg.Model)+"/load", struct{}{}, nil); err != nil {
		return err
	}
	if err := a.do(ctx, http.MethodGet, a.modelPath(cfg.Model)+"/ready", nil, nil); err != nil {
		return err
	}
	a.setModel(cfg.Model)
	return nil
}

func (a *tensorrtAdapter) Submit(ctx context.Context, req types.InferRequest) (Completion, error) {
	if err := checkParams(TensorRT, req); err != nil {
		return Completion{}, err
	}
	payload := trtGenerateRequest{
		TextInput:         req.Prompt,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		StopWords:         req.Stop,
		TopP:              req.TopP,
		TopK:              req.TopK,
		PresencePenalty:   req.PresencePenalty,
		FrequencyPenalty:  req.FrequencyPenalty,
		RepetitionPenalty: req.RepetitionPenalty,
	}
	var out trtGenerateResponse
	if err := a.do(ctx, http.MethodPost, a.modelPath(a.modelName())+"/generate", payload, &out); err != nil {
		return Completion{}, err
	}
	// The generate extension reports neither finish reason nor token counts.
	return Completion{Text: out.TextOutput}, nil
}
