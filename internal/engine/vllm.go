package engine

import (
	"context"
	"fmt"
	"net/http"

	"enginegate/pkg/types"
)

// vllmAdapter speaks the OpenAI-compatible completions API served by
// vllm.entrypoints.openai.api_server.
type vllmAdapter struct {
	*client
}

type vllmCompletionRequest struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	Temperature       float64  `json:"temperature"`
	Stop              []string `json:"stop,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	PresencePenalty   *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64 `json:"frequency_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
}

type vllmCompletionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type vllmModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *vllmAdapter) LoadModel(ctx context.Context, cfg types.ModelConfig) error {
	var list vllmModelList
	if err := a.do(ctx, http.MethodGet, "/v1/models", nil, &list); err != nil {
		return err
	}
	for _, m := range list.Data {
		if m.ID == cfg.Model {
			a.setModel(cfg.Model)
			return nil
		}
	}
	return &Error{Kind: KindBackendRejected, Engine: VLLM, Status: http.StatusNotFound,
		Message: fmt.Sprintf("model %q not served", cfg.Model)}
}

func (a *vllmAdapter) Submit(ctx context.Context, req types.InferRequest) (Completion, error) {
	if err := checkParams(VLLM, req); err != nil {
		return Completion{}, err
	}
	payload := vllmCompletionRequest{
		Model:             a.modelName(),
		Prompt:            req.Prompt,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		Stop:              req.Stop,
		TopP:              req.TopP,
		TopK:              req.TopK,
		Seed:              req.Seed,
		PresencePenalty:   req.PresencePenalty,
		FrequencyPenalty:  req.FrequencyPenalty,
		RepetitionPenalty: req.RepetitionPenalty,
	}
	var out vllmCompletionResponse
	if err := a.do(ctx, http.MethodPost, "/v1/completions", payload, &out); err != nil {
		return Completion{}, err
	}
	if len(out.Choices) == 0 {
		return Completion{}, &Error{Kind: KindTransport, Engine: VLLM, Message: "response has no choices"}
	}
	return Completion{
		Text:             out.Choices[0].Text,
		FinishReason:     out.Choices[0].FinishReason,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
