// Command fakeengine imitates the HTTP surface of the supported inference
// engines for process-level tests. It accepts the launch flags of all three
// and ignores the ones it does not use.
//
// Behavior knobs (environment):
//
//	FAKE_ENGINE_EXIT=<code>        exit immediately with code, after writing to stderr
//	FAKE_ENGINE_START_DELAY=<dur>  wait before listening
//	FAKE_ENGINE_IGNORE_TERM=1      ignore SIGTERM (forces the kill path)
//	FAKE_ENGINE_MODEL=<name>       model reported by /v1/models and /info (default: --model value)
//	FAKE_ENGINE_REPLY=<text>       generated text (default: "echo: <prompt>")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func flagValue(args []string, names ...string) string {
	for i := 0; i < len(args)-1; i++ {
		for _, n := range names {
			if args[i] == n {
				return args[i+1]
			}
		}
	}
	return ""
}

func main() {
	args := os.Args[1:]
	if code := os.Getenv("FAKE_ENGINE_EXIT"); code != "" {
		n, _ := strconv.Atoi(code)
		fmt.Fprintln(os.Stderr, "fatal: CUDA out of memory")
		os.Exit(n)
	}
	if d, err := time.ParseDuration(os.Getenv("FAKE_ENGINE_START_DELAY")); err == nil {
		time.Sleep(d)
	}

	host := flagValue(args, "--host", "--hostname", "--http-address")
	if host == "" {
		host = "127.0.0.1"
	}
	port := flagValue(args, "--port", "--http-port")
	model := os.Getenv("FAKE_ENGINE_MODEL")
	if model == "" {
		model = flagValue(args, "--model", "--model-id")
	}

	reply := func(prompt string) string {
		if r := os.Getenv("FAKE_ENGINE_REPLY"); r != "" {
			return r
		}
		return "echo: " + prompt
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("/health", ok)
	mux.HandleFunc("/v2/health/ready", ok)
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": model}}})
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"model_id": model})
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		text := reply(in.Prompt)
		writeJSON(w, map[string]any{
			"choices": []map[string]string{{"text": text, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": len(strings.Fields(in.Prompt)), "completion_tokens": len(strings.Fields(text))},
		})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Inputs string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		text := reply(in.Inputs)
		writeJSON(w, map[string]any{"generated_text": text, "details": map[string]any{"finish_reason": "eos_token", "generated_tokens": len(strings.Fields(text))}})
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		switch {
		case strings.HasPrefix(p, "/v2/repository/models/") && strings.HasSuffix(p, "/load"):
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(p, "/ready"):
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(p, "/generate"):
			var in struct {
				TextInput string `json:"text_input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			writeJSON(w, map[string]string{"model_name": model, "text_output": reply(in.TextInput)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "listen:", err)
			os.Exit(2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	if os.Getenv("FAKE_ENGINE_IGNORE_TERM") == "1" {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sigCh, syscall.SIGINT)
	} else {
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	}
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
