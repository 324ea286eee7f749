package api

import (
	"github.com/localforge/localforge/pkg/model"
	"github.com/localforge/localforge/pkg/templates"
)

// chatOptionsFrom builds GenOptions for a chat request, merging
// caller-specified stop strings with the template's default end-of-turn
// markers. The caller is responsible for validating the result before
// dispatching a generation.
func chatOptionsFrom(req ChatRequest, tmpl *templates.Template) model.GenOptions {
	opts := model.DefaultGenOptions()
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		opts.TopP = *req.TopP
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	opts.Stream = req.Stream
	opts.StopSequences = append(opts.StopSequences, tmpl.StopSequences()...)
	opts.StopSequences = append(opts.StopSequences, parseStop(req.Stop)...)
	return opts
}

func nativeOptionsFrom(req GenerateRequest) model.GenOptions {
	opts := model.DefaultGenOptions()
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		opts.TopP = *req.TopP
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	opts.Stream = req.Stream
	return opts
}

// parseStop normalizes the OpenAI "stop" field, which may be a single
// string or an array of strings.
func parseStop(v interface{}) []string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
