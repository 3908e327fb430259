package generator

import (
	"errors"
	"fmt"

	"github.com/lamim/pairforge/internal/api"
	"github.com/lamim/pairforge/internal/config"
	"github.com/lamim/pairforge/internal/util"
)

// ErrPrompt marks a prompt template that cannot be rendered. It is a
// configuration error: retrying the request cannot fix it.
var ErrPrompt = errors.New("invalid prompt template")

// Messages renders the generation prompt for n candidate pairs.
// userTmpl may be empty, in which case only the system turn is sent.
func Messages(systemTmpl, userTmpl string, task *config.TaskConfig, n int) ([]api.Message, error) {
	data := map[string]interface{}{
		"NumScenarios": n,
		"TaskName":     task.TaskName,
		"Examples":     task.FormatExamples(),
		"Instructions": task.GenerationInstructions,
	}

	system, err := util.RenderTemplate(systemTmpl, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render system prompt: %w", ErrPrompt, err)
	}

	messages := []api.Message{{Role: "system", Content: system}}

	if userTmpl != "" {
		user, err := util.RenderTemplate(userTmpl, data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to render user prompt: %w", ErrPrompt, err)
		}
		messages = append(messages, api.Message{Role: "user", Content: user})
	}

	return messages, nil
}
