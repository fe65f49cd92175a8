package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/contract"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
)

// Config is the completion backend configuration with optional per-stage
// model and temperature overrides.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int64         `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"500"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	RequestsPerSecond  float64       `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"2"`

	SummarizerModel       string  `envconfig:"SUMMARIZER_MODEL" split_words:"true"`
	EntityModel           string  `envconfig:"ENTITY_MODEL" split_words:"true"`
	QAModel               string  `envconfig:"QA_MODEL" split_words:"true"`
	CriticModel           string  `envconfig:"CRITIC_MODEL" split_words:"true"`
	SummarizerTemperature float64 `envconfig:"SUMMARIZER_TEMPERATURE" split_words:"true" default:"-1"`
	EntityTemperature     float64 `envconfig:"ENTITY_TEMPERATURE" split_words:"true" default:"-1"`
	QATemperature         float64 `envconfig:"QA_TEMPERATURE" split_words:"true" default:"-1"`
	CriticTemperature     float64 `envconfig:"CRITIC_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: completion api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// CompletionFor resolves the completion client config for a pipeline stage,
// applying the stage override when one is set.
func (c Config) CompletionFor(stage documentx.Stage) completionx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch stage {
	case documentx.StageSummarize:
		if v := strings.TrimSpace(c.SummarizerModel); v != "" {
			modelName = v
		}
		if c.SummarizerTemperature >= 0 {
			temp = c.SummarizerTemperature
		}
	case documentx.StageExtractEntities:
		if v := strings.TrimSpace(c.EntityModel); v != "" {
			modelName = v
		}
		if c.EntityTemperature >= 0 {
			temp = c.EntityTemperature
		}
	case documentx.StageQA:
		if v := strings.TrimSpace(c.QAModel); v != "" {
			modelName = v
		}
		if c.QATemperature >= 0 {
			temp = c.QATemperature
		}
	case documentx.StageCritic:
		if v := strings.TrimSpace(c.CriticModel); v != "" {
			modelName = v
		}
		if c.CriticTemperature >= 0 {
			temp = c.CriticTemperature
		}
	}

	return completionx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: c.MaxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		RequestsPerSecond:  c.RequestsPerSecond,
	}
}
