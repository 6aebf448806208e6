package executor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/ShayCichocki/swarm/internal/lifecycle"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// DefaultMaxTokens caps a single response when none is configured.
const DefaultMaxTokens = 4096

// ClaudeConfig contains configuration for creating a Claude executor.
type ClaudeConfig struct {
	// Model is the Claude model to use. Empty uses claude-sonnet-4-5.
	Model string
	// MaxTokens caps each response. Zero uses DefaultMaxTokens.
	MaxTokens int64
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
	Logger         *zap.Logger
}

// Claude runs each subtask as a single Messages API call. The agent's role is
// the system prompt; the text of the response becomes every declared output.
type Claude struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
	logger    *zap.Logger
}

// NewClaude creates a Claude executor.
func NewClaude(ctx context.Context, cfg ClaudeConfig) (*Claude, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, cfg.RequestOptions...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Claude{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
		logger:    logger.Named("claude"),
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_5:          "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	// Already a Bedrock id or a custom model.
	return model
}

// Model returns the configured model name.
func (c *Claude) Model() anthropic.Model {
	return c.model
}

// Tracker returns the token tracker for this executor.
func (c *Claude) Tracker() *TokenTracker {
	return c.tracker
}

// Execute implements lifecycle.Executor. Transport errors are returned as
// errors; a response cut off at the token cap is reported as a failed result.
func (c *Claude) Execute(ctx context.Context, req *lifecycle.ExecutionRequest) (*models.SubtaskResult, error) {
	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	}
	if req.Role != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Role}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude request for subtask %s: %w", req.Subtask.ID, err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	c.logger.Debug("subtask answered",
		zap.String("subtask", req.Subtask.ID),
		zap.String("agent", req.Agent.ID),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.String("stop_reason", string(resp.StopReason)))

	res := &models.SubtaskResult{
		StartedAt:   start,
		CompletedAt: time.Now(),
		Usage: models.ResourceUsage{
			Tokens:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
			WallTime: time.Since(start),
		},
	}
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		res.Error = fmt.Sprintf("response truncated at %d tokens", c.maxTokens)
		return res, nil
	}

	res.Success = true
	res.Outputs = make(map[string]any)
	for _, name := range outputNames(req.Subtask) {
		res.Outputs[name] = text.String()
	}
	return res, nil
}

// buildPrompt renders the subtask as the user turn.
func buildPrompt(req *lifecycle.ExecutionRequest) string {
	var b strings.Builder
	st := req.Subtask

	fmt.Fprintf(&b, "## Subtask %s\n\n", st.ID)
	if st.Description != "" {
		b.WriteString(st.Description)
		b.WriteString("\n\n")
	}

	if len(st.SuccessCriteria) > 0 {
		b.WriteString("## Success criteria\n")
		for _, c := range st.SuccessCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(req.Inputs) > 0 {
		b.WriteString("## Inputs\n")
		names := make([]string, 0, len(req.Inputs))
		for name := range req.Inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "### %s\n%v\n\n", name, req.Inputs[name])
		}
	}

	if len(req.AllowedTools) > 0 {
		fmt.Fprintf(&b, "## Allowed tools\n%s\n\n", strings.Join(req.AllowedTools, ", "))
	}

	fmt.Fprintf(&b, "Reply with the result only. It will be recorded as: %s.\n", strings.Join(outputNames(st), ", "))
	if deadline := req.CurrentDeadline(); !deadline.IsZero() {
		fmt.Fprintf(&b, "You must finish by %s.\n", deadline.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

var _ lifecycle.Executor = (*Claude)(nil)
