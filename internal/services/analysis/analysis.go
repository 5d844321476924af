// Package analysis implements the repository operations exposed over HTTP: structure,
// overview, chat, documentation generation and security review.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/ingestion"
	"github.com/temirov/repolens/internal/llm"
	"github.com/temirov/repolens/internal/security"
	"github.com/temirov/repolens/internal/tokenizer"
	"github.com/temirov/repolens/internal/types"
	"github.com/temirov/repolens/internal/utils"
)

// Cached operation names.
const (
	OperationOverview       = "overview"
	OperationSecurity       = "security"
	operationGeneratePrefix = "generate:"
)

const (
	DefaultDocumentType       = "README.md"
	OverviewFailedDescription = "Analysis Failed. Try again."
	ChatFallbackResponse      = "System Overload. Please wait."
	unknownStatValue          = "?"
	generateErrorFormat       = "Error: %s"

	DefaultOverviewContextLimit = 100000
	DefaultSecurityContextLimit = 100000
	DefaultChatContextLimit     = 50000
	DefaultGenerateContextLimit = 50000

	overviewFailedMessage      = "overview generation failed"
	chatFailedMessage          = "chat generation failed"
	generateFailedMessage      = "document generation failed"
	securityModelFailedMessage = "model security review failed"
	tokenCountFailedMessage    = "token count failed"
	repositoryLogField         = "repository"
)

// ErrGeneratorUnavailable is reported when no text generator is configured.
var ErrGeneratorUnavailable = errors.New("text generator is not configured")

// Ingestor supplies ingested contexts and the per-revision result cache.
type Ingestor interface {
	EnsureContext(ctx context.Context, sessionID string, repositoryURL string, options ingestion.EnsureOptions) (ingestion.Result, error)
	GetCachedAt(ctx context.Context, operation string, repositoryURL string, revision string) (json.RawMessage, bool)
	PutCachedAt(ctx context.Context, operation string, repositoryURL string, revision string, value any)
}

// SecurityRunner runs static scanners over a working copy.
type SecurityRunner interface {
	Run(ctx context.Context, target security.Target) ([]security.Finding, error)
}

// Limits bounds the characters of context sent to the model per operation.
type Limits struct {
	OverviewChars int `mapstructure:"overview_chars"`
	SecurityChars int `mapstructure:"security_chars"`
	ChatChars     int `mapstructure:"chat_chars"`
	GenerateChars int `mapstructure:"generate_chars"`
}

// ApplyDefaults fills unset limits.
func (limits Limits) ApplyDefaults() Limits {
	if limits.OverviewChars <= 0 {
		limits.OverviewChars = DefaultOverviewContextLimit
	}
	if limits.SecurityChars <= 0 {
		limits.SecurityChars = DefaultSecurityContextLimit
	}
	if limits.ChatChars <= 0 {
		limits.ChatChars = DefaultChatContextLimit
	}
	if limits.GenerateChars <= 0 {
		limits.GenerateChars = DefaultGenerateContextLimit
	}
	return limits
}

// Options configures a Service.
type Options struct {
	Ingestor  Ingestor
	Generator llm.Generator
	Scanners  SecurityRunner
	Counter   tokenizer.Counter
	Limits    Limits
	Logger    *zap.Logger
}

// Service runs the analysis operations for sessions.
type Service struct {
	ingestor  Ingestor
	generator llm.Generator
	scanners  SecurityRunner
	counter   tokenizer.Counter
	limits    Limits
	logger    *zap.Logger
}

// OverviewStats is the statistics block of an overview.
type OverviewStats struct {
	Files      any    `json:"files"`
	Complexity string `json:"complexity"`
}

// Overview is the model-produced summary of a repository.
type Overview struct {
	Description string        `json:"description"`
	TechStack   []string      `json:"tech_stack"`
	KeyFeatures []string      `json:"key_features"`
	Stats       OverviewStats `json:"stats"`
}

// Structure is the directory tree of a repository with an aggregate summary.
type Structure struct {
	Structure []*types.TreeNode    `json:"structure"`
	Summary   types.ContextSummary `json:"summary"`
}

// SecurityReport is the merged list of scanner and model findings.
type SecurityReport struct {
	Issues []security.Finding `json:"issues"`
}

// NewService builds a Service.
func NewService(options Options) *Service {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ingestor:  options.Ingestor,
		generator: options.Generator,
		scanners:  options.Scanners,
		counter:   options.Counter,
		limits:    options.Limits.ApplyDefaults(),
		logger:    logger,
	}
}

// FailedOverview is returned when the model cannot produce a usable overview.
func FailedOverview() Overview {
	return Overview{
		Description: OverviewFailedDescription,
		TechStack:   []string{},
		KeyFeatures: []string{},
		Stats:       OverviewStats{Files: unknownStatValue, Complexity: unknownStatValue},
	}
}

// Structure returns the directory tree without consulting the model.
func (service *Service) Structure(ctx context.Context, sessionID string, repositoryURL string) (Structure, error) {
	result, ensureError := service.ingestor.EnsureContext(ctx, sessionID, repositoryURL, ingestion.EnsureOptions{})
	if ensureError != nil {
		return Structure{}, ensureError
	}
	tree := result.Context.Tree
	if tree == nil {
		tree = []*types.TreeNode{}
	}
	return Structure{Structure: tree, Summary: service.summarize(repositoryURL, result)}, nil
}

// Overview returns the cached overview for the current revision or asks the model for one.
// Model failures yield FailedOverview, which is never cached.
func (service *Service) Overview(ctx context.Context, sessionID string, repositoryURL string) (Overview, error) {
	result, ensureError := service.ingestor.EnsureContext(ctx, sessionID, repositoryURL, ingestion.EnsureOptions{})
	if ensureError != nil {
		return Overview{}, ensureError
	}
	if cached, found := service.ingestor.GetCachedAt(ctx, OperationOverview, repositoryURL, result.Revision); found {
		var overview Overview
		if json.Unmarshal(cached, &overview) == nil {
			return overview, nil
		}
	}

	reply, generateError := service.generate(ctx, fmt.Sprintf(overviewPromptFormat, utils.TruncateRunes(result.Context.Text(), service.limits.OverviewChars)))
	if generateError != nil {
		service.logger.Warn(overviewFailedMessage, zap.String(repositoryLogField, repositoryURL), zap.Error(generateError))
		return FailedOverview(), nil
	}
	var overview Overview
	if decodeError := json.Unmarshal([]byte(utils.StripCodeFences(reply)), &overview); decodeError != nil {
		service.logger.Warn(overviewFailedMessage, zap.String(repositoryLogField, repositoryURL), zap.Error(decodeError))
		return FailedOverview(), nil
	}
	if overview.TechStack == nil {
		overview.TechStack = []string{}
	}
	if overview.KeyFeatures == nil {
		overview.KeyFeatures = []string{}
	}
	service.ingestor.PutCachedAt(ctx, OperationOverview, repositoryURL, result.Revision, overview)
	return overview, nil
}

// Chat answers a free-form question about the repository. Answers are not cached.
func (service *Service) Chat(ctx context.Context, sessionID string, repositoryURL string, message string) (string, error) {
	result, ensureError := service.ingestor.EnsureContext(ctx, sessionID, repositoryURL, ingestion.EnsureOptions{})
	if ensureError != nil {
		return utils.EmptyString, ensureError
	}
	reply, generateError := service.generate(ctx, fmt.Sprintf(chatPromptFormat, message, utils.TruncateRunes(result.Context.Text(), service.limits.ChatChars)))
	if generateError != nil {
		service.logger.Warn(chatFailedMessage, zap.String(repositoryLogField, repositoryURL), zap.Error(generateError))
		return ChatFallbackResponse, nil
	}
	return reply, nil
}

// Generate produces a markdown document of the requested type, README.md by default.
// Model failures are rendered into the returned text and are not cached.
func (service *Service) Generate(ctx context.Context, sessionID string, repositoryURL string, documentType string) (string, error) {
	documentType = strings.TrimSpace(documentType)
	if documentType == utils.EmptyString {
		documentType = DefaultDocumentType
	}
	result, ensureError := service.ingestor.EnsureContext(ctx, sessionID, repositoryURL, ingestion.EnsureOptions{})
	if ensureError != nil {
		return utils.EmptyString, ensureError
	}
	operation := operationGeneratePrefix + documentType
	if cached, found := service.ingestor.GetCachedAt(ctx, operation, repositoryURL, result.Revision); found {
		var markdown string
		if json.Unmarshal(cached, &markdown) == nil {
			return markdown, nil
		}
	}
	markdown, generateError := service.generate(ctx, fmt.Sprintf(generatePromptFormat, documentType, utils.TruncateRunes(result.Context.Text(), service.limits.GenerateChars)))
	if generateError != nil {
		service.logger.Warn(generateFailedMessage, zap.String(repositoryLogField, repositoryURL), zap.Error(generateError))
		return fmt.Sprintf(generateErrorFormat, generateError.Error()), nil
	}
	service.ingestor.PutCachedAt(ctx, operation, repositoryURL, result.Revision, markdown)
	return markdown, nil
}

// Security runs the static scanners against a working copy and merges their findings
// with the model's review. A failed model review contributes no findings and the report is not cached.
func (service *Service) Security(ctx context.Context, sessionID string, repositoryURL string) (SecurityReport, error) {
	result, ensureError := service.ingestor.EnsureContext(ctx, sessionID, repositoryURL, ingestion.EnsureOptions{RequireWorkspace: true})
	if ensureError != nil {
		return SecurityReport{}, ensureError
	}
	if cached, found := service.ingestor.GetCachedAt(ctx, OperationSecurity, repositoryURL, result.Revision); found {
		var report SecurityReport
		if json.Unmarshal(cached, &report) == nil && report.Issues != nil {
			return report, nil
		}
	}

	var scannerFindings []security.Finding
	if service.scanners != nil {
		findings, runError := service.scanners.Run(ctx, security.Target{WorkspacePath: result.WorkspacePath, Context: &result.Context})
		if runError != nil {
			return SecurityReport{}, runError
		}
		scannerFindings = findings
	}

	var modelFindings []security.Finding
	reply, generateError := service.generate(ctx, fmt.Sprintf(securityPromptFormat, utils.TruncateRunes(result.Context.Text(), service.limits.SecurityChars)))
	if generateError == nil {
		modelFindings, generateError = security.ParseLLMFindings(reply)
	}
	report := SecurityReport{Issues: security.Merge(scannerFindings, modelFindings)}
	if generateError != nil {
		service.logger.Warn(securityModelFailedMessage, zap.String(repositoryLogField, repositoryURL), zap.Error(generateError))
		return report, nil
	}
	service.ingestor.PutCachedAt(ctx, OperationSecurity, repositoryURL, result.Revision, report)
	return report, nil
}

func (service *Service) generate(ctx context.Context, prompt string) (string, error) {
	if service.generator == nil {
		return utils.EmptyString, ErrGeneratorUnavailable
	}
	return service.generator.Generate(ctx, prompt)
}

func (service *Service) summarize(repositoryURL string, result ingestion.Result) types.ContextSummary {
	summary := result.Summary(repositoryURL)
	if service.counter == nil {
		return summary
	}
	counted, countError := tokenizer.CountContext(service.counter, result.Context)
	if countError != nil {
		service.logger.Debug(tokenCountFailedMessage, zap.Error(countError))
		return summary
	}
	summary.TotalTokens = counted.Tokens
	summary.Model = service.counter.Name()
	return summary
}
