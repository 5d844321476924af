package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/cache"
	"github.com/temirov/repolens/internal/config"
	"github.com/temirov/repolens/internal/ingestion"
	"github.com/temirov/repolens/internal/llm"
	"github.com/temirov/repolens/internal/repository"
	"github.com/temirov/repolens/internal/security"
	"github.com/temirov/repolens/internal/services/analysis"
	"github.com/temirov/repolens/internal/tokenizer"
	"github.com/temirov/repolens/internal/workspace"
)

const (
	workspaceErrorFormat = "prepare workspace root: %w"
	cacheErrorFormat     = "open result cache: %w"
	generatorErrorFormat = "configure text generator: %w"

	generatorDisabledLogMessage = "no model API key configured, model operations will return fallbacks"
	tokenizerFailedLogMessage   = "tokenizer unavailable, token counts disabled"
	cacheCloseFailedLogMessage  = "result cache close failed"
	reclaimIncompleteLogMessage = "workspace slots left behind at shutdown"
)

// pipeline holds the long-lived components shared by every command.
type pipeline struct {
	facade  *ingestion.Facade
	prober  *repository.Prober
	store   *cache.Store
	counter tokenizer.Counter
	logger  *zap.Logger
}

func buildPipeline(configuration config.ApplicationConfiguration, registerer prometheus.Registerer, logger *zap.Logger) (*pipeline, error) {
	credentials := repository.Credentials{
		Username: configuration.Repository.Username,
		Token:    configuration.Repository.Token,
	}
	workspaces, workspaceError := workspace.NewManager(workspace.Options{
		RootDirectory: configuration.Workspace.Root,
		RetryConfig:   configuration.Workspace.ReclaimRetry,
		Logger:        logger.Named("workspace"),
	})
	if workspaceError != nil {
		return nil, fmt.Errorf(workspaceErrorFormat, workspaceError)
	}
	fetcher := repository.NewFetcher(repository.FetcherOptions{
		Timeout:           configuration.Repository.FetchTimeout,
		Depth:             configuration.Repository.Depth,
		Credentials:       credentials,
		AllowFileProtocol: configuration.Repository.AllowFileProtocol,
		Logger:            logger.Named("fetcher"),
	})
	prober := repository.NewProber(repository.ProberOptions{
		Timeout:           configuration.Repository.ProbeTimeout,
		Credentials:       credentials,
		AllowFileProtocol: configuration.Repository.AllowFileProtocol,
		Logger:            logger.Named("prober"),
	})

	built := &pipeline{prober: prober, logger: logger}
	facadeOptions := ingestion.Options{
		Fetcher:            fetcher,
		Prober:             prober,
		Workspaces:         workspaces,
		Policy:             configuration.Policy,
		Metrics:            ingestion.NewMetrics(registerer),
		SessionIdleTimeout: configuration.Workspace.SessionIdleTimeout,
		Logger:             logger.Named("ingestion"),
	}
	if configuration.Cache.Enabled {
		store, openError := cache.Open(cache.Options{
			Path:        configuration.Cache.Path,
			BusyTimeout: configuration.Cache.BusyTimeout,
			Logger:      logger.Named("cache"),
		})
		if openError != nil {
			return nil, fmt.Errorf(cacheErrorFormat, openError)
		}
		built.store = store
		facadeOptions.Cache = store
	}
	built.facade = ingestion.NewFacade(facadeOptions)

	counter, _, counterError := tokenizer.NewCounter(configuration.Tokens)
	if counterError != nil {
		logger.Warn(tokenizerFailedLogMessage, zap.Error(counterError))
	} else {
		built.counter = counter
	}
	return built, nil
}

// analysisService wires the model client and scanners over the pipeline's facade.
func (built *pipeline) analysisService(configuration config.ApplicationConfiguration) (*analysis.Service, error) {
	options := analysis.Options{
		Ingestor: built.facade,
		Scanners: security.NewRunner(built.logger.Named("security"), securityScanners(configuration.Security)...),
		Counter:  built.counter,
		Limits:   configuration.LLM.ContextLimits,
		Logger:   built.logger.Named("analysis"),
	}
	client, clientError := llm.NewGeminiClient(configuration.LLM.Config, nil, built.logger.Named("llm"))
	switch {
	case errors.Is(clientError, llm.ErrMissingAPIKey):
		built.logger.Warn(generatorDisabledLogMessage)
	case clientError != nil:
		return nil, fmt.Errorf(generatorErrorFormat, clientError)
	default:
		options.Generator = client
	}
	return analysis.NewService(options), nil
}

func securityScanners(configuration config.SecurityConfiguration) []security.Scanner {
	var scanners []security.Scanner
	if configuration.Bandit {
		scanners = append(scanners, security.BanditScanner{Executable: configuration.BanditExecutable, Run: security.ExecCommandRunner})
	}
	if configuration.Safety {
		scanners = append(scanners, security.SafetyScanner{Executable: configuration.SafetyExecutable, Run: security.ExecCommandRunner})
	}
	if configuration.Secrets {
		scanners = append(scanners, security.NewSecretScanner())
	}
	return scanners
}

// close reclaims every workspace slot and closes the cache.
func (built *pipeline) close(ctx context.Context) {
	report := built.facade.Close(ctx)
	if len(report.Failed) > 0 {
		built.logger.Warn(reclaimIncompleteLogMessage, zap.Int("failed", len(report.Failed)))
	}
	if built.store != nil {
		if closeError := built.store.Close(); closeError != nil {
			built.logger.Warn(cacheCloseFailedLogMessage, zap.Error(closeError))
		}
	}
}
