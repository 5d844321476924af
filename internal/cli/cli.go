// Package cli provides the command line interface.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/config"
	"github.com/temirov/repolens/internal/ingestion"
	"github.com/temirov/repolens/internal/output"
	"github.com/temirov/repolens/internal/server"
	"github.com/temirov/repolens/internal/services/clipboard"
	"github.com/temirov/repolens/internal/tokenizer"
	"github.com/temirov/repolens/internal/types"
	"github.com/temirov/repolens/internal/utils"
)

const (
	versionFlagName       = "version"
	configFlagName        = "config"
	addressFlagName       = "address"
	formatFlagName        = "format"
	treeFlagName          = "tree"
	tokensFlagName        = "tokens"
	copyFlagName          = "copy"
	copyFlagShorthand     = "c"
	globalFlagName        = "global"
	forceFlagName         = "force"
	versionTemplate       = "repolens version: %s\n"
	listeningTemplate     = "listening on http://%s\n"
	probeTemplate         = "%s\n"
	initializedTemplate   = "configuration written to %s\n"
	cliSessionID          = "cli"
	rootUse               = "repolens"
	rootShortDescription  = "repolens command line interface"
	rootLongDescription   = `repolens clones public repositories, flattens their source into a prompt-ready context,
and serves structure, overview, chat, documentation and security analysis over HTTP.
Use serve to start the API, ingest to print a repository context, and --version to print the application version.`
	versionFlagDescription = "display application version"
	configFlagDescription  = "path to a configuration file"

	serveUse              = "serve"
	serveShortDescription = "start the analysis HTTP API"
	serveLongDescription  = `Start the HTTP API. Sessions are identified by the X-Session-ID header;
DELETE /session releases a session's working copy.`
	serveUsageExample = `  # Serve on the configured address
  repolens serve

  # Override the listen address
  repolens serve --address 0.0.0.0:8080`
	addressFlagDescription = "listen address, overrides server.address"

	ingestUse              = "ingest <repository-url>"
	ingestAlias            = "i"
	ingestShortDescription = "print the serialized context of a repository (" + ingestAlias + ")"
	ingestLongDescription  = `Clone the default branch of a repository and print its serialized context.
Use --format to select raw, json, or xml output and --tree to include the directory tree.`
	ingestUsageExample = `  # Print the prompt-ready text with the directory tree
  repolens ingest https://github.com/owner/project --tree

  # Emit XML with token counts and copy it to the clipboard
  repolens ingest https://github.com/owner/project --format xml --tokens --copy`
	formatFlagDescription = "output format (raw, json, xml)"
	treeFlagDescription   = "include the directory tree"
	tokensFlagDescription = "include token counts"
	copyFlagDescription   = "copy the output to the system clipboard"

	probeUse              = "probe <repository-url>"
	probeShortDescription = "print the revision the remote HEAD points at"

	initUse               = "init"
	initShortDescription  = "write a default configuration file"
	globalFlagDescription = "write into the global configuration directory"
	forceFlagDescription  = "overwrite an existing configuration file"

	invalidFormatMessage        = "Invalid format value '%s'"
	workingDirectoryErrorFormat = "unable to determine working directory: %w"
	loggerErrorFormat           = "configure logger: %w"
	clipboardErrorFormat        = "copy to clipboard: %w"
	tokenCountFailedLogMessage  = "token count failed"
	tokensUnavailableLogMessage = "token counting requested but no tokenizer is available"
)

// commandDependencies holds collaborators replaced in tests.
type commandDependencies struct {
	copier clipboard.Copier
}

// rootOptions holds persistent flag values.
type rootOptions struct {
	configurationPath string
}

// isSupportedFormat reports whether the provided format is recognized.
func isSupportedFormat(format string) bool {
	switch format {
	case types.FormatRaw, types.FormatJSON, types.FormatXML:
		return true
	default:
		return false
	}
}

// Execute runs the repolens application.
func Execute(ctx context.Context) error {
	rootCommand := createRootCommand(commandDependencies{copier: clipboard.NewService()})
	rootCommand.SetArgs(normalizeBooleanFlagArguments(rootCommand, os.Args[1:]))
	return rootCommand.ExecuteContext(ctx)
}

// createRootCommand builds the root Cobra command.
func createRootCommand(dependencies commandDependencies) *cobra.Command {
	var showVersion bool
	options := &rootOptions{}

	rootCommand := &cobra.Command{
		Use:          rootUse,
		Short:        rootShortDescription,
		Long:         rootLongDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
		PersistentPreRun: func(command *cobra.Command, arguments []string) {
			if showVersion {
				fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				os.Exit(0)
			}
		},
	}
	rootCommand.PersistentFlags().BoolVar(&showVersion, versionFlagName, false, versionFlagDescription)
	rootCommand.PersistentFlags().StringVar(&options.configurationPath, configFlagName, utils.EmptyString, configFlagDescription)
	rootCommand.AddCommand(
		createServeCommand(options),
		createIngestCommand(options, dependencies),
		createProbeCommand(options),
		createInitCommand(),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// load resolves the layered configuration and the logger it selects.
func (options *rootOptions) load() (config.ApplicationConfiguration, *zap.Logger, error) {
	workingDirectory, workingDirectoryError := os.Getwd()
	if workingDirectoryError != nil {
		return config.ApplicationConfiguration{}, nil, fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryError)
	}
	configuration, loadError := config.LoadApplicationConfiguration(config.LoadOptions{
		WorkingDirectory: workingDirectory,
		ExplicitFilePath: options.configurationPath,
	})
	if loadError != nil {
		return config.ApplicationConfiguration{}, nil, loadError
	}
	logger, loggerError := utils.NewApplicationLogger(configuration.Logging.Level, configuration.Logging.Encoding)
	if loggerError != nil {
		return config.ApplicationConfiguration{}, nil, fmt.Errorf(loggerErrorFormat, loggerError)
	}
	return configuration, logger, nil
}

// createServeCommand returns the serve subcommand.
func createServeCommand(options *rootOptions) *cobra.Command {
	var address string

	serveCommand := &cobra.Command{
		Use:     serveUse,
		Short:   serveShortDescription,
		Long:    serveLongDescription,
		Example: serveUsageExample,
		Args:    cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			configuration, logger, loadError := options.load()
			if loadError != nil {
				return loadError
			}
			defer func() { _ = logger.Sync() }()
			if address != utils.EmptyString {
				configuration.Server.Address = address
			}
			return runServe(command.Context(), configuration, logger, func(boundAddress string) {
				fmt.Fprintf(command.OutOrStdout(), listeningTemplate, boundAddress)
			})
		},
	}
	serveCommand.Flags().StringVar(&address, addressFlagName, utils.EmptyString, addressFlagDescription)
	return serveCommand
}

// runServe serves the API until ctx is canceled, then reclaims every workspace slot.
func runServe(ctx context.Context, configuration config.ApplicationConfiguration, logger *zap.Logger, notify func(string)) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	built, buildError := buildPipeline(configuration, registry, logger)
	if buildError != nil {
		return buildError
	}
	defer func() {
		closeContext, cancel := context.WithTimeout(context.Background(), configuration.Server.ShutdownTimeout)
		defer cancel()
		built.close(closeContext)
	}()

	service, serviceError := built.analysisService(configuration)
	if serviceError != nil {
		return serviceError
	}
	httpServer := server.NewServer(server.Options{
		Config:     configuration.Server,
		Analyzer:   service,
		Sessions:   built.facade,
		Registerer: registry,
		Gatherer:   registry,
		Logger:     logger.Named("server"),
	})
	return httpServer.Run(ctx, notify)
}

// ingestOptions stores the ingest flag values.
type ingestOptions struct {
	format        string
	includeTree   bool
	includeTokens bool
	copyOutput    bool
}

// createIngestCommand returns the ingest subcommand.
func createIngestCommand(options *rootOptions, dependencies commandDependencies) *cobra.Command {
	commandOptions := ingestOptions{format: types.FormatRaw}

	ingestCommand := &cobra.Command{
		Use:     ingestUse,
		Aliases: []string{ingestAlias},
		Short:   ingestShortDescription,
		Long:    ingestLongDescription,
		Example: ingestUsageExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			commandOptions.format = strings.ToLower(commandOptions.format)
			if !isSupportedFormat(commandOptions.format) {
				return fmt.Errorf(invalidFormatMessage, commandOptions.format)
			}
			configuration, logger, loadError := options.load()
			if loadError != nil {
				return loadError
			}
			defer func() { _ = logger.Sync() }()
			rendered, ingestError := runIngest(command.Context(), configuration, logger, strings.TrimSpace(arguments[0]), commandOptions)
			if ingestError != nil {
				return ingestError
			}
			if _, writeError := command.OutOrStdout().Write(rendered); writeError != nil {
				return writeError
			}
			if commandOptions.copyOutput && dependencies.copier != nil {
				if copyError := dependencies.copier.Copy(string(rendered)); copyError != nil {
					return fmt.Errorf(clipboardErrorFormat, copyError)
				}
			}
			return nil
		},
	}

	ingestCommand.Flags().StringVar(&commandOptions.format, formatFlagName, types.FormatRaw, formatFlagDescription)
	registerBooleanFlag(ingestCommand.Flags(), &commandOptions.includeTree, treeFlagName, utils.EmptyString, false, treeFlagDescription)
	registerBooleanFlag(ingestCommand.Flags(), &commandOptions.includeTokens, tokensFlagName, utils.EmptyString, false, tokensFlagDescription)
	registerBooleanFlag(ingestCommand.Flags(), &commandOptions.copyOutput, copyFlagName, copyFlagShorthand, false, copyFlagDescription)
	return ingestCommand
}

// runIngest ensures the context of repositoryURL and renders it in the requested format.
func runIngest(ctx context.Context, configuration config.ApplicationConfiguration, logger *zap.Logger, repositoryURL string, options ingestOptions) ([]byte, error) {
	built, buildError := buildPipeline(configuration, nil, logger)
	if buildError != nil {
		return nil, buildError
	}
	defer built.close(context.Background())

	result, ensureError := built.facade.EnsureContext(ctx, cliSessionID, repositoryURL, ingestion.EnsureOptions{})
	if ensureError != nil {
		return nil, ensureError
	}
	summary := result.Summary(repositoryURL)
	if options.includeTokens {
		countTokens(built.counter, result.Context, &summary, logger)
	}
	var rendered bytes.Buffer
	if renderError := output.Render(&rendered, options.format, result.Context, &summary, options.includeTree); renderError != nil {
		return nil, renderError
	}
	return rendered.Bytes(), nil
}

func countTokens(counter tokenizer.Counter, ingested types.IngestedContext, summary *types.ContextSummary, logger *zap.Logger) {
	if counter == nil {
		logger.Warn(tokensUnavailableLogMessage)
		return
	}
	counted, countError := tokenizer.CountContext(counter, ingested)
	if countError != nil {
		logger.Warn(tokenCountFailedLogMessage, zap.Error(countError))
		return
	}
	summary.TotalTokens = counted.Tokens
	summary.Model = counter.Name()
}

// createProbeCommand returns the probe subcommand.
func createProbeCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   probeUse,
		Short: probeShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			configuration, logger, loadError := options.load()
			if loadError != nil {
				return loadError
			}
			defer func() { _ = logger.Sync() }()
			configuration.Cache.Enabled = false
			built, buildError := buildPipeline(configuration, nil, logger)
			if buildError != nil {
				return buildError
			}
			defer built.close(context.Background())
			revision := built.prober.Probe(command.Context(), strings.TrimSpace(arguments[0]))
			_, writeError := fmt.Fprintf(command.OutOrStdout(), probeTemplate, revision)
			return writeError
		},
	}
}

// createInitCommand returns the init subcommand.
func createInitCommand() *cobra.Command {
	var global bool
	var force bool

	initCommand := &cobra.Command{
		Use:   initUse,
		Short: initShortDescription,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			workingDirectory, workingDirectoryError := os.Getwd()
			if workingDirectoryError != nil {
				return fmt.Errorf(workingDirectoryErrorFormat, workingDirectoryError)
			}
			target := config.InitTargetLocal
			if global {
				target = config.InitTargetGlobal
			}
			writtenPath, initError := config.InitializeConfiguration(config.InitOptions{
				Target:           target,
				Force:            force,
				WorkingDirectory: workingDirectory,
			})
			if initError != nil {
				return initError
			}
			_, writeError := fmt.Fprintf(command.OutOrStdout(), initializedTemplate, writtenPath)
			return writeError
		},
	}
	registerBooleanFlag(initCommand.Flags(), &global, globalFlagName, utils.EmptyString, false, globalFlagDescription)
	registerBooleanFlag(initCommand.Flags(), &force, forceFlagName, utils.EmptyString, false, forceFlagDescription)
	return initCommand
}
