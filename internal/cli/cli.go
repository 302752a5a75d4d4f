package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/pipegrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
PipeGrid - session and validation client for a remote pipeline engine.

Usage:
  pipegrid [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a pipeline .hcl file to load and validate.

Options:
`)
		flagSet.PrintDefaults()
	}

	serverFlag := flagSet.String("server", "", "Engine endpoint, e.g. http://localhost:9190.")
	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file.")
	cacheFlag := flagSet.String("catalog-cache", "", "Path to the local node-type cache file.")
	pluginsFlag := flagSet.String("plugins", "", "Path to a plugin manifest to submit to the engine.")
	writeFlag := flagSet.String("write", "", "Write the normalized pipeline to this path after validation.")
	offlineFlag := flagSet.Bool("offline", false, "Validate against the catalog cache without dialing the engine.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	dialTimeoutFlag := flagSet.Duration("dial-timeout", 10*time.Second, "Timeout for a single dial attempt.")
	callTimeoutFlag := flagSet.Duration("call-timeout", 10*time.Second, "Timeout for a single engine call.")
	probeIntervalFlag := flagSet.Duration("probe-interval", 15*time.Second, "Interval between session health probes.")
	attemptsFlag := flagSet.Int("reconnect-attempts", 3, "Connection attempt budget per connect/reconnect cycle.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	pipelinePath := *pipelineFlag
	if pipelinePath == "" && flagSet.NArg() > 0 {
		pipelinePath = flagSet.Arg(0)
	}

	if *serverFlag == "" && !*offlineFlag {
		slog.Debug("No server address provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ServerAddress:      *serverFlag,
		PipelinePath:       pipelinePath,
		CatalogCachePath:   *cacheFlag,
		PluginManifestPath: *pluginsFlag,
		WritePath:          *writeFlag,
		Offline:            *offlineFlag,
		LogFormat:          logFormat,
		LogLevel:           logLevel,
		StatusPort:         *statusPortFlag,
		DialTimeout:        *dialTimeoutFlag,
		CallTimeout:        *callTimeoutFlag,
		ProbeInterval:      *probeIntervalFlag,
		ReconnectAttempts:  *attemptsFlag,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}
