// Package main is the CanvasGuard entrypoint: an MCP stdio server plus a
// small CLI for one-shot validation, status, report export and config
// management.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/canvasguard/canvasguard/internal/audit"
	"github.com/canvasguard/canvasguard/internal/config"
	"github.com/canvasguard/canvasguard/internal/engine"
	"github.com/canvasguard/canvasguard/internal/policy"
	"github.com/canvasguard/canvasguard/internal/server"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// DefaultMemoryLimit is the default memory limit for the application (1GB)
	DefaultMemoryLimit = 1 * 1024 * 1024 * 1024
)

// parseLogLevel parses the LOG_LEVEL environment variable and returns the
// appropriate logrus level. Defaults to WarnLevel if not set or invalid.
func parseLogLevel() logrus.Level {
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		return logrus.WarnLevel
	}

	// Normalise to lowercase for comparison
	logLevelStr = strings.ToLower(strings.TrimSpace(logLevelStr))

	switch logLevelStr {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel
	}
}

// setMemoryLimit configures the Go runtime memory limit.
func setMemoryLimit() {
	memLimitStr := os.Getenv("CANVASGUARD_MEMORY_LIMIT")
	var memLimit int64 = DefaultMemoryLimit

	if memLimitStr != "" {
		if parsed, err := strconv.ParseInt(memLimitStr, 10, 64); err == nil && parsed > 0 {
			memLimit = parsed
		}
	}

	debug.SetMemoryLimit(memLimit)
}

func main() {
	setMemoryLimit()

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	app := &cli.App{
		Name:    "canvasguard",
		Usage:   "Request validation and data exfiltration prevention engine",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the security config file",
			},
			&cli.StringFlag{
				Name:  "rules",
				Usage: "path to a YAML sensitive-pattern rules file",
			},
		},
		Commands: []*cli.Command{
			serveCommand(logger),
			validateCommand(logger),
			statusCommand(logger),
			exportCommand(logger),
			configCommand(logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.WithError(err).Error("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newEngine builds an engine from the CLI flags.
func newEngine(c *cli.Context, logger *logrus.Logger, watch bool) (*engine.Engine, error) {
	path := c.String("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return engine.New(engine.Options{
		ConfigPath:       path,
		PatternRulesPath: c.String("rules"),
		Watch:            watch,
		Logger:           logger,
	})
}

func serveCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			// Stdio carries the protocol; anything written to stdout that is
			// not JSON-RPC breaks the session, so logging moves to a file or
			// is discarded.
			if logFile := os.Getenv("CANVASGUARD_LOG_FILE"); logFile != "" {
				if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
					logger.SetOutput(file)
					defer func() { _ = file.Close() }()
				} else {
					logger.SetOutput(io.Discard)
				}
			} else {
				logger.SetOutput(io.Discard)
			}

			eng, err := newEngine(c, logger, true)
			if err != nil {
				return fmt.Errorf("failed to initialise security engine: %w", err)
			}
			defer eng.Close()

			return server.New(eng, logger).ServeStdio()
		},
	}
}

func validateCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a single request from flags or stdin",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "request URL"},
			&cli.StringFlag{Name: "source", Value: "canvas", Usage: "request source (canvas, assistant, network, system)"},
			&cli.StringFlag{Name: "user", Usage: "user identifier"},
			&cli.StringFlag{Name: "trust", Usage: "asserted trust tier (low, medium, high)"},
		},
		Action: func(c *cli.Context) error {
			eng, err := newEngine(c, logger, false)
			if err != nil {
				return fmt.Errorf("failed to initialise security engine: %w", err)
			}
			defer eng.Close()

			data := c.Args().First()
			if data == "" {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read content from stdin: %w", err)
				}
				data = string(raw)
			}

			req := policy.CanvasRequest{URL: c.String("url"), Data: data}
			reqCtx := policy.RequestContext{
				Source:         policy.RequestSource(c.String("source")),
				UserID:         c.String("user"),
				UserTrustLevel: policy.TrustLevel(c.String("trust")),
			}

			result := eng.ValidateCanvasRequest(req, reqCtx)
			printValidationResult(result)
			if !result.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func statusCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show engine status and threat level",
		Action: func(c *cli.Context) error {
			eng, err := newEngine(c, logger, false)
			if err != nil {
				return fmt.Errorf("failed to initialise security engine: %w", err)
			}
			defer eng.Close()

			status := eng.Status()
			enabled := color.GreenString("enabled")
			if !status.Enabled {
				enabled = color.YellowString("disabled")
			}
			fmt.Printf("Exfiltration prevention: %s\n", enabled)
			fmt.Printf("Security level:          %s\n", status.Level)
			fmt.Printf("Recent violations (24h): %d\n", status.RecentViolations)
			fmt.Printf("Threat level:            %s\n", colourThreat(status.ThreatLevel))
			return nil
		},
	}
}

func exportCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the security report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "json", Usage: "export format (json or csv)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the report to a file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			eng, err := newEngine(c, logger, false)
			if err != nil {
				return fmt.Errorf("failed to initialise security engine: %w", err)
			}
			defer eng.Close()

			report, err := eng.ExportReport(audit.Format(c.String("format")))
			if err != nil {
				return err
			}
			if out := c.String("output"); out != "" {
				if err := os.WriteFile(out, []byte(report), 0600); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				fmt.Printf("Report written to %s\n", out)
				return nil
			}
			fmt.Println(report)
			return nil
		},
	}
}

func configCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the security configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default configuration file",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = config.DefaultPath()
					}
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("config file already exists at %s", path)
					}
					store := config.NewStore(path, logger)
					if err := store.Save(config.Default()); err != nil {
						return fmt.Errorf("failed to write default config: %w", err)
					}
					fmt.Printf("Default configuration written to %s\n", path)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(c *cli.Context) error {
					eng, err := newEngine(c, logger, false)
					if err != nil {
						return fmt.Errorf("failed to initialise security engine: %w", err)
					}
					defer eng.Close()

					data, err := json.MarshalIndent(eng.Config(), "", "  ")
					if err != nil {
						return fmt.Errorf("failed to encode config: %w", err)
					}
					fmt.Println(string(data))
					return nil
				},
			},
		},
	}
}

// printValidationResult renders a validation outcome for terminal use.
func printValidationResult(result policy.ValidationResult) {
	if result.Valid {
		fmt.Printf("%s request passed validation\n", color.GreenString("OK"))
	} else {
		fmt.Printf("%s request rejected\n", color.RedString("BLOCKED"))
	}
	for _, v := range result.Violations {
		fmt.Printf("  [%s] %s: %s\n", colourSeverity(v.Severity), v.Type, v.Description)
		if v.Excerpt != "" {
			fmt.Printf("      excerpt: %s\n", v.Excerpt)
		}
	}
	if result.SanitisedRequest != nil {
		fmt.Printf("%s sanitised copy available (%d modification(s))\n",
			color.YellowString("NOTE"), len(result.Modifications))
	}
}

func colourSeverity(s policy.Severity) string {
	switch s {
	case policy.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case policy.SeverityHigh:
		return color.RedString(string(s))
	case policy.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func colourThreat(t engine.ThreatLevel) string {
	switch t {
	case engine.ThreatCritical:
		return color.New(color.FgRed, color.Bold).Sprint(t)
	case engine.ThreatHigh:
		return color.RedString(string(t))
	case engine.ThreatMedium:
		return color.YellowString(string(t))
	default:
		return color.GreenString(string(t))
	}
}
