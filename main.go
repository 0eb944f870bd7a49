// ABOUTME: Entry point for the funnel CLI, REST server and MCP server
// ABOUTME: Loads configuration, opens storage and routes to the requested command
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/harperreed/funnel/cli"
	"github.com/harperreed/funnel/config"
	"github.com/harperreed/funnel/credentials"
	"github.com/harperreed/funnel/db"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

type command func(app *cli.App, args []string) error

var crmCommands = map[string]command{
	"add-client":       cli.AddClientCommand,
	"list-clients":     cli.ListClientsCommand,
	"log-activity":     cli.LogActivityCommand,
	"set-stage":        cli.SetStageCommand,
	"schedule":         cli.ScheduleCommand,
	"register-outcome": cli.RegisterOutcomeCommand,
	"mark-completed":   cli.MarkCompletedCommand,
	"calendar":         cli.CalendarCommand,
	"dashboard":        cli.DashboardCommand,
	"performance":      cli.PerformanceCommand,
}

var syncCommands = map[string]command{
	"init":   cli.SyncInitCommand,
	"status": cli.SyncStatusCommand,
}

var vizCommands = map[string]command{
	"funnel": cli.VizFunnelCommand,
}

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Config file (default: $FUNNEL_CONFIG)")
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("funnel version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdio MCP and command output stay clean.
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           cfg.LogLevel(),
		ReportTimestamp: true,
		Prefix:          "funnel",
	})

	if err := run(cfg, logger, args[0], args[1:]); err != nil {
		logger.Fatal("command failed", "command", args[0], "err", err)
	}
}

func run(cfg config.Config, logger *log.Logger, name string, args []string) error {
	var (
		fn      command
		subArgs []string
	)
	switch name {
	case "serve":
		fn, subArgs = cli.ServeCommand, args
	case "mcp":
		fn = func(app *cli.App, _ []string) error { return cli.MCPCommand(app) }
	case "tui":
		fn = func(app *cli.App, _ []string) error { return cli.TUICommand(app) }
	case "crm":
		fn, subArgs = lookup("crm", crmCommands, args)
	case "sync":
		fn, subArgs = lookup("sync", syncCommands, args)
	case "viz":
		fn, subArgs = lookup("viz", vizCommands, args)
	default:
		fmt.Printf("Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	database, err := db.OpenDatabase(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	tokens, err := credentials.Open(cfg.Credentials.Dir)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer func() { _ = tokens.Close() }()

	logger.Debug("storage ready", "db", cfg.DB.Path, "credentials", cfg.Credentials.Dir)
	return fn(cli.NewApp(cfg, database, tokens, logger), subArgs)
}

func lookup(group string, commands map[string]command, args []string) (command, []string) {
	if len(args) == 0 {
		fmt.Printf("Error: %s requires a subcommand\n\n", group)
		printUsage()
		os.Exit(1)
	}
	fn, ok := commands[args[0]]
	if !ok {
		fmt.Printf("Unknown %s command: %s\n\n", group, args[0])
		printUsage()
		os.Exit(1)
	}
	return fn, args[1:]
}

func printUsage() {
	fmt.Println(`funnel - sales pipeline CRM with Google Calendar reconciliation

USAGE:
  funnel [--config file] <command> [options]

SERVERS:
  serve                     Run the REST API (--addr)
  mcp                       Run the MCP server on stdio
  tui                       Interactive agent monitoring board

CRM:
  crm add-client            --agent --name [--phone --email --company]
  crm list-clients          [--closer --prospector --stage --limit]
  crm log-activity          --agent --client --type [--outcome --description --notes --next]
  crm set-stage             --agent --client (--stage | --override) [--note]
  crm schedule              --agent --client --closer --at [--duration --notes]
  crm register-outcome      --agent (--meeting | --client) --outcome [--notes]
  crm mark-completed        --agent --event [--client --outcome --notes --update-calendar]
  crm calendar              --agent
  crm dashboard             --agent
  crm performance           [--period daily|weekly|monthly]

GOOGLE CALENDAR:
  sync init                 --agent [--no-browser]
  sync status

VISUALIZATION:
  viz funnel                [--agent --dot --output]

ENVIRONMENT:
  FUNNEL_CONFIG, FUNNEL_DB_PATH, FUNNEL_CREDENTIALS_DIR, FUNNEL_HTTP_ADDR,
  FUNNEL_LOG_LEVEL, FUNNEL_RATE_LIMIT, FUNNEL_RATE_BURST,
  GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REDIRECT_URL`)
}
