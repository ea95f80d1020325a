package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dispatchq/internal/config"
	"dispatchq/internal/constants"
	"dispatchq/internal/database"
	"dispatchq/internal/models"
	"dispatchq/internal/service"

	"github.com/sirupsen/logrus"
)

const usage = `usage: queuectl [-config path] [-env-file path] <command> [args]

commands:
  stats                  queue statistics
  list [status]          recent messages, optionally filtered by status
  show <id>              one message
  events <id>            delivery events for a message
  cancel <id>            cancel a pending or processing message
  retry <id>             requeue a failed, cancelled or processing message
  cleanup <days>         delete terminal messages older than days
  recover <minutes>      return claims older than minutes to pending
  migrate                apply pending schema migrations and print the version
`

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := run(ctx, db, flag.Args(), os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		db.Close()
		os.Exit(1)
	}
}

// run executes one command against an open store and writes its result to out as JSON
func run(ctx context.Context, db *database.Database, args []string, out io.Writer, logger *logrus.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}

	clock := service.SystemClock()
	admin := service.NewAdmin(db, service.NewEventRecorder(db, clock, logger), nil, clock, logger)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "stats":
		stats, err := admin.Stats(ctx)
		return emit(out, stats, err)

	case "list":
		filter := models.MessageFilter{Limit: constants.DefaultListLimit}
		if len(rest) > 0 {
			filter.Status = models.MessageStatus(rest[0])
		}
		msgs, err := admin.List(ctx, filter)
		return emit(out, msgs, err)

	case "show", "events", "cancel", "retry":
		if len(rest) != 1 {
			return fmt.Errorf("%s requires a message id", cmd)
		}
		return messageCommand(ctx, admin, cmd, rest[0], out)

	case "cleanup":
		days, err := intArg(rest, "cleanup requires a number of days")
		if err != nil {
			return err
		}
		deleted, err := admin.Cleanup(ctx, days)
		return emit(out, map[string]interface{}{"deleted": deleted, "older_than_days": days}, err)

	case "recover":
		minutes, err := intArg(rest, "recover requires a number of minutes")
		if err != nil {
			return err
		}
		if minutes <= 0 {
			return fmt.Errorf("minutes must be positive")
		}
		recovered, err := admin.RecoverStaleClaims(ctx, time.Duration(minutes)*time.Minute)
		return emit(out, map[string]interface{}{"recovered": recovered}, err)

	case "migrate":
		version, err := db.SchemaVersion(ctx)
		return emit(out, map[string]interface{}{"driver": db.Driver(), "schema_version": version}, err)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func intArg(args []string, missing string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s", missing)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", args[0])
	}
	return n, nil
}

func messageCommand(ctx context.Context, admin *service.Admin, cmd, id string, out io.Writer) error {
	var (
		result interface{}
		err    error
	)
	switch cmd {
	case "show":
		result, err = admin.Get(ctx, id)
	case "events":
		if _, err = admin.Get(ctx, id); err != nil {
			return err
		}
		result, err = admin.Events(ctx, id)
	case "cancel":
		result, err = admin.Cancel(ctx, id)
	default:
		result, err = admin.Retry(ctx, id)
	}
	return emit(out, result, err)
}

// emit writes v as indented JSON unless err is set
func emit(out io.Writer, v interface{}, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
