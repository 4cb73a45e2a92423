// Command mailledger ingests bank notification emails into a transaction
// ledger and reports on it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/nhle/mailledger/internal/logging"
	"github.com/nhle/mailledger/internal/model"
)

const usage = `Usage: mailledger [-config path] [-env path] <command> [flags]

Commands:
  run     run one ingestion pass and print its summary
  watch   run ingestion on the configured schedule until interrupted
  login   store the mailbox (or -smtp) password in the system keyring;
          -forget removes it
  list    list stored transactions (-day alone lists that whole day)
  show    print one transaction by ID
  sum     total debits for a window or a set of dates
  runs    show recent ingestion runs
`

// errUsage signals a command-line mistake; usage has already been printed.
var errUsage = errors.New("invalid usage")

// cli carries what every command needs.
type cli struct {
	cfg    *model.AppConfig
	logger *log.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "mailledger: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("mailledger", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }

	configPath := global.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	envFile := global.String("env", ".env", "dotenv file loaded before the config")

	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		global.Usage()
		return errUsage
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: stderr,
	})
	if err != nil {
		return err
	}

	c := &cli{cfg: cfg, logger: logger, out: stdout}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "run":
		return c.runCmd(ctx, rest)
	case "watch":
		return c.watchCmd(ctx, rest)
	case "login":
		return c.loginCmd(rest)
	case "list":
		return c.listCmd(ctx, rest)
	case "show":
		return c.showCmd(ctx, rest)
	case "sum":
		return c.sumCmd(ctx, rest)
	case "runs":
		return c.runsCmd(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return errUsage
	}
}
