package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailledger/internal/credential"
	"github.com/nhle/mailledger/internal/extract"
	"github.com/nhle/mailledger/internal/ingest"
	"github.com/nhle/mailledger/internal/mailbox"
	"github.com/nhle/mailledger/internal/model"
	"github.com/nhle/mailledger/internal/notify"
	"github.com/nhle/mailledger/internal/report"
	"github.com/nhle/mailledger/internal/selector"
	"github.com/nhle/mailledger/internal/store"
	appsync "github.com/nhle/mailledger/internal/sync"
)

// pipeline is the wired ingestion stack for run and watch.
type pipeline struct {
	store       *store.SQLStore
	coordinator *appsync.Coordinator
	notifier    *notify.Notifier
	request     func() ingest.Request
}

func (c *cli) newPipeline() (*pipeline, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	password, err := credential.Lookup(credential.MailboxKey(c.cfg.Mailbox.Username), credential.MailboxPasswordEnv)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("no mailbox password stored; run \"mailledger login\" or set %s", credential.MailboxPasswordEnv)
		}
		return nil, err
	}

	notifier, err := c.newNotifier()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(c.cfg.Database)
	if err != nil {
		return nil, err
	}

	extractor := extract.NewExtractor(extract.Rules{
		Category:            c.cfg.Extraction.Category,
		BlockedCardSuffixes: c.cfg.Extraction.BlockedCardSuffixes,
	}, st)

	dialer := ingest.IMAPDialer{Options: dialOptions(c.cfg.Mailbox)}

	service := ingest.NewService(
		dialer,
		selector.New(c.logger.WithPrefix("selector")),
		ingest.MIMEContent,
		extractor,
		st,
		c.logger.WithPrefix("ingest"),
	)

	coordinator := appsync.New(service, st, c.logger, appsync.Options{
		RunTimeout: time.Duration(c.cfg.Mailbox.RunTimeoutSec) * time.Second,
	})

	creds := mailbox.Credentials{
		Host:     c.cfg.Mailbox.Host,
		Port:     c.cfg.Mailbox.Port,
		Username: c.cfg.Mailbox.Username,
		Password: password,
	}
	senders := make([]ingest.Sender, 0, len(c.cfg.Senders))
	for _, s := range c.cfg.Senders {
		senders = append(senders, ingest.Sender{Address: s.Address, Bank: s.Bank})
	}

	return &pipeline{
		store:       st,
		coordinator: coordinator,
		notifier:    notifier,
		request: func() ingest.Request {
			return ingest.Request{
				Credentials: creds,
				Mailbox:     c.cfg.Mailbox.Name,
				Senders:     senders,
			}
		},
	}, nil
}

func dialOptions(cfg model.MailboxConfig) mailbox.Options {
	return mailbox.Options{
		TLS:         cfg.TLS,
		Insecure:    cfg.Insecure,
		DialTimeout: time.Duration(cfg.DialTimeoutSec) * time.Second,
	}
}

func (c *cli) newNotifier() (*notify.Notifier, error) {
	cfg := c.cfg.Notify
	if !cfg.Enabled {
		return notify.New(cfg, "", c.logger)
	}
	password, err := credential.Lookup(credential.SMTPKey(cfg.Username), credential.SMTPPasswordEnv)
	if err != nil {
		return nil, fmt.Errorf("loading smtp password: %w", err)
	}
	return notify.New(cfg, password, c.logger.WithPrefix("notify"))
}

func (c *cli) runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	from := fs.String("from", "", "first day (YYYY-MM-DD) to scan when no cursor exists")
	to := fs.String("to", "", "last day (YYYY-MM-DD) to scan when no cursor exists")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	fromDay, err := parseOptionalDate(*from)
	if err != nil {
		return err
	}
	toDay, err := parseOptionalDate(*to)
	if err != nil {
		return err
	}

	p, err := c.newPipeline()
	if err != nil {
		return err
	}
	defer p.store.Close()

	req := p.request()
	req.From, req.To = fromDay, toDay

	rep, err := p.coordinator.RunOnce(ctx, req)
	if rep != nil {
		fmt.Fprintln(c.out, report.RunSummary(rep.Run))
		if nerr := p.notifier.Notify(*rep); nerr != nil {
			c.logger.Warn("run summary not sent", "err", nerr)
		}
	}
	if err != nil {
		return err
	}
	return rep.Result.Err()
}

func (c *cli) watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	spec := fs.String("schedule", c.cfg.Schedule.Cron, "cron spec or @every interval")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	p, err := c.newPipeline()
	if err != nil {
		return err
	}
	defer p.store.Close()

	if _, err := p.coordinator.Schedule(*spec, p.request); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case rep := <-p.coordinator.Reports():
				if err := p.notifier.Notify(rep); err != nil {
					c.logger.Warn("run summary not sent", "err", err)
				}
			}
		}
	}()

	c.logger.Info("watching mailbox", "mailbox", p.request().Key(), "schedule", *spec)

	// First pass right away, then on schedule.
	if _, err := p.coordinator.RunOnce(ctx, p.request()); err != nil {
		c.logger.Error("initial run failed", "err", err)
	}
	p.coordinator.Start()

	<-ctx.Done()
	c.logger.Info("shutting down, waiting for the active run")
	<-p.coordinator.Stop().Done()
	<-done
	return nil
}

// removeCredential is swapped in tests to avoid touching the real keyring.
var removeCredential = credential.Delete

func (c *cli) loginCmd(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	smtp := fs.Bool("smtp", false, "store the notification SMTP password instead")
	forget := fs.Bool("forget", false, "remove the stored password instead of setting one")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	username, key, title := c.cfg.Mailbox.Username, credential.MailboxKey(c.cfg.Mailbox.Username), "Mailbox password"
	if *smtp {
		username, key, title = c.cfg.Notify.Username, credential.SMTPKey(c.cfg.Notify.Username), "SMTP password"
	}
	if username == "" {
		return errors.New("no username configured for this account")
	}

	if *forget {
		err := removeCredential(key)
		if errors.Is(err, credential.ErrNotFound) {
			fmt.Fprintf(c.out, "No stored password for %s.\n", username)
			return nil
		}
		if err != nil {
			return fmt.Errorf("removing credential: %w", err)
		}
		fmt.Fprintf(c.out, "Removed stored password for %s.\n", username)
		return nil
	}

	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description("Password or app password for " + username).
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	if err := credential.Set(key, password); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	fmt.Fprintf(c.out, "Stored password for %s.\n", username)
	return nil
}

func (c *cli) listCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	lf := registerListFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	now := time.Now()
	day, single, err := lf.singleDay(fs, now)
	if err != nil {
		return err
	}
	filter, err := lf.filter(now)
	if err != nil {
		return err
	}

	st, err := store.Open(c.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if single {
		txns, err := st.TransactionsOn(ctx, day)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, report.Day(day.Format(model.DateLayout), txns))
		return nil
	}

	page, err := st.ListTransactions(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, report.Transactions(page))
	return nil
}

func (c *cli) showCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mailledger show <transaction-id>")
	}

	st, err := store.Open(c.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	txn, err := st.GetTransactionByID(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, report.Transaction(*txn))
	return nil
}

func (c *cli) sumCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sum", flag.ContinueOnError)
	wf := registerWindowFlags(fs)
	dates := fs.String("dates", "", "comma-separated days (YYYY-MM-DD)")
	byDate := fs.Bool("by-date", false, "break -dates totals down per day")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	st, err := store.Open(c.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if *dates != "" {
		days, err := parseDateList(*dates)
		if err != nil {
			return err
		}
		if *byDate {
			totals, err := st.SumDebitsByDate(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, report.TotalsByDate(totals))
			return nil
		}
		total, err := st.SumDebitsOnDates(ctx, days)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, report.Total("Debits on "+*dates, total))
		return nil
	}

	window, ok, err := wf.window(time.Now())
	if err != nil {
		return err
	}
	if !ok {
		total, err := st.SumDebits(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, report.Total("All debits", total))
		return nil
	}

	total, err := st.SumDebitsBetween(ctx, window.From, window.To)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, report.Total("Debits "+window.String(), total))
	return nil
}

func (c *cli) runsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	st, err := store.Open(c.cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.RecentRuns(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, report.Runs(runs))
	return nil
}
