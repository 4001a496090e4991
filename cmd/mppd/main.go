package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"

	"github.com/matheus3301/mpp/internal/daemon"
	"github.com/matheus3301/mpp/internal/lock"
	"github.com/matheus3301/mpp/internal/logging"
	"github.com/matheus3301/mpp/internal/realm/wa"
	"github.com/matheus3301/mpp/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: mppd [--session <name>] [pair <wa-account>]")
		flag.PrintDefaults()
	}
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "pair" || len(args) != 2 {
			flag.Usage()
			os.Exit(1)
		}
		if err := pair(sessionName, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName}),
	)

	app.Run()
}

// pair links a WhatsApp account's device store. It holds the session lock,
// so the daemon must not be running.
func pair(sessionName, accountID string) error {
	cfg, err := session.LoadConfig(sessionName)
	if err != nil {
		return err
	}
	var waCfg *wa.Config
	for _, acc := range cfg.Accounts {
		if acc.ID == accountID && acc.Realm == wa.RealmID {
			waCfg = acc.WA
		}
	}
	if waCfg == nil {
		return fmt.Errorf("session %q has no wa account %q", sessionName, accountID)
	}

	layout := session.For(sessionName)
	if err := layout.Ensure(); err != nil {
		return err
	}
	lk, err := lock.Acquire(layout.Lock())
	if err != nil {
		return fmt.Errorf("%w: stop the daemon first", err)
	}
	defer func() { _ = lk.Release() }()

	logger, err := logging.New(layout.Log(), sessionName, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := wa.NewAdapter(ctx, waCfg.DevicePath, logger)
	if err != nil {
		return err
	}
	err = adapter.Pair(ctx, func(code string) {
		qr, err := wa.RenderQR(code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "render QR: %v\n", err)
			return
		}
		// Clear the screen: the server rotates codes every few seconds.
		fmt.Print("\033[H\033[2J")
		fmt.Printf("Scan with WhatsApp > Linked devices (%s):\n\n%s\n", accountID, qr)
	})
	switch {
	case errors.Is(err, wa.ErrAlreadyPaired):
		fmt.Printf("%s is already paired.\n", accountID)
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("%s paired. Start the daemon with mppd.\n", accountID)
	return nil
}
