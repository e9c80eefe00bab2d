package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ticketrush/coordinator/internal/config"
	"github.com/ticketrush/coordinator/logbuf"
	"github.com/ticketrush/coordinator/qrlogin"
	"github.com/ticketrush/coordinator/types"
)

const grabWaitPoll = 500 * time.Millisecond

func runLogin(ctx context.Context, args []string) error {
	_, _ = parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	code, err := a.sess.Login().Start(ctx)
	if err != nil {
		return err
	}
	fmt.Println("scan this QR code to log in:")
	fmt.Println(code.URL)

	if a.cfg.Strategy == config.StrategyPoll {
		go pollLoginStatus(ctx, a)
	}

	cookie, err := a.sess.Login().Await(ctx)
	if errors.Is(err, qrlogin.ErrExpired) {
		return fmt.Errorf("the code expired before it was scanned, run login again")
	}
	if err != nil {
		return err
	}
	fmt.Printf("logged in, cookie %s...\n", head(cookie, 12))
	return nil
}

// pollLoginStatus drives the login machine for deployments without a push
// channel. Await unblocks once a polled status is terminal.
func pollLoginStatus(ctx context.Context, a *app) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := a.sess.Login().Poll(ctx)
			if err != nil || status.Terminal() {
				return
			}
		}
	}
}

func runSmsLogin(ctx context.Context, args []string) error {
	opts, _ := parseArgs(args)
	if opts.tel == "" {
		return fmt.Errorf("--tel is required")
	}
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.code == "" {
		if _, err := a.sess.SendLoginSms(ctx, opts.tel); err != nil {
			return err
		}
		fmt.Println("code sent, rerun with --code=XXXXXX")
		return nil
	}
	if err := a.sess.SubmitLoginSms(ctx, opts.tel, opts.code); err != nil {
		return err
	}
	fmt.Println("account added")
	return nil
}

func runGrab(ctx context.Context, args []string) error {
	opts, _ := parseArgs(args)
	if opts.event == "" {
		return fmt.Errorf("--event is required")
	}
	if opts.uid == 0 {
		return fmt.Errorf("--uid is required")
	}
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	wiz := a.sess.Wizard()

	info, err := wiz.Begin(ctx, opts.event)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d screen(s) available\n", info.Name, len(wiz.Screens()))
	if opts.screen != 0 {
		if err := wiz.SelectScreen(opts.screen); err != nil {
			return err
		}
	}
	if opts.ticket != 0 {
		if err := wiz.SelectTicket(opts.ticket); err != nil {
			return err
		}
	}
	if err := wiz.SetCount(opts.count); err != nil {
		return err
	}

	if wiz.Mode() == types.RealName {
		roster, err := wiz.LoadBuyers(ctx)
		if err != nil {
			return err
		}
		if len(opts.buyers) == 0 {
			fmt.Println("this event needs real-name buyers, pick with --buyers=id,id:")
			for _, b := range roster {
				fmt.Printf("  %d\t%s\t%s\n", b.ID, b.Name, b.Tel)
			}
			return fmt.Errorf("no buyers selected")
		}
		if err := wiz.SelectBuyers(opts.buyers...); err != nil {
			return err
		}
	} else {
		if opts.name == "" || opts.tel == "" {
			return fmt.Errorf("this event needs --name and --tel")
		}
		if err := wiz.SetNonBindBuyer(opts.name, opts.tel); err != nil {
			return err
		}
	}

	taskID, err := a.sess.StartGrab(ctx, opts.uid)
	if err != nil {
		return err
	}
	fmt.Printf("grab task %s running\n", taskID)
	return awaitGrab(ctx, a)
}

// awaitGrab blocks until the tracked grab task settles. Under the poll
// strategy the session drains the result queue itself; under push the
// dispatcher settles it and we just watch the tracking flag.
func awaitGrab(ctx context.Context, a *app) error {
	ticker := time.NewTicker(grabWaitPoll)
	defer ticker.Stop()
	for a.sess.Grabbing() {
		select {
		case <-ctx.Done():
			return a.sess.StopGrab(context.Background())
		case <-ticker.C:
			if a.cfg.Strategy == config.StrategyPoll {
				if _, err := a.sess.PollGrabOnce(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func runStop(ctx context.Context, args []string) error {
	_, positional := parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if len(positional) > 0 {
		return a.sess.CancelTask(ctx, positional[0])
	}
	return a.sess.StopGrab(ctx)
}

func runLogs(ctx context.Context, args []string) error {
	opts, _ := parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.clear {
		return a.sess.ClearLogs(ctx)
	}
	if err := a.sess.LoadLogs(ctx); err != nil {
		return err
	}
	if opts.export {
		if err := a.sess.ExportLogs(ctx); err != nil {
			return err
		}
	}

	enabled := levelSet(opts.levels)
	for _, line := range a.sess.Logs().Filter(enabled, opts.filter) {
		fmt.Println(line)
	}
	return nil
}

// levelSet maps --levels=info,error names onto the buffer's level keys.
// Nil means no level filtering.
func levelSet(names []string) map[logbuf.Level]bool {
	if len(names) == 0 {
		return nil
	}
	byName := map[string]logbuf.Level{
		"info":    logbuf.LevelInfo,
		"debug":   logbuf.LevelDebug,
		"warn":    logbuf.LevelWarn,
		"error":   logbuf.LevelError,
		"success": logbuf.LevelSuccess,
	}
	enabled := make(map[logbuf.Level]bool)
	for _, name := range names {
		if lvl, ok := byName[strings.ToLower(name)]; ok {
			enabled[lvl] = true
		}
	}
	return enabled
}

func runStats(ctx context.Context, args []string) error {
	_, _ = parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.sess.GrabStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("grab attempts: %d\nsuccesses:     %d\nfailures:      %d\n",
		stats.Attempts, stats.Successes, stats.Failures)
	return nil
}

func runState(ctx context.Context, args []string) error {
	_, _ = parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	raw, err := a.sess.State(ctx)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func runPolicy(ctx context.Context, args []string) error {
	_, _ = parseArgs(args)
	a, err := connect(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sess.CheckPolicy(ctx); err != nil {
		return err
	}
	fmt.Println("policy check passed")
	return nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
