// Package cli implements the shopsync command line client. Each invocation
// rehydrates the collections from durable storage, applies one command,
// waits for the resulting pushes to settle and exits.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Wait   time.Duration

	open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. open is called once per
// invocation to reach storage and the collection API.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "shopsync",
		Short: "Cart and wishlist client with optimistic sync",
		Long: `shopsync keeps a local cart and wishlist that work offline and
synchronizes them with the collection API while you are logged in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Wait < 0 {
				return NewExitError(ExitCommandError, "--wait must not be negative")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Format, "output", "o", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Wait, "wait", 15*time.Second, "how long to wait for pending changes to reach the server")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewSetQuantityCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// invocation is the state one command works with.
type invocation struct {
	rt      *Runtime
	manager *session.Manager
	cred    *domain.Credentials
}

type runFunc func(ctx context.Context, inv *invocation) (*Result, error)

// runOptions tweaks how an invocation starts.
type runOptions struct {
	// anonymous starts the session without the stored credentials, so no
	// startup reconciliation happens.
	anonymous bool
}

// run opens storage, starts the session, applies fn, waits for pushes and
// prints the result.
func (o *RootOptions) run(cmd *cobra.Command, ro runOptions, fn runFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}

	// Text errors are printed by main on stderr.
	err := o.execute(ctx, out, ro, fn)
	if err != nil && o.Format == "json" {
		_ = out.Error(err)
	}
	return err
}

func (o *RootOptions) execute(ctx context.Context, out *OutputFormatter, ro runOptions, fn runFunc) error {
	rt, err := o.open(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "open storage", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Warn("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	inv := &invocation{rt: rt, cred: rt.Credentials(ctx)}
	inv.manager = session.NewManager(rt.Adapter(), rt.Remote, rt.Logger, rt.Engine)
	defer inv.manager.Close()

	startCred := inv.cred
	if ro.anonymous {
		startCred = nil
	}
	inv.manager.Start(ctx, startCred)

	res, err := fn(ctx, inv)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.Wait)
	defer cancel()
	res.Settled = true
	if err := inv.manager.Wait(waitCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "wait for sync", err)
		}
		res.Settled = false
	}

	res.fill(inv)
	return out.Success(res)
}

func parseKind(s string) (domain.Kind, error) {
	kind, err := domain.ParseKind(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	return kind, nil
}
