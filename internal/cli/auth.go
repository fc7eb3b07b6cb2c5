package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzron/ecom-sub001/internal/domain"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Start a session and merge guest items into the account",
		Long: `Start a session and merge guest items into the account.

Items added while logged out are pushed to the server collection; items only
on the server are pulled in. Where both sides hold a product the server wins.

Example:
  shopsync login user-42 --token "$TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred := domain.Credentials{UserID: args[0], Token: token}
			if cred.Anonymous() {
				return NewExitError(ExitCommandError, "login requires a user id and --token")
			}
			return rootOpts.run(cmd, runOptions{anonymous: true}, func(ctx context.Context, inv *invocation) (*Result, error) {
				if inv.cred != nil && inv.cred.UserID != cred.UserID {
					return nil, NewExitError(ExitCommandError,
						fmt.Sprintf("already logged in as %s; log out first", inv.cred.UserID))
				}
				if err := inv.manager.Login(ctx, cred); err != nil {
					return nil, WrapExitError(ExitCommandError, "login", err)
				}
				if err := inv.rt.SaveCredentials(ctx, &cred); err != nil {
					return nil, WrapExitError(ExitFailure, "login", err)
				}
				return newResult("logged in as "+cred.UserID, domain.Kinds...), nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token for the collection API")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session; the cart stays as a guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, runOptions{anonymous: true}, func(ctx context.Context, inv *invocation) (*Result, error) {
				inv.manager.Logout()
				if err := inv.rt.SaveCredentials(ctx, nil); err != nil {
					return nil, WrapExitError(ExitFailure, "logout", err)
				}
				if inv.cred == nil {
					return newResult("not logged in", domain.Kinds...), nil
				}
				return newResult("logged out "+inv.cred.UserID, domain.Kinds...), nil
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile both collections with the server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				if inv.cred == nil {
					return nil, NewExitError(ExitCommandError, "not logged in")
				}
				results, err := inv.manager.Sync(ctx)
				if err != nil {
					return nil, WrapExitError(ExitFailure, "sync", err)
				}
				res := newResult("", domain.Kinds...)
				res.Reconciled = results
				return res, nil
			})
		},
	}
}
