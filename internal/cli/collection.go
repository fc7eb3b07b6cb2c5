package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pzron/ecom-sub001/internal/domain"
	"github.com/pzron/ecom-sub001/pkg/validator"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Kind       string
	Quantity   int
	Name       string
	Price      int64
	Currency   string
	ImageURL   string
	OutOfStock bool
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart or wishlist",
		Long: `Add a product to the cart or wishlist.

Adding a product already in the cart increases its quantity and refreshes its
details. Adding a product already in the wishlist changes nothing.

Example:
  shopsync add sku-123 --name "Desk lamp" --price 2499 --currency USD --qty 2
  shopsync add sku-123 --kind wishlist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := domain.Snapshot{
				ProductID: args[0],
				Name:      opts.Name,
				Price:     opts.Price,
				Currency:  opts.Currency,
				ImageURL:  opts.ImageURL,
				InStock:   !opts.OutOfStock,
			}
			return opts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				return addProduct(inv, opts.Kind, snap, opts.Quantity)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", string(domain.KindCart), "collection (cart|wishlist)")
	cmd.Flags().IntVarP(&opts.Quantity, "qty", "q", 1, "quantity to add (cart only)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "product name")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "price in minor units")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "ISO 4217 currency code")
	cmd.Flags().StringVar(&opts.ImageURL, "image", "", "product image URL")
	cmd.Flags().BoolVar(&opts.OutOfStock, "out-of-stock", false, "mark the product as out of stock")

	return cmd
}

func addProduct(inv *invocation, kindFlag string, snap domain.Snapshot, quantity int) (*Result, error) {
	kind, err := parseKind(kindFlag)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(snap); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid product", err)
	}

	b, _ := inv.manager.Bundle(kind)
	item := b.Store.Add(snap, quantity)
	return newResult(fmt.Sprintf("added %s to %s", item.ProductID, kind), kind), nil
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart or wishlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				kind, err := parseKind(kindFlag)
				if err != nil {
					return nil, err
				}
				b, _ := inv.manager.Bundle(kind)
				if !b.Store.Remove(args[0]) {
					return newResult(fmt.Sprintf("%s is not in the %s", args[0], kind), kind), nil
				}
				return newResult(fmt.Sprintf("removed %s from %s", args[0], kind), kind), nil
			})
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(domain.KindCart), "collection (cart|wishlist)")
	return cmd
}

// NewSetQuantityCommand creates the set-qty command.
func NewSetQuantityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-qty <product-id> <quantity>",
		Short: "Set the quantity of a cart item",
		Long: `Set the quantity of a cart item.

A quantity of 0 removes the item. Negative quantities are clamped to 1.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[1]))
			}
			return rootOpts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				item, present := inv.manager.Cart().Store.SetQuantity(args[0], n)
				switch {
				case present:
					return newResult(fmt.Sprintf("%s quantity is %d", args[0], item.Quantity), domain.KindCart), nil
				case n == 0:
					return newResult(fmt.Sprintf("%s is not in the cart", args[0]), domain.KindCart), nil
				default:
					return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s is not in the cart", args[0]))
				}
			})
		},
	}
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the cart and wishlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				if kindFlag == "" {
					return newResult("", domain.Kinds...), nil
				}
				kind, err := parseKind(kindFlag)
				if err != nil {
					return nil, err
				}
				return newResult("", kind), nil
			})
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "collection (cart|wishlist); both when empty")
	return cmd
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from a collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.run(cmd, runOptions{}, func(ctx context.Context, inv *invocation) (*Result, error) {
				kind, err := parseKind(kindFlag)
				if err != nil {
					return nil, err
				}
				b, _ := inv.manager.Bundle(kind)
				n := len(b.Store.Items())
				b.Store.Clear()
				return newResult(fmt.Sprintf("cleared %d items from %s", n, kind), kind), nil
			})
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(domain.KindCart), "collection (cart|wishlist)")
	return cmd
}
