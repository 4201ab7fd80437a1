package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate, compare and validate order keys",
	}

	emit := func(cmd *cobra.Command, k orderkey.Key, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), k)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "first",
			Short: "Print the key for an empty container",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return emit(cmd, a.alphabet.First(), nil)
			},
		},
		&cobra.Command{
			Use:   "before KEY",
			Short: "Print a key sorting before KEY",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				k, err := a.alphabet.Before(orderkey.Key(args[0]))
				return emit(cmd, k, err)
			},
		},
		&cobra.Command{
			Use:   "after KEY",
			Short: "Print a key sorting after KEY",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				k, err := a.alphabet.After(orderkey.Key(args[0]))
				return emit(cmd, k, err)
			},
		},
		&cobra.Command{
			Use:   "between LO HI",
			Short: "Print a key strictly between LO and HI",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				k, err := a.alphabet.Between(orderkey.Key(args[0]), orderkey.Key(args[1]))
				return emit(cmd, k, err)
			},
		},
		&cobra.Command{
			Use:   "compare A B",
			Short: "Print -1, 0 or 1 as A sorts before, with or after B",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.alphabet.Compare(orderkey.Key(args[0]), orderkey.Key(args[1])))
				return nil
			},
		},
		&cobra.Command{
			Use:   "valid KEY...",
			Short: "Report whether each KEY is well formed",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				invalid := 0
				for _, s := range args {
					state := "valid"
					if !a.alphabet.IsValid(orderkey.Key(s)) {
						state = "invalid"
						invalid++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s, state)
				}
				if invalid > 0 {
					return fmt.Errorf("%d of %d keys are invalid", invalid, len(args))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "from-legacy POSITION",
			Short: "Project a legacy integer position onto the key space",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid position %q: %w", args[0], err)
				}
				return emit(cmd, a.alphabet.FromLegacyNumeric(n), nil)
			},
		},
		&cobra.Command{
			Use:   "to-legacy KEY",
			Short: "Print the legacy integer position nearest to KEY",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.alphabet.ToLegacyNumeric(orderkey.Key(args[0])))
				return nil
			},
		},
	)
	return cmd
}
