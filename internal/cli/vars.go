package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tidemarklabs/tidemark/pkg/vars"
)

type VarsCmd struct{}

func NewVarsCmd() *VarsCmd {
	return &VarsCmd{}
}

func (c *VarsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "Inspect and edit pipeline variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(
		c.getCommand(),
		c.setCommand(),
		c.listCommand(),
		c.deleteCommand(),
	)

	return cmd
}

func (c *VarsCmd) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cmd, log)
			if err != nil {
				return fmt.Errorf("failed to open variable store: %w", err)
			}
			defer store.Close()

			value, err := store.Get(ctx, args[0])
			if errors.Is(err, vars.ErrNotFound) {
				return fmt.Errorf("%s is not set", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			fmt.Println(value)
			return nil
		},
	}
}

func (c *VarsCmd) setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a variable, overwriting any previous value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cmd, log)
			if err != nil {
				return fmt.Errorf("failed to open variable store: %w", err)
			}
			defer store.Close()

			if err := store.Set(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("failed to set %s: %w", args[0], err)
			}

			fmt.Printf("%s set to %s\n", args[0], args[1])
			return nil
		},
	}
}

func (c *VarsCmd) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cmd, log)
			if err != nil {
				return fmt.Errorf("failed to open variable store: %w", err)
			}
			defer store.Close()

			variables, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list variables: %w", err)
			}

			if len(variables) == 0 {
				fmt.Println("no variables set")
				return nil
			}

			printVariables(variables)
			return nil
		},
	}
}

func (c *VarsCmd) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := openStore(ctx, cmd, log)
			if err != nil {
				return fmt.Errorf("failed to open variable store: %w", err)
			}
			defer store.Close()

			if err := store.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete %s: %w", args[0], err)
			}

			fmt.Println(args[0], "deleted")
			return nil
		},
	}
}

func printVariables(variables []vars.Variable) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Key", "Value", "Updated At"})

	for _, v := range variables {
		table.Append([]string{
			v.Key,
			v.Value,
			v.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
}
