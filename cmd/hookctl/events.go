package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and manage processed events",
	}
	cmd.AddCommand(eventsListCmd())
	cmd.AddCommand(eventsCheckCmd())
	cmd.AddCommand(eventsRemoveCmd())
	cmd.AddCommand(eventsClearCmd())
	cmd.AddCommand(eventsCleanupCmd())
	return cmd
}

func eventsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the stored data of every processed event, one JSON document per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			events, err := store.GetAllEvents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, data := range events {
				fmt.Fprintln(out, string(data))
			}
			return nil
		},
	}
}

func eventsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <event-id>",
		Short: "Report whether an event id has a live processed record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			processed, err := store.IsProcessed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status := "not processed"
			if processed {
				status = "processed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
			return nil
		},
	}
}

func eventsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <event-id>",
		Short: "Forget an event so its next delivery is processed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if err := store.RemoveEvent(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func eventsClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every processed event record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the store without --yes")
			}

			store, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if err := store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all processed events")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every record")
	return cmd
}

func eventsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete processed events whose TTL has elapsed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			removed, err := store.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired events\n", removed)
			return nil
		},
	}
}
