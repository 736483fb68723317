package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathanvale/side-quest-git-sub001/events"
)

func (a *app) eventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Run or follow the per-repository event server",
		Long: `Lifecycle operations publish events to a local server when one is running
for the repository. Without a server, events are dropped silently.

Known types: ` + strings.Join(typeNames(), ", "),
	}
	cmd.AddCommand(a.eventsServeCommand(), a.eventsTailCommand())
	return cmd
}

func typeNames() []string {
	names := make([]string, len(events.KnownTypes))
	for i, t := range events.KnownTypes {
		names[i] = string(t)
	}
	return names
}

func (a *app) eventsServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event server for this repository until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _, err := a.repoRoot(cmd.Context())
			if err != nil {
				return err
			}
			store, err := events.DefaultStore()
			if err != nil {
				return err
			}
			srv, err := events.Listen(cmd.Context(), store, root)
			if err != nil {
				return err
			}
			rec := srv.Record()
			if err := a.render(cmd, rec, func(w io.Writer) {
				fmt.Fprintf(w, "%s event server for %s on %s\n", okStyle.Render("✓"), root, rec.Addr())
			}); err != nil {
				srv.Close()
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}
}

func (a *app) eventsTailCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events as they are published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter != "" && !slices.Contains(events.KnownTypes, events.Type(filter)) {
				return withCode(ExitConfig, fmt.Errorf("unknown event type %q (known: %s)", filter, strings.Join(typeNames(), ", ")))
			}
			root, _, err := a.repoRoot(cmd.Context())
			if err != nil {
				return err
			}
			store, err := events.DefaultStore()
			if err != nil {
				return err
			}
			return a.tail(cmd.Context(), cmd.OutOrStdout(), store, root, events.Type(filter))
		},
	}
	cmd.Flags().StringVarP(&filter, "type", "t", "", "Only show events of this type")
	return cmd
}

// tail streams envelopes to w until ctx is cancelled or the server goes away.
func (a *app) tail(ctx context.Context, w io.Writer, store *events.Store, root string, filter events.Type) error {
	sub, err := events.Subscribe(ctx, store, root, filter)
	if errors.Is(err, events.ErrNoServer) {
		return fmt.Errorf("%w for %s (start one with `wtm events serve`)", events.ErrNoServer, root)
	}
	if err != nil {
		return err
	}
	defer sub.Close()

	for env := range sub.Events() {
		if a.jsonOutput {
			if err := renderLine(w, env); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", dimStyle.Render(env.Timestamp.Local().Format(time.TimeOnly)),
			eventStyle.Render(string(env.Type)), string(env.Data))
	}
	if err := sub.Err(); err != nil {
		return fmt.Errorf("event stream ended: %w", err)
	}
	return nil
}
