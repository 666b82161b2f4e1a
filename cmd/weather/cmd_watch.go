package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/balandzin/Weather-API/internal/viewstate"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow both screens as refreshes and location updates arrive",
	Long: `Watch restores the saved forecast, starts the configured location source and
the periodic refresh, and redraws the current and forecast screens on every change.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("city", "", "city to load first (default: refresh.default_city)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	rt, err := newRuntime(cmd.Context(), cfg, loggerFrom(cmd))
	if err != nil {
		return err
	}
	defer rt.close()

	sub := rt.store.Subscribe(16)
	defer sub.Unsubscribe()
	if err := rt.start(cmd.Context()); err != nil {
		return err
	}

	city, _ := cmd.Flags().GetString("city")
	if !cmd.Flags().Changed("city") {
		city = cfg.DefaultCity
	}
	if city != "" {
		if err := rt.controller.Refresh(cmd.Context(), city); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	clearScreen := isTerminal(out)
	draw := func(snap *viewstate.Snapshot) {
		if clearScreen {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		renderScreens(out, snap, snap.ForecastRows(cfg.Location()))
	}
	draw(rt.store.Snapshot())

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case u, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			draw(u.Snapshot)
		case a, ok := <-sub.Alerts:
			if !ok {
				return nil
			}
			renderAlert(out, a)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
