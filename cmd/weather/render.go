package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/balandzin/Weather-API/internal/viewstate"
)

func renderCurrent(w io.Writer, v viewstate.CurrentView) {
	if !v.Populated {
		fmt.Fprintln(w, "No current conditions yet.")
		return
	}
	fmt.Fprintf(w, "%s  %s\n", v.City, v.Temperature)
	if v.Description != "" {
		fmt.Fprintf(w, "%s [%s]\n", v.Description, v.Icon)
	}
	fmt.Fprintln(w, v.Advice)
}

func renderForecast(w io.Writer, rows []viewstate.ForecastRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No forecast yet.")
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %s  [%s]\n", row.Text, row.Icon)
	}
}

func renderAlert(w io.Writer, a viewstate.Alert) {
	fmt.Fprintf(w, "! %s\n", a.Kind.Message())
}

func renderScreens(w io.Writer, snap *viewstate.Snapshot, rows []viewstate.ForecastRow) {
	fmt.Fprintln(w, "Current")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	renderCurrent(w, snap.Current())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Forecast")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	renderForecast(w, rows)
}
