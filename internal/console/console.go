package console

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

// Printer renders operator-facing status tables.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a printer writing to stdout.
func NewPrinter() *Printer {
	return &Printer{out: os.Stdout}
}

// NewPrinterTo creates a printer writing to w. Used by tests.
func NewPrinterTo(w io.Writer) *Printer {
	return &Printer{out: w}
}

// PrintStartup renders the session banner shown once at launch.
func (p *Printer) PrintStartup(sessionID string, symbols []string, cfg risk.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetTitle("BREAKOUT BOT")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🆔 Session", sessionID},
		{"📊 Symbols", fmt.Sprintf("%v", symbols)},
	})

	t.AppendSeparator()

	t.AppendRows([]table.Row{
		{"🎯 Risk / Trade", fmt.Sprintf("%.2f%%", cfg.RiskPerTrade*100)},
		{"💰 Max Position", fmt.Sprintf("$%.0f", cfg.MaxPositionSizeUSD)},
		{"📉 Daily Limit", fmt.Sprintf("%.1f%%", cfg.DailyRiskLimit*100)},
		{"🚨 Kill Switch", fmt.Sprintf("%.1f%% drawdown", cfg.KillSwitchLossLimit*100)},
		{"🔗 Correlation Cap", fmt.Sprintf("%.0f%% of book", cfg.MaxCorrelatedExposurePct*100)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 45, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Fprintln(p.out)
}

// PrintStatus renders the current cycle snapshot.
func (p *Printer) PrintStatus(status orchestrator.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetTitle("CYCLE STATUS")
	t.SetStyle(table.StyleRounded)

	killSwitch := "off"
	if status.Risk.KillSwitchTriggered {
		killSwitch = "LATCHED: " + status.Risk.KillSwitchReason
	}

	t.AppendRows([]table.Row{
		{"State", status.State},
		{"Previous", status.PreviousState},
		{"Cycles", status.CycleCount},
		{"Open Positions", status.OpenPositionCount},
		{"Daily Risk Used", fmt.Sprintf("%.2f%%", status.Risk.DailyRiskUsedPct*100)},
		{"High-Water Mark", fmt.Sprintf("$%.2f", status.Risk.PortfolioHighWaterMark)},
		{"Kill Switch", killSwitch},
	})
	if status.LastError != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Last Error", status.LastError})
	}

	t.Render()
	fmt.Fprintln(p.out)
}

// PrintHistory renders the most recent state transitions, oldest first.
func (p *Printer) PrintHistory(history []state.Transition) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetTitle("TRANSITION HISTORY")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Time", "From", "To", "Reason"})
	for _, tr := range history {
		t.AppendRow(table.Row{
			tr.Timestamp.Format("15:04:05.000"),
			tr.From.String(),
			tr.To.String(),
			tr.Reason,
		})
	}

	t.Render()
	fmt.Fprintln(p.out)
}
