package hmi

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
)

const logo = `
 __________________________________________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\_
 _/\/\__________/\/\__________/\/\_________
 _/\/\__________/\/\__/\/\/\__/\/\_________
 _/\/\__________/\/\____/\/\__/\/\_________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\_
 __________________________________________
`

// Page builds one screen of the HMI.
type Page func(*tview.Pages) (title string, content tview.Primitive)

var header = []string{"Bus", "|V| pu", "Angle deg", "Re", "Im"}

// VoltageTable lists the solved bus voltages. The slack bus row is highlighted.
func VoltageTable(r analysis.Report) *tview.Table {
	table := tview.NewTable().
		SetFixed(1, 1)

	for column, title := range header {
		table.SetCell(0, column, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false))
	}

	for i, b := range r.Buses {
		row := i + 1
		v := complex128(b.Voltage)
		color := tcell.ColorWhite
		if i == 0 {
			color = tcell.ColorDarkCyan
		}
		cells := []string{
			fmt.Sprintf("%d", b.Bus),
			fmt.Sprintf("%.5f", b.Magnitude),
			fmt.Sprintf("%.3f", b.AngleDeg),
			fmt.Sprintf("%.6f", real(v)),
			fmt.Sprintf("%.6f", imag(v)),
		}
		for column, text := range cells {
			align := tview.AlignRight
			if column == 0 {
				align = tview.AlignLeft
			}
			table.SetCell(row, column, tview.NewTableCell(text).
				SetTextColor(color).
				SetAlign(align))
		}
	}

	table.SetBorder(true).SetTitle(" Bus Voltages ")
	table.SetBorders(false).
		SetSelectable(true, false).
		SetSeparator(' ')
	return table
}

// Summary describes the run: convergence, losses and the slack supply.
func Summary(r analysis.Report) *tview.TextView {
	status := "[green]converged"
	if !r.Converged {
		status = "[red]not converged"
	}
	slack := complex128(r.SlackPower)

	lines := []string{
		fmt.Sprintf("Run:        %v", r.RunID),
		fmt.Sprintf("Case:       %v", r.Name),
		fmt.Sprintf("Status:     %v[white]", status),
		fmt.Sprintf("Iterations: %d", r.Iterations),
		fmt.Sprintf("Max delta:  %.3g", r.MaxDelta),
		fmt.Sprintf("Loss:       %.6f pu", r.Loss),
		fmt.Sprintf("Slack:      %.6f %+.6fj pu", real(slack), imag(slack)),
		fmt.Sprintf("Solve time: %v", r.Elapsed),
	}

	view := tview.NewTextView().
		SetDynamicColors(true).
		SetText(strings.Join(lines, "\n"))
	view.SetBorder(true).SetTitle(" Summary ")
	return view
}

// Splash is the title page for r. Enter moves on to the results.
func Splash(r analysis.Report) Page {
	return func(pages *tview.Pages) (title string, content tview.Primitive) {
		art := strings.Trim(logo, "\n")
		width, height := 0, strings.Count(art, "\n")+1
		for _, row := range strings.Split(art, "\n") {
			width = max(width, len(row))
		}

		name := r.Name
		if name == "" {
			name = r.RunID.String()
		}
		status := fmt.Sprintf("%d buses, %d passes", len(r.Buses), r.Iterations)

		banner := tview.NewTextView().
			SetTextColor(tcell.ColorBlue).
			SetText(art).
			SetDoneFunc(func(tcell.Key) {
				pages.SwitchToPage("Results")
			})

		caption := tview.NewFrame(tview.NewBox()).
			SetBorders(1, 0, 0, 0, 0, 0).
			AddText(name, true, tview.AlignCenter, tcell.ColorWhite).
			AddText(status, true, tview.AlignCenter, tcell.ColorGray).
			AddText("<enter>", true, tview.AlignCenter, tcell.ColorDarkMagenta)

		centered := tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(banner, width, 0, true).
			AddItem(nil, 0, 1, false)

		return "Splash", tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(centered, height, 0, true).
			AddItem(caption, 0, 2, false)
	}
}

// Results returns the page showing a report.
func Results(r analysis.Report) Page {
	return func(pages *tview.Pages) (title string, content tview.Primitive) {
		flex := tview.NewFlex().
			AddItem(VoltageTable(r), 0, 2, true).
			AddItem(Summary(r), 0, 1, false)
		return "Results", flex
	}
}

// Layout assembles the splash and result pages.
func Layout(r analysis.Report) *tview.Pages {
	pages := tview.NewPages()
	for _, page := range []Page{Splash(r), Results(r)} {
		title, primitive := page(pages)
		pages.AddPage(title, primitive, true, title == "Splash")
	}
	return pages
}

// Show runs the terminal view until the user presses q or escape.
func Show(r analysis.Report) error {
	app := tview.NewApplication()
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})
	return app.SetRoot(Layout(r), true).Run()
}
