// Package tui is the operator dashboard: live process values, alarm
// list, and command keys, rendered with tview. It is a thin consumer
// of the Engine; every action goes through the controller's command
// queue.
package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lactlink/engine"
	"lactlink/tags"
)

// App is the terminal dashboard.
type App struct {
	eng *engine.Engine
	app *tview.Application

	header *tview.TextView
	values *tview.Table
	alarms *tview.Table
	footer *tview.TextView

	subID engine.SubscriptionID
}

// NewApp builds the dashboard over a started engine.
func NewApp(eng *engine.Engine) *App {
	a := &App{
		eng: eng,
		app: tview.NewApplication(),
	}
	a.build()
	return a
}

func (a *App) build() {
	a.header = tview.NewTextView().SetDynamicColors(true)
	a.header.SetBorder(true).SetTitle(" LACT Unit ")

	a.values = tview.NewTable()
	a.values.SetBorder(true).SetTitle(" Process ")

	a.alarms = tview.NewTable()
	a.alarms.SetBorder(true).SetTitle(" Alarms ")

	a.footer = tview.NewTextView().SetDynamicColors(true)
	a.footer.SetText("[yellow]s[white] start  [yellow]x[white] stop  [yellow]p[white] prove  [yellow]n[white] prover return  [yellow]b[white] close batch  [yellow]a[white] ack  [yellow]h[white] horn  [yellow]r[white] reset  [yellow]q[white] quit")

	body := tview.NewFlex().
		AddItem(a.values, 0, 3, false).
		AddItem(a.alarms, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 4, 0, false).
		AddItem(body, 0, 1, false).
		AddItem(a.footer, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	ctl := a.eng.Controller()
	switch ev.Rune() {
	case 'q':
		a.app.Stop()
		return nil
	case 's':
		ctl.Start()
	case 'x':
		ctl.Stop()
	case 'p':
		ctl.Prove()
	case 'n':
		ctl.ProveReturn()
	case 'b':
		ctl.CloseBatch()
	case 'a':
		ctl.Ack("")
	case 'h':
		ctl.SilenceHorn()
	case 'r':
		ctl.Reset()
	default:
		return ev
	}
	return nil
}

// Run subscribes to engine events and blocks in the tview event loop
// until the operator quits.
func (a *App) Run() error {
	a.subID = a.eng.Events.SubscribeTypes(func(e engine.Event) {
		a.app.QueueUpdateDraw(a.refresh)
	}, engine.EventTagsUpdated, engine.EventStateChanged,
		engine.EventAlarmRaised, engine.EventAlarmCleared)
	defer a.eng.Events.Unsubscribe(a.subID)

	a.refresh()
	return a.app.Run()
}

func (a *App) refresh() {
	ctl := a.eng.Controller()
	snap := ctl.Store().Snapshot()

	last, max, overruns := ctl.ScanStats()
	stateColor := "green"
	switch ctl.State().String() {
	case "DIVERT", "SHUTDOWN":
		stateColor = "yellow"
	case "ESTOP":
		stateColor = "red"
	}
	a.header.SetText(fmt.Sprintf(
		" Unit: [white]%s[-]   State: [%s]%s[-]   Scan: %d (%.1f ms, max %.1f ms, overruns %d)",
		a.eng.GetConfig().Unit, stateColor, ctl.State(),
		ctl.ScanCount(),
		float64(last)/float64(time.Millisecond),
		float64(max)/float64(time.Millisecond),
		overruns,
	))

	virt := func(name string) interface{} {
		if sm, ok := snap[name]; ok {
			return sm.Value()
		}
		return ""
	}
	rows := []struct {
		label string
		value string
	}{
		{"Flow rate", fmt.Sprintf("%8.1f BPH", asFloat(virt(tags.FlowRateBPH)))},
		{"Batch gross", fmt.Sprintf("%10.3f bbl", asFloat(virt(tags.BatchGrossBBL)))},
		{"Batch net", fmt.Sprintf("%10.3f bbl", asFloat(virt(tags.BatchNetBBL)))},
		{"Diverted", fmt.Sprintf("%10.3f bbl", asFloat(virt(tags.BatchDivertBBL)))},
		{"BS&W", fmt.Sprintf("%6.2f %%", asFloat(virt(tags.BSWPct)))},
		{"Meter temp", fmt.Sprintf("%6.1f F", snap[tags.AIMeterTemp].Float)},
		{"CTL", fmt.Sprintf("%8.5f", asFloat(virt(tags.CTLFactor)))},
		{"Meter factor", fmt.Sprintf("%8.5f", asFloat(virt(tags.MeterFactor)))},
		{"Inlet press", fmt.Sprintf("%6.1f PSI", snap[tags.AIInletPress].Float)},
		{"Outlet press", fmt.Sprintf("%6.1f PSI", snap[tags.AIOutletPress].Float)},
		{"Divert valve", fmt.Sprintf("%v", virt(tags.DivertValvePos))},
		{"Sample grabs", fmt.Sprintf("%v", virt(tags.SampleGrabs))},
		{"Sample volume", fmt.Sprintf("%6.1f mL", asFloat(virt(tags.SampleTotalML)))},
		{"Pump running", fmt.Sprintf("%v", snap[tags.DIPumpRunning].Bool)},
	}
	a.values.Clear()
	for i, row := range rows {
		a.values.SetCell(i, 0, tview.NewTableCell(" "+row.label).SetTextColor(tcell.ColorGray))
		a.values.SetCell(i, 1, tview.NewTableCell(row.value).SetTextColor(tcell.ColorWhite))
	}

	a.alarms.Clear()
	active := ctl.Annunciator().Active()
	if len(active) == 0 {
		a.alarms.SetCell(0, 0, tview.NewTableCell(" (none)").SetTextColor(tcell.ColorGray))
	}
	for i, al := range active {
		color := tcell.ColorYellow
		switch al.Severity.String() {
		case "Critical":
			color = tcell.ColorRed
		case "Info":
			color = tcell.ColorGray
		}
		ack := " "
		if al.Acked {
			ack = "*"
		}
		a.alarms.SetCell(i, 0, tview.NewTableCell(" "+ack).SetTextColor(color))
		a.alarms.SetCell(i, 1, tview.NewTableCell(al.ID).SetTextColor(color))
		a.alarms.SetCell(i, 2, tview.NewTableCell(al.Severity.String()).SetTextColor(color))
	}
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	default:
		return 0
	}
}
