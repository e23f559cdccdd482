package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays persistent session and sync state.
type StatusBar struct {
	*tview.TextView
	session string
	state   string
	upload  string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetState updates the daemon state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetUpload shows upload progress, or clears it when pct is negative.
func (sb *StatusBar) SetUpload(pct int) {
	if pct < 0 {
		sb.upload = ""
	} else {
		sb.upload = fmt.Sprintf("uploading %d%%", pct)
	}
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	stateColor := "silver"
	switch sb.state {
	case "READY":
		stateColor = "green"
	case "DEGRADED", "AUTH_REQUIRED":
		stateColor = "yellow"
	case "ERROR":
		stateColor = "red"
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s", sb.session, stateColor, sb.state, clock)
	if sb.upload != "" {
		line += fmt.Sprintf(" | [blue]%s[-]", sb.upload)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
