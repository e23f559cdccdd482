package views

import (
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the outbound input line. Besides plain text it can stage one
// file ("/attach <path>") which is sent with the next submit.
type Composer struct {
	*tview.InputField
	onSend func(text, attachmentPath string)
	staged string
}

// NewComposer creates the input line.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		text := strings.TrimSpace(c.GetText())
		if text == "" && c.staged == "" {
			return
		}
		path := c.staged
		c.ClearStaged()
		c.SetText("")
		c.onSend(text, path)
	})
	return c
}

// SetOnSend sets the submit callback.
func (c *Composer) SetOnSend(fn func(text, attachmentPath string)) {
	c.onSend = fn
}

// Stage attaches a file to the next send and shows it in the label.
func (c *Composer) Stage(path string) {
	c.staged = path
	c.SetLabel(" [" + filepath.Base(path) + "] > ")
}

// Staged returns the staged file path, or "".
func (c *Composer) Staged() string {
	return c.staged
}

// ClearStaged drops the staged file.
func (c *Composer) ClearStaged() {
	c.staged = ""
	c.SetLabel(" > ")
}
