package views

import (
	"github.com/rivo/tview"
)

// LoginView is the credential form shown while the session requires
// authentication.
type LoginView struct {
	*tview.Flex
	form    *tview.Form
	message *tview.TextView
	onLogin func(email, password string)
}

// NewLoginView creates the login form.
func NewLoginView() *LoginView {
	lv := &LoginView{}

	lv.message = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	lv.form = tview.NewForm().
		AddInputField("Email", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Login", func() {
			if lv.onLogin == nil {
				return
			}
			email := lv.form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
			pass := lv.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
			lv.onLogin(email, pass)
		})
	lv.form.SetBorder(true).SetTitle(" Sign in ")

	lv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(lv.message, 3, 0, false).
		AddItem(lv.form, 0, 1, true)
	return lv
}

// SetOnLogin sets the submit callback.
func (lv *LoginView) SetOnLogin(fn func(email, password string)) {
	lv.onLogin = fn
}

// ShowMessage displays a status line above the form.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = lv.message.Write([]byte("\n" + msg))
}

// Form returns the credential form for focus handling.
func (lv *LoginView) Form() *tview.Form {
	return lv.form
}
