package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/brunakemp/juschat/internal/api"
	"github.com/brunakemp/juschat/internal/ctl"
	"github.com/brunakemp/juschat/internal/tui/keys"
	"github.com/brunakemp/juschat/internal/tui/model"
	"github.com/brunakemp/juschat/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	daemon    *ctl.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	loginV    *views.LoginView
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *ctl.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	vm := model.NewViewModel(c)

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		daemon:    c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		loginV:    views.NewLoginView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddGlobal("refresh", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:refresh", Visible: true,
		Handler: func() {
			go func() {
				if err := a.daemon.Refresh(a.ctx); err != nil {
					a.vm.Flash.Set("Refresh failed: "+err.Error(), 5*time.Second)
				} else {
					a.vm.Flash.Set("Refreshed", 2*time.Second)
				}
				a.app.QueueUpdateDraw(func() {
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			}()
		},
	})

	a.registry.AddPage("conversations", "archive", &keys.Action{
		Rune: 'a', Key: tcell.KeyRune,
		Description: "a:archive", Visible: true,
		Handler: func() { a.archiveSelected() },
	})
	a.registry.AddPage("conversations", "delete", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:delete", Visible: true,
		Handler: func() { a.removeSelected() },
	})
	a.registry.AddPage("chat", "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry", Visible: true,
		Handler: func() { a.retryLastFailed() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if conv := a.convList.Selected(); conv != nil {
			a.openConversation(conv)
		}
	})

	a.composer.SetOnSend(func(text, attachmentPath string) {
		go func() {
			var err error
			if attachmentPath != "" {
				err = a.vm.SendFile(a.ctx, text, attachmentPath)
			} else {
				err = a.vm.SendText(a.ctx, text)
			}
			if err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			_ = a.vm.LoadMessages(a.ctx)
			a.app.QueueUpdateDraw(func() {
				a.msgView.Update(a.vm.Messages())
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.Search(a.ctx, query)
			if err != nil {
				a.vm.Flash.Set("Search failed: "+err.Error(), 5*time.Second)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		convID, _ := a.searchV.SelectedResult()
		if convID == "" {
			return
		}
		for _, conv := range a.vm.Conversations() {
			if conv.ID == convID {
				c := conv
				a.openConversation(&c)
				return
			}
		}
	})

	a.loginV.SetOnLogin(func(email, password string) {
		go func() {
			if err := a.vm.Login(a.ctx, email, password); err != nil {
				a.app.QueueUpdateDraw(func() {
					a.loginV.ShowMessage("[red]" + err.Error() + "[-]")
				})
				return
			}
			_ = a.vm.LoadStatus(a.ctx)
			_ = a.vm.LoadConversations(a.ctx)
			a.app.QueueUpdateDraw(func() {
				a.refreshStatusBar()
				a.convList.Update(a.vm.Conversations())
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
			})
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)
	a.pages.AddPage("login", a.loginV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat":
				a.closeConversation()
				return nil
			case "search":
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openConversation(conv *api.ConversationView) {
	id := conv.ID
	name := conv.ParticipantName
	if name == "" {
		name = conv.ParticipantID
	}
	go func() {
		if err := a.vm.OpenConversation(a.ctx, id); err != nil {
			a.vm.Flash.Set("Open failed: "+err.Error(), 5*time.Second)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetConversationName(name)
			a.msgView.Update(a.vm.Messages())
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.msgView)
		})
	}()
}

func (a *App) closeConversation() {
	go func() {
		a.vm.CloseConversation(a.ctx)
		_ = a.vm.LoadConversations(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
		})
	}()
}

func (a *App) showSearch() {
	a.pages.SwitchToPage("search")
	a.app.SetFocus(a.searchV.Input())
}

func (a *App) archiveSelected() {
	conv := a.convList.Selected()
	if conv == nil {
		return
	}
	id := conv.ID
	go func() {
		if err := a.daemon.Archive(a.ctx, id); err != nil {
			a.vm.Flash.Set("Archive failed: "+err.Error(), 5*time.Second)
		}
		_ = a.vm.LoadConversations(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	}()
}

func (a *App) removeSelected() {
	conv := a.convList.Selected()
	if conv == nil {
		return
	}
	id := conv.ID
	go func() {
		if err := a.daemon.RemoveConversation(a.ctx, id); err != nil {
			a.vm.Flash.Set("Delete failed: "+err.Error(), 5*time.Second)
		}
		_ = a.vm.LoadConversations(a.ctx)
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	}()
}

// retryLastFailed re-queues the most recent failed message in the active
// conversation.
func (a *App) retryLastFailed() {
	msgs := a.vm.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].FromMe && msgs[i].Status == "failed" {
			clientID := msgs[i].MsgID
			go func() {
				if err := a.vm.RetrySend(a.ctx, clientID); err != nil {
					a.vm.Flash.Set("Retry failed: "+err.Error(), 5*time.Second)
				} else {
					a.vm.Flash.Set("Retrying...", 3*time.Second)
				}
				_ = a.vm.LoadMessages(a.ctx)
				a.app.QueueUpdateDraw(func() {
					a.msgView.Update(a.vm.Messages())
					a.statusBar.SetFlash(a.vm.Flash.Get())
				})
			}()
			return
		}
	}
	a.vm.Flash.Set("Nothing to retry", 3*time.Second)
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

func (a *App) refreshStatusBar() {
	st := a.vm.Status()
	if st != nil {
		a.statusBar.SetState(st.State)
	}
	if up := a.vm.Upload(); up != nil && up.Total > 0 {
		a.statusBar.SetUpload(int(up.Sent * 100 / up.Total))
	} else {
		a.statusBar.SetUpload(-1)
	}
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		_ = a.vm.LoadConversations(a.ctx)

		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.vm.Conversations())
			a.refreshStatusBar()
			if st := a.vm.Status(); st != nil && st.State == "AUTH_REQUIRED" {
				a.showLogin()
			}
		})

		a.startEventLoop()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

func (a *App) showLogin() {
	a.loginV.ShowMessage("Sign in to start syncing.")
	a.pages.SwitchToPage("login")
	a.app.SetFocus(a.loginV.Form())
}

// startEventLoop follows the daemon's event stream and redraws the
// affected views. The stream reconnects with a short backoff, and the
// refresh ticker covers any events missed in between.
func (a *App) startEventLoop() {
	go func() {
		for {
			events, err := a.daemon.Events(a.ctx)
			if err != nil {
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-a.ctx.Done():
					return
				}
			}
			for evt := range events {
				a.handleEvent(evt)
			}
			select {
			case <-time.After(time.Second):
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handleEvent(evt api.EventView) {
	switch {
	case strings.HasPrefix(evt.Kind, "message."):
		go func() {
			_ = a.vm.LoadMessages(a.ctx)
			a.app.QueueUpdateDraw(func() {
				if page, _ := a.pages.GetFrontPage(); page == "chat" {
					a.msgView.Update(a.vm.Messages())
				}
			})
		}()

	case evt.Kind == "directory.updated":
		go func() {
			_ = a.vm.LoadConversations(a.ctx)
			a.app.QueueUpdateDraw(func() {
				if page, _ := a.pages.GetFrontPage(); page == "conversations" {
					a.convList.Update(a.vm.Conversations())
				}
			})
		}()

	case evt.Kind == "session.status_changed":
		go func() {
			_ = a.vm.LoadStatus(a.ctx)
			a.app.QueueUpdateDraw(func() {
				a.refreshStatusBar()
				page, _ := a.pages.GetFrontPage()
				st := a.vm.Status()
				if st == nil {
					return
				}
				if st.State == "AUTH_REQUIRED" && page != "login" {
					a.showLogin()
				}
				if st.State != "AUTH_REQUIRED" && page == "login" {
					a.pages.SwitchToPage("conversations")
					a.app.SetFocus(a.convList)
				}
			})
		}()

	case evt.Kind == "upload.progress":
		if data, ok := evt.Data.(map[string]any); ok {
			up := &model.UploadState{}
			if v, ok := data["ClientMsgID"].(string); ok {
				up.ClientMsgID = v
			}
			if v, ok := data["Sent"].(float64); ok {
				up.Sent = int64(v)
			}
			if v, ok := data["Total"].(float64); ok {
				up.Total = int64(v)
			}
			if up.Total > 0 && up.Sent >= up.Total {
				a.vm.SetUpload(nil)
			} else {
				a.vm.SetUpload(up)
			}
			a.app.QueueUpdateDraw(a.refreshStatusBar)
		}
	}
}

// startRefreshLoop is the slow fallback behind the event stream.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = a.vm.LoadStatus(a.ctx)
				_ = a.vm.LoadConversations(a.ctx)
				a.app.QueueUpdateDraw(func() {
					if page, _ := a.pages.GetFrontPage(); page == "conversations" {
						a.convList.Update(a.vm.Conversations())
					}
					a.refreshStatusBar()
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
