package model

import (
	"context"
	"sync"
	"time"

	"github.com/brunakemp/juschat/internal/api"
	"github.com/brunakemp/juschat/internal/ctl"
)

// UploadState tracks one in-flight attachment upload for display.
type UploadState struct {
	ClientMsgID string
	Sent        int64
	Total       int64
}

// ViewModel caches daemon state between redraws. Loaders talk to the
// daemon; views read the cached snapshots.
type ViewModel struct {
	mu sync.RWMutex

	client        *ctl.Client
	status        *api.StatusResponse
	conversations []api.ConversationView
	messages      []api.MessageView
	activeConv    string
	upload        *UploadState

	Flash Flash
}

// NewViewModel creates a view model backed by the daemon client.
func NewViewModel(c *ctl.Client) *ViewModel {
	return &ViewModel{client: c}
}

// LoadStatus fetches the daemon status summary.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// LoadConversations fetches the conversation directory.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	convs, err := vm.client.Conversations(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
	return nil
}

// OpenConversation focuses a conversation on the daemon and loads its
// messages.
func (vm *ViewModel) OpenConversation(ctx context.Context, id string) error {
	if err := vm.client.OpenConversation(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeConv = id
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// CloseConversation drops the daemon's polling focus.
func (vm *ViewModel) CloseConversation(ctx context.Context) {
	vm.mu.Lock()
	id := vm.activeConv
	vm.activeConv = ""
	vm.messages = nil
	vm.mu.Unlock()
	if id != "" {
		_ = vm.client.CloseConversation(ctx, id)
	}
}

// LoadMessages refreshes the active conversation's messages.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	vm.mu.RLock()
	id := vm.activeConv
	vm.mu.RUnlock()
	if id == "" {
		return nil
	}
	msgs, err := vm.client.Messages(ctx, id, 200)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.messages = msgs
	vm.mu.Unlock()
	return nil
}

// SendText queues a text message in the active conversation.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	vm.mu.RLock()
	id := vm.activeConv
	vm.mu.RUnlock()
	if id == "" {
		return nil
	}
	_, err := vm.client.Send(ctx, id, text)
	return err
}

// SendFile queues a file (with optional caption) in the active
// conversation.
func (vm *ViewModel) SendFile(ctx context.Context, text, path string) error {
	vm.mu.RLock()
	id := vm.activeConv
	vm.mu.RUnlock()
	if id == "" {
		return nil
	}
	_, err := vm.client.SendFile(ctx, id, text, path)
	return err
}

// RetrySend re-queues a failed message.
func (vm *ViewModel) RetrySend(ctx context.Context, clientMsgID string) error {
	return vm.client.Retry(ctx, clientMsgID)
}

// Login authenticates the session.
func (vm *ViewModel) Login(ctx context.Context, email, password string) error {
	_, err := vm.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	vm.Flash.Set("Logged in", 3*time.Second)
	return nil
}

// Search runs a full-text query over stored messages.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]api.SearchResultView, error) {
	return vm.client.Search(ctx, query, "")
}

// SetUpload records upload progress for the status line; nil clears it.
func (vm *ViewModel) SetUpload(s *UploadState) {
	vm.mu.Lock()
	vm.upload = s
	vm.mu.Unlock()
}

// Upload returns the current upload progress, or nil.
func (vm *ViewModel) Upload() *UploadState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.upload
}

// Status returns the cached daemon status, or nil.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns the cached directory snapshot.
func (vm *ViewModel) Conversations() []api.ConversationView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Messages returns the cached message snapshot for the active
// conversation.
func (vm *ViewModel) Messages() []api.MessageView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// ActiveConversation returns the focused conversation id, or "".
func (vm *ViewModel) ActiveConversation() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeConv
}
