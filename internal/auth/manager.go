package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/session"
	"github.com/brunakemp/juschat/internal/status"
	jsync "github.com/brunakemp/juschat/internal/sync"
	"go.uber.org/zap"
)

// Manager owns the session's credential lifecycle: restoring a stored
// token at boot, exchanging credentials for a new one, and tearing auth
// down on logout or revocation.
type Manager struct {
	client    *rest.Client
	machine   *status.Machine
	poller    *jsync.Poller
	directory *jsync.Directory
	session   string
	logger    *zap.Logger

	mu   sync.RWMutex
	user *rest.User
}

// NewManager creates an auth manager for the named session.
func NewManager(client *rest.Client, machine *status.Machine, poller *jsync.Poller,
	directory *jsync.Directory, sessionName string, logger *zap.Logger) *Manager {
	return &Manager{
		client:    client,
		machine:   machine,
		poller:    poller,
		directory: directory,
		session:   sessionName,
		logger:    logger,
	}
}

// CurrentUser returns the authenticated profile, or nil before login.
func (m *Manager) CurrentUser() *rest.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// CurrentUserID returns the authenticated user's id, or "".
func (m *Manager) CurrentUserID() string {
	if u := m.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

// Bootstrap restores the stored token, verifies it against the backend and
// brings the session to ready. Without a usable token the session parks in
// auth-required and waits for a login.
func (m *Manager) Bootstrap(ctx context.Context) error {
	token := session.LoadToken(m.session)
	if token == "" || session.TokenExpired(token, time.Now()) {
		m.logger.Info("no usable token, login required")
		return m.machine.Transition(status.AuthRequired)
	}

	if err := m.machine.Transition(status.Connecting); err != nil {
		return err
	}
	m.client.SetToken(token)

	user, err := m.client.Me(ctx)
	if err != nil {
		if rest.IsAuthError(err) {
			m.logger.Info("stored token rejected, login required")
			_ = session.ClearToken(m.session)
			return m.machine.Transition(status.AuthRequired)
		}
		return fmt.Errorf("verify token: %w", err)
	}
	return m.activate(ctx, user)
}

// Login exchanges credentials for a token, persists it and brings the
// session to ready.
func (m *Manager) Login(ctx context.Context, email, password string) (*rest.User, error) {
	if cur := m.machine.Current(); cur != status.AuthRequired {
		// A re-login over a live session restarts the connect sequence.
		if err := m.machine.Transition(status.AuthRequired); err != nil {
			return nil, fmt.Errorf("cannot login in state %s", cur)
		}
	}

	token, user, err := m.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := session.SaveToken(m.session, token); err != nil {
		m.logger.Warn("token not persisted", zap.Error(err))
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		return nil, err
	}
	if err := m.activate(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (m *Manager) activate(ctx context.Context, user *rest.User) error {
	m.mu.Lock()
	m.user = user
	m.mu.Unlock()
	m.poller.SetSelf(user.ID)

	if err := m.machine.Transition(status.Syncing); err != nil {
		return err
	}
	if err := m.directory.Refresh(ctx); err != nil {
		m.logger.Warn("initial directory refresh failed", zap.Error(err))
	}
	m.logger.Info("session ready",
		zap.String("user_id", user.ID), zap.String("user_name", user.Name))
	return m.machine.Transition(status.Ready)
}

// Logout discards the token and parks the session in auth-required.
func (m *Manager) Logout() error {
	if err := session.ClearToken(m.session); err != nil {
		return err
	}
	m.client.SetToken("")
	m.poller.ClearActive()

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()

	if m.machine.Current() != status.AuthRequired {
		return m.machine.Transition(status.AuthRequired)
	}
	return nil
}
