// Package obs owns the single OBS WebSocket session: explicit connect and disconnect, a
// background reconnect loop, a liveness heartbeat, and the few requests the panel needs.
package obs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stoopler-tools/background-changer/schedule"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/telemetry"
)

var (
	ErrAlreadyConnected = errors.New("already connected or connecting to OBS")
	ErrConnectionFailed = errors.New("failed to connect to OBS")
	ErrNotConnected     = errors.New("not connected to OBS")
	ErrNoCredentials    = errors.New("missing OBS connection details")
)

// State is the manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is an open OBS connection. *Client implements it.
type Session interface {
	Call(ctx context.Context, requestType string, data, out any) error
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a session.
type DialFunc func(ctx context.Context, creds state.ConnectionCredentials) (Session, error)

// DialWebSocket dials a real obs-websocket server.
func DialWebSocket(ctx context.Context, creds state.ConnectionCredentials) (Session, error) {
	return Dial(ctx, Endpoint(creds.URL, creds.Port), creds.Password)
}

// Options configure a Manager. Zero values take defaults.
type Options struct {
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	Dial              DialFunc
}

// Manager is the OBS session manager. Its zero value is not usable; call NewManager.
type Manager struct {
	store *state.Store
	opts  Options
	log   *slog.Logger

	// connecting admits one connect attempt at a time.
	connecting *semaphore.Weighted

	// publishMu orders the store writes that announce a connection (durable credentials,
	// OBSConnected) against teardowns. Acquired before mu.
	publishMu sync.Mutex

	mu        sync.Mutex
	st        State
	sess      Session
	gen       uint64 // bumped by every teardown; dials from older generations are dropped
	heartbeat *schedule.Task
	reconnect *schedule.Task
	baseCtx   context.Context
	started   bool
	lastErr   string
}

func NewManager(store *state.Store, opts Options) *Manager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	return &Manager{
		store:      store,
		opts:       opts,
		log:        slog.Default().With(slog.String("component", "obs")),
		connecting: semaphore.NewWeighted(1),
		baseCtx:    context.Background(),
	}
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Connected reports whether a live session exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// LastError is the most recent user-facing error, or "".
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastErr(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}

// Start makes an initial connection attempt and keeps retrying on the reconnect interval
// until ctx ends or Disconnect is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseCtx = ctx
	m.started = true
	m.armReconnectLocked()
}

func (m *Manager) armReconnectLocked() {
	if m.reconnect != nil {
		return
	}
	m.reconnect = schedule.Every(m.baseCtx, m.opts.ReconnectInterval, true, m.reconnectTick)
}

func (m *Manager) reconnectTick(ctx context.Context) {
	if st := m.State(); st == StateConnected || st == StateConnecting {
		return
	}
	creds := m.store.OBSCredentials()
	if !creds.Valid() {
		stored, ok, err := m.store.StoredOBSCredentials(ctx)
		if err != nil {
			m.log.Warn("read stored obs credentials", slog.Any("err", err))
			return
		}
		if !ok {
			return
		}
		creds = stored
	}
	if err := m.connect(ctx, creds); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		m.log.Debug("obs reconnect attempt failed", slog.Any("err", err))
	}
}

// Connect opens a session with creds. It fails with ErrAlreadyConnected when a session
// exists or another attempt is in flight. Any other failure wraps ErrConnectionFailed and
// leaves no session behind. A successful explicit Connect re-arms the reconnect loop if
// Disconnect stopped it.
func (m *Manager) Connect(ctx context.Context, creds state.ConnectionCredentials) error {
	if err := m.connect(ctx, creds); err != nil {
		return err
	}
	m.mu.Lock()
	if m.started && m.sess != nil {
		m.armReconnectLocked()
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) connect(ctx context.Context, creds state.ConnectionCredentials) error {
	if !creds.Valid() {
		return ErrNoCredentials
	}
	if !m.connecting.TryAcquire(1) {
		return ErrAlreadyConnected
	}
	defer m.connecting.Release(1)

	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	gen := m.gen
	m.st = StateConnecting
	m.mu.Unlock()

	telemetry.Inc(telemetry.OBSConnectAttempts)
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	sess, err := m.opts.Dial(dialCtx, creds)
	cancel()
	if err != nil {
		telemetry.Inc(telemetry.OBSConnectFailures)
		m.mu.Lock()
		if m.gen == gen {
			m.st = StateDisconnected
			m.lastErr = "Failed to connect to OBS"
		}
		m.mu.Unlock()
		m.store.SetOBSConnected(false)
		m.store.AddLog("Failed to connect to OBS", err.Error())
		m.log.Warn("obs connect failed", slog.Any("err", err))
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		// Disconnect ran while dialing.
		m.mu.Unlock()
		_ = sess.Close()
		return fmt.Errorf("%w: connection attempt superseded", ErrConnectionFailed)
	}
	m.sess = sess
	m.st = StateConnected
	m.lastErr = ""
	m.heartbeat = schedule.Every(m.baseCtx, m.opts.HeartbeatInterval, false, m.heartbeatTick(sess, gen))
	baseCtx := m.baseCtx
	m.mu.Unlock()

	go m.watch(baseCtx, sess, gen)

	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	if !m.current(sess, gen) {
		// Torn down before the connection was announced.
		return fmt.Errorf("%w: connection attempt superseded", ErrConnectionFailed)
	}
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if err := m.store.SaveOBSCredentials(saveCtx, creds); err != nil {
		m.log.Warn("persist obs credentials", slog.Any("err", err))
	}
	cancelSave()
	m.store.SetOBSConnected(true)
	m.store.AddLog("Connected to OBS")
	telemetry.SetOBSConnected(true)
	m.log.Info("connected to obs", slog.String("host", creds.URL), slog.String("port", creds.Port))
	return nil
}

// current reports whether sess is still the live session of generation gen.
func (m *Manager) current(sess Session, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen && m.sess == sess
}

func (m *Manager) heartbeatTick(sess Session, gen uint64) func(context.Context) {
	return func(ctx context.Context) {
		callCtx, cancel := context.WithTimeout(ctx, m.opts.HeartbeatInterval)
		defer cancel()
		err := sess.Call(callCtx, "GetVersion", nil, nil)
		if err == nil || ctx.Err() != nil {
			return
		}
		telemetry.Inc(telemetry.OBSHeartbeatFailures)
		m.log.Warn("obs heartbeat failed", slog.Any("err", err))
		m.lost(gen, err.Error())
	}
}

func (m *Manager) watch(ctx context.Context, sess Session, gen uint64) {
	select {
	case <-sess.Done():
		m.lost(gen, "connection closed by OBS")
	case <-ctx.Done():
	}
}

// lost tears down the session of generation gen after a heartbeat failure or a peer
// close. Durable credentials are kept so the reconnect loop can resume.
func (m *Manager) lost(gen uint64, reason string) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	m.mu.Lock()
	if m.gen != gen || m.sess == nil {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.sess = nil
	m.gen++
	m.heartbeat.StopAsync()
	m.heartbeat = nil
	m.st = StateDisconnected
	m.lastErr = "OBS connection closed"
	m.mu.Unlock()

	_ = sess.Close()
	m.store.SetOBSConnected(false)
	m.store.AddLog("OBS connection closed", reason)
	telemetry.SetOBSConnected(false)
	m.log.Info("obs connection closed", slog.String("reason", reason))
}

// Disconnect stops the heartbeat and reconnect loop, closes any session, clears durable
// credentials and leaves the manager Idle. It is idempotent.
func (m *Manager) Disconnect(ctx context.Context) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	sess := m.stop()
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Debug("error closing obs session", slog.Any("err", err))
		}
		m.store.AddLog("Disconnected from OBS")
	}
	m.store.SetOBSConnected(false)
	telemetry.SetOBSConnected(false)
	if err := m.store.ClearOBSCredentials(ctx); err != nil {
		m.log.Warn("clear obs credentials", slog.Any("err", err))
	}
}

// Shutdown stops background work and closes the session without clearing durable
// credentials, so the next process start reconnects.
func (m *Manager) Shutdown() {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	if sess := m.stop(); sess != nil {
		_ = sess.Close()
	}
	m.store.SetOBSConnected(false)
	telemetry.SetOBSConnected(false)
}

// stop cancels both tasks, detaches the session and moves to Idle.
func (m *Manager) stop() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.heartbeat.StopAsync()
	m.heartbeat = nil
	m.reconnect.StopAsync()
	m.reconnect = nil
	sess := m.sess
	m.sess = nil
	m.st = StateIdle
	return sess
}

func (m *Manager) session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// ImageSources lists the names of image inputs. Without a session, or when OBS fails to
// answer, it returns an empty list and no error and records the reason as the last error.
func (m *Manager) ImageSources(ctx context.Context) ([]string, error) {
	sess := m.session()
	if sess == nil {
		m.setLastErr("Not connected to OBS")
		return []string{}, nil
	}
	var out struct {
		Inputs []Input `json:"inputs"`
	}
	if err := sess.Call(ctx, "GetInputList", nil, &out); err != nil {
		m.setLastErr("Failed to fetch image sources")
		m.log.Warn("get input list failed", slog.Any("err", err))
		return []string{}, nil
	}
	names := make([]string, 0, len(out.Inputs))
	for _, in := range out.Inputs {
		if in.InputKind == ImageSourceKind {
			names = append(names, in.InputName)
		}
	}
	return names, nil
}

// SetImageFile points an image source at a local file.
func (m *Manager) SetImageFile(ctx context.Context, input, path string) error {
	sess := m.session()
	if sess == nil {
		return ErrNotConnected
	}
	data := map[string]any{
		"inputName":     input,
		"inputSettings": map[string]any{"file": path},
		"overlay":       true,
	}
	return sess.Call(ctx, "SetInputSettings", data, nil)
}

// RefreshBrowserSource reloads a browser source without its cache.
func (m *Manager) RefreshBrowserSource(ctx context.Context, input string) error {
	sess := m.session()
	if sess == nil {
		return ErrNotConnected
	}
	data := map[string]any{
		"inputName":    input,
		"propertyName": "refreshnocache",
	}
	return sess.Call(ctx, "PressInputPropertiesButton", data, nil)
}
