package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/dispatch-alert-relay/internal/config"
	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
)

// ErrConnectExhausted is returned by Poll when every connect attempt of a
// cycle failed. The next Poll starts a fresh series of attempts.
var ErrConnectExhausted = errors.New("max retries reached, could not restore imap connection")

var errSearch = errors.New("search unseen messages")

// Session is one authenticated mailbox connection with the folder selected.
type Session interface {
	UIDValidity() uint32
	SearchUnseen(ctx context.Context, excludeSubject string) ([]uint32, error)
	// Fetch returns the raw message without setting \Seen.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Logout() error
}

// Dialer opens a Session: connect, log in, select the folder.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Dispatcher turns one staged attachment into alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, path string) error
}

// Options tune the watcher loop.
type Options struct {
	ExcludeSubject     string
	StagingDir         string
	ConnectAttempts    int
	ReconnectDelay     time.Duration
	ErrorBackoff       time.Duration
	ProcessedCacheSize int
}

// OptionsFromConfig maps the relay configuration onto watcher options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ExcludeSubject:     cfg.IMAPExcludeSubject,
		StagingDir:         cfg.StagingDir,
		ConnectAttempts:    cfg.IMAPConnectAttempts,
		ReconnectDelay:     cfg.IMAPReconnectDelay,
		ErrorBackoff:       cfg.IMAPErrorBackoff,
		ProcessedCacheSize: cfg.ProcessedCacheSize,
	}
}

// Watcher polls the mailbox for unseen alarm mails and hands each XML
// attachment to the dispatcher. A Watcher is driven by a single goroutine;
// only State and CheckReadiness may be called concurrently.
type Watcher struct {
	dialer     Dialer
	dispatcher Dispatcher
	opts       Options
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger

	session   Session
	state     atomic.Int32
	processed *processedCache
}

// NewWatcher creates a disconnected watcher. The first Poll dials.
func NewWatcher(dialer Dialer, dispatcher Dispatcher, opts Options, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Watcher {
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		dialer:     dialer,
		dispatcher: dispatcher,
		opts:       opts,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		processed:  newProcessedCache(opts.ProcessedCacheSize),
	}
}

// State reports the current connection state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// CheckReadiness returns nil while a mailbox session is open.
func (w *Watcher) CheckReadiness(_ context.Context) error {
	switch s := w.State(); s {
	case StateConnected, StatePolling:
		return nil
	default:
		return fmt.Errorf("mailbox %s", s)
	}
}

// Poll runs one watch cycle. It returns ErrConnectExhausted when no session
// could be opened, ctx.Err() on cancellation and nil otherwise; mailbox
// faults are handled inside by reconnecting and backing off.
func (w *Watcher) Poll(ctx context.Context) error {
	if w.session == nil {
		if err := w.connect(ctx); err != nil {
			return err
		}
	}

	w.setState(StatePolling)
	err := w.poll(ctx)
	if err == nil {
		w.setState(StateConnected)
		w.metrics.PollCycles.WithLabelValues("ok").Inc()
		return nil
	}
	if ctx.Err() != nil {
		w.setState(StateConnected)
		return ctx.Err()
	}

	w.metrics.PollCycles.WithLabelValues("error").Inc()
	if errors.Is(err, errSearch) {
		w.logger.Warn("imap search failed, reconnecting", "error", err)
	} else {
		w.logger.Error("error while browsing mails", "error", err)
	}

	rerr := w.reconnect(ctx)
	if !sleepWithContext(ctx, w.clock, w.opts.ErrorBackoff) {
		return ctx.Err()
	}
	return rerr
}

// Close logs out of the current session, if any.
func (w *Watcher) Close() {
	w.teardown()
	w.setState(StateDisconnected)
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
}

func (w *Watcher) connect(ctx context.Context) error {
	attempts := w.opts.ConnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		s, err := w.dialer.Dial(ctx)
		if err == nil {
			w.session = s
			w.setState(StateConnected)
			w.metrics.MailboxConnected.Set(1)
			w.metrics.Reconnects.WithLabelValues("success").Inc()
			w.logger.Info("imap connection established", "attempt", attempt, "uid_validity", s.UIDValidity())
			return nil
		}
		if ctx.Err() != nil {
			w.setState(StateDisconnected)
			return ctx.Err()
		}

		w.metrics.Reconnects.WithLabelValues("failure").Inc()
		w.logger.Error("imap connect failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts && !sleepWithContext(ctx, w.clock, w.opts.ReconnectDelay) {
			w.setState(StateDisconnected)
			return ctx.Err()
		}
	}

	w.setState(StateDisconnected)
	w.logger.Error("max retries reached, could not restore imap connection", "attempts", attempts)
	return ErrConnectExhausted
}

// reconnect discards the session and dials a fresh one.
func (w *Watcher) reconnect(ctx context.Context) error {
	w.setState(StateReconnecting)
	w.teardown()
	return w.connect(ctx)
}

func (w *Watcher) teardown() {
	if w.session == nil {
		return
	}
	if err := w.session.Logout(); err != nil {
		w.logger.Warn("imap logout failed", "error", err)
	}
	w.session = nil
	w.metrics.MailboxConnected.Set(0)
}

func (w *Watcher) poll(ctx context.Context) error {
	uids, err := w.session.SearchUnseen(ctx, w.opts.ExcludeSubject)
	if err != nil {
		return fmt.Errorf("%w: %w", errSearch, err)
	}
	validity := w.session.UIDValidity()

	for _, uid := range uids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		key := processedKey(validity, uid)
		if w.processed.contains(key) {
			w.metrics.MessagesSkipped.Inc()
			w.logger.Debug("message already processed, skipping", "uid", uid)
			continue
		}

		if err := w.handleMessage(ctx, uid); err != nil {
			return err
		}
		w.processed.add(key)
	}
	return nil
}

func (w *Watcher) handleMessage(ctx context.Context, uid uint32) error {
	raw, err := w.session.Fetch(ctx, uid)
	if err != nil {
		return fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	w.metrics.MessagesFetched.Inc()

	attachments, err := Attachments(raw)
	if err != nil {
		w.logger.Warn("unreadable message parts", "uid", uid, "error", err)
	}
	if len(attachments) == 0 {
		// Nothing to relay, but the mail has been read.
		if err := w.session.MarkSeen(ctx, uid); err != nil {
			return fmt.Errorf("mark seen uid %d: %w", uid, err)
		}
		return nil
	}

	for _, att := range attachments {
		if err := w.handleAttachment(ctx, uid, att); err != nil {
			return err
		}
	}
	return nil
}

// handleAttachment marks the message seen before anything else so a crash
// during dispatch never causes a second alert.
func (w *Watcher) handleAttachment(ctx context.Context, uid uint32, att Attachment) error {
	if err := w.session.MarkSeen(ctx, uid); err != nil {
		return fmt.Errorf("mark seen uid %d: %w", uid, err)
	}

	path, err := w.stage(att)
	if err != nil {
		w.logger.Error("stage attachment failed", "uid", uid, "filename", att.Filename, "error", err)
		return nil
	}
	defer w.unstage(path)

	w.metrics.AttachmentsProcessed.Inc()
	w.logger.Info("attachment received", "uid", uid, "filename", att.Filename, "bytes", len(att.Data))

	if err := w.dispatcher.Dispatch(ctx, path); err != nil {
		if errors.Is(err, domain.ErrParse) {
			w.metrics.ParseErrors.Inc()
		}
		w.logger.Error("dispatch failed", "uid", uid, "filename", att.Filename, "error", err)
	}
	return nil
}

func (w *Watcher) stage(att Attachment) (string, error) {
	if err := os.MkdirAll(w.opts.StagingDir, 0o750); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(w.opts.StagingDir, stagedName(att.Filename))
	if err := os.WriteFile(path, att.Data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (w *Watcher) unstage(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("remove staged attachment failed", "path", path, "error", err)
	}
}

// stagedName reduces an attachment filename to a safe base name.
func stagedName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "attachment"
	}
	return name
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
