package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/couchcryptid/dispatch-alert-relay/internal/config"
	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/mailbox"
)

// imapClient is the part of *client.Client a session uses.
type imapClient interface {
	UidSearch(criteria *goimap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error
	UidStore(seqset *goimap.SeqSet, item goimap.StoreItem, value interface{}, ch chan *goimap.Message) error
	Logout() error
}

// Dialer opens implicit-TLS IMAP sessions with the folder selected.
type Dialer struct {
	addr     string
	username string
	password string
	folder   string
	timeout  time.Duration
	tls      *tls.Config
	logger   *slog.Logger
}

// NewDialer creates a Dialer from the relay configuration.
func NewDialer(cfg *config.Config, logger *slog.Logger) *Dialer {
	return &Dialer{
		addr:     cfg.IMAPAddr(),
		username: cfg.IMAPUsername,
		password: cfg.IMAPPassword,
		folder:   cfg.IMAPFolder,
		timeout:  cfg.IMAPTimeout,
		tls:      &tls.Config{ServerName: cfg.IMAPServer, MinVersion: tls.VersionTLS12},
		logger:   logger,
	}
}

// Dial connects, logs in and selects the folder read-write. The TLS
// handshake and greeting share one timeout; cancelling ctx aborts the dial.
func (d *Dialer) Dial(ctx context.Context) (mailbox.Session, error) {
	cd := &contextDialer{ctx: ctx, timeout: d.timeout}
	defer cd.release()

	c, err := client.DialWithDialerTLS(cd, d.addr, d.tls)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransport, d.addr, err)
	}
	// From here on every command sets its own deadline from c.Timeout.
	_ = cd.conn.SetDeadline(time.Time{})
	c.Timeout = d.timeout

	if err := c.Login(d.username, d.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: login as %s: %w", domain.ErrProtocol, d.username, err)
	}

	status, err := c.Select(d.folder, false)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: select %s: %w", domain.ErrProtocol, d.folder, err)
	}

	d.logger.Debug("imap folder selected", "folder", d.folder, "messages", status.Messages, "uid_validity", status.UidValidity)
	return newSession(c, status.UidValidity), nil
}

// contextDialer opens the raw connection for go-imap. go-imap only bounds
// the handshake and greeting for a bare *net.Dialer, so the deadline is set
// here, and the connection is closed if ctx ends before release.
type contextDialer struct {
	ctx     context.Context
	timeout time.Duration

	conn net.Conn
	stop func() bool
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if d.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	d.conn = conn
	d.stop = context.AfterFunc(d.ctx, func() { _ = conn.Close() })
	return conn, nil
}

// release stops watching ctx once the dial has finished.
func (d *contextDialer) release() {
	if d.stop != nil {
		d.stop()
	}
}

// Session is one selected-folder IMAP connection.
type Session struct {
	c        imapClient
	validity uint32
}

func newSession(c imapClient, validity uint32) *Session {
	return &Session{c: c, validity: validity}
}

// UIDValidity returns the UIDVALIDITY of the selected folder.
func (s *Session) UIDValidity() uint32 { return s.validity }

// SearchUnseen returns the UIDs of unseen messages whose subject does not
// contain excludeSubject.
func (s *Session) SearchUnseen(ctx context.Context, excludeSubject string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uids, err := s.c.UidSearch(searchCriteria(excludeSubject))
	if err != nil {
		return nil, fmt.Errorf("%w: uid search: %w", domain.ErrProtocol, err)
	}
	return uids, nil
}

// Fetch returns the full raw message. BODY.PEEK[] leaves \Seen untouched.
func (s *Session) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	section := &goimap.BodySectionName{Peek: true}
	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(uidSet(uid), []goimap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || raw != nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: uid fetch %d: %w", domain.ErrProtocol, uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: read body of uid %d: %w", domain.ErrProtocol, uid, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: uid %d returned no body", domain.ErrProtocol, uid)
	}
	return raw, nil
}

// MarkSeen adds \Seen to the message.
func (s *Session) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.c.UidStore(uidSet(uid), item, []interface{}{goimap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("%w: mark uid %d seen: %w", domain.ErrProtocol, uid, err)
	}
	return nil
}

// Logout ends the session and closes the connection.
func (s *Session) Logout() error {
	return s.c.Logout()
}

// searchCriteria matches UNSEEN NOT SUBJECT "<exclude>".
func searchCriteria(excludeSubject string) *goimap.SearchCriteria {
	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}
	if excludeSubject != "" {
		criteria.Not = []*goimap.SearchCriteria{{
			Header: textproto.MIMEHeader{"Subject": {excludeSubject}},
		}}
	}
	return criteria
}

func uidSet(uid uint32) *goimap.SeqSet {
	set := new(goimap.SeqSet)
	set.AddNum(uid)
	return set
}
