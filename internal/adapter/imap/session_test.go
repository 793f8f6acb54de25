package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/mailbox"
)

var _ mailbox.Session = (*Session)(nil)
var _ mailbox.Dialer = (*Dialer)(nil)

type fakeClient struct {
	searched   *goimap.SearchCriteria
	searchUIDs []uint32
	searchErr  error

	fetchItems []goimap.FetchItem
	fetchSet   string
	body       []byte
	fetchErr   error

	storeSet   string
	storeItem  goimap.StoreItem
	storeValue interface{}
	storeErr   error

	loggedOut bool
}

func (f *fakeClient) UidSearch(criteria *goimap.SearchCriteria) ([]uint32, error) {
	f.searched = criteria
	return f.searchUIDs, f.searchErr
}

func (f *fakeClient) UidFetch(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error {
	defer close(ch)
	f.fetchSet = seqset.String()
	f.fetchItems = items
	if f.fetchErr != nil {
		return f.fetchErr
	}
	if f.body != nil {
		msg := goimap.NewMessage(1, items)
		section := &goimap.BodySectionName{}
		msg.Body[section] = bytes.NewReader(f.body)
		ch <- msg
	}
	return nil
}

func (f *fakeClient) UidStore(seqset *goimap.SeqSet, item goimap.StoreItem, value interface{}, _ chan *goimap.Message) error {
	f.storeSet = seqset.String()
	f.storeItem = item
	f.storeValue = value
	return f.storeErr
}

func (f *fakeClient) Logout() error {
	f.loggedOut = true
	return nil
}

func TestSearchCriteria(t *testing.T) {
	c := searchCriteria("Einsatzabschluss")

	assert.Equal(t, []string{goimap.SeenFlag}, c.WithoutFlags)
	require.Len(t, c.Not, 1)
	assert.Equal(t, []string{"Einsatzabschluss"}, c.Not[0].Header.Values("Subject"))
}

func TestSearchCriteria_NoExclusion(t *testing.T) {
	c := searchCriteria("")

	assert.Equal(t, []string{goimap.SeenFlag}, c.WithoutFlags)
	assert.Empty(t, c.Not)
}

func TestSession_SearchUnseen(t *testing.T) {
	fc := &fakeClient{searchUIDs: []uint32{3, 4}}
	s := newSession(fc, 77)

	uids, err := s.SearchUnseen(context.Background(), "Einsatzabschluss")
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, uids)
	assert.Equal(t, uint32(77), s.UIDValidity())
	require.NotNil(t, fc.searched)
	assert.Len(t, fc.searched.Not, 1)
}

func TestSession_SearchUnseen_Error(t *testing.T) {
	s := newSession(&fakeClient{searchErr: errors.New("BAD")}, 1)

	_, err := s.SearchUnseen(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestSession_FetchPeeksBody(t *testing.T) {
	fc := &fakeClient{body: []byte("Subject: Alarm\r\n\r\nbody")}
	s := newSession(fc, 1)

	raw, err := s.Fetch(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Subject: Alarm\r\n\r\nbody", string(raw))
	assert.Equal(t, "42", fc.fetchSet)
	require.Len(t, fc.fetchItems, 1)
	assert.Equal(t, goimap.FetchItem("BODY.PEEK[]"), fc.fetchItems[0])
}

func TestSession_FetchErrors(t *testing.T) {
	_, err := newSession(&fakeClient{fetchErr: errors.New("connection closed")}, 1).Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrProtocol)

	_, err = newSession(&fakeClient{}, 1).Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrProtocol, "missing body")
}

func TestSession_MarkSeen(t *testing.T) {
	fc := &fakeClient{}
	s := newSession(fc, 1)

	require.NoError(t, s.MarkSeen(context.Background(), 9))
	assert.Equal(t, "9", fc.storeSet)
	assert.Equal(t, goimap.FormatFlagsOp(goimap.AddFlags, true), fc.storeItem)
	assert.Equal(t, []interface{}{goimap.SeenFlag}, fc.storeValue)
}

func TestSession_CancelledContext(t *testing.T) {
	fc := &fakeClient{}
	s := newSession(fc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SearchUnseen(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.MarkSeen(ctx, 1), context.Canceled)
	assert.Nil(t, fc.searched)
}

func TestSession_Logout(t *testing.T) {
	fc := &fakeClient{}
	require.NoError(t, newSession(fc, 1).Logout())
	assert.True(t, fc.loggedOut)
}

// silentServer accepts connections and never writes to them.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func testDialer(addr string, timeout time.Duration) *Dialer {
	return &Dialer{
		addr:     addr,
		username: "alarm",
		password: "secret",
		folder:   "INBOX",
		timeout:  timeout,
		tls:      &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // test server
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func dialAsync(ctx context.Context, d *Dialer) <-chan error {
	done := make(chan error, 1)
	go func() {
		s, err := d.Dial(ctx)
		if s != nil {
			_ = s.Logout()
		}
		done <- err
	}()
	return done
}

func TestDialer_StalledServerTimesOut(t *testing.T) {
	d := testDialer(silentServer(t), 200*time.Millisecond)

	select {
	case err := <-dialAsync(context.Background(), d):
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("dial did not honor the timeout against a silent server")
	}
}

func TestDialer_CancelAbortsStalledDial(t *testing.T) {
	d := testDialer(silentServer(t), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := dialAsync(ctx, d)
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("dial kept blocking after cancellation")
	}
}
