package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// opLog records session and dispatcher calls in order.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeSession struct {
	log         *opLog
	validity    uint32
	uids        []uint32
	messages    map[uint32][]byte
	searchErr   error
	fetchErr    error
	markErr     error
	excludes    []string
	loggedOut   bool
	fetchCount  int
	searchCount int
}

func (s *fakeSession) UIDValidity() uint32 { return s.validity }

func (s *fakeSession) SearchUnseen(_ context.Context, exclude string) ([]uint32, error) {
	s.searchCount++
	s.excludes = append(s.excludes, exclude)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.uids, nil
}

func (s *fakeSession) Fetch(_ context.Context, uid uint32) ([]byte, error) {
	s.fetchCount++
	s.log.add("fetch:%d", uid)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	raw, ok := s.messages[uid]
	if !ok {
		return nil, fmt.Errorf("no message %d", uid)
	}
	return raw, nil
}

func (s *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	s.log.add("mark:%d", uid)
	return s.markErr
}

func (s *fakeSession) Logout() error {
	s.loggedOut = true
	s.log.add("logout")
	return nil
}

// fakeDialer hands out results in order; once exhausted it repeats the last.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	session *fakeSession
	err     error
}

func (d *fakeDialer) Dial(_ context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := min(d.calls, len(d.results)-1)
	d.calls++
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingDispatcher struct {
	log      *opLog
	err      error
	paths    []string
	contents []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, path string) error {
	d.log.add("dispatch:%s", filepath.Base(path))
	d.paths = append(d.paths, path)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	d.contents = append(d.contents, string(data))
	return d.err
}

var errAuth = errors.New("authentication failed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type part struct {
	contentType string
	disposition string
	body        string
}

// buildMail assembles a multipart/mixed message; attachment bodies are base64 encoded.
func buildMail(subject string, parts ...part) []byte {
	const boundary = "ALARM-BOUNDARY"
	var b strings.Builder
	b.WriteString("From: Leitstelle <leitstelle@example.org>\r\n")
	b.WriteString("To: alarm@example.org\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"" + boundary + "\"\r\n\r\n")
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: " + p.contentType + "\r\n")
		if p.disposition != "" {
			b.WriteString("Content-Disposition: " + p.disposition + "\r\n")
			b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
			b.WriteString(base64.StdEncoding.EncodeToString([]byte(p.body)) + "\r\n")
			continue
		}
		b.WriteString("\r\n" + p.body + "\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

const alarmXML = `<?xml version="1.0" encoding="UTF-8"?>
<Alarm>
  <Column name="Einsatznummer" value="4711"/>
  <Column name="Ort" value="Musterstadt"/>
</Alarm>`

func alarmMail(filename string) []byte {
	return buildMail("Alarmierung",
		part{contentType: "text/plain; charset=utf-8", body: "Neuer Einsatz"},
		part{contentType: "text/xml", disposition: `attachment; filename="` + filename + `"`, body: alarmXML},
	)
}
