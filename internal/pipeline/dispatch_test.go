package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
	"github.com/couchcryptid/dispatch-alert-relay/internal/pipeline"
)

// --- mocks ---

type sentMessage struct {
	chatID string
	text   string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(_ context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text})
	return m.err
}

func (m *mockSender) byChat() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	for _, s := range m.sent {
		out[s.chatID] = append(out[s.chatID], s.text)
	}
	return out
}

type mockPublisher struct {
	events []domain.IncidentEvent
	err    error
}

func (m *mockPublisher) PublishIncident(_ context.Context, event domain.IncidentEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func mustRegistry(t *testing.T, names, primary, bot []string) *domain.Registry {
	t.Helper()
	reg, err := domain.NewRegistry(names, primary, bot)
	require.NoError(t, err)
	return reg
}

func stageFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// --- tests ---

func TestDispatcher_AlertsMatchedStationOnBothChannels(t *testing.T) {
	reg := mustRegistry(t,
		[]string{"Wache1", "Wache2"},
		[]string{"-1001", "-1002"},
		[]string{"-2001", "-2002"},
	)
	sender := &mockSender{}
	d := pipeline.NewDispatcher(reg, sender, nil, 4, newTestMetrics(), discardLogger())

	path := stageFixture(t, "alarm.xml")
	require.NoError(t, d.Dispatch(context.Background(), path))

	rec, err := domain.ExtractFile(path)
	require.NoError(t, err)
	alert := domain.Render(rec)

	got := sender.byChat()
	assert.Equal(t, map[string][]string{
		"-2001": {alert.Bot},
		"-1001": {alert.ForStation("Wache1")},
	}, got, "exactly one message per Wache1 channel and nothing for Wache2")
	assert.Contains(t, got["-1001"][0], "Einsatz für: Wache1")
	assert.Contains(t, got["-1001"][0], "https://maps.google.com/maps?q=50.1109,8.6821")
	assert.Contains(t, got["-2001"][0], "/tts")
}

func TestDispatcher_MissingChannelSkipsOnlyThatChannel(t *testing.T) {
	reg := mustRegistry(t,
		[]string{"Wache1", "Musterstadt"},
		[]string{"-1001", ""},
		[]string{"", "-2002"},
	)
	sender := &mockSender{}
	d := pipeline.NewDispatcher(reg, sender, nil, 2, newTestMetrics(), discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), stageFixture(t, "alarm.xml")))

	got := sender.byChat()
	require.Len(t, got, 2)
	assert.Len(t, got["-1001"], 1)
	assert.Len(t, got["-2002"], 1)
}

func TestDispatcher_SendFailureDoesNotStopOtherDeliveries(t *testing.T) {
	reg := mustRegistry(t,
		[]string{"Wache1", "Nord"},
		[]string{"-1001", "-1003"},
		[]string{"-2001", "-2003"},
	)
	sender := &mockSender{err: domain.ErrTransport}
	d := pipeline.NewDispatcher(reg, sender, nil, 1, newTestMetrics(), discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), stageFixture(t, "alarm.xml")))

	chats := make([]string, 0, 4)
	for chat := range sender.byChat() {
		chats = append(chats, chat)
	}
	sort.Strings(chats)
	assert.Equal(t, []string{"-1001", "-1003", "-2001", "-2003"}, chats)
}

func TestDispatcher_NoMatchSendsNothing(t *testing.T) {
	reg := mustRegistry(t, []string{"Wache7"}, []string{"-1007"}, []string{"-2007"})
	sender := &mockSender{}
	pub := &mockPublisher{}
	d := pipeline.NewDispatcher(reg, sender, pub, 4, newTestMetrics(), discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), stageFixture(t, "alarm.xml")))

	assert.Empty(t, sender.byChat())
	require.Len(t, pub.events, 1)
	assert.Empty(t, pub.events[0].Stations)
}

func TestDispatcher_ParseErrorIsReturned(t *testing.T) {
	reg := mustRegistry(t, []string{"Wache1"}, []string{"-1001"}, []string{"-2001"})
	sender := &mockSender{}
	d := pipeline.NewDispatcher(reg, sender, nil, 4, newTestMetrics(), discardLogger())

	path := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<Einsatz><Column name="x" value="Wache1"`), 0o600))

	err := d.Dispatch(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrParse)
	assert.Empty(t, sender.byChat())
}

func TestDispatcher_PublishesIncidentEvent(t *testing.T) {
	reg := mustRegistry(t, []string{"Wache1"}, []string{"-1001"}, []string{"-2001"})
	pub := &mockPublisher{}
	d := pipeline.NewDispatcher(reg, &mockSender{}, pub, 4, newTestMetrics(), discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), stageFixture(t, "alarm.xml")))

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	_, err := uuid.Parse(ev.ID)
	assert.NoError(t, err, "event id should be a uuid")
	assert.Equal(t, "2024-0815", ev.IncidentNumber)
	assert.Equal(t, "B2 Wohnungsbrand", ev.Keyword)
	assert.Equal(t, []string{"Wache1"}, ev.Stations)
	assert.Equal(t, "alarm.xml", ev.Source)
	assert.Len(t, ev.Entries, 26)
}

func TestDispatcher_PublishFailureIsNotFatal(t *testing.T) {
	reg := mustRegistry(t, []string{"Wache1"}, []string{"-1001"}, []string{"-2001"})
	sender := &mockSender{}
	pub := &mockPublisher{err: errors.New("broker unavailable")}
	d := pipeline.NewDispatcher(reg, sender, pub, 4, newTestMetrics(), discardLogger())

	require.NoError(t, d.Dispatch(context.Background(), stageFixture(t, "alarm.xml")))
	assert.Len(t, sender.byChat(), 2)
}

func TestDispatcher_KeywordAndCityMentionStationOnce(t *testing.T) {
	reg := mustRegistry(t,
		[]string{"Wache1", "Wache2"},
		[]string{"-1001", "-1002"},
		[]string{"-2001", "-2002"},
	)
	sender := &mockSender{}
	d := pipeline.NewDispatcher(reg, sender, nil, 4, newTestMetrics(), discardLogger())

	// Keyword (field 5) and city (field 7) both name the station.
	path := filepath.Join(t.TempDir(), "alarm.xml")
	doc := `<Einsatz>
  <Column name="Einsatznummer" value="2024-1"/>
  <Column name="Datum" value="03.05.2024 14:22"/>
  <Column name="Meldender" value=""/>
  <Column name="NummerdesMeldenden" value=""/>
  <Column name="Meldeweg" value=""/>
  <Column name="Einsatzstichwort" value="B3 Wache1"/>
  <Column name="Meldebild" value="Brand"/>
  <Column name="Ort" value="wache1 Süd"/>
</Einsatz>`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	require.NoError(t, d.Dispatch(context.Background(), path))

	got := sender.byChat()
	require.Len(t, got, 2, "only Wache1's two channels")
	require.Len(t, got["-1001"], 1)
	require.Len(t, got["-2001"], 1)
	assert.Contains(t, got["-1001"][0], "Einsatz für: Wache1")
	assert.Contains(t, got["-2001"][0], "B3 Wache1")
}
