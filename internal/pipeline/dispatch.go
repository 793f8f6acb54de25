package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
)

// Sender delivers one text message to one chat. Failures are logged by the
// sender; the error only reports the outcome.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// IncidentPublisher receives every dispatched incident.
type IncidentPublisher interface {
	PublishIncident(ctx context.Context, event domain.IncidentEvent) error
}

// Dispatcher turns a staged attachment into station alerts.
// It implements mailbox.Dispatcher.
type Dispatcher struct {
	registry  *domain.Registry
	sender    Sender
	publisher IncidentPublisher
	workers   int
	metrics   *observability.Metrics
	logger    *slog.Logger
	newID     func() string
}

// NewDispatcher creates a Dispatcher. publisher may be nil to disable the
// incident feed.
func NewDispatcher(registry *domain.Registry, sender Sender, publisher IncidentPublisher, workers int, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		sender:    sender,
		publisher: publisher,
		workers:   max(workers, 1),
		metrics:   metrics,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

type delivery struct {
	station string
	kind    domain.ChannelKind
	chatID  string
	text    string
}

// Dispatch extracts, matches and renders the attachment at path, then
// alerts every matched station on both of its channels. Only a
// *domain.ParseError is returned; delivery failures are logged by the sender.
func (d *Dispatcher) Dispatch(ctx context.Context, path string) error {
	start := time.Now()

	rec, err := domain.ExtractFile(path)
	if err != nil {
		return err
	}

	stations := domain.Match(rec, d.registry)
	if len(stations) == 0 {
		d.metrics.UnmatchedIncidents.Inc()
		d.logger.Info("no subscribed station in incident", "incident", rec.Number(), "source", rec.Source)
	} else {
		d.logger.Info("incident matched", "incident", rec.Number(), "keyword", rec.Keyword(), "stations", stations)
	}

	alert := domain.Render(rec)
	d.deliver(ctx, d.plan(stations, alert))
	d.publish(ctx, rec, stations)

	d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return nil
}

// plan resolves each station's channels. The voice report goes out first
// for every station.
func (d *Dispatcher) plan(stations []string, alert domain.RenderedAlert) []delivery {
	jobs := make([]delivery, 0, 2*len(stations))
	for _, station := range stations {
		d.metrics.StationAlerts.WithLabelValues(station).Inc()
		for _, kind := range []domain.ChannelKind{domain.ChannelBot, domain.ChannelPrimary} {
			chatID, ok := d.registry.Lookup(station, kind)
			if !ok {
				d.logger.Warn("no chat configured for station, skipping",
					"station", station, "channel", kind.String(), "error", domain.ErrLookupMiss)
				continue
			}
			text := alert.Bot
			if kind == domain.ChannelPrimary {
				text = alert.ForStation(station)
			}
			jobs = append(jobs, delivery{station: station, kind: kind, chatID: chatID, text: text})
		}
	}
	return jobs
}

func (d *Dispatcher) deliver(ctx context.Context, jobs []delivery) {
	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := d.sender.Send(ctx, job.chatID, job.text); err != nil {
				d.logger.Debug("delivery failed", "station", job.station, "channel", job.kind.String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) publish(ctx context.Context, rec domain.IncidentRecord, stations []string) {
	if d.publisher == nil {
		return
	}
	event := domain.NewIncidentEvent(d.newID(), rec, stations)
	if err := d.publisher.PublishIncident(ctx, event); err != nil {
		d.logger.Warn("publish incident failed", "id", event.ID, "incident", event.IncidentNumber, "error", err)
	}
}
