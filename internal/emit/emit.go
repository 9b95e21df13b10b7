// Package emit turns event state into deduplicated notification intents.
package emit

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// snapshot is the last public state notified for one event.
type snapshot struct {
	tier      domain.DisseminationState
	revision  int
	retracted bool
	tsunami   bool
}

// Emitter compares each event with the state it last notified and returns
// only what changed. It is not safe for concurrent use.
type Emitter struct {
	clock clockwork.Clock
	last  map[string]snapshot
	sent  map[string]map[string]struct{} // event id -> recipient ids
}

// New creates an Emitter.
func New(clock clockwork.Clock) *Emitter {
	return &Emitter{
		clock: clock,
		last:  make(map[string]snapshot),
		sent:  make(map[string]map[string]struct{}),
	}
}

// Emit returns the notifications ev's current state calls for. Calling it
// again on an unchanged event returns nothing.
func (e *Emitter) Emit(ev *domain.Event) []domain.Notification {
	now := e.clock.Now().UTC()
	prev := e.last[ev.ID]
	cur := snapshot{
		tier:      ev.Dissemination,
		revision:  ev.Revision,
		retracted: ev.State == domain.EventRetracted,
		tsunami:   ev.Tsunami,
	}
	e.last[ev.ID] = cur

	var out []domain.Notification
	if cur.retracted {
		if !prev.retracted && prev.tier > domain.DisseminationNotSent {
			out = append(out, e.notification(domain.NotificationRetraction, ev, "", now))
		}
		return out
	}

	if cur.tier > domain.DisseminationNotSent && (cur.tier != prev.tier || cur.revision != prev.revision) {
		out = append(out, e.notification(tierKind(cur.tier), ev, "", now))
	}
	if cur.tsunami && !prev.tsunami {
		out = append(out, e.notification(domain.NotificationTsunami, ev, "", now))
	}
	return append(out, e.personalized(ev, now)...)
}

func (e *Emitter) personalized(ev *domain.Event, now time.Time) []domain.Notification {
	if len(ev.PendingPersonal) == 0 {
		return nil
	}
	pending := slices.Clone(ev.PendingPersonal)
	slices.SortFunc(pending, func(a, b domain.PersonalAlert) int {
		return cmp.Or(a.ArrivalAt.Compare(b.ArrivalAt), cmp.Compare(a.RecipientID, b.RecipientID))
	})

	sent := e.sent[ev.ID]
	if sent == nil {
		sent = make(map[string]struct{})
		e.sent[ev.ID] = sent
	}
	var out []domain.Notification
	for _, p := range pending {
		if _, done := sent[p.RecipientID]; done {
			continue
		}
		sent[p.RecipientID] = struct{}{}
		n := e.notification(domain.NotificationPersonalized, ev, p.RecipientID, now)
		n.RenderedFields["distance_km"] = formatFloat(p.DistanceKm, 0)
		n.RenderedFields["arrival_at"] = p.ArrivalAt.UTC().Format(time.RFC3339)
		n.RenderedFields["seconds_to_arrival"] = strconv.Itoa(int(p.ArrivalAt.Sub(now).Seconds()))
		out = append(out, n)
	}
	return out
}

// Forget drops the state kept for a collected event.
func (e *Emitter) Forget(eventID string) {
	delete(e.last, eventID)
	delete(e.sent, eventID)
}

func (e *Emitter) notification(kind domain.NotificationKind, ev *domain.Event, recipientID string, now time.Time) domain.Notification {
	return domain.Notification{
		ID:             domain.NotificationID(kind, ev.ID, recipientID, ev.Revision),
		Kind:           kind,
		EventID:        ev.ID,
		RecipientID:    recipientID,
		Revision:       ev.Revision,
		RenderedFields: Render(ev),
		CreatedAt:      now,
	}
}

func tierKind(t domain.DisseminationState) domain.NotificationKind {
	switch t {
	case domain.DisseminationWarningIssued:
		return domain.NotificationWarning
	case domain.DisseminationConfirmed:
		return domain.NotificationConfirmed
	default:
		return domain.NotificationPreliminary
	}
}

// Render flattens the public state of ev into plain field values. Fields
// without a value are omitted.
func Render(ev *domain.Event) map[string]string {
	f := map[string]string{
		"state":          string(ev.State),
		"tier":           ev.Dissemination.String(),
		"latitude":       formatFloat(ev.Epicenter.Lat, 3),
		"longitude":      formatFloat(ev.Epicenter.Lon, 3),
		"origin_time":    ev.OriginTime.UTC().Format(time.RFC3339),
		"felt_radius_km": formatFloat(ev.FeltRadiusKm, 0),
		"official":       strconv.FormatBool(ev.Official),
	}
	if ev.Magnitude != nil {
		f["magnitude"] = formatFloat(*ev.Magnitude, 1)
	}
	if ev.DepthKm != nil {
		f["depth_km"] = formatFloat(*ev.DepthKm, 0)
	}
	if ev.Toponym != "" {
		f["toponym"] = ev.Toponym
	}
	if ev.Region != "" {
		f["region"] = ev.Region
	}
	if ev.AlertLevel != domain.AlertNone {
		f["alert_level"] = ev.AlertLevel.String()
	}
	if len(ev.Sources) > 0 {
		f["sources"] = strings.Join(ev.Sources, ",")
	}
	if ev.Tsunami {
		f["tsunami"] = "true"
	}

	en := ev.Enrichment
	if en == nil {
		return f
	}
	if en.Region != nil {
		if en.Region.Toponym != "" {
			f["toponym"] = en.Region.Toponym
		}
		if en.Region.Name != "" {
			f["region"] = en.Region.Name
		}
	}
	if en.Population != nil {
		f["population"] = strconv.FormatInt(*en.Population, 10)
	}
	if len(en.Reactors) > 0 {
		names := make([]string, len(en.Reactors))
		for i, r := range en.Reactors {
			names[i] = r.Name
		}
		f["reactors"] = strings.Join(names, ", ")
	}
	if len(en.Imagery) > 0 {
		urls := make([]string, len(en.Imagery))
		for i, im := range en.Imagery {
			urls[i] = im.URL
		}
		f["imagery"] = strings.Join(urls, " ")
	}
	return f
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
