package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// Itinerary email category and tags.
const (
	CategoryItinerary = "booking_itinerary"
	TagSessionID      = "session_id"
	TagOutcome        = "outcome"
	TagDate           = "date"
)

// ItineraryNotifier emails the patient the appointments booked in a session.
type ItineraryNotifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewItineraryNotifier creates a notifier. A nil sender disables email.
func NewItineraryNotifier(email EmailSender, logger *logging.Logger) *ItineraryNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &ItineraryNotifier{email: email, logger: logger}
}

// SendItinerary emails the succeeded slots of the session. Patients without
// an email address are skipped.
func (n *ItineraryNotifier) SendItinerary(ctx context.Context, session *booking.Session) error {
	if n.email == nil {
		n.logger.Debug("notify: email not configured, skipping itinerary")
		return nil
	}
	to := strings.TrimSpace(session.Patient.Email)
	if to == "" {
		n.logger.Debug("notify: patient has no email, skipping itinerary", "session_id", session.ID)
		return nil
	}
	booked := session.Succeeded()
	if len(booked) == 0 {
		return nil
	}

	msg := EmailMessage{
		To:      to,
		ToName:  session.Patient.Name,
		Subject: fmt.Sprintf("Suas consultas de %s", plain(session.Result.DateFormatted)),
		Body:    itineraryText(session, booked),
		HTML:    itineraryHTML(session, booked),
	}
	msg.Category = CategoryItinerary
	msg.Tags = map[string]string{
		TagSessionID: session.ID,
		TagOutcome:   string(session.State),
		TagDate:      strconv.Itoa(session.Result.Date),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send itinerary: %w", err)
	}
	n.logger.Info("itinerary email sent", "session_id", session.ID, "appointments", len(booked))
	return nil
}

func itineraryText(session *booking.Session, booked []scheduling.ScheduleSlot) string {
	var b strings.Builder
	if session.Patient.Name != "" {
		fmt.Fprintf(&b, "Olá, %s.\n\n", plain(session.Patient.Name))
	}
	fmt.Fprintf(&b, "Suas consultas em %s estão confirmadas:\n\n", plain(session.Result.DateFormatted))
	for _, s := range booked {
		fmt.Fprintf(&b, "- %s às %s com %s (%s)\n",
			plain(s.Specialty.Description), plain(s.TimeSlot.ClockTime), plain(s.TimeSlot.ProfessionalName), plain(s.TimeSlot.Unit.Name))
	}
	if failed := session.Failed(); len(failed) > 0 {
		b.WriteString("\nNão foi possível agendar:\n\n")
		for _, f := range failed {
			fmt.Fprintf(&b, "- %s: %s\n", plain(f.Slot.Specialty.Description), plain(f.Message))
		}
	}
	return b.String()
}

// plain flattens a value onto one line so it cannot add lines or control
// characters to the text body.
func plain(v string) string {
	v = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, v)
	return strings.Join(strings.Fields(v), " ")
}

func itineraryHTML(session *booking.Session, booked []scheduling.ScheduleSlot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Suas consultas em <strong>%s</strong> estão confirmadas:</p><ul>",
		html.EscapeString(session.Result.DateFormatted))
	for _, s := range booked {
		fmt.Fprintf(&b, "<li><strong>%s</strong> às %s com %s (%s)</li>",
			html.EscapeString(s.Specialty.Description),
			html.EscapeString(s.TimeSlot.ClockTime),
			html.EscapeString(s.TimeSlot.ProfessionalName),
			html.EscapeString(s.TimeSlot.Unit.Name),
		)
	}
	b.WriteString("</ul>")
	if failed := session.Failed(); len(failed) > 0 {
		b.WriteString("<p>Não foi possível agendar:</p><ul>")
		for _, f := range failed {
			fmt.Fprintf(&b, "<li>%s: %s</li>", html.EscapeString(f.Slot.Specialty.Description), html.EscapeString(f.Message))
		}
		b.WriteString("</ul>")
	}
	return b.String()
}
