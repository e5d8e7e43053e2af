package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/muesli/reflow/truncate"

	"schedadmin/internal/layout"
	appLog "schedadmin/internal/log"
)

//go:embed templates/day.html
var templateFS embed.FS

var dayTemplate = template.Must(template.ParseFS(templateFS, "templates/day.html"))

// pixelsPerMinute scales the day grid; 24h is 1440px tall.
const pixelsPerMinute = 1

const summaryWidth = 48

type dayViewHour struct {
	Top   int
	Label string
}

type dayViewEvent struct {
	Top, Height int
	Left, Width string
	Calendar    string
	Summary     string
	Full        string
	Teacher     string
	TimeRange   string
}

type dayView struct {
	Title      string
	Timezone   string
	GridHeight int
	Hours      []dayViewHour
	Events     []dayViewEvent
}

func newDayView(day time.Time, positioned []layout.Positioned) dayView {
	v := dayView{
		Title:      day.Format("Monday, 2 January 2006"),
		Timezone:   day.Location().String(),
		GridHeight: 24 * 60 * pixelsPerMinute,
	}
	for h := 0; h < 24; h++ {
		v.Hours = append(v.Hours, dayViewHour{Top: h * 60 * pixelsPerMinute, Label: fmt.Sprintf("%02d:00", h)})
	}
	loc := day.Location()
	for _, p := range positioned {
		ev := p.Event
		v.Events = append(v.Events, dayViewEvent{
			Top:       p.StartMinutes * pixelsPerMinute,
			Height:    layout.DisplayMinutes(p) * pixelsPerMinute,
			Left:      fmt.Sprintf("%.4f", p.LeftFraction*100),
			Width:     fmt.Sprintf("%.4f", p.WidthFraction*100),
			Calendar:  ev.CalendarSource,
			Summary:   truncate.StringWithTail(ev.Summary, summaryWidth, "…"),
			Full:      ev.Summary,
			Teacher:   ev.Teacher,
			TimeRange: ev.Start.Time.In(loc).Format("15:04") + "–" + ev.End.Time.In(loc).Format("15:04"),
		})
	}
	return v
}

// handleDayView renders the day as HTML. The root element carries
// data-ready="true" for the snapshot capture.
func (s *Server) handleDayView(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	positioned, _, err := s.layoutDay(r, day)
	if err != nil {
		appLog.Error("day view: layout failed", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := dayTemplate.Execute(&buf, newDayView(day, positioned)); err != nil {
		appLog.Error("day view: render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
