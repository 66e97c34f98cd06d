// Package publish renders gauge series into HTML and delivers the page
package publish

import (
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/shopspring/decimal"
)

const (
	chartWidth  = 800
	chartHeight = 300
	chartMargin = 10

	// DefaultSpan is how much history the chart shows
	DefaultSpan = 14 * 24 * time.Hour
)

// StationPage is the input of RenderStation
type StationPage struct {
	Station  entities.Station
	Readings []entities.Reading // Oldest first
	Now      time.Time
	Span     time.Duration
}

type chartView struct {
	ID       string
	Title    string
	Width    int
	Height   int
	Points   string
	ShowLow  bool
	LowY     string
	ShowHigh bool
	HighY    string
	From     string
	To       string
}

var stationTemplate = template.Must(template.New("station").Parse(`<section class="station" id="station-{{.ID}}">
<h2>{{.Title}}</h2>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 {{.Width}} {{.Height}}" width="100%" role="img">
<polyline class="level" fill="none" stroke="#1f77b4" stroke-width="2" points="{{.Points}}"></polyline>
{{- if .ShowLow}}
<line class="low-water" x1="0" x2="{{.Width}}" y1="{{.LowY}}" y2="{{.LowY}}" stroke="green" stroke-width="1"></line>
{{- end}}
{{- if .ShowHigh}}
<line class="high-water" x1="0" x2="{{.Width}}" y1="{{.HighY}}" y2="{{.HighY}}" stroke="red" stroke-width="1"></line>
{{- end}}
</svg>
<p class="range">{{.From}} to {{.To}}</p>
</section>`))

// RenderStation renders the title and line chart of one station as an HTML section
func RenderStation(page StationPage) (string, error) {
	if len(page.Readings) == 0 {
		return "", errors.New("no readings to render")
	}
	if page.Span <= 0 {
		page.Span = DefaultSpan
	}
	if page.Now.IsZero() {
		page.Now = time.Now()
	}

	latest := page.Readings[len(page.Readings)-1]
	shown := visible(page.Readings, page.Now.Add(-page.Span))

	lo, hi := bounds(shown, page.Station)
	scaleY := func(v decimal.Decimal) float64 {
		span := hi.Sub(lo).InexactFloat64()
		if span == 0 {
			return chartHeight / 2
		}
		frac := v.Sub(lo).InexactFloat64() / span
		return chartMargin + (1-frac)*(chartHeight-2*chartMargin)
	}

	first, last := shown[0].Timestamp, shown[len(shown)-1].Timestamp
	scaleX := func(ts time.Time) float64 {
		total := last.Sub(first).Seconds()
		if total == 0 {
			return chartWidth / 2
		}
		return chartMargin + ts.Sub(first).Seconds()/total*(chartWidth-2*chartMargin)
	}

	points := make([]string, len(shown))
	for i, r := range shown {
		points[i] = fmt.Sprintf("%.1f,%.1f", scaleX(r.Timestamp), scaleY(r.Level))
	}

	view := chartView{
		ID: page.Station.ID,
		Title: fmt.Sprintf("%s Gauge, current level: %sm at %s",
			page.Station.Label(), latest.Level.String(), latest.Timestamp.Format("2006-01-02 15:04 MST")),
		Width:    chartWidth,
		Height:   chartHeight,
		Points:   strings.Join(points, " "),
		ShowLow:  !page.Station.LowWater.IsZero(),
		LowY:     fmt.Sprintf("%.1f", scaleY(page.Station.LowWater)),
		ShowHigh: !page.Station.HighWater.IsZero(),
		HighY:    fmt.Sprintf("%.1f", scaleY(page.Station.HighWater)),
		From:     first.Format("2006-01-02 15:04"),
		To:       last.Format("2006-01-02 15:04"),
	}

	var b strings.Builder
	if err := stationTemplate.Execute(&b, view); err != nil {
		return "", err
	}
	return b.String(), nil
}

// visible returns the readings after since, or all of them when none are that recent
func visible(readings []entities.Reading, since time.Time) []entities.Reading {
	for i, r := range readings {
		if r.Timestamp.After(since) {
			return readings[i:]
		}
	}
	return readings
}

// bounds returns the level range covering the readings and the station thresholds
func bounds(readings []entities.Reading, station entities.Station) (decimal.Decimal, decimal.Decimal) {
	lo, hi := readings[0].Level, readings[0].Level
	for _, r := range readings[1:] {
		lo = decimal.Min(lo, r.Level)
		hi = decimal.Max(hi, r.Level)
	}
	if !station.LowWater.IsZero() {
		lo = decimal.Min(lo, station.LowWater)
	}
	if !station.HighWater.IsZero() {
		hi = decimal.Max(hi, station.HighWater)
	}
	return lo, hi
}
