package pipeline

import (
	"context"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

var eventColumns = []warehouse.Column{
	{Name: "event_id", Type: "VARCHAR"},
	{Name: "user_id", Type: "BIGINT"},
	{Name: "session_id", Type: "VARCHAR"},
	{Name: "event_type", Type: "VARCHAR"},
	{Name: "timestamp", Type: "TIMESTAMP"},
	{Name: "utm_source", Type: "VARCHAR"},
	{Name: "utm_medium", Type: "VARCHAR"},
	{Name: "utm_campaign", Type: "VARCHAR"},
	{Name: "page_url", Type: "VARCHAR"},
	{Name: "referrer_url", Type: "VARCHAR"},
	{Name: "user_agent", Type: "VARCHAR"},
	{Name: "ip_address", Type: "VARCHAR"},
	{Name: "country", Type: "VARCHAR"},
	{Name: "device_type", Type: "VARCHAR"},
	{Name: "browser", Type: "VARCHAR"},
	{Name: "os", Type: "VARCHAR"},
	{Name: "screen_resolution", Type: "VARCHAR"},
	{Name: "is_mobile", Type: "BOOLEAN"},
	{Name: "duration_seconds", Type: "BIGINT"},
	{Name: "revenue", Type: "DOUBLE"},
}

var (
	eventTypes = []weightedChoice{
		{"page_view", 40},
		{"click", 25},
		{"scroll", 15},
		{"login", 8},
		{"add_to_cart", 4},
		{"logout", 3},
		{"signup", 2},
		{"search", 2},
		{"purchase", 1},
	}
	eventSources = []weightedChoice{
		{"google", 30},
		{"direct", 25},
		{"facebook", 20},
		{"email", 10},
		{"instagram", 8},
		{"twitter", 4},
		{"linkedin", 3},
	}
	eventMediums = []string{"cpc", "organic", "email", "social", "referral"}
	deviceTypes  = []string{"desktop", "mobile", "tablet"}
	browsers     = []string{"Chrome", "Firefox", "Safari", "Edge", "Opera"}
	osNames      = []string{"Windows", "macOS", "Linux", "iOS", "Android"}
	resolutions  = []string{
		"1920x1080", "1366x768", "2560x1440", "1440x900", "375x812",
		"414x896", "768x1024",
	}
)

// eventExtractor generates the raw_events table. A minority of power
// users accounts for a disproportionate share of traffic, which gives
// downstream aggregations a realistic skew.
type eventExtractor struct{}

func (*eventExtractor) Name() string { return "events" }

func (*eventExtractor) Extract(ctx context.Context, params Params) (*warehouse.Batch, error) {
	r := newRNG(params.Seed)
	now := params.clock()
	windowStart := now.AddDate(0, 0, -90)

	maxUser := params.NumUsers
	if maxUser <= 0 {
		maxUser = DefaultNumUsers
	}
	powerUsers := maxUser / 5
	if powerUsers < 1 {
		powerUsers = 1
	}

	rows := make([][]any, 0, params.NumEvents)
	for i := 0; i < params.NumEvents; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		userID := int64(1 + r.Intn(maxUser))
		if r.chance(30) {
			userID = int64(1 + r.Intn(powerUsers))
		}

		eventType := r.weighted(eventTypes)

		var sessionID, campaign, referrer any
		if !r.chance(10) {
			sessionID = r.uuid()
		}
		if r.chance(30) {
			campaign = r.campaign()
		}
		if r.chance(70) {
			referrer = r.referrerURL()
		}

		var duration, revenue any
		if eventType == "page_view" {
			duration = int64(1 + r.Intn(1800))
		}
		if eventType == "purchase" {
			revenue = round2(10 + r.Float64()*490)
		}

		rows = append(rows, []any{
			r.uuid(),
			userID,
			sessionID,
			eventType,
			r.timeBetween(windowStart, now),
			r.weighted(eventSources),
			r.pick(eventMediums),
			campaign,
			r.pageURL(),
			referrer,
			r.pick(userAgents),
			r.ipv4(),
			r.pick(countryCodes),
			r.pick(deviceTypes),
			r.pick(browsers),
			r.pick(osNames),
			r.pick(resolutions),
			r.chance(45),
			duration,
			revenue,
		})
	}

	return &warehouse.Batch{
		Table:   "raw_events",
		Columns: eventColumns,
		Rows:    rows,
	}, nil
}
