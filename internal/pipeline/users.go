package pipeline

import (
	"context"
	"time"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

var userColumns = []warehouse.Column{
	{Name: "user_id", Type: "BIGINT"},
	{Name: "username", Type: "VARCHAR"},
	{Name: "email", Type: "VARCHAR"},
	{Name: "first_name", Type: "VARCHAR"},
	{Name: "last_name", Type: "VARCHAR"},
	{Name: "created_at", Type: "TIMESTAMP"},
	{Name: "updated_at", Type: "TIMESTAMP"},
	{Name: "country", Type: "VARCHAR"},
	{Name: "city", Type: "VARCHAR"},
	{Name: "subscription_tier", Type: "VARCHAR"},
	{Name: "referrer", Type: "VARCHAR"},
	{Name: "is_active", Type: "BOOLEAN"},
	{Name: "date_of_birth", Type: "DATE"},
	{Name: "phone", Type: "VARCHAR"},
	{Name: "company", Type: "VARCHAR"},
	{Name: "job_title", Type: "VARCHAR"},
}

var (
	subscriptionTiers = []string{"free", "basic", "premium", "enterprise"}
	signupReferrers   = []string{"google", "bing", "direct", "email", "social", "affiliate"}
)

// userExtractor generates the raw_users table. User IDs are sequential
// from 1 so the event and order generators can reference them.
type userExtractor struct{}

func (*userExtractor) Name() string { return "users" }

func (*userExtractor) Extract(ctx context.Context, params Params) (*warehouse.Batch, error) {
	r := newRNG(params.Seed)
	now := params.clock()
	twoYearsAgo := now.AddDate(-2, 0, 0)

	rows := make([][]any, 0, params.NumUsers)
	for i := 0; i < params.NumUsers; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		first, last := r.fullName()
		createdAt := r.timeBetween(twoYearsAgo, now)
		updatedAt := r.timeBetween(createdAt, now)

		var company, jobTitle any
		if r.chance(60) {
			company = r.pick(companyNames)
		}
		if r.chance(60) {
			jobTitle = r.pick(jobTitles)
		}

		age := 18 + r.Intn(63)
		dob := now.AddDate(-age, 0, -r.Intn(365))
		dob = time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)

		rows = append(rows, []any{
			int64(i + 1),
			r.username(first, last),
			r.email(first, last),
			first,
			last,
			createdAt,
			updatedAt,
			r.pick(countryCodes),
			r.pick(cityNames),
			r.pick(subscriptionTiers),
			r.pick(signupReferrers),
			r.chance(85),
			dob,
			r.phone(),
			company,
			jobTitle,
		})
	}

	return &warehouse.Batch{
		Table:   "raw_users",
		Columns: userColumns,
		Rows:    rows,
	}, nil
}
