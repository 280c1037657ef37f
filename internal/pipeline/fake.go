package pipeline

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// rng wraps a seeded rand.Rand with the small generator vocabulary the
// extractors share. Every extractor owns its rng so runs with the same
// seed produce the same rows.
type rng struct {
	*rand.Rand
}

func newRNG(seed int64) *rng {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &rng{Rand: rand.New(rand.NewSource(seed))}
}

type weightedChoice struct {
	value  string
	weight int
}

var (
	firstNames = []string{
		"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael",
		"Linda", "David", "Elizabeth", "William", "Barbara", "Richard",
		"Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Carlos", "Karen",
		"Daniel", "Nancy", "Matthew", "Lisa", "Anthony", "Sofia", "Mark",
		"Sandra", "Paul", "Ashley", "Kenji", "Emily", "Andrew", "Kimberly",
		"Lars", "Donna", "Omar", "Michelle", "Ivan", "Carol",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
		"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
		"Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson",
		"Martin", "Lee", "Perez", "Thompson", "White", "Harris", "Sanchez",
		"Clark", "Ramirez", "Lewis", "Robinson", "Walker", "Young", "Allen",
		"King", "Wright", "Nilsson", "Tanaka", "Petrov", "Haddad", "Okafor",
	}
	emailDomains = []string{
		"gmail.com", "yahoo.com", "hotmail.com", "outlook.com",
		"protonmail.com", "icloud.com", "example.com", "fastmail.com",
	}
	countryCodes = []string{
		"US", "GB", "DE", "FR", "CA", "AU", "NL", "SE", "BR", "JP", "IN",
		"ES", "IT", "MX", "PL", "NO",
	}
	cityNames = []string{
		"New York", "London", "Berlin", "Paris", "Toronto", "Sydney",
		"Amsterdam", "Stockholm", "Sao Paulo", "Tokyo", "Mumbai", "Madrid",
		"Milan", "Mexico City", "Warsaw", "Oslo", "Austin", "Seattle",
		"Dublin", "Lisbon",
	}
	companyNames = []string{
		"Acme Corp", "Globex", "Initech", "Umbrella Labs", "Stark Industries",
		"Wayne Enterprises", "Hooli", "Vandelay Industries", "Wonka Works",
		"Cyberdyne Systems", "Tyrell Corp", "Aperture Science",
		"Pied Piper", "Massive Dynamic", "Soylent Co",
	}
	jobTitles = []string{
		"Software Engineer", "Data Analyst", "Product Manager", "Designer",
		"Marketing Manager", "Sales Director", "Data Engineer",
		"Account Executive", "Support Specialist", "Operations Lead",
		"Research Scientist", "Consultant", "Financial Analyst",
		"Content Strategist", "QA Engineer",
	}
	campaignWords = [][]string{
		{"summer", "winter", "spring", "autumn", "launch", "retention",
			"growth", "holiday", "flash", "brand"},
		{"sale", "promo", "blast", "push", "boost", "drive", "splash",
			"wave", "sprint", "series"},
	}
	urlWords = []string{
		"home", "pricing", "features", "blog", "docs", "about", "signup",
		"login", "dashboard", "settings", "checkout", "products", "search",
		"help", "careers",
	}
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edg/120.0.0.0",
	}
)

func (r *rng) pick(list []string) string {
	return list[r.Intn(len(list))]
}

// weighted returns a value drawn according to integer weights.
func (r *rng) weighted(choices []weightedChoice) string {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	n := r.Intn(total)
	for _, c := range choices {
		n -= c.weight
		if n < 0 {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

// chance reports true pct percent of the time.
func (r *rng) chance(pct int) bool {
	return r.Intn(100) < pct
}

// timeBetween returns a uniformly distributed instant in [start, end).
func (r *rng) timeBetween(start, end time.Time) time.Time {
	span := end.Sub(start)
	if span <= 0 {
		return start
	}
	return start.Add(time.Duration(r.Int63n(int64(span))))
}

// recentDays returns a day count in [1, max] biased toward small values,
// so generated activity skews recent.
func (r *rng) recentDays(max int) int {
	a, b := r.Float64(), r.Float64()
	if b < a {
		a = b
	}
	return 1 + int(a*float64(max-1))
}

func (r *rng) fullName() (first, last string) {
	return r.pick(firstNames), r.pick(lastNames)
}

func (r *rng) email(first, last string) string {
	return fmt.Sprintf("%s.%s%d@%s",
		strings.ToLower(first), strings.ToLower(last), r.Intn(1000),
		r.pick(emailDomains))
}

func (r *rng) username(first, last string) string {
	return fmt.Sprintf("%s%s%d",
		strings.ToLower(last), strings.ToLower(first[:1]), r.Intn(100))
}

func (r *rng) phone() string {
	return fmt.Sprintf("+1-%03d-%03d-%04d",
		200+r.Intn(800), r.Intn(1000), r.Intn(10000))
}

func (r *rng) ipv4() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		1+r.Intn(254), r.Intn(256), r.Intn(256), 1+r.Intn(254))
}

func (r *rng) campaign() string {
	return r.pick(campaignWords[0]) + "_" + r.pick(campaignWords[1])
}

func (r *rng) pageURL() string {
	return "https://app.example.com/" + r.pick(urlWords)
}

func (r *rng) referrerURL() string {
	return "https://" + r.pick([]string{
		"www.google.com", "www.bing.com", "news.ycombinator.com",
		"www.facebook.com", "t.co", "www.linkedin.com",
	}) + "/"
}

func (r *rng) postalCode() string {
	return fmt.Sprintf("%05d", r.Intn(100000))
}

// uuid draws a v4 UUID from the seeded source so runs stay reproducible.
func (r *rng) uuid() string {
	id, err := uuid.NewRandomFromReader(r.Rand)
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// round2 truncates a float to two decimals for currency fields.
func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
