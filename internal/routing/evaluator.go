// Package routing picks the destination of a scan from a code's routing rules.
package routing

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/jack/qr-redirect-service/internal/geo"
	"github.com/jack/qr-redirect-service/internal/model"
	"github.com/jack/qr-redirect-service/internal/useragent"
)

// Request is the per-scan input to rule predicates.
type Request struct {
	UserAgent      useragent.Info
	RawUserAgent   string
	AcceptLanguage string
	Now            time.Time
	ScanCount      int64

	// Location is called only when a geo rule is reached.
	Location func() geo.Location
}

type Result struct {
	Destination string
	RuleID      int64
	Matched     bool
}

// Evaluate returns the destination of the first matching rule, or a result
// with Matched=false when the code's default destination applies.
func Evaluate(rules []model.RoutingRule, req Request) Result {
	for _, rule := range Order(rules) {
		if dest, ok := match(rule, req); ok {
			return Result{Destination: dest, RuleID: rule.ID, Matched: true}
		}
	}
	return Result{}
}

// Order drops inactive and undecodable rules, then sorts by priority
// descending, creation time ascending and id ascending.
func Order(rules []model.RoutingRule) []model.RoutingRule {
	out := make([]model.RoutingRule, 0, len(rules))
	for _, r := range rules {
		if r.Active && r.Condition != nil {
			out = append(out, r)
		}
	}

	slices.SortStableFunc(out, func(a, b model.RoutingRule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func match(rule model.RoutingRule, req Request) (string, bool) {
	switch c := rule.Condition.(type) {
	case *model.DeviceCondition:
		return rule.Destination, matchDevice(c, req.UserAgent)
	case *model.TimeCondition:
		return rule.Destination, matchTime(c, req.Now)
	case *model.LanguageCondition:
		return matchLanguage(c, rule.Destination, req.AcceptLanguage)
	case *model.ScanLimitCondition:
		return c.ExceededURL, req.ScanCount >= c.MaxScans
	case *model.GeoCondition:
		loc := geo.UnknownLocation()
		if req.Location != nil {
			loc = req.Location()
		}
		return rule.Destination, matchGeo(c, loc)
	case *model.UserAgentCondition:
		return rule.Destination, c.Matches(req.RawUserAgent)
	default:
		return "", false
	}
}

func matchDevice(c *model.DeviceCondition, ua useragent.Info) bool {
	if len(c.Devices) > 0 && !containsFold(c.Devices, string(ua.Device)) {
		return false
	}
	if len(c.OS) > 0 && !containsFold(c.OS, ua.OS) {
		return false
	}
	return true
}

func matchTime(c *model.TimeCondition, now time.Time) bool {
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(c.Location())
	for _, w := range c.Windows {
		if w.Contains(local) {
			return true
		}
	}
	return false
}

func matchLanguage(c *model.LanguageCondition, dest, acceptLanguage string) (string, bool) {
	if primary := primaryLanguage(acceptLanguage); primary != "" {
		for _, l := range c.Languages {
			if baseOf(l) == primary {
				return dest, true
			}
		}
	}
	if c.FallbackURL != "" {
		return c.FallbackURL, true
	}
	return "", false
}

// primaryLanguage returns the base language of the highest-quality tag.
func primaryLanguage(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, _ := tags[0].Base()
	return base.String()
}

func baseOf(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}

func matchGeo(c *model.GeoCondition, loc geo.Location) bool {
	in := true
	if len(c.Countries) > 0 {
		in = containsFold(c.Countries, loc.Country) || (loc.CountryCode != "" && containsFold(c.Countries, loc.CountryCode))
	}
	if in && len(c.Cities) > 0 {
		in = containsFold(c.Cities, loc.City)
	}
	if c.Exclude {
		return !in
	}
	return in
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
