package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

type RuleType string

const (
	RuleDevice    RuleType = "device"
	RuleTime      RuleType = "time"
	RuleLanguage  RuleType = "language"
	RuleScanLimit RuleType = "scanLimit"
	RuleGeo       RuleType = "geo"
	RuleUserAgent RuleType = "userAgent"
)

var ErrInvalidCondition = errors.New("invalid routing condition")

// RoutingRule is a conditional destination override attached to one ShortCode.
// RawCondition is the stored JSON; Condition is its decoded form and stays nil
// when the stored data is malformed.
type RoutingRule struct {
	ID           int64     `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	ShortCodeID  string    `json:"short_code_id" gorm:"size:36;index;not null"`
	Type         RuleType  `json:"type" gorm:"size:16;not null"`
	RawCondition string    `json:"-" gorm:"column:condition_data;type:text;not null"`
	Condition    Condition `json:"condition" gorm:"-"`
	Destination  string    `json:"destination" gorm:"type:text"`
	Priority     int       `json:"priority" gorm:"not null"`
	Active       bool      `json:"active" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (RoutingRule) TableName() string {
	return "routing_rules"
}

// Decode parses RawCondition into Condition.
func (r *RoutingRule) Decode() error {
	cond, err := DecodeCondition(r.Type, []byte(r.RawCondition))
	if err != nil {
		r.Condition = nil
		return err
	}
	r.Condition = cond
	return nil
}

// Condition is the sealed set of rule predicates, one variant per RuleType.
type Condition interface {
	Type() RuleType
	validate() error
}

type DeviceCondition struct {
	Devices []string `json:"devices,omitempty"`
	OS      []string `json:"os,omitempty"`
}

func (DeviceCondition) Type() RuleType { return RuleDevice }

func (c *DeviceCondition) validate() error {
	if len(c.Devices) == 0 && len(c.OS) == 0 {
		return fmt.Errorf("%w: device rule needs devices or os", ErrInvalidCondition)
	}
	return nil
}

type TimeWindow struct {
	Days      []Day `json:"days,omitempty"`
	StartHour int   `json:"startHour"`
	EndHour   int   `json:"endHour"`
}

// Contains reports whether the local time t falls in the window.
// EndHour is exclusive; StartHour == EndHour covers the whole day.
// StartHour > EndHour wraps past midnight, and the hours after midnight
// belong to the day the window started on.
func (w TimeWindow) Contains(t time.Time) bool {
	h := t.Hour()
	day := t.Weekday()

	switch {
	case w.StartHour == w.EndHour:
	case w.StartHour < w.EndHour:
		if h < w.StartHour || h >= w.EndHour {
			return false
		}
	case h >= w.StartHour:
	case h < w.EndHour:
		day = (day + 6) % 7
	default:
		return false
	}

	return w.onDay(day)
}

func (w TimeWindow) onDay(day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

type TimeCondition struct {
	Timezone string       `json:"timezone,omitempty"`
	Windows  []TimeWindow `json:"windows"`

	loc *time.Location
}

func (TimeCondition) Type() RuleType { return RuleTime }

// Location returns the condition's time zone, UTC when unset.
func (c *TimeCondition) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c *TimeCondition) validate() error {
	if len(c.Windows) == 0 {
		return fmt.Errorf("%w: time rule needs at least one window", ErrInvalidCondition)
	}
	for _, w := range c.Windows {
		if w.StartHour < 0 || w.StartHour > 24 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("%w: hours must be within 0..24", ErrInvalidCondition)
		}
	}
	loc := time.UTC
	if c.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidCondition, c.Timezone)
		}
	}
	c.loc = loc
	return nil
}

// Day is a weekday that decodes from either 0..6 (Sunday first) or a name such as "mon".
type Day time.Weekday

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n > 6 {
			return fmt.Errorf("%w: day %d out of range", ErrInvalidCondition, n)
		}
		*d = Day(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: day must be a number or a name", ErrInvalidCondition)
	}
	wd, ok := dayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return fmt.Errorf("%w: unknown day %q", ErrInvalidCondition, s)
	}
	*d = Day(wd)
	return nil
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(d))
}

type LanguageCondition struct {
	Languages   []string `json:"languages"`
	FallbackURL string   `json:"fallbackUrl,omitempty"`
}

func (LanguageCondition) Type() RuleType { return RuleLanguage }

func (c *LanguageCondition) validate() error {
	langs := c.Languages[:0]
	for _, l := range c.Languages {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			langs = append(langs, l)
		}
	}
	c.Languages = langs
	if len(c.Languages) == 0 {
		return fmt.Errorf("%w: language rule needs languages", ErrInvalidCondition)
	}
	return nil
}

type ScanLimitCondition struct {
	MaxScans    int64  `json:"maxScans"`
	ExceededURL string `json:"exceededUrl"`
}

func (ScanLimitCondition) Type() RuleType { return RuleScanLimit }

func (c *ScanLimitCondition) validate() error {
	if c.MaxScans <= 0 {
		return fmt.Errorf("%w: maxScans must be positive", ErrInvalidCondition)
	}
	if c.ExceededURL == "" {
		return fmt.Errorf("%w: exceededUrl is required", ErrInvalidCondition)
	}
	return nil
}

type GeoCondition struct {
	Countries []string `json:"countries,omitempty"`
	Cities    []string `json:"cities,omitempty"`
	Exclude   bool     `json:"exclude,omitempty"`
}

func (GeoCondition) Type() RuleType { return RuleGeo }

func (c *GeoCondition) validate() error {
	if len(c.Countries) == 0 && len(c.Cities) == 0 {
		return fmt.Errorf("%w: geo rule needs countries or cities", ErrInvalidCondition)
	}
	return nil
}

type UserAgentCondition struct {
	Patterns []string `json:"patterns"`

	compiled []*regexp.Regexp
}

func (UserAgentCondition) Type() RuleType { return RuleUserAgent }

// Matches reports whether ua matches any valid pattern.
func (c *UserAgentCondition) Matches(ua string) bool {
	for _, re := range c.compiled {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// validate compiles the patterns, skipping the ones that do not compile.
func (c *UserAgentCondition) validate() error {
	c.compiled = c.compiled[:0]
	for _, p := range c.Patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		c.compiled = append(c.compiled, re)
	}
	if len(c.compiled) == 0 {
		return fmt.Errorf("%w: userAgent rule has no valid pattern", ErrInvalidCondition)
	}
	return nil
}

// DecodeCondition parses raw JSON into the Condition variant named by t.
func DecodeCondition(t RuleType, raw []byte) (Condition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty condition", ErrInvalidCondition)
	}

	var cond Condition
	switch t {
	case RuleDevice:
		cond = &DeviceCondition{}
	case RuleTime:
		cond = &TimeCondition{}
	case RuleLanguage:
		cond = &LanguageCondition{}
	case RuleScanLimit:
		cond = &ScanLimitCondition{}
	case RuleGeo:
		cond = &GeoCondition{}
	case RuleUserAgent:
		cond = &UserAgentCondition{}
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrInvalidCondition, t)
	}

	if err := json.Unmarshal(raw, cond); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	if err := cond.validate(); err != nil {
		return nil, err
	}
	return cond, nil
}

// CreateRuleRequest is the body of POST /api/v1/codes/:code/rules
type CreateRuleRequest struct {
	Type        RuleType        `json:"type" binding:"required"`
	Condition   json.RawMessage `json:"condition" binding:"required"`
	Destination string          `json:"destination"`
	Priority    int             `json:"priority"`
	Active      *bool           `json:"active,omitempty"`
}
