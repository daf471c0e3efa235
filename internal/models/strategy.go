package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxReEntries is the hard cap on re-entries per trigger regardless of configuration.
const MaxReEntries = 20

// Position is the side of an option leg.
type Position string

const (
	// Buy opens a long option position
	Buy Position = "Buy"
	// Sell opens a short option position
	Sell Position = "Sell"
)

// ParsePosition accepts buy/sell/long/short in any case.
func ParsePosition(s string) (Position, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "b":
		return Buy, true
	case "sell", "short", "s":
		return Sell, true
	default:
		return "", false
	}
}

// IsShort returns true for sold legs.
func (p Position) IsShort() bool { return p == Sell }

// Sign is +1 for long and -1 for short.
func (p Position) Sign() float64 {
	if p.IsShort() {
		return -1
	}
	return 1
}

// Reverse flips Buy and Sell.
func (p Position) Reverse() Position {
	if p.IsShort() {
		return Buy
	}
	return Sell
}

// ExpiryKeyword selects an expiry relative to the session date.
type ExpiryKeyword string

const (
	Weekly      ExpiryKeyword = "Weekly"
	NextWeekly  ExpiryKeyword = "NextWeekly"
	Monthly     ExpiryKeyword = "Monthly"
	NextMonthly ExpiryKeyword = "NextMonthly"
)

// ParseExpiryKeyword normalizes spacing and case. Empty means Weekly.
func ParseExpiryKeyword(s string) (ExpiryKeyword, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "", "weekly":
		return Weekly, true
	case "nextweekly":
		return NextWeekly, true
	case "monthly":
		return Monthly, true
	case "nextmonthly":
		return NextMonthly, true
	default:
		return "", false
	}
}

// SquareOffMode controls whether legs exit together or independently.
type SquareOffMode string

const (
	// SquareOffComplete closes every leg as soon as one exits
	SquareOffComplete SquareOffMode = "Complete"
	// SquareOffPartial lets each leg exit on its own rules
	SquareOffPartial SquareOffMode = "Partial"
)

// RiskBasis is the measurement used by a target or stop rule.
type RiskBasis string

const (
	BasisPremiumPoints    RiskBasis = "premium_pts"
	BasisPremiumPercent   RiskBasis = "premium_pct"
	BasisUnderlyingPoints RiskBasis = "underlying_pts"
	BasisUnderlyingPct    RiskBasis = "underlying_pct"
)

// Valid returns true if the basis is one of the defined constants
func (b RiskBasis) Valid() bool {
	switch b {
	case BasisPremiumPoints, BasisPremiumPercent, BasisUnderlyingPoints, BasisUnderlyingPct:
		return true
	default:
		return false
	}
}

// TrailBasis is the measurement used by a trailing stop.
type TrailBasis string

const (
	TrailPoints  TrailBasis = "points"
	TrailPercent TrailBasis = "percent"
)

// RiskRule is a target or stop-loss rule.
type RiskRule struct {
	Enabled bool      `yaml:"enabled" json:"enabled"`
	Basis   RiskBasis `yaml:"basis" json:"basis"`
	Value   float64   `yaml:"value" json:"value"`
}

// TrailRule is a trailing stop on option premium.
type TrailRule struct {
	Enabled bool       `yaml:"enabled" json:"enabled"`
	Basis   TrailBasis `yaml:"basis" json:"basis"`
	Value   float64    `yaml:"value" json:"value"`
}

// RiskConfig groups all leg-level exits.
type RiskConfig struct {
	Target   RiskRule  `yaml:"target" json:"target"`
	StopLoss RiskRule  `yaml:"sl" json:"sl"`
	Trail    TrailRule `yaml:"trail" json:"trail"`
}

// ReEntryMode names how a replacement leg is spawned after an exit.
type ReEntryMode string

const (
	ReASAP            ReEntryMode = "RE_ASAP"
	ReASAPReverse     ReEntryMode = "RE_ASAP_REV"
	ReCost            ReEntryMode = "RE_COST"
	ReCostReverse     ReEntryMode = "RE_COST_REV"
	ReMomentum        ReEntryMode = "RE_MOMENTUM"
	ReMomentumReverse ReEntryMode = "RE_MOMENTUM_REV"
	LazyLeg           ReEntryMode = "LAZY_LEG"
)

// ReEntryKind is the trigger family of a re-entry mode.
type ReEntryKind int

const (
	// ReEntryImmediate spawns on the exit snapshot
	ReEntryImmediate ReEntryKind = iota + 1
	// ReEntryCost waits for the old contract to return to its entry premium
	ReEntryCost
	// ReEntryMomentum waits for a fresh contract to move by a point threshold
	ReEntryMomentum
)

// Kind classifies the mode. Unknown modes are a configuration error.
func (m ReEntryMode) Kind() (ReEntryKind, error) {
	switch m {
	case ReASAP, ReASAPReverse, LazyLeg:
		return ReEntryImmediate, nil
	case ReCost, ReCostReverse:
		return ReEntryCost, nil
	case ReMomentum, ReMomentumReverse:
		return ReEntryMomentum, nil
	default:
		return 0, configErrorf("reentry.mode", "unsupported re-entry mode %q", string(m))
	}
}

// Reversed reports whether the spawned leg takes the opposite position.
func (m ReEntryMode) Reversed() bool {
	return strings.HasSuffix(string(m), "_REV")
}

// ReEntryRule configures re-entry after a stop-loss or target exit.
type ReEntryRule struct {
	Enabled  bool        `yaml:"enabled" json:"enabled"`
	Mode     ReEntryMode `yaml:"mode" json:"mode"`
	MaxCount int         `yaml:"max_count" json:"max_count"`
	LazyLeg  *LegSpec    `yaml:"lazy_leg,omitempty" json:"lazy_leg,omitempty"`
}

// Cap returns the effective re-entry limit, min(MaxReEntries, MaxCount).
func (r ReEntryRule) Cap() int {
	if r.MaxCount <= 0 {
		return 0
	}
	if r.MaxCount > MaxReEntries {
		return MaxReEntries
	}
	return r.MaxCount
}

// StrikeMode names a strike selection algorithm.
type StrikeMode string

const (
	ModeStrikeType      StrikeMode = "STRIKE_TYPE"
	ModePremiumRange    StrikeMode = "PREMIUM_RANGE"
	ModeClosestPremium  StrikeMode = "CLOSEST_PREMIUM"
	ModePremiumLE       StrikeMode = "PREMIUM_LE"
	ModePremiumGE       StrikeMode = "PREMIUM_GE"
	ModeStraddleWidth   StrikeMode = "STRADDLE_WIDTH"
	ModePctOfATM        StrikeMode = "PCT_OF_ATM"
	ModeSyntheticFuture StrikeMode = "SYNTHETIC_FUTURE"
	ModeATMPremiumPct   StrikeMode = "ATM_PREMIUM_PCT"
	ModeClosestDelta    StrikeMode = "CLOSEST_DELTA"
	ModeDeltaRange      StrikeMode = "DELTA_RANGE"
)

// Normalize upper-cases the mode and maps the %_OF_ATM alias.
func (m StrikeMode) Normalize() StrikeMode {
	n := StrikeMode(strings.ToUpper(strings.TrimSpace(string(m))))
	if n == "%_OF_ATM" {
		return ModePctOfATM
	}
	return n
}

// Valid returns true if the mode is a supported selection algorithm
func (m StrikeMode) Valid() bool {
	switch m.Normalize() {
	case ModeStrikeType, ModePremiumRange, ModeClosestPremium, ModePremiumLE, ModePremiumGE,
		ModeStraddleWidth, ModePctOfATM, ModeSyntheticFuture, ModeATMPremiumPct,
		ModeClosestDelta, ModeDeltaRange:
		return true
	default:
		return false
	}
}

// StrikeParams is the free-form parameter mapping of a strike criterion.
// Values are kept as strings so YAML numbers and words decode uniformly.
type StrikeParams map[string]string

// Lookup returns the first present key.
func (p StrikeParams) Lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Float parses the first present key, returning def when absent.
func (p StrikeParams) Float(def float64, keys ...string) (float64, error) {
	v, ok := p.Lookup(keys...)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("param %s=%q is not numeric: %w", keys[0], v, err)
	}
	return f, nil
}

// Text returns the first present key or def.
func (p StrikeParams) Text(def string, keys ...string) string {
	if v, ok := p.Lookup(keys...); ok {
		return v
	}
	return def
}

// With returns a copy with key set only when it is absent.
func (p StrikeParams) With(key, value string) StrikeParams {
	out := make(StrikeParams, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	if _, ok := out.Lookup(key); !ok {
		out[key] = value
	}
	return out
}

// StrikeCriteria pairs a selection mode with its parameters.
type StrikeCriteria struct {
	Mode   StrikeMode   `yaml:"mode" json:"mode"`
	Params StrikeParams `yaml:"params" json:"params"`
}

// LegSpec is the template a leg is opened from.
type LegSpec struct {
	Segment         string         `yaml:"segment" json:"segment"`
	Position        Position       `yaml:"position" json:"position"`
	OptionType      OptionType     `yaml:"option_type" json:"option_type"`
	Expiry          ExpiryKeyword  `yaml:"expiry" json:"expiry"`
	QtyLots         int            `yaml:"qty_lots" json:"qty_lots"`
	StrikeCriteria  StrikeCriteria `yaml:"strike_criteria" json:"strike_criteria"`
	Risk            RiskConfig     `yaml:"risk" json:"risk"`
	ReEntryOnSL     ReEntryRule    `yaml:"reentry_on_sl" json:"reentry_on_sl"`
	ReEntryOnTarget ReEntryRule    `yaml:"reentry_on_target" json:"reentry_on_target"`
}

// RuleFor returns the re-entry rule for an exit reason, if one applies.
func (s *LegSpec) RuleFor(reason ExitReason) (ReEntryRule, bool) {
	switch reason {
	case ExitStopLoss:
		return s.ReEntryOnSL, true
	case ExitTarget:
		return s.ReEntryOnTarget, true
	default:
		return ReEntryRule{}, false
	}
}

// Clone deep-copies the spec, including params and lazy legs.
func (s LegSpec) Clone() LegSpec {
	out := s
	if s.StrikeCriteria.Params != nil {
		params := make(StrikeParams, len(s.StrikeCriteria.Params))
		for k, v := range s.StrikeCriteria.Params {
			params[k] = v
		}
		out.StrikeCriteria.Params = params
	}
	if s.ReEntryOnSL.LazyLeg != nil {
		l := s.ReEntryOnSL.LazyLeg.Clone()
		out.ReEntryOnSL.LazyLeg = &l
	}
	if s.ReEntryOnTarget.LazyLeg != nil {
		l := s.ReEntryOnTarget.LazyLeg.Clone()
		out.ReEntryOnTarget.LazyLeg = &l
	}
	return out
}

// Costs is the per-session cost model.
type Costs struct {
	PerLotRoundtrip float64 `yaml:"per_lot_roundtrip" json:"per_lot_roundtrip"`
	SlippagePerFill float64 `yaml:"slippage_per_fill" json:"slippage_per_fill"`
}

// Momentum configures the RE_MOMENTUM threshold in premium points.
// A positive value waits for a rise, a negative one for a fall.
type Momentum struct {
	Points float64 `yaml:"points" json:"points"`
}

// ClockTime is a wall-clock time of day in "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On places the clock time on the calendar date of d, in d's location.
func (c ClockTime) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, d.Location())
}

// IsZero reports whether the clock is unset (midnight counts as unset).
func (c ClockTime) IsZero() bool { return c.Hour == 0 && c.Minute == 0 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// UnmarshalYAML decodes "HH:MM".
func (c *ClockTime) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*c = ClockTime{}
		return nil
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText encodes "HH:MM".
func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// StrategyConfig is the immutable definition of a multi-leg strategy.
type StrategyConfig struct {
	Name           string        `yaml:"name" json:"name"`
	Index          string        `yaml:"index" json:"index"`
	StrategyType   string        `yaml:"strategy_type" json:"strategy_type"`
	UnderlyingFrom string        `yaml:"underlying_from" json:"underlying_from"` // Cash | Futures
	EntryTime      ClockTime     `yaml:"entry_time" json:"entry_time"`
	ExitTime       ClockTime     `yaml:"exit_time" json:"exit_time"`
	NoReEntryAfter *ClockTime    `yaml:"no_reentry_after,omitempty" json:"no_reentry_after,omitempty"`
	Momentum       *Momentum     `yaml:"overall_momentum,omitempty" json:"overall_momentum,omitempty"`
	SquareOffMode  SquareOffMode `yaml:"square_off_mode" json:"square_off_mode"`
	LotSize        int           `yaml:"lot_size" json:"lot_size"`
	Legs           []LegSpec     `yaml:"legs" json:"legs"`
	Costs          Costs         `yaml:"costs" json:"costs"`
}

// Clone deep-copies the config so it can be normalized without touching
// a copy shared with other sessions.
func (c *StrategyConfig) Clone() *StrategyConfig {
	out := *c
	if c.NoReEntryAfter != nil {
		t := *c.NoReEntryAfter
		out.NoReEntryAfter = &t
	}
	if c.Momentum != nil {
		m := *c.Momentum
		out.Momentum = &m
	}
	out.Legs = make([]LegSpec, len(c.Legs))
	for i, l := range c.Legs {
		out.Legs[i] = l.Clone()
	}
	return &out
}

// UsesFutures reports whether the underlying should come from futures.
func (c *StrategyConfig) UsesFutures() bool {
	return strings.HasPrefix(strings.ToLower(c.UnderlyingFrom), "fut")
}

// MomentumPoints returns the momentum threshold or zero when unset.
func (c *StrategyConfig) MomentumPoints() float64 {
	if c.Momentum == nil {
		return 0
	}
	return c.Momentum.Points
}

// Validate normalizes spellings in place and checks the definition. Errors
// are *ConfigurationError.
func (c *StrategyConfig) Validate() error {
	if c.LotSize <= 0 {
		return configErrorf("lot_size", "must be > 0 (got %d)", c.LotSize)
	}
	if len(c.Legs) == 0 {
		return configErrorf("legs", "at least one leg is required")
	}
	if c.EntryTime.IsZero() || c.ExitTime.IsZero() {
		return configErrorf("entry_time/exit_time", "both are required")
	}
	if c.EntryTime.Hour*60+c.EntryTime.Minute >= c.ExitTime.Hour*60+c.ExitTime.Minute {
		return configErrorf("entry_time", "%s must be before exit_time %s", c.EntryTime, c.ExitTime)
	}
	switch strings.ToLower(string(c.SquareOffMode)) {
	case "", "partial":
		c.SquareOffMode = SquareOffPartial
	case "complete":
		c.SquareOffMode = SquareOffComplete
	default:
		return configErrorf("square_off_mode", "must be Complete or Partial (got %q)", c.SquareOffMode)
	}
	if c.Costs.PerLotRoundtrip < 0 || c.Costs.SlippagePerFill < 0 {
		return configErrorf("costs", "costs must be >= 0")
	}
	for i := range c.Legs {
		field := fmt.Sprintf("legs[%d]", i)
		if err := c.validateLeg(field, &c.Legs[i], true); err != nil {
			return err
		}
	}
	return nil
}

func (c *StrategyConfig) validateLeg(field string, leg *LegSpec, allowReEntry bool) error {
	pos, ok := ParsePosition(string(leg.Position))
	if !ok {
		return configErrorf(field+".position", "must be Buy or Sell (got %q)", leg.Position)
	}
	leg.Position = pos
	ot, ok := ParseOptionType(string(leg.OptionType))
	if !ok {
		return configErrorf(field+".option_type", "must be CE or PE (got %q)", leg.OptionType)
	}
	leg.OptionType = ot
	exp, ok := ParseExpiryKeyword(string(leg.Expiry))
	if !ok {
		return configErrorf(field+".expiry", "unknown expiry keyword %q", leg.Expiry)
	}
	leg.Expiry = exp
	if leg.QtyLots <= 0 {
		return configErrorf(field+".qty_lots", "must be > 0 (got %d)", leg.QtyLots)
	}
	if err := validateStrikeCriteria(field+".strike_criteria", &leg.StrikeCriteria); err != nil {
		return err
	}
	if err := validateRisk(field+".risk", &leg.Risk); err != nil {
		return err
	}
	rules := []struct {
		name string
		rule *ReEntryRule
	}{
		{"reentry_on_sl", &leg.ReEntryOnSL},
		{"reentry_on_target", &leg.ReEntryOnTarget},
	}
	for _, r := range rules {
		if !r.rule.Enabled {
			continue
		}
		if !allowReEntry {
			return configErrorf(field+"."+r.name, "lazy legs cannot re-enter")
		}
		r.rule.Mode = ReEntryMode(strings.ToUpper(strings.TrimSpace(string(r.rule.Mode))))
		kind, err := r.rule.Mode.Kind()
		if err != nil {
			return configErrorf(field+"."+r.name+".mode", "unsupported re-entry mode %q", r.rule.Mode)
		}
		if kind == ReEntryMomentum && c.MomentumPoints() == 0 {
			return configErrorf("overall_momentum.points", "required by %s", r.rule.Mode)
		}
		if r.rule.LazyLeg != nil {
			if err := c.validateLeg(field+"."+r.name+".lazy_leg", r.rule.LazyLeg, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStrikeCriteria(field string, sc *StrikeCriteria) error {
	if sc.Mode == "" {
		sc.Mode = ModeStrikeType
	}
	if !sc.Mode.Valid() {
		return configErrorf(field+".mode", "unsupported strike mode %q", sc.Mode)
	}
	sc.Mode = sc.Mode.Normalize()
	if sc.Params == nil {
		sc.Params = StrikeParams{}
	}
	var required [][]string
	switch sc.Mode {
	case ModePremiumRange, ModeDeltaRange:
		if sc.Mode == ModePremiumRange {
			required = [][]string{{"lower"}, {"upper"}}
		}
	case ModePctOfATM, ModeATMPremiumPct:
		required = [][]string{{"pct", "percent"}}
	}
	for _, keys := range required {
		if _, ok := sc.Params.Lookup(keys...); !ok {
			return configErrorf(field+".params", "%s requires %q", sc.Mode, keys[0])
		}
	}
	for k, v := range sc.Params {
		switch k {
		case "strike_type", "sign", "position", "expiry", "expiry_dt", "expiration", "now_dt":
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			return configErrorf(field+".params."+k, "not numeric: %q", v)
		}
	}
	return nil
}

func validateRisk(field string, rc *RiskConfig) error {
	for name, rule := range map[string]*RiskRule{"target": &rc.Target, "sl": &rc.StopLoss} {
		if !rule.Enabled {
			continue
		}
		rule.Basis = RiskBasis(strings.ToLower(string(rule.Basis)))
		if rule.Basis == "" {
			rule.Basis = BasisPremiumPercent
		}
		if !rule.Basis.Valid() {
			return configErrorf(field+"."+name+".basis", "unknown basis %q", rule.Basis)
		}
		if rule.Value < 0 {
			return configErrorf(field+"."+name+".value", "must be >= 0")
		}
	}
	if rc.Trail.Enabled {
		rc.Trail.Basis = TrailBasis(strings.ToLower(string(rc.Trail.Basis)))
		if rc.Trail.Basis == "" {
			rc.Trail.Basis = TrailPoints
		}
		if rc.Trail.Basis != TrailPoints && rc.Trail.Basis != TrailPercent {
			return configErrorf(field+".trail.basis", "unknown basis %q", rc.Trail.Basis)
		}
		if rc.Trail.Value < 0 {
			return configErrorf(field+".trail.value", "must be >= 0")
		}
	}
	return nil
}
