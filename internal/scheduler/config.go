package scheduler

import (
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// CapTier is one allocation tier of Phase 6. Hard tiers are never exceeded; soft tiers may
// overflow when nothing else is available.
type CapTier struct {
	Name      string            `mapstructure:"name"`
	Positions []models.Position `mapstructure:"positions"`
	Cap       int               `mapstructure:"cap"`
	Hard      bool              `mapstructure:"hard"`
}

// Config tunes the generation pipeline.
type Config struct {
	// LabWindows is the catalogue of allowed lab windows, applied to every day.
	LabWindows []models.ClockRange `mapstructure:"labWindows"`
	// LabTrials bounds the randomized orderings evaluated by Phase 3.
	LabTrials int `mapstructure:"labTrials"`
	// MaxOrderings caps the distinct orderings drawn, whatever LabTrials says.
	MaxOrderings int `mapstructure:"maxOrderings"`
	// LabWorkers evaluates trials concurrently when > 1.
	LabWorkers int `mapstructure:"labWorkers"`
	// MinLabGapMinutes is the minimum free gap between two labs of a batch on one day.
	MinLabGapMinutes int `mapstructure:"minLabGapMinutes"`
	// Seed drives every random draw; zero lets the caller pick one.
	Seed int64 `mapstructure:"seed"`

	TheorySessionMinutes int `mapstructure:"theorySessionMinutes"`
	MaxDailyMinutes      int `mapstructure:"maxDailyMinutes"`
	// EarlyDayLatestEnd is the latest end for a day that already starts at 08:00.
	EarlyDayLatestEnd int `mapstructure:"earlyDayLatestEnd"`

	CapTiers []CapTier `mapstructure:"capTiers"`
}

// DefaultLabWindows are the five historically validated two-hour windows.
var DefaultLabWindows = []models.ClockRange{
	{Start: 8 * 60, End: 10 * 60},
	{Start: 10 * 60, End: 12 * 60},
	{Start: 12 * 60, End: 14 * 60},
	{Start: 14 * 60, End: 16 * 60},
	{Start: 15 * 60, End: 17 * 60},
}

// DefaultCapTiers allocates Professors, then Associates (hard caps), then Assistants and guests.
var DefaultCapTiers = []CapTier{
	{Name: "professor", Positions: []models.Position{models.PositionProfessor}, Cap: 2, Hard: true},
	{Name: "associate", Positions: []models.Position{models.PositionAssociateProfessor}, Cap: 4, Hard: true},
	{Name: "assistant", Positions: []models.Position{models.PositionAssistantProfessor, models.PositionGuestFaculty}, Cap: 6, Hard: false},
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LabWindows:           append([]models.ClockRange(nil), DefaultLabWindows...),
		LabTrials:            240,
		MaxOrderings:         10800,
		LabWorkers:           1,
		MinLabGapMinutes:     120,
		TheorySessionMinutes: 60,
		MaxDailyMinutes:      8 * 60,
		EarlyDayLatestEnd:    16 * 60,
		CapTiers:             append([]CapTier(nil), DefaultCapTiers...),
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.LabWindows) == 0 {
		c.LabWindows = def.LabWindows
	}
	if c.LabTrials <= 0 {
		c.LabTrials = def.LabTrials
	}
	if c.MaxOrderings <= 0 {
		c.MaxOrderings = def.MaxOrderings
	}
	if c.LabWorkers <= 0 {
		c.LabWorkers = def.LabWorkers
	}
	if c.MinLabGapMinutes <= 0 {
		c.MinLabGapMinutes = def.MinLabGapMinutes
	}
	if c.TheorySessionMinutes <= 0 {
		c.TheorySessionMinutes = def.TheorySessionMinutes
	}
	// Sessions occupy whole 30-minute grid buckets.
	if rem := c.TheorySessionMinutes % models.SlotGranularity; rem != 0 {
		c.TheorySessionMinutes += models.SlotGranularity - rem
	}
	if c.MaxDailyMinutes <= 0 {
		c.MaxDailyMinutes = def.MaxDailyMinutes
	}
	if c.EarlyDayLatestEnd <= 0 {
		c.EarlyDayLatestEnd = def.EarlyDayLatestEnd
	}
	if len(c.CapTiers) == 0 {
		c.CapTiers = def.CapTiers
	}
	return c
}

// tierFor returns the index of the tier covering the position; unknown positions fall into
// the last tier.
func (c Config) tierFor(position models.Position) int {
	for i, tier := range c.CapTiers {
		for _, p := range tier.Positions {
			if p == position {
				return i
			}
		}
	}
	return len(c.CapTiers) - 1
}
