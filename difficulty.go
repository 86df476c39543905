package server

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Tier is one difficulty bucket. DropInterval is the expected time in
// milliseconds a piece may remain active before the client must request
// the next one.
type Tier struct {
	Score        int    `json:"score"`
	DropInterval int    `json:"interval"`
	Level        int    `json:"level"`
	Name         string `json:"name"`
}

// defaultTiers is ordered ascending by score threshold. TierFor depends on
// that ordering.
var defaultTiers = []Tier{
	{Score: 0, DropInterval: 1000, Level: 1, Name: "Novice"},
	{Score: 500, DropInterval: 900, Level: 2, Name: "Apprentice"},
	{Score: 1000, DropInterval: 800, Level: 3, Name: "Adept"},
	{Score: 2000, DropInterval: 700, Level: 4, Name: "Skilled"},
	{Score: 3000, DropInterval: 600, Level: 5, Name: "Expert"},
	{Score: 4000, DropInterval: 500, Level: 6, Name: "Master"},
	{Score: 5000, DropInterval: 450, Level: 7, Name: "Grandmaster"},
	{Score: 6000, DropInterval: 400, Level: 8, Name: "Legend"},
	{Score: 7000, DropInterval: 350, Level: 9, Name: "Mythic"},
	{Score: 8000, DropInterval: 300, Level: 10, Name: "Sovereign"},
	{Score: 10000, DropInterval: 250, Level: 11, Name: "Transcendent"},
	{Score: 15000, DropInterval: 200, Level: 12, Name: "Godlike"},
}

// TierDocument is the on-disk shape of an operator-supplied tier table.
type TierDocument struct {
	Tiers []Tier `json:"tiers"`
}

// LoadTiers reads a tier table from path and normalizes its ordering.
func LoadTiers(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier table %s: %w", path, err)
	}
	var doc TierDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tier table %s: %w", path, err)
	}
	if len(doc.Tiers) == 0 {
		return nil, fmt.Errorf("tier table %s has no tiers", path)
	}
	tiers := append([]Tier(nil), doc.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Score < tiers[j].Score })
	if tiers[0].Score != 0 {
		return nil, fmt.Errorf("tier table %s must include a tier at score 0", path)
	}
	return tiers, nil
}

// difficultyTable answers tier lookups for a score. It is immutable after
// construction; lookups are pure.
type difficultyTable struct {
	tiers []Tier
}

func newDifficultyTable(tiers []Tier) *difficultyTable {
	if len(tiers) == 0 {
		tiers = defaultTiers
	}
	return &difficultyTable{tiers: tiers}
}

// TierFor returns the entry with the greatest threshold <= score, falling
// back to the lowest tier.
func (d *difficultyTable) TierFor(score int) Tier {
	for i := len(d.tiers) - 1; i >= 0; i-- {
		if score >= d.tiers[i].Score {
			return d.tiers[i]
		}
	}
	return d.tiers[0]
}

// expectedMaxFallTime is the slowest legal piece lifetime in milliseconds
// for the given score, tolerance included.
func (d *difficultyTable) expectedMaxFallTime(score int) float64 {
	tier := d.TierFor(score)
	return float64(tier.DropInterval)*(1+toleranceRatio) + extraToleranceMs
}

type fallSeverity int

const (
	fallNormal fallSeverity = iota
	fallSlow
	fallPauseSuspect
)

// classifyFallTime buckets an observed piece lifetime. Advancing too fast
// is never flagged: soft and hard drops are legitimate player input.
func (d *difficultyTable) classifyFallTime(elapsedMs float64, score int) fallSeverity {
	if elapsedMs >= maxPauseTimeMs {
		return fallPauseSuspect
	}
	if elapsedMs > d.expectedMaxFallTime(score) {
		return fallSlow
	}
	return fallNormal
}
