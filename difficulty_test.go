package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestTierForBoundaries(t *testing.T) {
	table := newDifficultyTable(nil)

	cases := []struct {
		score        int
		wantLevel    int
		wantInterval int
	}{
		{0, 1, 1000},
		{499, 1, 1000},
		{500, 2, 900},
		{999, 2, 900},
		{1000, 3, 800},
		{7500, 9, 350},
		{14999, 11, 250},
		{15000, 12, 200},
		{1_000_000, 12, 200},
	}
	for _, tc := range cases {
		tier := table.TierFor(tc.score)
		if tier.Level != tc.wantLevel {
			t.Errorf("TierFor(%d).Level = %d, want %d", tc.score, tier.Level, tc.wantLevel)
		}
		if tier.DropInterval != tc.wantInterval {
			t.Errorf("TierFor(%d).DropInterval = %d, want %d", tc.score, tier.DropInterval, tc.wantInterval)
		}
	}
}

func TestTiersAreMonotonic(t *testing.T) {
	for i := 1; i < len(defaultTiers); i++ {
		prev, cur := defaultTiers[i-1], defaultTiers[i]
		if cur.Score <= prev.Score {
			t.Errorf("tier %d score %d not above %d", i, cur.Score, prev.Score)
		}
		if cur.DropInterval >= prev.DropInterval {
			t.Errorf("tier %d interval %d not below %d", i, cur.DropInterval, prev.DropInterval)
		}
		if cur.Level != prev.Level+1 {
			t.Errorf("tier %d level %d does not follow %d", i, cur.Level, prev.Level)
		}
	}
}

func TestExpectedMaxFallTime(t *testing.T) {
	table := newDifficultyTable(nil)

	// Tier 1: 1000 * 1.5 + 2000.
	if got := table.expectedMaxFallTime(0); got != 3500 {
		t.Fatalf("expectedMaxFallTime(0) = %v, want 3500", got)
	}
	// Tier 12: 200 * 1.5 + 2000.
	if got := table.expectedMaxFallTime(20000); got != 2300 {
		t.Fatalf("expectedMaxFallTime(20000) = %v, want 2300", got)
	}
}

func TestClassifyFallTime(t *testing.T) {
	table := newDifficultyTable(nil)

	if got := table.classifyFallTime(3500, 0); got != fallNormal {
		t.Fatalf("at the limit = %v, want normal", got)
	}
	if got := table.classifyFallTime(3501, 0); got != fallSlow {
		t.Fatalf("just over the limit = %v, want slow", got)
	}
	if got := table.classifyFallTime(maxPauseTimeMs-1, 0); got != fallSlow {
		t.Fatalf("below pause boundary = %v, want slow", got)
	}
	if got := table.classifyFallTime(maxPauseTimeMs, 0); got != fallPauseSuspect {
		t.Fatalf("at pause boundary = %v, want pause suspect", got)
	}
	// Fast play is never penalized.
	if got := table.classifyFallTime(1, 0); got != fallNormal {
		t.Fatalf("fast drop = %v, want normal", got)
	}
}

func TestLoadTiers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.json")

	doc := TierDocument{Tiers: []Tier{
		{Score: 1000, DropInterval: 500, Level: 2, Name: "Fast"},
		{Score: 0, DropInterval: 800, Level: 1, Name: "Slow"},
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tiers, err := LoadTiers(path)
	if err != nil {
		t.Fatalf("LoadTiers: %v", err)
	}
	if tiers[0].Score != 0 || tiers[1].Score != 1000 {
		t.Fatalf("tiers not sorted: %+v", tiers)
	}

	table := newDifficultyTable(tiers)
	if tier := table.TierFor(1500); tier.Name != "Fast" {
		t.Fatalf("TierFor(1500).Name = %q, want Fast", tier.Name)
	}
}

func TestLoadTiersRejectsMissingBaseline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.json")
	if err := os.WriteFile(path, []byte(`{"tiers":[{"score":100,"interval":500,"level":1}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTiers(path); err == nil {
		t.Fatalf("expected error for table without score-0 tier")
	}
}
