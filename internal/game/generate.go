package game

import (
	"hash/fnv"
	"math/rand"

	"gridlock/server/internal/sector"
)

// DefaultSeed is used when no seed is configured.
const DefaultSeed = "prototype"

// GenerationConfig tunes the deterministic mineral layout.
type GenerationConfig struct {
	Seed       string
	Density    int // percent of cells seeded with ore
	MaxStack   int // tallest generated stack
	FeedChance int // percent of seeded cells feeding the previous seed
}

func DefaultGeneration() GenerationConfig {
	return GenerationConfig{
		Seed:       DefaultSeed,
		Density:    20,
		MaxStack:   6,
		FeedChance: 25,
	}
}

// DeterministicSeedValue derives a stable RNG seed from a root seed and a
// stream label, so independent subsystems draw from independent streams.
func DeterministicSeedValue(rootSeed, stream string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(stream))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

func NewDeterministicRNG(rootSeed, stream string) *rand.Rand {
	return rand.New(rand.NewSource(DeterministicSeedValue(rootSeed, stream)))
}

// SeedMinerals populates mineral sectors over the playfield. Cells are
// visited in row-major order and the RNG stream is fixed, so the same seed
// always yields the same layout. Returns the number of seeded sectors.
func SeedMinerals(pops *Populations, gen GenerationConfig) int {
	if gen.Seed == "" {
		gen.Seed = DefaultSeed
	}
	rng := NewDeterministicRNG(gen.Seed, "minerals")
	grid := pops.Rules.Grid

	seeded := 0
	var prev *sector.ID
	for row := 0; row < grid.Rows; row++ {
		prev = nil
		for col := 0; col < grid.Cols; col++ {
			if rng.Intn(100) >= gen.Density {
				continue
			}
			id := sector.ID{Col: col, Row: row}
			height := 1 + rng.Intn(gen.MaxStack)
			stack := make([]int, height)
			for i := range stack {
				stack[i] = 1 + rng.Intn(9)
			}
			m := &Mineral{ID: id, Stack: stack}
			if prev != nil && rng.Intn(100) < gen.FeedChance {
				feed := *prev
				m.Feed = &feed
			}
			pops.Minerals.Add(m)
			prev = &id
			seeded++
		}
	}
	return seeded
}
