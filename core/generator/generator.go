// Package generator produces synthetic borrower graphs for training.
//
// Node features follow a fixed recipe: age is uniform in [18,70), income is
// normal around 50k and clipped, and dharma_score mixes age, income and noise.
// Labels come from a hidden threshold rule on income and dharma_score. Every
// draw comes from one PCG stream seeded by Config.Seed, so equal configs give
// bit-identical graphs.
package generator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/adalundhe/nexus/core/graph"
	"gonum.org/v1/gonum/stat/distuv"
)

// =============================================================================
// Constants
// =============================================================================

const (
	AgeMin = 18 // inclusive
	AgeMax = 70 // exclusive

	IncomeMean = 50000.0
	IncomeStd  = 15000.0
	IncomeMin  = 15000.0
	IncomeMax  = 200000.0

	DharmaAgeWeight    = 0.3
	DharmaIncomeWeight = 0.7
	DharmaNoiseStd     = 0.1

	LabelIncomeWeight = 0.4
	LabelDharmaWeight = 0.6

	// DefaultThreshold is the default probability above which a node is high risk.
	DefaultThreshold = 0.6

	// DefaultHomophilyWindow is the income-rank radius used for homophilous edges.
	DefaultHomophilyWindow = 10

	// streamSalt decorrelates the two PCG state words derived from one seed.
	streamSalt = 0x9e3779b97f4a7c15
)

var (
	ErrInvalidNodeCount = errors.New("num_nodes must be positive")
	ErrInvalidEdgeCount = errors.New("num_edges must not be negative")
	ErrInvalidHomophily = errors.New("homophily must be within [0,1]")
)

// =============================================================================
// Config
// =============================================================================

// Config controls dataset size, randomness and edge bias.
type Config struct {
	// Nodes is the number of borrowers. Must be positive.
	Nodes int `yaml:"nodes"`

	// Edges is the number of (source, target) draws. Self pairs are dropped
	// afterwards, so the stored count may be lower.
	Edges int `yaml:"edges"`

	// Seed drives every random draw.
	Seed uint64 `yaml:"seed"`

	// Homophily is the probability that an edge target is picked among the
	// source's income neighbours instead of uniformly. Zero keeps the plain
	// uniform rule.
	Homophily float64 `yaml:"homophily"`

	// HomophilyWindow is the income-rank radius for homophilous targets.
	HomophilyWindow int `yaml:"homophily_window"`
}

// DefaultConfig returns the reference dataset configuration.
func DefaultConfig() Config {
	return Config{
		Nodes:           1000,
		Edges:           2500,
		Seed:            42,
		HomophilyWindow: DefaultHomophilyWindow,
	}
}

// Validate checks the size and bias parameters.
func (c Config) Validate() error {
	if c.Nodes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidNodeCount, c.Nodes)
	}
	if c.Edges < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidEdgeCount, c.Edges)
	}
	if !(c.Homophily >= 0 && c.Homophily <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidHomophily, c.Homophily)
	}
	return nil
}

// =============================================================================
// Generation
// =============================================================================

// Generate builds a labeled graph from cfg.
func Generate(cfg Config) (*graph.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed^streamSalt)
	rng := rand.New(src)
	n := cfg.Nodes

	age := make([]float64, n)
	for i := range age {
		age[i] = float64(AgeMin + rng.IntN(AgeMax-AgeMin))
	}

	incomeDist := distuv.Normal{Mu: IncomeMean, Sigma: IncomeStd, Src: src}
	income := make([]float64, n)
	for i := range income {
		income[i] = clip(incomeDist.Rand(), IncomeMin, IncomeMax)
	}

	noise := distuv.Normal{Mu: 0, Sigma: DharmaNoiseStd, Src: src}
	dharma := make([]float64, n)
	for i := range dharma {
		base := DharmaAgeWeight*(age[i]/AgeMax) + DharmaIncomeWeight*(income[i]/IncomeMax)
		dharma[i] = clip(base+noise.Rand(), 0, 1)
	}

	features := make([]float64, 0, n*graph.NumFeatures)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		features = append(features, age[i], income[i], dharma[i])
		labels[i] = Label(income[i], dharma[i])
	}

	edges := drawEdges(rng, cfg, income)

	return graph.New(features, edges, labels), nil
}

// drawEdges samples all sources first, then all targets, and drops self pairs.
func drawEdges(rng *rand.Rand, cfg Config, income []float64) []graph.Edge {
	n := cfg.Nodes
	sources := make([]int, cfg.Edges)
	for k := range sources {
		sources[k] = rng.IntN(n)
	}

	var order, rank []int
	if cfg.Homophily > 0 {
		order, rank = incomeRanks(income)
	}
	window := cfg.HomophilyWindow
	if window <= 0 {
		window = DefaultHomophilyWindow
	}

	targets := make([]int, cfg.Edges)
	for k := range targets {
		if cfg.Homophily > 0 && rng.Float64() < cfg.Homophily {
			targets[k] = nearbyByIncome(rng, order, rank, sources[k], window)
			continue
		}
		targets[k] = rng.IntN(n)
	}

	edges := make([]graph.Edge, 0, cfg.Edges)
	for k := range sources {
		if sources[k] == targets[k] {
			continue
		}
		edges = append(edges, graph.Edge{Source: sources[k], Target: targets[k]})
	}
	return edges
}

// incomeRanks returns node ids sorted by income and each node's position.
func incomeRanks(income []float64) (order, rank []int) {
	order = make([]int, len(income))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return income[order[a]] < income[order[b]]
	})
	rank = make([]int, len(income))
	for pos, id := range order {
		rank[id] = pos
	}
	return order, rank
}

func nearbyByIncome(rng *rand.Rand, order, rank []int, source, window int) int {
	pos := rank[source] + rng.IntN(2*window+1) - window
	if pos < 0 {
		pos = 0
	}
	if pos >= len(order) {
		pos = len(order) - 1
	}
	return order[pos]
}

// =============================================================================
// Label Rule
// =============================================================================

// DefaultProbability is the hidden ground-truth risk for a borrower.
func DefaultProbability(income, dharma float64) float64 {
	return 1 - (LabelIncomeWeight*(income/IncomeMax) + LabelDharmaWeight*dharma)
}

// Label applies the generator's threshold rule.
func Label(income, dharma float64) int {
	if DefaultProbability(income, dharma) > DefaultThreshold {
		return graph.LabelHighRisk
	}
	return graph.LabelSafe
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
