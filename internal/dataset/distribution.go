package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// SequenceLengthPair is one (input length, output length) bucket with a
// percentage weight and optional per-length Gaussian jitter, matching
// original_source's sequence_distribution.py SequenceLengthPair.
type SequenceLengthPair struct {
	InputLength        int
	OutputLength       int
	ProbabilityPercent float64
	InputStddev        float64
	OutputStddev       float64
}

func (p SequenceLengthPair) validate() error {
	if p.InputLength <= 0 || p.OutputLength <= 0 {
		return fmt.Errorf("dataset: sequence length pair lengths must be positive, got (%d,%d)", p.InputLength, p.OutputLength)
	}
	if p.ProbabilityPercent < 0 || p.ProbabilityPercent > 100 {
		return fmt.Errorf("dataset: sequence length pair probability must be in [0,100], got %v", p.ProbabilityPercent)
	}
	if p.InputStddev < 0 || p.OutputStddev < 0 {
		return fmt.Errorf("dataset: sequence length pair stddev must be non-negative")
	}
	return nil
}

// SequenceLengthDistribution samples (input_len, output_len) pairs from a
// weighted set of buckets. Probabilities are percentages summing to 100
// (the convention original_source's validator enforces), not fractions.
type SequenceLengthDistribution struct {
	pairs []SequenceLengthPair
	cum   []float64 // cumulative percentage, same length as pairs
}

const probabilityTolerance = 1e-6

// NewSequenceLengthDistribution validates pairs and builds the cumulative
// table used for sampling.
func NewSequenceLengthDistribution(pairs []SequenceLengthPair) (*SequenceLengthDistribution, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dataset: sequence length distribution requires at least one pair")
	}
	total := 0.0
	for _, p := range pairs {
		if err := p.validate(); err != nil {
			return nil, err
		}
		total += p.ProbabilityPercent
	}
	if math.Abs(total-100.0) > probabilityTolerance {
		return nil, fmt.Errorf("dataset: sequence length distribution probabilities must sum to 100, got %v", total)
	}

	cum := make([]float64, len(pairs))
	running := 0.0
	for i, p := range pairs {
		running += p.ProbabilityPercent
		cum[i] = running
	}
	cum[len(cum)-1] = 100.0 // absorb float drift so the final bucket is always reachable

	return &SequenceLengthDistribution{pairs: pairs, cum: cum}, nil
}

// Sample draws one (input, output) length pair using rng, applying each
// bucket's Gaussian jitter when a stddev is configured.
func (d *SequenceLengthDistribution) Sample(rng *rand.Rand) (inputLen, outputLen int) {
	draw := rng.Float64() * 100.0
	idx := 0
	for i, c := range d.cum {
		if draw <= c {
			idx = i
			break
		}
		idx = i
	}
	p := d.pairs[idx]
	return samplePositiveNormalInt(rng, p.InputLength, p.InputStddev), samplePositiveNormalInt(rng, p.OutputLength, p.OutputStddev)
}

func samplePositiveNormalInt(rng *rand.Rand, mean int, stddev float64) int {
	if stddev <= 0 {
		return mean
	}
	for {
		v := rng.NormFloat64()*stddev + float64(mean)
		if v >= 1 {
			return int(math.Round(v))
		}
	}
}

// matches the three notations original_source's DistributionParser
// accepts: "256,128:40|10;512,256:60", "[(256,128):40,(512,256):60]", or
// a bracketed form with an optional trailing "|stddev,stddev" per pair.
var pairPattern = regexp.MustCompile(`\(?(\d+)\s*,\s*(\d+)\)?\s*:\s*([\d.]+)(?:\|([\d.]+)(?:,([\d.]+))?)?`)

// ParseSequenceLengthDistribution parses one of the textual notations
// original_source supports into a SequenceLengthDistribution.
func ParseSequenceLengthDistribution(spec string) (*SequenceLengthDistribution, error) {
	spec = strings.TrimSpace(spec)
	spec = strings.Trim(spec, "[]")
	parts := strings.FieldsFunc(spec, func(r rune) bool { return r == ';' || r == ',' && false })
	// Split on ';' first; fall back to matching pairs anywhere in the string.
	segments := strings.Split(spec, ";")
	var pairs []SequenceLengthPair
	for _, seg := range segments {
		matches := pairPattern.FindAllStringSubmatch(seg, -1)
		for _, m := range matches {
			inLen, _ := strconv.Atoi(m[1])
			outLen, _ := strconv.Atoi(m[2])
			prob, err := strconv.ParseFloat(m[3], 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: invalid probability in %q: %w", seg, err)
			}
			var inStd, outStd float64
			if m[4] != "" {
				inStd, _ = strconv.ParseFloat(m[4], 64)
				outStd = inStd
			}
			if m[5] != "" {
				outStd, _ = strconv.ParseFloat(m[5], 64)
			}
			pairs = append(pairs, SequenceLengthPair{
				InputLength:        inLen,
				OutputLength:       outLen,
				ProbabilityPercent: prob,
				InputStddev:        inStd,
				OutputStddev:       outStd,
			})
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dataset: could not parse any sequence length pair from %q", spec)
	}
	_ = parts
	return NewSequenceLengthDistribution(pairs)
}

// NewUniformDistribution spreads equal probability across lengths.
func NewUniformDistribution(lengths [][2]int) (*SequenceLengthDistribution, error) {
	if len(lengths) == 0 {
		return nil, fmt.Errorf("dataset: uniform distribution requires at least one length pair")
	}
	share := 100.0 / float64(len(lengths))
	pairs := make([]SequenceLengthPair, len(lengths))
	for i, l := range lengths {
		pairs[i] = SequenceLengthPair{InputLength: l[0], OutputLength: l[1], ProbabilityPercent: share}
	}
	// Absorb rounding drift into the last bucket so validation passes.
	sum := 0.0
	for _, p := range pairs[:len(pairs)-1] {
		sum += p.ProbabilityPercent
	}
	pairs[len(pairs)-1].ProbabilityPercent = 100.0 - sum
	return NewSequenceLengthDistribution(pairs)
}
