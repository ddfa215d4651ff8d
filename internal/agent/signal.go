package agent

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

var (
	ethicalTerms = []string{
		"hope", "truth", "resonance", "repair", "grace",
		"resolve", "integrity", "compassion", "courage", "wisdom",
	}
	entropicTerms = []string{
		"corruption", "instability", "malice", "chaos", "exploit",
		"manipulate", "bypass", "infect", "override", "fraud",
	}
	riskTerms = []string{
		"manipulate", "exploit", "bypass", "infect", "override",
		"steal", "hack", "deceive", "mislead", "forge",
	}
	suspiciousMerchants = []string{"crypto", "exchange", "anonymous"}
	trustedMerchants    = []string{"amazon", "netflix", "apple", "microsoft", "google", "paypal"}
)

// Alignment and ethics labels.
const (
	AlignmentAligned   = "aligned"
	AlignmentUnaligned = "unaligned"

	EthicsStabilized = "stabilized"
	EthicsDiffused   = "diffused"
	EthicsNeutral    = "neutral"

	RiskHigh = "high"
	RiskLow  = "low"
)

// IntentVector is the lexical reading of a record's free-text signal.
type IntentVector struct {
	Suspicion  float64 `json:"suspicion_score"`
	Entropy    float64 `json:"entropy_index"`
	Alignment  string  `json:"ethical_alignment"`
	Volatility float64 `json:"harmonic_volatility"`
	Risk       string  `json:"pre_corruption_risk"`
}

// Signal scores a record by fuzzy-matching its merchant, description and
// category against risk, entropy and ethics vocabularies.
type Signal struct {
	base
}

// NewSignal creates a signal agent.
func NewSignal(store *memory.Store, logger *zap.Logger) *Signal {
	return &Signal{base: newBase("signal", store, logger)}
}

type signalFields struct {
	merchant, description, category string
	amount                          float64
}

// Analyze reads the record's text fields and amount.
func (a *Signal) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var f signalFields
	switch v := in.(type) {
	case TransactionInput:
		f = signalFields{v.Merchant, v.Description, v.Category, v.Amount}
	case StreamRecord:
		f.merchant = stringField(v.Payload, "merchant")
		f.description = stringField(v.Payload, "description")
		f.category = stringField(v.Payload, "category")
		f.amount, _ = numberField(v.Payload, "amount")
	default:
		return nil, fmt.Errorf("%w: signal cannot analyze %T", ErrInvalidInput, in)
	}

	signal := extractSignal(f)
	words := tokenize(signal)
	intent := analyzeIntent(words, f)
	ethics := evaluateEthics(words)
	virtue := intentVirtue(intent)

	return a.finish(in.Topic(), &Result{
		Findings: map[string]any{
			"signal":              signal,
			"suspicion_score":     intent.Suspicion,
			"entropy_index":       intent.Entropy,
			"ethical_alignment":   intent.Alignment,
			"harmonic_volatility": intent.Volatility,
			"pre_corruption_risk": intent.Risk,
			"ethics":              ethics,
			"harmonic_profile":    harmonicProfile(signal),
		},
		Virtue: virtue,
		Explanation: fmt.Sprintf("Signal analysis: %s risk | ethical: %s | entropy: %.2f | virtue: %s",
			intent.Risk, intent.Alignment, intent.Entropy, virtue),
	}), nil
}

func extractSignal(f signalFields) string {
	var parts []string
	for _, s := range []string{f.merchant, f.description, f.category} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "neutral"
	}
	return strings.Join(parts, " ")
}

// tokenize splits text into lowercase words on spaces and list punctuation.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == ';' || r == ','
	})
}

func analyzeIntent(words []string, f signalFields) IntentVector {
	merchant := strings.ToLower(strings.TrimSpace(f.merchant))

	var suspicion float64
	for _, w := range words {
		suspicion += 0.25 * float64(countMatches(w, riskTerms, 0.75))
	}
	switch {
	case f.amount > 10000:
		suspicion += 0.3
	case f.amount > 5000:
		suspicion += 0.15
	}
	if matchesAny(merchant, suspiciousMerchants, 0.7) {
		suspicion += 0.3
	}
	suspicion = math.Min(suspicion, 1)

	var entropy float64
	for _, w := range words {
		entropy += 0.2 * float64(countMatches(w, entropicTerms, 0.75))
	}
	entropy = math.Min(entropy, 1)

	alignment := AlignmentUnaligned
	if matchesAny(merchant, trustedMerchants, 0.8) {
		alignment = AlignmentAligned
	} else {
		for _, w := range words {
			if matchesAny(w, ethicalTerms, 0.75) {
				alignment = AlignmentAligned
				break
			}
		}
	}

	volatility := (entropy + suspicion) / 2
	risk := RiskLow
	if suspicion > 0.5 || entropy > 0.6 || volatility > 0.55 || f.amount > 8000 {
		risk = RiskHigh
	}

	return IntentVector{
		Suspicion:  Round(suspicion, 3),
		Entropy:    Round(entropy, 3),
		Alignment:  alignment,
		Volatility: Round(volatility, 3),
		Risk:       risk,
	}
}

func intentVirtue(in IntentVector) VirtueProfile {
	var integrity, compassion float64
	if in.Alignment == AlignmentAligned {
		integrity = 0.85 + (1-in.Entropy)*0.15
		compassion = 0.8 + (1-in.Suspicion)*0.2
	} else {
		integrity = math.Max(0.3, 0.5-in.Entropy)
		compassion = math.Max(0.2, 0.6-in.Suspicion*2)
	}
	courage := 1 - in.Volatility
	wisdom := (integrity + 1 - math.Min(in.Entropy, 1)) / 2

	return VirtueProfile{
		Integrity:  Round(Clamp01(integrity), 3),
		Compassion: Round(Clamp01(compassion), 3),
		Courage:    Round(Clamp01(courage), 3),
		Wisdom:     Round(Clamp01(wisdom), 3),
	}
}

func evaluateEthics(words []string) string {
	var ethical, entropic int
	for _, w := range words {
		if matchesAny(w, ethicalTerms, 0.75) {
			ethical++
		}
		if matchesAny(w, entropicTerms, 0.75) {
			entropic++
		}
	}
	switch {
	case ethical > 0 && entropic == 0:
		return EthicsStabilized
	case entropic > ethical:
		return EthicsDiffused
	default:
		return EthicsNeutral
	}
}

// harmonicProfile maps the first three letters of signal onto [0, 1).
func harmonicProfile(signal string) []float64 {
	out := make([]float64, 3)
	i := 0
	for _, r := range signal {
		if i == len(out) {
			break
		}
		if unicode.IsLetter(r) {
			out[i] = Round(float64(r%13)/13, 2)
			i++
		}
	}
	return out
}

// fuzzyMatch reports whether a and b are within the given normalized
// Levenshtein similarity.
func fuzzyMatch(a, b string, threshold float64) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1-float64(dist)/float64(maxLen) >= threshold
}

func countMatches(word string, terms []string, threshold float64) int {
	var n int
	for _, t := range terms {
		if fuzzyMatch(word, t, threshold) {
			n++
		}
	}
	return n
}

func matchesAny(word string, terms []string, threshold float64) bool {
	for _, t := range terms {
		if fuzzyMatch(word, t, threshold) {
			return true
		}
	}
	return false
}
