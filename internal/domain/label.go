package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// UnknownBucket is returned when no age rule matches. Records in this bucket
// are dropped by the normalizer and counted for data-quality auditing.
const UnknownBucket = "unknown"

// AgeRule maps labels matching Pattern to Bucket.
type AgeRule struct {
	Pattern *regexp.Regexp
	Bucket  string
}

// LabelParser turns variable labels into (gender, age bucket) pairs.
// It is immutable after construction and safe for concurrent use.
type LabelParser struct {
	maleMarker string
	rules      []AgeRule
	collapse   map[string]string
}

// NewLabelParser builds a parser. Rule order matters: the first matching
// rule wins, so narrower patterns must precede broader ones. collapse remaps
// matched buckets (e.g. "20" and "21" to "20t21").
func NewLabelParser(maleMarker string, rules []AgeRule, collapse map[string]string) (*LabelParser, error) {
	if maleMarker == "" {
		return nil, fmt.Errorf("label parser: male marker is required")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("label parser: at least one age rule is required")
	}
	for i, r := range rules {
		if r.Pattern == nil || r.Bucket == "" {
			return nil, fmt.Errorf("label parser: rule %d needs a pattern and a bucket", i)
		}
	}
	c := make(map[string]string, len(collapse))
	for from, to := range collapse {
		c[from] = to
	}
	return &LabelParser{
		maleMarker: maleMarker,
		rules:      slices.Clone(rules),
		collapse:   c,
	}, nil
}

// Parse resolves a label. Labels without the male marker are female.
func (p *LabelParser) Parse(label string) (Gender, string) {
	gender := Female
	if strings.Contains(label, p.maleMarker) {
		gender = Male
	}

	for _, r := range p.rules {
		if r.Pattern.MatchString(label) {
			return gender, p.collapseBucket(r.Bucket)
		}
	}
	return gender, UnknownBucket
}

func (p *LabelParser) collapseBucket(bucket string) string {
	if to, ok := p.collapse[bucket]; ok {
		return to
	}
	return bucket
}

// Buckets lists the distinct buckets the parser can produce after collapse,
// in rule order, excluding UnknownBucket.
func (p *LabelParser) Buckets() []string {
	var out []string
	for _, r := range p.rules {
		b := p.collapseBucket(r.Bucket)
		if b == UnknownBucket || slices.Contains(out, b) {
			continue
		}
		out = append(out, b)
	}
	return out
}
