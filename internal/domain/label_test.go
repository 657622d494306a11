package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(pattern, bucket string) AgeRule {
	return AgeRule{Pattern: regexp.MustCompile(pattern), Bucket: bucket}
}

func testParser(t *testing.T) *LabelParser {
	t.Helper()
	p, err := NewLabelParser("Male", []AgeRule{
		rule(`Under 5 years`, "u5"),
		rule(`\b5 to 9 years`, "5t9"),
		rule(`\b10 to 14 years`, "10t14"),
		rule(`\b15 to 17 years`, "15t17"),
		rule(`\b18 and 19 years`, "18t19"),
		rule(`!!20 years`, "20"),
		rule(`!!21 years`, "21"),
		rule(`\b22 to 24 years`, "22t24"),
		rule(`\b2\d to 2\d years`, "25t29"),
		rule(`85 years and over`, "85plus"),
	}, map[string]string{"20": "20t21", "21": "20t21"})
	require.NoError(t, err)
	return p
}

func TestLabelParser_Parse(t *testing.T) {
	p := testParser(t)

	tests := []struct {
		label  string
		gender Gender
		bucket string
	}{
		{"Estimate!!Total:!!Male:!!Under 5 years", Male, "u5"},
		{"Estimate!!Total:!!Female:!!5 to 9 years", Female, "5t9"},
		{"Estimate!!Total:!!Male:!!15 to 17 years", Male, "15t17"},
		{"Estimate!!Total:!!Female:!!18 and 19 years", Female, "18t19"},
		{"Estimate!!Total:!!Male:!!20 years", Male, "20t21"},
		{"Estimate!!Total:!!Female:!!21 years", Female, "20t21"},
		{"Estimate!!Total:!!Male:!!22 to 24 years", Male, "22t24"},
		{"Estimate!!Total:!!Female:!!85 years and over", Female, "85plus"},
		{"Estimate!!Total:!!Male:", Male, UnknownBucket},
		{"Estimate!!Total:", Female, UnknownBucket},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			gender, bucket := p.Parse(tt.label)
			assert.Equal(t, tt.gender, gender)
			assert.Equal(t, tt.bucket, bucket)
		})
	}
}

func TestLabelParser_FemaleIsNotMale(t *testing.T) {
	p := testParser(t)
	gender, _ := p.Parse("Female:!!Under 5 years")
	assert.Equal(t, Female, gender, "the marker is case-sensitive so Female never matches Male")
}

func TestLabelParser_Pure(t *testing.T) {
	p := testParser(t)
	label := "Estimate!!Total:!!Male:!!22 to 24 years"

	g1, b1 := p.Parse(label)
	for range 100 {
		g, b := p.Parse(label)
		assert.Equal(t, g1, g)
		assert.Equal(t, b1, b)
	}
}

func TestLabelParser_FirstMatchWins(t *testing.T) {
	// "22 to 24 years" also matches the broad 2x-to-2x rule; order decides.
	p := testParser(t)
	_, bucket := p.Parse("Male:!!22 to 24 years")
	assert.Equal(t, "22t24", bucket)

	reversed, err := NewLabelParser("Male", []AgeRule{
		rule(`\b2\d to 2\d years`, "25t29"),
		rule(`\b22 to 24 years`, "22t24"),
	}, nil)
	require.NoError(t, err)
	_, bucket = reversed.Parse("Male:!!22 to 24 years")
	assert.Equal(t, "25t29", bucket)
}

func TestLabelParser_Buckets(t *testing.T) {
	p := testParser(t)
	assert.Equal(t,
		[]string{"u5", "5t9", "10t14", "15t17", "18t19", "20t21", "22t24", "25t29", "85plus"},
		p.Buckets())
}

func TestNewLabelParser_Invalid(t *testing.T) {
	_, err := NewLabelParser("", []AgeRule{rule("x", "x")}, nil)
	require.Error(t, err)

	_, err = NewLabelParser("Male", nil, nil)
	require.Error(t, err)

	_, err = NewLabelParser("Male", []AgeRule{{Bucket: "x"}}, nil)
	require.Error(t, err)
}
