package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/census-population-etl/internal/adapter/store"
	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
)

func TestOpenStore_Format(t *testing.T) {
	unit := domain.GeographyUnit{Kind: domain.ZCTA, Code: "08401", StateFIPS: "34", StateAbbr: "NJ"}
	tests := []struct {
		format string
		want   map[store.Artifact]string
	}{
		{config.FormatNative, map[store.Artifact]string{store.Population: ".gob", store.AgeGender: ".csv", store.Household: ".gob"}},
		{config.FormatJSON, map[store.Artifact]string{store.Population: ".json", store.AgeGender: ".json", store.Household: ".json"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			e := &env{
				cfg:    &config.Config{OutputDir: t.TempDir(), GeographyKind: domain.ZCTA, OutputFormat: tt.format},
				logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			}
			st, err := openStore(e)
			require.NoError(t, err)
			assert.Equal(t, "zcta", filepath.Base(st.Root()))
			for a, ext := range tt.want {
				assert.Equal(t, ext, filepath.Ext(st.Path(a, unit)), string(a))
			}
		})
	}
}

func TestPlanCommand(t *testing.T) {
	t.Setenv("OUTPUT_DIR", t.TempDir())
	var out bytes.Buffer
	root := rootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"plan", "--size", "10"})

	require.NoError(t, root.ExecuteContext(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "batch 1: AK AL AR AZ CA CO CT DC DE FL", lines[0])
	assert.Equal(t, "batch 6: WY", lines[5])
}
