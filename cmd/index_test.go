package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidschrooten/atlas-search-query/config"
)

func TestSettingsPath(t *testing.T) {
	cfg := &config.Config{Indexes: []config.IndexConfig{
		{Name: "content", Collection: "content", SettingsFile: "indexes/content.yaml"},
		{Name: "articles", Collection: "articles"},
	}}

	tests := []struct {
		name  string
		index string
		flag  string
		want  string
	}{
		{"flag wins", "content", "override.json", "override.json"},
		{"configured settings file", "content", "", "indexes/content.yaml"},
		{"configured index without file", "articles", "", ""},
		{"unknown index", "missing", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, settingsPath(cfg, tt.index, tt.flag))
		})
	}
}
