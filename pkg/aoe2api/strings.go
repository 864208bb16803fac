package aoe2api

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Strings resolves map and civilization ids to display names.
type Strings struct {
	maps          map[int]string
	civilizations map[int]string
}

// NewStrings builds lookup tables from explicit mappings.
func NewStrings(maps, civilizations map[int]string) *Strings {
	return &Strings{maps: maps, civilizations: civilizations}
}

func (s *Strings) MapName(id int) string {
	if s == nil {
		return ""
	}
	return s.maps[id]
}

func (s *Strings) CivilizationName(id int) string {
	if s == nil {
		return ""
	}
	return s.civilizations[id]
}

type stringEntry struct {
	ID     int    `json:"id"`
	String string `json:"string"`
}

type stringsResponse struct {
	MapType       []stringEntry `json:"map_type"`
	Civilizations []stringEntry `json:"civ"`
}

// Strings fetches the id-to-name lookup tables for the configured language.
func (c *Client) Strings(ctx context.Context) (*Strings, error) {
	params := url.Values{}
	params.Set("game", game)
	params.Set("language", c.language)

	var resp stringsResponse
	if err := c.get(ctx, "/api/strings", params, &resp); err != nil {
		return nil, err
	}

	out := &Strings{
		maps:          make(map[int]string, len(resp.MapType)),
		civilizations: make(map[int]string, len(resp.Civilizations)),
	}
	for _, entry := range resp.MapType {
		out.maps[entry.ID] = entry.String
	}
	for _, entry := range resp.Civilizations {
		out.civilizations[entry.ID] = entry.String
	}
	return out, nil
}

type stringsFile struct {
	Maps          map[int]string `yaml:"maps"`
	Civilizations map[int]string `yaml:"civilizations"`
}

// LoadStringsFile reads lookup tables from a local YAML file, used as a
// fallback when the strings endpoint is unreachable.
func LoadStringsFile(path string) (*Strings, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var file stringsFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, err
	}

	out := &Strings{
		maps:          make(map[int]string, len(file.Maps)),
		civilizations: make(map[int]string, len(file.Civilizations)),
	}
	for id, name := range file.Maps {
		out.maps[id] = name
	}
	for id, name := range file.Civilizations {
		out.civilizations[id] = name
	}
	return out, nil
}
