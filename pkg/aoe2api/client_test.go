package aoe2api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestMatchesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/player/matches" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("game") != "aoe2de" || q.Get("profile_id") != "42" || q.Get("count") != "20" || q.Get("start") != "0" {
			t.Fatalf("unexpected query: %v", q)
		}
		w.Write([]byte(`[{
			"match_id": 123456,
			"ranked": true,
			"server": "westeurope",
			"started": 1615734540,
			"finished": 1615737060,
			"players": [{"profile_id": 7, "name": "alice", "country": "fr", "rating": 1650}]
		}]`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "en")
	matches, err := c.Matches(context.Background(), "42", 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %d", len(matches))
	}
	if matches[0].MatchID.String() != "123456" {
		t.Fatalf("numeric match id not preserved: %q", matches[0].MatchID)
	}
	if len(matches[0].Players) != 1 || matches[0].Players[0].Rating == nil || *matches[0].Players[0].Rating != 1650 {
		t.Fatalf("players mangled: %+v", matches[0].Players)
	}
}

func TestMatchNon2xxIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "en")
	if _, err := c.Match(context.Background(), "M1"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestStrings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/strings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("language") != "fr" {
			t.Fatalf("unexpected language %q", r.URL.Query().Get("language"))
		}
		w.Write([]byte(`{
			"map_type": [{"id": 9, "string": "Arabie"}],
			"civ": [{"id": 11, "string": "Francs"}]
		}`))
	}))
	defer server.Close()

	c := New(server.Client(), server.URL, "fr")
	names, err := c.Strings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if names.MapName(9) != "Arabie" {
		t.Fatalf("map name not resolved: %q", names.MapName(9))
	}
	if names.CivilizationName(11) != "Francs" {
		t.Fatalf("civ name not resolved: %q", names.CivilizationName(11))
	}
	if names.MapName(999) != "" {
		t.Fatal("unknown id should resolve to empty name")
	}
}

func TestStringsNilReceiver(t *testing.T) {
	var names *Strings
	if names.MapName(9) != "" || names.CivilizationName(11) != "" {
		t.Fatal("nil tables should resolve to empty names")
	}
}

func TestLoadStringsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strings.yaml")
	content := []byte("maps:\n  9: Arabia\ncivilizations:\n  11: Franks\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	names, err := LoadStringsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if names.MapName(9) != "Arabia" || names.CivilizationName(11) != "Franks" {
		t.Fatal("yaml tables not loaded")
	}

	if _, err := LoadStringsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
