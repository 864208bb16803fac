package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boertel/aoe2/pkg/aoe2api"
	"github.com/boertel/aoe2/pkg/backend"
	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
	"github.com/boertel/aoe2/pkg/recparse"
	"github.com/boertel/aoe2/pkg/resolver"
)

func init() {
	logger.Init()
}

type fakeBackend struct {
	records   map[string]*models.Match
	saved     map[string]*models.Match
	history   map[string][]models.Status
	getErr    error
	saveErr   error
	statusErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: make(map[string]*models.Match),
		saved:   make(map[string]*models.Match),
		history: make(map[string][]models.Status),
	}
}

func (f *fakeBackend) RegisterMatches(ctx context.Context, matches []*models.Match) ([]string, error) {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		f.records[m.MatchID] = m
		ids = append(ids, m.MatchID)
	}
	return ids, nil
}

func (f *fakeBackend) SetStatus(ctx context.Context, matchID string, status models.Status) (*models.Match, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	f.history[matchID] = append(f.history[matchID], status)
	rec, ok := f.records[matchID]
	if !ok {
		rec = &models.Match{MatchID: matchID}
		f.records[matchID] = rec
	}
	rec.Status = status
	return rec, nil
}

func (f *fakeBackend) Get(ctx context.Context, matchID string) (*models.Match, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[matchID]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return rec, nil
}

func (f *fakeBackend) Save(ctx context.Context, match *models.Match) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[match.MatchID] = match
	return nil
}

type fakeMetadata struct {
	pages  map[string][]aoe2api.Match
	byID   map[string]*aoe2api.Match
	byUUID map[string]*aoe2api.Match
}

func (f *fakeMetadata) Matches(ctx context.Context, profileID string, count, start int) ([]aoe2api.Match, error) {
	return f.pages[profileID], nil
}

func (f *fakeMetadata) Match(ctx context.Context, matchID string) (*aoe2api.Match, error) {
	if m, ok := f.byID[matchID]; ok {
		return m, nil
	}
	return nil, errors.New("match not found upstream")
}

func (f *fakeMetadata) MatchByUUID(ctx context.Context, uuid string) (*aoe2api.Match, error) {
	if m, ok := f.byUUID[uuid]; ok {
		return m, nil
	}
	return nil, errors.New("uuid not found upstream")
}

func (f *fakeMetadata) Strings(ctx context.Context) (*aoe2api.Strings, error) {
	return aoe2api.NewStrings(
		map[int]string{9: "Arabia"},
		map[int]string{11: "Franks", 23: "Goths"},
	), nil
}

type fakeBlobs struct {
	data      map[string][]byte
	writes    int
	existsErr error
	readErr   error
	writeErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: make(map[string][]byte)}
}

func (f *fakeBlobs) Exists(ctx context.Context, matchID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.data[matchID]
	return ok, nil
}

func (f *fakeBlobs) Read(ctx context.Context, matchID string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	data, ok := f.data[matchID]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeBlobs) Write(ctx context.Context, matchID string, data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	f.data[matchID] = data
	return nil
}

type fakeResolver struct {
	recording []byte
	err       error
	calls     int
}

func (f *fakeResolver) Resolve(ctx context.Context, matchID string, candidates []int) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.recording, nil
}

type fakeDecoder struct {
	summary *recparse.Summary
	err     error
}

func (f *fakeDecoder) Decode(ctx context.Context, recording []byte) (*recparse.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type dispatchCall struct {
	stage      string
	attributes map[string]string
}

type captureDispatcher struct {
	calls []dispatchCall
	hook  func(stage string)
}

func (d *captureDispatcher) Dispatch(ctx context.Context, stage string, attributes map[string]string) error {
	if d.hook != nil {
		d.hook(stage)
	}
	d.calls = append(d.calls, dispatchCall{stage: stage, attributes: attributes})
	return nil
}

func apiMatch(id string, profileIDs ...int) *aoe2api.Match {
	players := make([]aoe2api.Player, 0, len(profileIDs))
	for _, profileID := range profileIDs {
		players = append(players, aoe2api.Player{ProfileID: profileID, Name: "player", Country: "fr"})
	}
	return &aoe2api.Match{
		MatchID:  json.Number(id),
		Server:   "westeurope",
		Started:  1615734540,
		Finished: 1615737060,
		Players:  players,
	}
}

func registeredMatch(id string, status models.Status, profileIDs ...int) *models.Match {
	m := &models.Match{MatchID: id, Status: status}
	for _, profileID := range profileIDs {
		m.MergePlayer(&models.Player{ProfileID: profileID})
	}
	return m
}

func newTestStages(be *fakeBackend, api *fakeMetadata, blobs *fakeBlobs, res RecordingResolver, dec recparse.Decoder) (*Stages, *captureDispatcher) {
	s := New(be, api, blobs, res, dec)
	d := &captureDispatcher{}
	s.SetDispatcher(d)
	return s, d
}

func TestDownloadExistingBlobDoesNothingButDispatchParse(t *testing.T) {
	be := newFakeBackend()
	be.records["M1"] = registeredMatch("M1", models.StatusDownloadEnded, 7, 9)
	blobs := newFakeBlobs()
	blobs.data["M1"] = []byte("already stored")
	res := &fakeResolver{}

	s, d := newTestStages(be, &fakeMetadata{}, blobs, res, &fakeDecoder{})
	if err := s.Download(context.Background(), "M1"); err != nil {
		t.Fatal(err)
	}

	if blobs.writes != 0 {
		t.Fatalf("expected zero writes, got %d", blobs.writes)
	}
	if res.calls != 0 {
		t.Fatal("resolver should not be called when a blob exists")
	}
	if len(be.history["M1"]) != 0 {
		t.Fatalf("status should be untouched, got %v", be.history["M1"])
	}
	if len(d.calls) != 1 || d.calls[0].stage != StageParse {
		t.Fatalf("expected a single parse dispatch, got %v", d.calls)
	}
}

func TestDownloadAndParseEndToEnd(t *testing.T) {
	recording := []byte("recording bytes")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, _ := zw.Create("AgeIIDE_Replay_M1.aoe2record")
	entry.Write(recording)
	zw.Close()

	var tried []string
	host := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profileID := r.URL.Query().Get("profileId")
		tried = append(tried, profileID)
		if profileID != "7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(buf.Bytes())
	}))
	defer host.Close()

	be := newFakeBackend()
	be.records["M1"] = registeredMatch("M1", models.StatusFetched, 7, 9)
	api := &fakeMetadata{byID: map[string]*aoe2api.Match{"M1": apiMatch("M1", 7, 9)}}
	blobs := newFakeBlobs()
	dec := &fakeDecoder{summary: &recparse.Summary{
		MatchUUID:  "uuid-m1",
		MapID:      9,
		DurationMS: 1890000,
		Players: []recparse.SummaryPlayer{
			{ProfileID: 7, Team: 1, ColorID: 1, CivilizationID: 11, Winner: true},
			{ProfileID: 9, Team: 2, ColorID: 2, CivilizationID: 23},
		},
	}}

	s := New(be, api, blobs, resolver.New(host.Client(), host.URL), dec)
	s.SetDispatcher(NewLocalDispatcher(s))

	if err := s.Download(context.Background(), "M1"); err != nil {
		t.Fatal(err)
	}

	// 9 is popped before 7
	if len(tried) != 2 || tried[0] != "9" || tried[1] != "7" {
		t.Fatalf("unexpected candidate order: %v", tried)
	}
	if !bytes.Equal(blobs.data["M1"], recording) {
		t.Fatal("recording not stored")
	}

	want := []models.Status{
		models.StatusDownloadStarted,
		models.StatusDownloadEnded,
		models.StatusParseStarted,
		models.StatusParseEnded,
	}
	got := be.history["M1"]
	if len(got) != len(want) {
		t.Fatalf("unexpected status history: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status %d: want %s, got %s", i, want[i], got[i])
		}
	}

	saved := be.saved["M1"]
	if saved == nil {
		t.Fatal("merged record not persisted")
	}
	if saved.Players[7].Team == nil || *saved.Players[7].Team != 1 {
		t.Fatalf("player 7 team not merged: %+v", saved.Players[7])
	}
	if saved.Players[9].Team == nil || *saved.Players[9].Team != 2 {
		t.Fatalf("player 9 team not merged: %+v", saved.Players[9])
	}
	if saved.Map == nil || saved.Map.Name != "Arabia" {
		t.Fatalf("map name not resolved: %+v", saved.Map)
	}
	if saved.Players[7].Civilization == nil || saved.Players[7].Civilization.Name != "Franks" {
		t.Fatalf("civilization name not resolved: %+v", saved.Players[7].Civilization)
	}
	if saved.DurationInGame == nil || *saved.DurationInGame != 1890 {
		t.Fatalf("in-game duration not merged: %+v", saved.DurationInGame)
	}
}

func TestDownloadExhaustedThenParsePersistsPartialRecord(t *testing.T) {
	be := newFakeBackend()
	be.records["M2"] = registeredMatch("M2", models.StatusFetched, 7, 9)
	api := &fakeMetadata{byID: map[string]*aoe2api.Match{"M2": apiMatch("M2", 7, 9)}}
	blobs := newFakeBlobs()

	s := New(be, api, blobs, &fakeResolver{err: resolver.ErrExhausted}, &fakeDecoder{})
	s.SetDispatcher(NewLocalDispatcher(s))

	if err := s.Download(context.Background(), "M2"); err != nil {
		t.Fatal(err)
	}

	want := []models.Status{
		models.StatusDownloadStarted,
		models.StatusDownloadFailed,
		models.StatusParseStarted,
		models.StatusParseEnded,
	}
	got := be.history["M2"]
	if len(got) != len(want) {
		t.Fatalf("unexpected status history: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status %d: want %s, got %s", i, want[i], got[i])
		}
	}

	saved := be.saved["M2"]
	if saved == nil {
		t.Fatal("partial record not persisted")
	}
	if saved.Players[7].Team != nil {
		t.Fatal("partial record should carry no in-game fields")
	}
	if blobs.writes != 0 {
		t.Fatal("nothing should be written on exhaustion")
	}
}

func TestParseCorruptRecordingLeavesBackendUntouched(t *testing.T) {
	be := newFakeBackend()
	be.records["M3"] = registeredMatch("M3", models.StatusDownloadEnded, 7)
	api := &fakeMetadata{byID: map[string]*aoe2api.Match{"M3": apiMatch("M3", 7)}}
	blobs := newFakeBlobs()
	blobs.data["M3"] = []byte("corrupt")

	s, _ := newTestStages(be, api, blobs, &fakeResolver{}, &fakeDecoder{err: errors.New("unreadable header")})

	if err := s.Parse(context.Background(), "M3"); err != nil {
		t.Fatal(err)
	}

	got := be.history["M3"]
	if len(got) != 2 || got[0] != models.StatusParseStarted || got[1] != models.StatusParseFailed {
		t.Fatalf("unexpected status history: %v", got)
	}
	if len(be.saved) != 0 {
		t.Fatal("no record should be persisted for a corrupt recording")
	}
}

func TestParseAlwaysReachesTerminalStatus(t *testing.T) {
	cases := []struct {
		name  string
		setup func(be *fakeBackend, api *fakeMetadata, blobs *fakeBlobs, dec *fakeDecoder)
		want  models.Status
	}{
		{
			name: "no recording",
			setup: func(be *fakeBackend, api *fakeMetadata, blobs *fakeBlobs, dec *fakeDecoder) {
			},
			want: models.StatusParseEnded,
		},
		{
			name: "blob read fails",
			setup: func(be *fakeBackend, api *fakeMetadata, blobs *fakeBlobs, dec *fakeDecoder) {
				blobs.data["M4"] = []byte("stored")
				blobs.readErr = errors.New("store down")
			},
			want: models.StatusParseFailed,
		},
		{
			name: "persist fails",
			setup: func(be *fakeBackend, api *fakeMetadata, blobs *fakeBlobs, dec *fakeDecoder) {
				be.saveErr = errors.New("backend down")
			},
			want: models.StatusParseFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := newFakeBackend()
			be.records["M4"] = registeredMatch("M4", models.StatusFetched, 7)
			api := &fakeMetadata{byID: map[string]*aoe2api.Match{"M4": apiMatch("M4", 7)}}
			blobs := newFakeBlobs()
			dec := &fakeDecoder{summary: &recparse.Summary{}}
			tc.setup(be, api, blobs, dec)

			s, _ := newTestStages(be, api, blobs, &fakeResolver{}, dec)
			if err := s.Parse(context.Background(), "M4"); err != nil {
				t.Fatal(err)
			}

			history := be.history["M4"]
			if len(history) == 0 {
				t.Fatal("no status recorded")
			}
			last := history[len(history)-1]
			if last != tc.want {
				t.Fatalf("want terminal %s, got %s (history %v)", tc.want, last, history)
			}
			if last == models.StatusParseStarted {
				t.Fatal("parse left the match in ParseStarted")
			}
		})
	}
}

func TestDownloadStrictGate(t *testing.T) {
	be := newFakeBackend()
	be.records["M5"] = registeredMatch("M5", models.StatusParseEnded, 7)
	blobs := newFakeBlobs()
	res := &fakeResolver{recording: []byte("bytes")}

	s, d := newTestStages(be, &fakeMetadata{}, blobs, res, &fakeDecoder{})
	s.SetStrictGate(true)

	if err := s.Download(context.Background(), "M5"); err != nil {
		t.Fatal(err)
	}
	if res.calls != 0 || blobs.writes != 0 || len(d.calls) != 0 {
		t.Fatal("gated download should do nothing")
	}
	if len(be.history["M5"]) != 0 {
		t.Fatalf("gated download should not touch status, got %v", be.history["M5"])
	}

	// exactly Fetched passes the gate
	be.records["M6"] = registeredMatch("M6", models.StatusFetched, 7)
	if err := s.Download(context.Background(), "M6"); err != nil {
		t.Fatal(err)
	}
	if res.calls != 1 {
		t.Fatal("gate should let a fetched match through")
	}
}

func TestDownloadUnregisteredMatchIsDropped(t *testing.T) {
	be := newFakeBackend()
	s, d := newTestStages(be, &fakeMetadata{}, newFakeBlobs(), &fakeResolver{}, &fakeDecoder{})

	if err := s.Download(context.Background(), "unknown"); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 0 {
		t.Fatal("unregistered match should not reach parse")
	}
	if len(be.history["unknown"]) != 0 {
		t.Fatal("unregistered match should not get a status")
	}
}

func TestMatchForPlayerRegistersBeforeDispatching(t *testing.T) {
	be := newFakeBackend()
	api := &fakeMetadata{pages: map[string][]aoe2api.Match{
		"42": {*apiMatch("M1", 7, 9)},
	}}

	s := New(be, api, newFakeBlobs(), &fakeResolver{}, &fakeDecoder{})
	d := &captureDispatcher{hook: func(stage string) {
		if _, ok := be.records["M1"]; !ok {
			t.Fatal("dispatch happened before registration")
		}
	}}
	s.SetDispatcher(d)

	if err := s.MatchForPlayer(context.Background(), "42", 20, 0); err != nil {
		t.Fatal(err)
	}

	if len(d.calls) != 1 || d.calls[0].stage != StageDownload {
		t.Fatalf("expected one download dispatch, got %v", d.calls)
	}
	if d.calls[0].attributes["match_id"] != "M1" {
		t.Fatalf("unexpected attributes: %v", d.calls[0].attributes)
	}
	if be.records["M1"].Status != models.StatusFetched {
		t.Fatalf("registered match should start Fetched, got %s", be.records["M1"].Status)
	}
}

func TestInvoke(t *testing.T) {
	be := newFakeBackend()
	s, d := newTestStages(be, &fakeMetadata{}, newFakeBlobs(), &fakeResolver{}, &fakeDecoder{})

	if err := s.Invoke(context.Background(), "reticulate", nil); err == nil {
		t.Fatal("unknown stage should error")
	}

	// missing required attribute is swallowed, not retried forever
	if err := s.Invoke(context.Background(), StageDownload, map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 0 {
		t.Fatal("invoke without match_id should do nothing")
	}
}
