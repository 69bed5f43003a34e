package runctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Regular Season - 1", "Regular_Season___1"},
		{"  Regular   Season - 38 ", "Regular_Season___38"},
		{"Quarter-finals", "Quarter_finals"},
		{"Fase de Grupos - Jornada 2", "Fase_de_Grupos___Jornada_2"},
		{"Première Journée", "Premiere_Journee"},
		{"Round of 16 (2nd leg)", "Round_of_16_2nd_leg"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 2023, "Regular Season - 1")
	assert.Error(t, err)

	_, err = New(39, 0, "Regular Season - 1")
	assert.Error(t, err)

	_, err = New(39, 2023, "   ")
	assert.Error(t, err)

	_, err = New(39, 2023, "???")
	assert.Error(t, err)

	rc, err := New(39, 2023, " Regular Season - 1 ")
	require.NoError(t, err)
	assert.Equal(t, "Regular Season - 1", rc.Round)
}

func TestKeysAreDeterministic(t *testing.T) {
	a, err := New(39, 2023, "Regular Season - 1")
	require.NoError(t, err)
	b, err := New(39, 2023, "Regular Season - 1")
	require.NoError(t, err)

	assert.Equal(t, a.Namespace(), b.Namespace())
	assert.Equal(t, "39/2023_Regular_Season___1", a.Namespace())
	assert.Equal(t, "39/2023_Regular_Season___1/fixtures.json", a.FixturesKey())
	assert.Equal(t, "39/2023_Regular_Season___1/manifest.jsonl", a.ManifestKey())
	assert.Equal(t, "39/2023_Regular_Season___1/valid_rounds.json", a.ValidRoundsKey())
	assert.Equal(t, "39/2023_Regular_Season___1/players_by_fixture/players_1001.json", a.PayloadKey(1001))
}

func TestNamespaceSeparatesLeaguesAndSeasons(t *testing.T) {
	epl, _ := New(39, 2023, "Regular Season - 1")
	laliga, _ := New(140, 2023, "Regular Season - 1")
	next, _ := New(39, 2024, "Regular Season - 1")

	assert.NotEqual(t, epl.Namespace(), laliga.Namespace())
	assert.NotEqual(t, epl.Namespace(), next.Namespace())
}

func TestParsePayloadName(t *testing.T) {
	rc, err := New(39, 2023, "Regular Season - 1")
	require.NoError(t, err)

	id, ok := rc.ParsePayloadName("players_1001.json")
	require.True(t, ok)
	assert.Equal(t, int64(1001), id)

	id, ok = rc.ParsePayloadName("39/2023_x/players_by_fixture/players_42.json")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, name := range []string{"fixtures.json", "players_.json", "players_12.json.tmp", "players_abc.json", "events_12.json"} {
		_, ok := rc.ParsePayloadName(name)
		assert.False(t, ok, name)
	}

	id, ok = rc.WithDataset(DatasetEvents).ParsePayloadName("events_12.json")
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
}

func TestEventsDatasetKeys(t *testing.T) {
	players, err := New(39, 2023, "Regular Season - 1")
	require.NoError(t, err)
	events := players.WithDataset(DatasetEvents)

	assert.Equal(t, players.Namespace(), events.Namespace())
	assert.Equal(t, players.FixturesKey(), events.FixturesKey())
	assert.Equal(t, "39/2023_Regular_Season___1/events_manifest.jsonl", events.ManifestKey())
	assert.Equal(t, "39/2023_Regular_Season___1/events_by_fixture/events_1001.json", events.PayloadKey(1001))
	assert.NotEqual(t, players.ManifestKey(), events.ManifestKey())

	// A zero dataset addresses players.
	zero := RunContext{LeagueID: 39, Season: 2023, Round: "Regular Season - 1"}
	assert.Equal(t, players.PayloadKey(7), zero.PayloadKey(7))
}

func TestParseDataset(t *testing.T) {
	d, err := ParseDataset("")
	require.NoError(t, err)
	assert.Equal(t, DatasetPlayers, d)

	d, err = ParseDataset(" Events ")
	require.NoError(t, err)
	assert.Equal(t, DatasetEvents, d)

	_, err = ParseDataset("lineups")
	assert.Error(t, err)
}
