package connectors

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
	"github.com/dmitrijs2005/lifelog/internal/server/storage"
)

func buildJournalZip(t *testing.T, journal journalFile, media map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	jf, err := zw.Create("Journal.json")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(jf).Encode(journal))
	for name, content := range media {
		mf, err := zw.Create(name)
		require.NoError(t, err)
		_, err = mf.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func fetchGroup(t *testing.T, env *testEnv, groupID string) []*entries.Entry {
	t.Helper()
	uuids, err := env.manager.Search(context.Background(), storage.Filter{GroupIDs: []string{groupID}})
	require.NoError(t, err)
	out, err := env.docs.GetMany(context.Background(), uuids)
	require.NoError(t, err)
	return out
}

func TestJournalZipIngest(t *testing.T) {
	env := newTestEnv(t)
	journal := journalFile{Entries: []journalEntry{{
		UUID:         "je-1",
		TimeZone:     "UTC",
		CreationDate: "2024-03-01T10:00:00Z",
		Text:         "9:30\nBreakfast was good\n\nSecond thought\n\n![](moment:/photo/ABCDEF0123)",
		Location:     &journalLocation{Latitude: 56.95, Longitude: 24.1},
		Photos: []mediaMeta{{
			Identifier: "ABCDEF0123",
			MD5:        "d41d8cd9",
			Type:       "jpg",
			Date:       "2024-03-01T11:00:00Z",
		}},
	}}}
	path := buildJournalZip(t, journal, map[string][]byte{"photos/d41d8cd9.jpg": []byte("jpeg bytes")})

	conn := NewJournalZipConnector("journal", env.inserter, env.log)
	ilog := scheduler.NewInsertionLog()
	require.NoError(t, conn.OnNewFile(context.Background(), ilog, path))

	group := fetchGroup(t, env, "je-1")
	require.Len(t, group, 3)

	dayStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	first := group[0]
	require.Equal(t, entries.TypeText, first.Type)
	require.Equal(t, "Breakfast was good", first.Data.(entries.TextPayload).Text)
	require.Equal(t, dayStart+9*3600_000+30*60_000, first.StartTime, "clock prefix overrides the running time")
	require.NotNil(t, first.Latitude)
	require.Equal(t, 56.95, *first.Latitude)

	second := group[1]
	require.Equal(t, "Second thought", second.Data.(entries.TextPayload).Text)
	require.Equal(t, first.StartTime, second.StartTime, "untimed paragraph flows from the previous one")

	photo := group[2]
	require.Equal(t, entries.TypeImageFile, photo.Type)
	require.Equal(t, dayStart+11*3600_000, photo.StartTime, "in-bounds media date wins")
	require.Equal(t, 1, env.payloads.Len())

	require.Len(t, ilog.Records(), 3)
}

func TestJournalZipReingestReplacesGroup(t *testing.T) {
	env := newTestEnv(t)
	journal := journalFile{Entries: []journalEntry{{
		UUID:         "je-1",
		TimeZone:     "UTC",
		CreationDate: "2024-03-01T10:00:00Z",
		Text:         "First version",
	}}}
	path := buildJournalZip(t, journal, nil)
	conn := NewJournalZipConnector("journal", env.inserter, env.log)
	require.NoError(t, conn.OnNewFile(context.Background(), scheduler.NewInsertionLog(), path))
	require.Len(t, fetchGroup(t, env, "je-1"), 1)

	journal.Entries[0].Text = "Rewritten completely"
	path = buildJournalZip(t, journal, nil)
	require.NoError(t, conn.OnNewFile(context.Background(), scheduler.NewInsertionLog(), path))

	group := fetchGroup(t, env, "je-1")
	require.Len(t, group, 1)
	require.Equal(t, "Rewritten completely", group[0].Data.(entries.TextPayload).Text)
	require.Zero(t, group[0].MutationCount, "old group is removed, not mutated")
}

func TestJournalZipDedupesConsecutiveParagraphs(t *testing.T) {
	env := newTestEnv(t)
	journal := journalFile{Entries: []journalEntry{{
		UUID:         "je-1",
		TimeZone:     "UTC",
		CreationDate: "2024-03-01T10:00:00Z",
		Text:         "Same line\n\nSame line",
	}}}
	path := buildJournalZip(t, journal, nil)
	conn := NewJournalZipConnector("journal", env.inserter, env.log)
	require.NoError(t, conn.OnNewFile(context.Background(), scheduler.NewInsertionLog(), path))
	require.Len(t, fetchGroup(t, env, "je-1"), 1)
}

func TestJournalZipSkipsMissingMedia(t *testing.T) {
	env := newTestEnv(t)
	journal := journalFile{Entries: []journalEntry{{
		UUID:         "je-1",
		TimeZone:     "UTC",
		CreationDate: "2024-03-01T10:00:00Z",
		Text:         "Note\n\n![](moment:/photo/FFFF)",
		Photos:       []mediaMeta{{Identifier: "FFFF", MD5: "nope", Type: "jpg"}},
	}}}
	path := buildJournalZip(t, journal, map[string][]byte{"photos/other.jpg": []byte("x")})
	conn := NewJournalZipConnector("journal", env.inserter, env.log)
	require.NoError(t, conn.OnNewFile(context.Background(), scheduler.NewInsertionLog(), path))

	group := fetchGroup(t, env, "je-1")
	require.Len(t, group, 1, "broken media paragraph is skipped, text survives")
}

func TestJournalZipRejectsNonZip(t *testing.T) {
	env := newTestEnv(t)
	conn := NewJournalZipConnector("journal", env.inserter, env.log)
	require.Error(t, conn.OnNewFile(context.Background(), scheduler.NewInsertionLog(), "/tmp/data.json"))

	err := conn.OnRequest(context.Background(), scheduler.NewInsertionLog(), scheduler.Request{})
	require.Error(t, err, "request trigger needs a file")
}
