package entries

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	urls map[string]string
}

func (r *fakeResolver) ResolveURL(_ context.Context, payloadID string) (string, error) {
	url, ok := r.urls[payloadID]
	if !ok {
		return "", errors.New("no such object")
	}
	return url, nil
}

func TestProject_Text(t *testing.T) {
	e := textEntry("hello", 1000)
	out, err := Project(context.Background(), e, &fakeResolver{})
	require.NoError(t, err)
	require.Equal(t, e.UUID(), out.EntryUUID)
	require.Equal(t, TextPayload{Text: "hello"}, out.Data)
}

func TestProject_FileResolvesURL(t *testing.T) {
	e := NewFileEntry(FileDetail{FileID: "p1", FileName: "cat.jpg", FileType: ".jpg"}, 0, "h")
	r := &fakeResolver{urls: map[string]string{"p1": "https://store.local/p1?sig=abc"}}

	out, err := Project(context.Background(), e, r)
	require.NoError(t, err)

	file, ok := out.Data.(OutputFile)
	require.True(t, ok)
	require.Equal(t, "https://store.local/p1?sig=abc", file.FileURL)
	require.Equal(t, "cat.jpg", file.FileName)
}

func TestProject_UnresolvablePayload(t *testing.T) {
	e := NewFileEntry(FileDetail{FileID: "gone", FileName: "x.pdf", FileType: ".pdf"}, 0, "h")
	_, err := Project(context.Background(), e, &fakeResolver{})
	require.ErrorIs(t, err, common.ErrDataUnavailable)
}
