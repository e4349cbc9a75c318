package connectors

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/logging"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/scheduler"
)

// JournalZipConnector ingests journal app zip exports dropped into its input
// directory. The archive carries a Journal.json plus media folders; every
// journal entry becomes a group of entries keyed by the journal entry's uuid,
// and re-ingesting an export deletes the group and rebuilds it.
type JournalZipConnector struct {
	id       string
	inserter *Inserter
	log      logging.Logger

	mu    sync.Mutex
	stage string
}

func NewJournalZipConnector(id string, inserter *Inserter, log logging.Logger) *JournalZipConnector {
	return &JournalZipConnector{
		id:       id,
		inserter: inserter,
		log:      log.With("connector", id),
		stage:    "idle",
	}
}

func (c *JournalZipConnector) ID() string { return c.id }

func (c *JournalZipConnector) Capabilities() scheduler.Capabilities {
	return scheduler.Capabilities{NeedsStorage: true, NeedsInputDir: true, AcceptsFileInput: true}
}

func (c *JournalZipConnector) OnInterval(_ context.Context, _ *scheduler.InsertionLog) error {
	return nil
}

func (c *JournalZipConnector) OnNewFile(ctx context.Context, ilog *scheduler.InsertionLog, path string) error {
	return c.processZip(ctx, ilog, path)
}

func (c *JournalZipConnector) OnRequest(ctx context.Context, ilog *scheduler.InsertionLog, req scheduler.Request) error {
	if req.FilePath == "" {
		return errors.New("no file provided")
	}
	return c.processZip(ctx, ilog, req.FilePath)
}

func (c *JournalZipConnector) RPCHandlers() map[string]scheduler.RPCHandler { return nil }

func (c *JournalZipConnector) Status(_ context.Context) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"trigger_stage": c.stage}
}

func (c *JournalZipConnector) setStage(stage string) {
	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()
}

type journalFile struct {
	Entries []journalEntry `json:"entries"`
}

type journalEntry struct {
	UUID         string           `json:"uuid"`
	Text         string           `json:"text"`
	CreationDate string           `json:"creationDate"` // 2006-01-02T15:04:05Z
	TimeZone     string           `json:"timeZone"`
	Location     *journalLocation `json:"location"`
	Photos       []mediaMeta      `json:"photos"`
	Videos       []mediaMeta      `json:"videos"`
	Audios       []mediaMeta      `json:"audios"`
	PDFs         []mediaMeta      `json:"pdfAttachments"`
}

type journalLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type mediaMeta struct {
	Identifier string         `json:"identifier"`
	MD5        string         `json:"md5"`
	Type       string         `json:"type"` // file extension, sometimes absent
	Date       string         `json:"date,omitempty"`
	Location   *mediaLocation `json:"location,omitempty"`
}

type mediaLocation struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Region    *struct {
		Center journalLocation `json:"center"`
	} `json:"region,omitempty"`
}

func (l *mediaLocation) coords() (*float64, *float64) {
	if l == nil {
		return nil, nil
	}
	if l.Region != nil {
		lat, lng := l.Region.Center.Latitude, l.Region.Center.Longitude
		return &lat, &lng
	}
	return l.Latitude, l.Longitude
}

// mediaRe matches an embedded media descriptor like
// ![](moment:/video/3C6ED0B957494BD38BC0D047D20C0CF5); the kind segment is
// absent for photos.
var mediaRe = regexp.MustCompile(`!\[\]\([\w-]+:/+(?:(\w+)/)?([A-Fa-f0-9]+)\)`)

// clockPrefixRe matches a leading H:MM / HH:MM timestamp on a paragraph.
var clockPrefixRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(\s*[\r\n]?)`)

var mediaFolders = map[string]string{
	"photo":         "photos",
	"video":         "videos",
	"audio":         "audios",
	"pdfAttachment": "pdfs",
}

func (c *JournalZipConnector) processZip(ctx context.Context, ilog *scheduler.InsertionLog, path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return fmt.Errorf("%s is not a zip file", path)
	}
	defer c.setStage("idle")

	c.setStage("extracting")
	tmpDir, err := os.MkdirTemp("", "journalzip-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if err := extractZip(path, tmpDir); err != nil {
		return fmt.Errorf("extracting %s: %w", path, err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "Journal.json"))
	if err != nil {
		return fmt.Errorf("reading journal file: %w", err)
	}
	var journal journalFile
	if err := json.Unmarshal(data, &journal); err != nil {
		return fmt.Errorf("decoding journal file: %w", err)
	}

	total := len(journal.Entries)
	for i, je := range journal.Entries {
		if je.Text == "" {
			continue
		}
		c.setStage(fmt.Sprintf("removing existing entries %d/%d", i+1, total))
		if err := c.inserter.Manager().DeleteGroup(ctx, je.UUID); err != nil {
			c.log.Error(ctx, "failed to delete existing group", "group_id", je.UUID, "error", err.Error())
		}
		c.setStage(fmt.Sprintf("processing entry %d/%d", i+1, total))
		if err := c.processJournalEntry(ctx, ilog, je, tmpDir); err != nil {
			c.log.Error(ctx, "failed to process journal entry", "group_id", je.UUID, "error", err.Error())
		}
	}
	return nil
}

func (c *JournalZipConnector) processJournalEntry(ctx context.Context, ilog *scheduler.InsertionLog, je journalEntry, dataDir string) error {
	loc, err := time.LoadLocation(je.TimeZone)
	if err != nil {
		loc = time.Local
	}
	created, err := time.Parse("2006-01-02T15:04:05Z", je.CreationDate)
	if err != nil {
		return fmt.Errorf("parsing creation date %q: %w", je.CreationDate, err)
	}

	localCreated := created.In(loc)
	dayStart := time.Date(localCreated.Year(), localCreated.Month(), localCreated.Day(), 0, 0, 0, 0, loc).UnixMilli()
	dayEnd := dayStart + 24*3600_000 - 1

	var lat, lng *float64
	if je.Location != nil {
		lat, lng = &je.Location.Latitude, &je.Location.Longitude
	}

	currentTime := localCreated.UnixMilli()
	seqID := 0
	var lastUUID entries.EntryUUID

	for _, paragraph := range strings.Split(je.Text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		var e *entries.Entry
		var localPath string
		if strings.HasPrefix(paragraph, "![") {
			e, localPath, err = c.mediaEntry(paragraph, je, dataDir, currentTime, dayStart, dayEnd, lat, lng, seqID, loc)
			if err != nil {
				c.log.Error(ctx, "skipping media paragraph", "group_id", je.UUID, "error", err.Error())
				continue
			}
		} else {
			e = c.textEntry(paragraph, je.UUID, currentTime, dayStart, lat, lng, seqID)
		}

		// Some exports duplicate a paragraph in sequence; only the first
		// instance is kept.
		if e.UUID() != lastUUID {
			if localPath != "" {
				c.inserter.InsertFile(ctx, ilog, e, localPath)
			} else {
				c.inserter.Insert(ctx, ilog, e)
			}
			seqID++
			lastUUID = e.UUID()
		}

		// The next un-timestamped paragraph flows from this one, clamped to
		// the day.
		next := e.StartTime
		if e.EndTime != nil {
			next = *e.EndTime
		}
		currentTime = clamp(next, dayStart, dayEnd)
	}
	return nil
}

func (c *JournalZipConnector) textEntry(paragraph, groupID string, currentTime, dayStart int64, lat, lng *float64, seqID int) *entries.Entry {
	startTime := currentTime
	if m := clockPrefixRe.FindStringSubmatch(paragraph); m != nil {
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		startTime = dayStart + int64(hours)*3600_000 + int64(minutes)*60_000
		paragraph = clockPrefixRe.ReplaceAllString(paragraph, "")
	}
	paragraph = strings.ReplaceAll(paragraph, `\`, "")

	seq := seqID
	return &entries.Entry{
		Type:           entries.TypeText,
		Data:           entries.TextPayload{Text: paragraph},
		StartTime:      startTime,
		Latitude:       lat,
		Longitude:      lng,
		GroupID:        groupID,
		SeqID:          &seq,
		InputHandlerID: c.id,
	}
}

func (c *JournalZipConnector) mediaEntry(paragraph string, je journalEntry, dataDir string, currentTime, dayStart, dayEnd int64, lat, lng *float64, seqID int, loc *time.Location) (*entries.Entry, string, error) {
	m := mediaRe.FindStringSubmatch(paragraph)
	if m == nil {
		return nil, "", fmt.Errorf("unparsable media descriptor %q", paragraph)
	}
	mediaType := m[1]
	if mediaType == "" {
		mediaType = "photo"
	}
	mediaID := m[2]

	folder, ok := mediaFolders[mediaType]
	if !ok {
		return nil, "", fmt.Errorf("unsupported media type %q", mediaType)
	}

	meta, ok := findMediaMeta(je, mediaType, mediaID)
	if !ok {
		return nil, "", fmt.Errorf("no metadata for media %s", mediaID)
	}

	startTime := currentTime
	if meta.Date != "" {
		if t, err := time.Parse("2006-01-02T15:04:05Z", meta.Date); err == nil {
			ms := t.In(loc).UnixMilli()
			if ms >= dayStart && ms <= dayEnd {
				startTime = ms
			} else {
				c.log.Warn(context.Background(), "media timestamp outside day bounds", "media_id", mediaID, "timestamp", meta.Date)
			}
		}
	}

	if mlat, mlng := meta.Location.coords(); mlat != nil && mlng != nil {
		lat, lng = mlat, mlng
	}

	localPath, err := findMediaFile(filepath.Join(dataDir, folder), meta)
	if err != nil {
		return nil, "", err
	}

	e := entries.NewFileEntry(entries.NewFileDetail(localPath, nil), startTime, c.id)
	seq := seqID
	e.Latitude = lat
	e.Longitude = lng
	e.GroupID = je.UUID
	e.SeqID = &seq
	return e, localPath, nil
}

func findMediaMeta(je journalEntry, mediaType, mediaID string) (mediaMeta, bool) {
	var list []mediaMeta
	switch mediaType {
	case "photo":
		list = je.Photos
	case "video":
		list = je.Videos
	case "audio":
		list = je.Audios
	case "pdfAttachment":
		list = je.PDFs
	}
	for _, m := range list {
		if m.Identifier == mediaID {
			return m, true
		}
	}
	return mediaMeta{}, false
}

// findMediaFile locates the media file named by its md5 hash. When the
// metadata carries no extension, the folder is scanned for any file starting
// with the hash.
func findMediaFile(folder string, meta mediaMeta) (string, error) {
	if meta.Type != "" {
		path := filepath.Join(folder, meta.MD5+"."+meta.Type)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	items, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("reading media folder: %w", err)
	}
	for _, item := range items {
		if strings.HasPrefix(item.Name(), meta.MD5) {
			return filepath.Join(folder, item.Name()), nil
		}
	}
	return "", fmt.Errorf("no media file for hash %s", meta.MD5)
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o770); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o770); err != nil {
			return err
		}
		if err := copyZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func copyZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func clamp(v, low, high int64) int64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
