package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zixofranic/property-sync/internal/parser"
	"go.uber.org/zap"
)

// SnapshotStore keeps rendered page HTML on disk so a bad extraction
// can be diagnosed against the exact page the browser saw.
type SnapshotStore struct {
	dir string
	log *zap.Logger
}

// NewSnapshotStore creates a snapshot store rooted at dir.
func NewSnapshotStore(dir string, log *zap.Logger) *SnapshotStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotStore{dir: dir, log: log.Named("snapshots")}
}

// Save writes one rendered page and returns its path.
func (s *SnapshotStore) Save(rawURL, html string) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("snapshot dir: %w", err)
	}
	name := snapshotFilename(rawURL)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"savedAt"`
}

// List returns stored snapshots, newest first.
func (s *SnapshotStore) List() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []SnapshotInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{Name: e.Name(), Size: info.Size(), SavedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

func snapshotFilename(rawURL string) string {
	slug := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		slug = u.Host + strings.ReplaceAll(u.Path, "/", "_")
	}
	slug = sanitizeFilename(slug)
	if slug == "" {
		slug = "page"
	}
	return fmt.Sprintf("%s_%s.html", time.Now().UTC().Format("20060102_150405"), slug)
}

func sanitizeFilename(s string) string {
	s = filepath.Base(s)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 200 {
		out = out[:200]
	}
	if out == "" || out == "." {
		return ""
	}
	return out
}

// SnapshotRenderer tees rendered pages into the store on the way to the
// parser. Snapshot failures are logged, never surfaced.
type SnapshotRenderer struct {
	Inner parser.PageRenderer
	Store *SnapshotStore
	Log   *zap.Logger
}

func (r *SnapshotRenderer) Render(ctx context.Context, rawURL string) (string, int, error) {
	html, status, err := r.Inner.Render(ctx, rawURL)
	if err == nil && r.Store != nil {
		if _, serr := r.Store.Save(rawURL, html); serr != nil && r.Log != nil {
			r.Log.Warn("snapshot save failed", zap.String("url", rawURL), zap.Error(serr))
		}
	}
	return html, status, err
}
