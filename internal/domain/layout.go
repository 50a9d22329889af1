package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Canonical per-event subdirectories.
const (
	RawDir  = "raw"
	RespDir = "resp"
	ProcDir = "proc"
)

// Layout resolves every path of a run relative to the output root, so no stage
// depends on the process working directory.
//
//	<root>/<server>/<event_id>/NET.STA.LOC.CHA.SAC   staging, removed after consolidation
//	<root>/<event_id>/raw/NET.STA.LOC.CHA.SAC
//	<root>/<event_id>/resp/STXML.NET.STA.CHA
//	<root>/<event_id>/proc/NET.STA.LOC.CHA.SAC
type Layout struct {
	Root string
}

// NewLayout returns a Layout for root, cleaned.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// StagingDir is the per-server staging tree.
func (l Layout) StagingDir(server string) string {
	return filepath.Join(l.Root, StagingName(server))
}

// StagingEventDir holds one server's files for one event.
func (l Layout) StagingEventDir(server, eventID string) string {
	return filepath.Join(l.Root, StagingName(server), eventID)
}

// StagingName turns a server name, which may be a URL, into a single path
// element.
func StagingName(server string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(server, "https://"), "http://")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// EventDir is the canonical directory of an event.
func (l Layout) EventDir(eventID string) string {
	return filepath.Join(l.Root, eventID)
}

func (l Layout) RawDir(eventID string) string  { return filepath.Join(l.Root, eventID, RawDir) }
func (l Layout) RespDir(eventID string) string { return filepath.Join(l.Root, eventID, RespDir) }
func (l Layout) ProcDir(eventID string) string { return filepath.Join(l.Root, eventID, ProcDir) }

// EnsureRoot creates the output root if it does not exist.
func (l Layout) EnsureRoot() error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}
	return nil
}

// EnsureEventDirectory creates <event>/raw and <event>/resp if absent.
func (l Layout) EnsureEventDirectory(eventID string) error {
	for _, dir := range []string{l.RawDir(eventID), l.RespDir(eventID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create event directory %s: %w", eventID, err)
		}
	}
	return nil
}

// EventIDs lists the canonical event directories under the root, i.e. the
// directories that contain a raw/ subdirectory. The result is sorted.
func (l Layout) EventIDs() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("list output folder: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(l.RawDir(e.Name())); err == nil && info.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
