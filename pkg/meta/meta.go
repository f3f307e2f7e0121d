// Package meta merges generated captions and keywords into the IPTC block
// embedded in image files.
package meta

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// IPTC field limits. exiftool truncates longer values on write, so values are
// clipped before comparison to keep repeated merges stable.
const (
	MaxCaptionBytes = 2000
	MaxKeywordBytes = 64
)

// Record is the embedded caption and keywords of a single image.
type Record struct {
	Path     string
	Caption  string
	Keywords []string
}

// Store reads and writes embedded metadata.
type Store interface {
	Read(path string) (*Record, error)
	Write(path string, r *Record) error
	Close() error
}

// Options control how a Merger writes.
type Options struct {
	// DryRun reports what would change without touching files.
	DryRun bool
	// BackupDir, if set, receives a copy of each file before its first write.
	BackupDir string
	// Root is used to compute backup paths relative to the scanned tree.
	Root string
}

// Merger merges generated metadata into images without removing anything.
type Merger struct {
	store Store
	opts  Options
}

// New returns a Merger backed by store.
func New(store Store, opts Options) *Merger {
	return &Merger{store: store, opts: opts}
}

// HasCaption reports whether the image already carries a caption.
func (m *Merger) HasCaption(path string) (bool, error) {
	r, err := m.store.Read(path)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	return strings.TrimSpace(r.Caption) != "", nil
}

// Merge adds description and keywords to the image at path. The caption is
// only replaced when force is set or none exists; keywords are only ever
// appended. It returns whether anything changed, and writes only in that case.
func (m *Merger) Merge(path string, description string, keywords []string, force bool) (bool, error) {
	r, err := m.store.Read(path)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}

	description = clip(description, MaxCaptionBytes)
	changed := false
	if description != "" && description != r.Caption && (force || strings.TrimSpace(r.Caption) == "") {
		klog.V(1).Infof("%s: caption %q -> %q", path, r.Caption, description)
		r.Caption = description
		changed = true
	}

	var added []string
	for _, k := range keywords {
		k = clip(k, MaxKeywordBytes)
		if k == "" || slices.Contains(r.Keywords, k) {
			continue
		}
		r.Keywords = append(r.Keywords, k)
		added = append(added, k)
		changed = true
	}

	if !changed {
		klog.V(1).Infof("%s: metadata already up to date", path)
		return false, nil
	}

	klog.Infof("%s: adding %d keywords: %v", path, len(added), added)
	if m.opts.DryRun {
		klog.Infof("%s: dry-run, not writing", path)
		return true, nil
	}

	if err := m.backup(path); err != nil {
		return false, fmt.Errorf("backup: %w", err)
	}

	if err := m.store.Write(path, r); err != nil {
		return false, fmt.Errorf("write: %w", err)
	}
	return true, nil
}

// clip shortens s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// backup copies path into the backup directory unless a copy already exists.
func (m *Merger) backup(path string) error {
	if m.opts.BackupDir == "" {
		return nil
	}

	rel := filepath.Base(path)
	if m.opts.Root != "" {
		if r, err := filepath.Rel(m.opts.Root, path); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
	}

	dest := filepath.Join(m.opts.BackupDir, rel)
	if exists(dest) {
		klog.V(1).Infof("backup %s already exists", dest)
		return nil
	}

	klog.V(1).Infof("backing up %s to %s", path, dest)
	return copy.Copy(path, dest, copy.Options{PreserveTimes: true})
}
