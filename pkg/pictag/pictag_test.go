package pictag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"k8s.io/klog/v2"

	"github.com/tstromberg/pictag/pkg/vision"
)

const okResponse = `{"description":{"captions":[{"text":"a dog on grass"}],"tags":["dog","Grass"]}}`

// fakeAnalyzer answers each call from a queue of outcomes, repeating the last.
type fakeAnalyzer struct {
	outcomes []error
	calls    int
	sizes    []int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, bs []byte) (json.RawMessage, error) {
	f.sizes = append(f.sizes, len(bs))
	var err error
	if len(f.outcomes) > 0 {
		err = f.outcomes[min(f.calls, len(f.outcomes)-1)]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return json.RawMessage(okResponse), nil
}

type merge struct {
	Description string
	Keywords    []string
	Force       bool
}

type fakeAnnotator struct {
	captioned map[string]bool
	mergeErr  error
	merged    map[string]merge
}

func (f *fakeAnnotator) HasCaption(path string) (bool, error) {
	return f.captioned[filepath.Base(path)], nil
}

func (f *fakeAnnotator) Merge(path string, description string, keywords []string, force bool) (bool, error) {
	if f.mergeErr != nil {
		return false, f.mergeErr
	}
	if f.merged == nil {
		f.merged = map[string]merge{}
	}
	f.merged[filepath.Base(path)] = merge{Description: description, Keywords: keywords, Force: force}
	return true, nil
}

func (f *fakeAnnotator) names() []string {
	out := []string{}
	for k := range f.merged {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func testRunner(t *testing.T, root string, a *fakeAnalyzer, m *fakeAnnotator) (*Runner, *[]time.Duration) {
	t.Helper()
	slept := []time.Duration{}
	return &Runner{
		Config: &Config{
			Root:     root,
			Delay:    7 * time.Second,
			MaxBytes: DefaultMaxBytes,
			LongEdge: DefaultLongEdge,
			Quality:  DefaultQuality,
		},
		Analyzer:  a,
		Annotator: m,
		Sleep:     func(d time.Duration) { slept = append(slept, d) },
	}, &slept
}

func TestRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.jpg")
	touch(t, root, "sub/b.JPG")
	touch(t, root, "notes.txt")

	a := &fakeAnalyzer{}
	m := &fakeAnnotator{}
	r, slept := testRunner(t, root, a, m)
	r.Config.Force = true

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 2, Examined: 2, Analyzed: 2, Updated: 2}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}

	wantMerge := merge{Description: "a dog on grass", Keywords: []string{"dog", "grass"}, Force: true}
	if diff := cmp.Diff(wantMerge, m.merged["a.jpg"]); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]time.Duration{7 * time.Second, 7 * time.Second}, *slept); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHaltsOnQuota(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "one.jpg")
	touch(t, root, "two.jpg")
	touch(t, root, "three.jpg")

	quota := &vision.Error{Kind: vision.QuotaExceeded, StatusCode: 403, Reason: "Quota Exceeded"}
	a := &fakeAnalyzer{outcomes: []error{nil, quota}}
	m := &fakeAnnotator{}
	r, _ := testRunner(t, root, a, m)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 3, Examined: 2, Analyzed: 1, Updated: 1, Halted: true}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}
	if a.calls != 2 {
		t.Errorf("Analyze() called %d times, want 2", a.calls)
	}
	if len(m.merged) != 1 {
		t.Errorf("merged %v, want exactly one image", m.names())
	}
}

// Not parallel: redirects the global klog output.
func TestRunLogsQuotaOnce(t *testing.T) {
	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutputBySeverity("INFO", &buf)
	for _, sev := range []string{"WARNING", "ERROR", "FATAL"} {
		klog.SetOutputBySeverity(sev, io.Discard)
	}
	t.Cleanup(func() {
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
	})

	root := t.TempDir()
	touch(t, root, "one.jpg")

	quota := &vision.Error{Kind: vision.QuotaExceeded, StatusCode: 403, Reason: "Quota Exceeded"}
	r, _ := testRunner(t, root, &fakeAnalyzer{outcomes: []error{quota}}, &fakeAnnotator{})

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !st.Halted {
		t.Errorf("Halted = false, want true")
	}

	klog.Flush()
	if n := strings.Count(buf.String(), "403 Quota Exceeded"); n != 1 {
		t.Errorf("quota error logged %d times, want 1:\n%s", n, buf.String())
	}
}

func TestRunContinuesAfterFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "one.jpg")
	touch(t, root, "two.jpg")
	touch(t, root, "three.jpg")

	bad := &vision.Error{Kind: vision.RequestFailed, StatusCode: 400, Reason: "Bad Request"}
	down := &vision.Error{Kind: vision.TransportError, Err: errors.New("connection refused")}
	a := &fakeAnalyzer{outcomes: []error{bad, down, nil}}
	m := &fakeAnnotator{}
	r, _ := testRunner(t, root, a, m)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 3, Examined: 3, Analyzed: 1, Updated: 1, Failed: 2}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMergeFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "one.jpg")

	m := &fakeAnnotator{mergeErr: errors.New("exiftool exploded")}
	r, _ := testRunner(t, root, &fakeAnalyzer{}, m)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 1, Examined: 1, Analyzed: 1, Failed: 1}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSkipsCaptioned(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "done.jpg")
	touch(t, root, "todo.jpg")

	a := &fakeAnalyzer{}
	m := &fakeAnnotator{captioned: map[string]bool{"done.jpg": true}}

	r, slept := testRunner(t, root, a, m)
	r.Config.Skip = true

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 2, Examined: 2, Skipped: 1, Analyzed: 1, Updated: 1}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"todo.jpg"}, m.names()); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if len(*slept) != 1 {
		t.Errorf("slept %d times, want 1", len(*slept))
	}
}

func TestRunIgnoresCaptionsWithoutSkip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "done.jpg")

	m := &fakeAnnotator{captioned: map[string]bool{"done.jpg": true}}
	r, _ := testRunner(t, root, &fakeAnalyzer{}, m)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st.Skipped != 0 || st.Analyzed != 1 {
		t.Errorf("Run() = %+v, want the captioned image analyzed", st)
	}
}

func TestRunResizesOversized(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	big := testJPEG(t, 600, 400)
	if err := os.WriteFile(filepath.Join(root, "big.jpg"), big, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := &fakeAnalyzer{}
	r, _ := testRunner(t, root, a, &fakeAnnotator{})
	r.Config.MaxBytes = int64(len(big) - 1)
	r.Config.LongEdge = 60

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st.Resized != 1 {
		t.Errorf("Resized = %d, want 1", st.Resized)
	}
	if len(a.sizes) != 1 || a.sizes[0] >= len(big) {
		t.Errorf("Analyze() payload sizes = %v, want one smaller than %d", a.sizes, len(big))
	}
}

func TestRunUndecodableOversized(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "broken.jpg")

	a := &fakeAnalyzer{}
	r, _ := testRunner(t, root, a, &fakeAnnotator{})
	r.Config.MaxBytes = 0

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := &Stats{Found: 1, Examined: 1, Failed: 1}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Run() stats mismatch (-want +got):\n%s", diff)
	}
	if a.calls != 0 {
		t.Errorf("Analyze() called %d times, want 0", a.calls)
	}
}

func TestRunMissingRoot(t *testing.T) {
	t.Parallel()

	r, _ := testRunner(t, filepath.Join(t.TempDir(), "missing"), &fakeAnalyzer{}, &fakeAnnotator{})
	_, err := r.Run(context.Background())
	if !errors.Is(err, ErrRootNotFound) {
		t.Errorf("Run() error = %v, want ErrRootNotFound", err)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "one.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeAnalyzer{}
	r, _ := testRunner(t, root, a, &fakeAnnotator{})
	st, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if st == nil || st.Examined != 0 || a.calls != 0 {
		t.Errorf("Run() = %+v, calls = %d; want nothing examined", st, a.calls)
	}
}

func TestStatsString(t *testing.T) {
	t.Parallel()

	st := &Stats{Found: 5, Examined: 4, Skipped: 1, Resized: 2, Analyzed: 3, Updated: 2, Failed: 1}
	want := "evaluated 4 of 5 images: 1 skipped, 2 resized, 3 analyzed, 2 updated, 1 failed"
	if got := st.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
