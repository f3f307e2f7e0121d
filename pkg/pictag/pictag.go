// Package pictag captions and keywords a tree of photos using a remote image
// analysis service.
package pictag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/pictag/pkg/vision"
)

// ErrRootNotFound is returned when the directory to scan does not exist.
var ErrRootNotFound = errors.New("directory not found")

// Analyzer submits image bytes for analysis.
type Analyzer interface {
	Analyze(ctx context.Context, bs []byte) (json.RawMessage, error)
}

// Annotator reads and updates embedded image metadata.
type Annotator interface {
	HasCaption(path string) (bool, error)
	Merge(path string, description string, keywords []string, force bool) (bool, error)
}

// Stats summarize a run.
type Stats struct {
	Found    int
	Examined int
	Skipped  int
	Resized  int
	Analyzed int
	Updated  int
	Failed   int
	// Halted is set when the service reported an exhausted quota.
	Halted bool
}

func (s *Stats) String() string {
	return fmt.Sprintf("evaluated %d of %d images: %d skipped, %d resized, %d analyzed, %d updated, %d failed",
		s.Examined, s.Found, s.Skipped, s.Resized, s.Analyzed, s.Updated, s.Failed)
}

// Runner walks Config.Root and annotates each image in turn.
type Runner struct {
	Config    *Config
	Analyzer  Analyzer
	Annotator Annotator
	// Sleep pauses between API calls; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Run processes every image under the configured root, one at a time. Only a
// missing root or a cancelled context produce an error; an exhausted quota
// ends the run early with Stats.Halted set.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	c := r.Config
	klog.Infof("collecting images under %s (this may take a while) ...", c.Root)
	paths, err := Find(c.Root)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	klog.Infof("found %d images", len(paths))

	st := &Stats{Found: len(paths)}
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		st.Examined++
		klog.Infof("---- image %d/%d: %s", i+1, len(paths), p)

		err := r.process(ctx, p, st)
		if err == nil {
			continue
		}

		var ve *vision.Error
		if errors.As(err, &ve) && ve.Kind == vision.QuotaExceeded {
			klog.Warningf("%s: %v: quota exhausted, stopping after %d images", p, err, st.Examined)
			st.Halted = true
			break
		}

		klog.Errorf("%s: %v", p, err)
		st.Failed++
	}

	return st, nil
}

// process annotates a single image.
func (r *Runner) process(ctx context.Context, path string, st *Stats) error {
	c := r.Config

	if c.Skip {
		has, err := r.Annotator.HasCaption(path)
		if err != nil {
			return fmt.Errorf("check caption: %w", err)
		}
		if has {
			klog.Infof("skipping %s: already has a caption", path)
			st.Skipped++
			return nil
		}
	}

	klog.Infof("waiting %s before calling the analyze API ...", c.Delay)
	r.sleep(c.Delay)

	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	if int64(len(bs)) > c.MaxBytes {
		klog.Infof("%s is %d bytes (limit %d), resizing to %dpx", path, len(bs), c.MaxBytes, c.LongEdge)
		bs, err = Shrink(bs, c.LongEdge, c.Quality)
		if err != nil {
			return fmt.Errorf("shrink: %w", err)
		}
		klog.V(1).Infof("resized %s to %d bytes", path, len(bs))
		st.Resized++
	}

	raw, err := r.Analyzer.Analyze(ctx, bs)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	st.Analyzed++

	res := vision.Normalize(raw)
	klog.Infof("description: %s", res.Description)
	klog.Infof("tags: %s", strings.Join(res.Keywords, ", "))

	changed, err := r.Annotator.Merge(path, res.Description, res.Keywords, c.Force)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if changed {
		st.Updated++
	}
	return nil
}

func (r *Runner) sleep(d time.Duration) {
	if r.Sleep != nil {
		r.Sleep(d)
		return
	}
	time.Sleep(d)
}
