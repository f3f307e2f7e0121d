// pictag captions and keywords JPEG images using a remote image analysis API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/tstromberg/pictag/pkg/meta"
	"github.com/tstromberg/pictag/pkg/pictag"
	"github.com/tstromberg/pictag/pkg/vision"
)

// Flag values are read through flag.Visit so that only flags given on the
// command line override the settings file.
func init() {
	flag.String("path", "", "Directory to traverse. All JPGs in it and its child directories will be analyzed (required)")
	flag.Int("timeout", int(pictag.DefaultDelay/time.Millisecond), "Milliseconds to wait before each API call")
	flag.String("endpoint", "", "Analyze endpoint, e.g. https://westeurope.api.cognitive.microsoft.com/vision/v3.2/analyze")
	flag.String("key", "", "API subscription key")
	flag.String("params", vision.DefaultParams, "Fixed query parameters sent with every request")
	flag.Bool("force", false, "always overwrite an existing caption")
	flag.Bool("skip", false, "skip images that already have a caption")
	flag.Bool("n", false, "dry-run mode, don't write metadata")
	flag.String("backup", "", "copy each image here before modifying it")
}

var configPath = flag.String("config", "pictag.env", "settings file used for values not given as flags")

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := run(); err != nil {
		klog.Exitf("%v", err)
	}
}

func run() error {
	set := map[string]string{}
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = f.Value.String()
	})

	_, explicit := set["config"]
	settings, err := pictag.ReadSettings(*configPath, explicit)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	c, err := pictag.Resolve(set, settings)
	if err != nil {
		flag.Usage()
		return err
	}

	if st, err := os.Stat(c.Root); err != nil || !st.IsDir() {
		return fmt.Errorf("the specified directory does not exist: %s", c.Root)
	}

	klog.Infof("pictag starting: root=%s endpoint=%s delay=%s force=%v skip=%v dry-run=%v",
		c.Root, c.Endpoint, c.Delay, c.Force, c.Skip, c.DryRun)

	es, err := meta.NewExiftoolStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := es.Close(); err != nil {
			klog.Errorf("Failed to close exiftool: %v", err)
		}
	}()

	r := &pictag.Runner{
		Config:   c,
		Analyzer: vision.New(c.Endpoint, c.Params, c.Key),
		Annotator: meta.New(es, meta.Options{
			DryRun:    c.DryRun,
			BackupDir: c.BackupDir,
			Root:      c.Root,
		}),
	}

	st, err := r.Run(context.Background())
	if err != nil {
		return err
	}

	if st.Halted {
		klog.Warningf("stopped early: API quota exceeded")
	}
	klog.Infof("Finished, %s", st)
	return nil
}
