package meta

import (
	"fmt"
	"os"
	"strconv"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// ExiftoolStore reads and writes IPTC fields through a long-lived exiftool process.
type ExiftoolStore struct {
	et *exiftool.Exiftool
}

// NewExiftoolStore starts exiftool.
func NewExiftoolStore() (*ExiftoolStore, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &ExiftoolStore{et: et}, nil
}

// Read returns the caption and keywords embedded in path.
func (s *ExiftoolStore) Read(path string) (*Record, error) {
	fis := s.et.ExtractMetadata(path)
	if len(fis) == 0 {
		return nil, fmt.Errorf("no metadata returned for %q", path)
	}

	fi := fis[0]
	if fi.Err != nil {
		return nil, fmt.Errorf("extract fail for %q: %w", path, fi.Err)
	}

	r := &Record{Path: path}
	r.Caption = first(fieldStrings(fi.Fields["Caption-Abstract"]))
	r.Keywords = fieldStrings(fi.Fields["Keywords"])
	klog.V(2).Infof("%s: caption=%q keywords=%v", path, r.Caption, r.Keywords)
	return r, nil
}

// Write stores the caption and full keyword list of r in path. Only the
// fields we own are sent; exiftool rewrites the file in place.
func (s *ExiftoolStore) Write(path string, r *Record) error {
	fm := exiftool.EmptyFileMetadata()
	fm.File = path
	fm.SetString("IPTC:CodedCharacterSet", "UTF8")
	if r.Caption != "" {
		fm.SetString("IPTC:Caption-Abstract", r.Caption)
	}
	if len(r.Keywords) > 0 {
		fm.SetStrings("IPTC:Keywords", r.Keywords)
	}

	fms := []exiftool.FileMetadata{fm}
	s.et.WriteMetadata(fms)
	if fms[0].Err != nil {
		return fmt.Errorf("write metadata for %s: %w", path, fms[0].Err)
	}
	return nil
}

// Close stops exiftool.
func (s *ExiftoolStore) Close() error {
	return s.et.Close()
}

// fieldStrings flattens an exiftool JSON value. Single keywords come back as
// scalars, and numeric-looking keywords come back as numbers.
func fieldStrings(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fieldStrings(e)...)
		}
		return out
	case string:
		return []string{t}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(t)}
	default:
		return []string{fmt.Sprintf("%v", t)}
	}
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
