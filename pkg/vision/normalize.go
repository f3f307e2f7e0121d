package vision

import (
	"bytes"
	"encoding/json"

	"k8s.io/klog/v2"
)

// MaxParentDepth bounds how far up an object's parent chain we walk.
const MaxParentDepth = 32

// Result is a caption and keyword set derived from an analyze response.
type Result struct {
	Description string
	Keywords    []string
}

// Normalize converts a raw analyze response into a Result. It never fails:
// branches that are missing or malformed contribute nothing.
func Normalize(raw []byte) (r Result) {
	ks := &Keywords{}

	defer func() {
		if p := recover(); p != nil {
			klog.Errorf("normalize panic, returning %d keywords so far: %v", ks.Len(), p)
		}
		r.Keywords = ks.Slice()
	}()

	branches := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &branches); err != nil {
		klog.Warningf("response is not a JSON object: %v", err)
		return r
	}

	var desc description
	hasDesc := one(branches, "description", &desc)
	var caps []json.RawMessage
	if hasDesc && decode(desc.Captions, "description.captions", &caps) && len(caps) > 0 {
		var c caption
		if decode(caps[0], "description.captions[0]", &c) {
			r.Description = str(c.Text)
		}
	}

	each(branches, "categories", func(c category) {
		name := str(c.Name)
		ks.Add(name)
		if name != "people" {
			return
		}
		var d categoryDetail
		if decode(c.Detail, "categories.detail", &d) {
			list(d.Landmarks, "categories.detail.landmarks", func(l landmark) {
				ks.Add(str(l.Name))
			})
		}
	})

	each(branches, "faces", func(f face) {
		if f.Age != nil {
			ks.Add(f.Age.String())
		}
		ks.Add(str(f.Gender))
	})

	var c color
	if one(branches, "color", &c) {
		ks.Add(str(c.DominantColorForeground))
		ks.Add(str(c.DominantColorBackground))
		ks.Add(str(c.AccentColor))
		if c.IsBWImg != nil {
			if *c.IsBWImg {
				ks.Add("Monochrome")
			} else {
				ks.Add("ColorImage")
			}
		}
		list(c.DominantColors, "color.dominantColors", func(dc string) {
			ks.Add(dc)
		})
	}

	var it imageType
	if one(branches, "imageType", &it) {
		if it.ClipArtType != nil && *it.ClipArtType > 0 {
			ks.Add("Clipart")
		}
		if it.LineDrawingType != nil && *it.LineDrawingType > 0 {
			ks.Add("Linedrawing")
		}
	}

	each(branches, "objects", func(o object) {
		ks.Add(str(o.Object))
		parent := o.Parent
		for depth := 0; !isNull(parent); depth++ {
			if depth >= MaxParentDepth {
				klog.Warningf("object %q: parent chain longer than %d, truncating", str(o.Object), MaxParentDepth)
				break
			}
			var p object
			if !decode(parent, "objects.parent", &p) {
				break
			}
			ks.Add(str(p.Object))
			parent = p.Parent
		}
	})

	if hasDesc {
		list(desc.Tags, "description.tags", func(t string) {
			ks.Add(t)
		})
	}

	each(branches, "tags", func(t tag) {
		ks.Add(str(t.Name))
	})

	each(branches, "brands", func(b brand) {
		ks.Add(str(b.Name))
	})

	klog.V(1).Infof("normalized: description=%q, %d keywords", r.Description, ks.Len())
	return r
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decode unmarshals raw into v, reporting whether it was present and usable.
func decode(raw json.RawMessage, name string, v any) bool {
	if isNull(raw) {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		klog.Warningf("skipping %q: %v", name, err)
		return false
	}
	return true
}

// one decodes the named object branch into v, reporting whether it was usable.
func one(branches map[string]json.RawMessage, name string, v any) bool {
	return decode(branches[name], name, v)
}

// each decodes the named array branch element by element.
func each[T any](branches map[string]json.RawMessage, name string, fn func(T)) {
	list(branches[name], name, fn)
}

// list calls fn for each element of the array in raw that decodes cleanly.
func list[T any](raw json.RawMessage, name string, fn func(T)) {
	var items []json.RawMessage
	if !decode(raw, name, &items) {
		return
	}

	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			klog.Warningf("skipping %s[%d]: %v", name, i, err)
			continue
		}
		fn(v)
	}
}
