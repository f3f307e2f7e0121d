package vision

import "encoding/json"

// The types below mirror the parts of the analyze response that we consume.
// Every branch is optional: pointers and nil slices mean "not sent". Nested
// lists and objects stay raw so that a bad child cannot take its siblings down.

type caption struct {
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence"`
}

type description struct {
	Tags     json.RawMessage `json:"tags"`
	Captions json.RawMessage `json:"captions"`
}

type landmark struct {
	Name       *string  `json:"name"`
	Confidence *float64 `json:"confidence"`
}

type categoryDetail struct {
	Landmarks json.RawMessage `json:"landmarks"`
}

type category struct {
	Name   *string         `json:"name"`
	Score  *float64        `json:"score"`
	Detail json.RawMessage `json:"detail"`
}

type face struct {
	Age    *json.Number `json:"age"`
	Gender *string      `json:"gender"`
}

type color struct {
	DominantColorForeground *string         `json:"dominantColorForeground"`
	DominantColorBackground *string         `json:"dominantColorBackground"`
	DominantColors          json.RawMessage `json:"dominantColors"`
	AccentColor             *string         `json:"accentColor"`
	IsBWImg                 *bool           `json:"isBWImg"`
}

type imageType struct {
	ClipArtType     *int `json:"clipArtType"`
	LineDrawingType *int `json:"lineDrawingType"`
}

// object is a hierarchy node; the service nests ancestors via Parent.
type object struct {
	Object     *string         `json:"object"`
	Confidence *float64        `json:"confidence"`
	Parent     json.RawMessage `json:"parent"`
}

type tag struct {
	Name       *string  `json:"name"`
	Confidence *float64 `json:"confidence"`
}

type brand struct {
	Name       *string  `json:"name"`
	Confidence *float64 `json:"confidence"`
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
