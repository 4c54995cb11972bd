package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TagValue is one entry of a tag mapping.
type TagValue struct {
	Tag   string
	Value string
}

// TagMap is a JSON object of tag → string that keeps declaration order.
type TagMap []TagValue

func (m *TagMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tag map: expected object, got %v", tok)
	}

	out := TagMap{}
	seen := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var value *string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("tag map: value for %q: %w", key, err)
		}
		v := ""
		if value != nil {
			v = *value
		}
		// Repeated keys keep the first position with the last value, as
		// encoding/json does for plain maps.
		if idx, ok := seen[key]; ok {
			out[idx].Value = v
			continue
		}
		seen[key] = len(out)
		out = append(out, TagValue{Tag: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m TagMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Tag)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type Signer struct {
	Name        string `json:"name"`
	Designation string `json:"designation"`
	Email       string `json:"email,omitempty"`
}

type DocumentRequest struct {
	Name    string `json:"name"`
	DocTags TagMap `json:"docTags"`
}

// SigningRequest is the inbound message for one signing room.
type SigningRequest struct {
	SigningRoomID   string            `json:"signingRoomId"`
	OriginalPath    string            `json:"originalPath"`
	SignedPath      string            `json:"signedPath"`
	SignData        TagMap            `json:"signData"`
	Signers         []Signer          `json:"signers"`
	SignedDocuments []DocumentRequest `json:"signedDocuments"`
}

// DestinationPath falls back to the original location when no signed path was given.
func (r SigningRequest) DestinationPath() string {
	if r.SignedPath == "" {
		return r.OriginalPath
	}
	return r.SignedPath
}

// RasterImage is a decoded signature re-encoded as PNG.
type RasterImage struct {
	Width  int
	Height int
	Data   []byte
}

func (img RasterImage) Empty() bool {
	return len(img.Data) == 0 || img.Width <= 0 || img.Height <= 0
}

type TextSubstitution struct {
	Tag   string
	Value string
}

type ImageSubstitution struct {
	Tag   string
	Image RasterImage
	// Err is set when the payload could not be decoded; the tag is skipped.
	Err error
}

// Precedence selects which mapping a pass consults first when the same tag
// appears in both.
type Precedence string

const (
	PrecedenceText  Precedence = "text"
	PrecedenceImage Precedence = "image"
)

func ParsePrecedence(v string) (Precedence, error) {
	switch Precedence(v) {
	case "", PrecedenceText:
		return PrecedenceText, nil
	case PrecedenceImage:
		return PrecedenceImage, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse tag precedence", fmt.Errorf("unknown precedence %q", v))
	}
}

// OverflowPolicy controls replacement text wider than its tag box.
type OverflowPolicy string

const (
	OverflowAllow  OverflowPolicy = "overflow"
	OverflowShrink OverflowPolicy = "shrink"
	OverflowClip   OverflowPolicy = "clip"
)

func ParseOverflowPolicy(v string) (OverflowPolicy, error) {
	switch OverflowPolicy(v) {
	case "", OverflowAllow:
		return OverflowAllow, nil
	case OverflowShrink:
		return OverflowShrink, nil
	case OverflowClip:
		return OverflowClip, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse overflow policy", fmt.Errorf("unknown overflow policy %q", v))
	}
}
