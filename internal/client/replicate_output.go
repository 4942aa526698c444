package client

import (
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
)

// ErrNoOutput means a prediction succeeded without a usable output.
var ErrNoOutput = errors.New("prediction returned no usable output")

type namedURL struct {
	name string
	url  string
}

// outputURLs flattens a prediction output that may be a single URL, a list
// of URLs or an object of named URLs.
func outputURLs(raw json.RawMessage) []namedURL {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if isURL(single) {
			return []namedURL{{name: baseName(single), url: single}}
		}
		return nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []namedURL
		for _, v := range list {
			if s, ok := v.(string); ok && isURL(s) {
				out = append(out, namedURL{name: baseName(s), url: s})
			}
		}
		return out
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []namedURL
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && isURL(s) {
				out = append(out, namedURL{name: strings.ToLower(k) + " " + baseName(s), url: s})
			}
		}
		return out
	}

	return nil
}

// FirstOutputURL returns the first URL found in a prediction output.
func FirstOutputURL(raw json.RawMessage) (string, error) {
	urls := outputURLs(raw)
	if len(urls) == 0 {
		return "", ErrNoOutput
	}
	return urls[0].url, nil
}

// StemOutputURLs picks the vocals and instrumental stems out of a source
// separation output. When nothing is labelled instrumental the first
// non-vocal URL is used.
func StemOutputURLs(raw json.RawMessage) (vocals, instrumental string, err error) {
	urls := outputURLs(raw)
	if len(urls) == 0 {
		return "", "", ErrNoOutput
	}

	var first string
	for _, u := range urls {
		switch {
		case strings.Contains(u.name, "no_vocals"),
			strings.Contains(u.name, "instrumental"),
			strings.Contains(u.name, "accompaniment"):
			if instrumental == "" {
				instrumental = u.url
			}
		case strings.Contains(u.name, "vocals"):
			if vocals == "" {
				vocals = u.url
			}
		default:
			if first == "" {
				first = u.url
			}
		}
	}
	if instrumental == "" {
		instrumental = first
	}
	if instrumental == "" {
		return "", "", ErrNoOutput
	}
	return vocals, instrumental, nil
}

// Transcript is a normalized speech-to-text prediction output. At most one
// of Segments, SRTURL and Text carries the content.
type Transcript struct {
	Segments []TranscriptionSegment
	SRTURL   string
	Text     string
}

// TranscriptOutput normalizes a transcription output: a URL to an SRT file,
// plain text, a list of either, or an object with segments or text.
func TranscriptOutput(raw json.RawMessage) (*Transcript, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoOutput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return transcriptFromString(single)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, s := range list {
			if t, err := transcriptFromString(s); err == nil {
				return t, nil
			}
		}
		return nil, ErrNoOutput
	}

	var obj struct {
		Segments      []TranscriptionSegment `json:"segments"`
		Transcription string                 `json:"transcription"`
		Text          string                 `json:"text"`
		SRTFile       string                 `json:"srt_file"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrNoOutput
	}
	switch {
	case len(obj.Segments) > 0:
		return &Transcript{Segments: obj.Segments}, nil
	case isURL(obj.SRTFile):
		return &Transcript{SRTURL: obj.SRTFile}, nil
	case strings.TrimSpace(obj.Transcription) != "":
		return &Transcript{Text: obj.Transcription}, nil
	case strings.TrimSpace(obj.Text) != "":
		return &Transcript{Text: obj.Text}, nil
	}
	return nil, ErrNoOutput
}

func transcriptFromString(s string) (*Transcript, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoOutput
	}
	if isURL(s) {
		return &Transcript{SRTURL: s}, nil
	}
	return &Transcript{Text: s}, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func baseName(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.ToLower(path.Base(u))
}
