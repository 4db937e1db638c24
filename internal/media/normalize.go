// Package media turns raw extractor JSON into the normalized MediaMetadata shape.
package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/iconidentify/mediagrab/internal/domain"
)

// ExcerptLimit bounds the raw output kept on a parse failure.
const ExcerptLimit = 500

const codecNone = "none"

type rawThumbnail struct {
	URL string `json:"url"`
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	FormatNote     string   `json:"format_note"`
	Ext            string   `json:"ext"`
	Height         *int     `json:"height"`
	FPS            *float64 `json:"fps"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
}

type rawInfo struct {
	Title      *string           `json:"title"`
	Thumbnail  string            `json:"thumbnail"`
	Thumbnails []rawThumbnail    `json:"thumbnails"`
	Formats    []rawFormat       `json:"formats"`
	Entries    []json.RawMessage `json:"entries"`
}

// Normalize parses a JSON dump and builds its MediaMetadata.
// Playlists are reduced to their first entry.
func Normalize(raw []byte) (*domain.MediaMetadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, malformed(raw, fmt.Errorf("expected a JSON object"))
	}

	var info rawInfo
	if err := json.Unmarshal(trimmed, &info); err != nil {
		return nil, malformed(raw, err)
	}

	if len(info.Entries) > 0 {
		first := bytes.TrimSpace(info.Entries[0])
		if len(first) > 0 && first[0] == '{' {
			var entry rawInfo
			if err := json.Unmarshal(first, &entry); err != nil {
				return nil, malformed(raw, fmt.Errorf("playlist entry 0: %w", err))
			}
			info = entry
		}
	}

	return pickOptions(&info), nil
}

func pickOptions(info *rawInfo) *domain.MediaMetadata {
	md := &domain.MediaMetadata{
		Title:   domain.DefaultTitle,
		Thumb:   pickThumbnail(info),
		Options: []domain.FormatOption{},
	}
	if info.Title != nil {
		md.Title = *info.Title
	}

	var video, audio []domain.FormatOption
	for _, f := range info.Formats {
		switch {
		case isVideo(f):
			video = append(video, videoOption(f))
		case isAudio(f):
			audio = append(audio, audioOption(f))
		}
	}

	sort.SliceStable(video, func(i, j int) bool {
		return labelRank(video[i].Label) > labelRank(video[j].Label)
	})

	md.Options = append(md.Options, video...)
	md.Options = append(md.Options, audio...)
	return md
}

// pickThumbnail prefers the last thumbnail, assumed to be the largest.
func pickThumbnail(info *rawInfo) *string {
	if n := len(info.Thumbnails); n > 0 && info.Thumbnails[n-1].URL != "" {
		u := info.Thumbnails[n-1].URL
		return &u
	}
	if info.Thumbnail != "" {
		u := info.Thumbnail
		return &u
	}
	return nil
}

func hasCodec(c string) bool {
	return c != "" && c != codecNone
}

func isVideo(f rawFormat) bool {
	return f.Ext == "mp4" && hasCodec(f.VCodec) && hasCodec(f.ACodec)
}

func isAudio(f rawFormat) bool {
	return hasCodec(f.ACodec) && !hasCodec(f.VCodec)
}

func videoOption(f rawFormat) domain.FormatOption {
	label := f.FormatNote
	if label == "" {
		if f.Height != nil && *f.Height > 0 {
			label = fmt.Sprintf("%dp", *f.Height)
		} else {
			label = "?p"
		}
	}
	opt := domain.FormatOption{
		FormatID: f.FormatID,
		Label:    label,
		Ext:      f.Ext,
		Filesize: filesize(f),
	}
	if f.FPS != nil && *f.FPS > 0 {
		fps := *f.FPS
		opt.FPS = &fps
	}
	return opt
}

func audioOption(f rawFormat) domain.FormatOption {
	label := f.FormatNote
	if label == "" {
		label = strings.ToUpper(f.Ext)
	}
	return domain.FormatOption{
		FormatID: f.FormatID,
		Label:    label,
		Ext:      f.Ext,
		Filesize: filesize(f),
	}
}

// filesize returns the exact size, falling back to the extractor's estimate.
func filesize(f rawFormat) *int64 {
	for _, v := range []*float64{f.Filesize, f.FilesizeApprox} {
		if v != nil && *v > 0 {
			n := int64(*v + 0.5)
			return &n
		}
	}
	return nil
}

// labelRank is the leading integer of a label ("1080p60" is 1080); labels
// without one rank as zero.
func labelRank(label string) int {
	s := strings.TrimLeft(label, " \t")
	n := 0
	digits := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		digits++
		if digits > 9 {
			break
		}
	}
	return n
}

func malformed(raw []byte, err error) *domain.MalformedOutputError {
	return &domain.MalformedOutputError{Excerpt: Excerpt(raw, ExcerptLimit), Err: err}
}

// Excerpt returns at most limit bytes of raw without splitting a UTF-8 rune.
func Excerpt(raw []byte, limit int) string {
	if len(raw) <= limit {
		return strings.ToValidUTF8(string(raw), "")
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return strings.ToValidUTF8(string(raw[:cut]), "")
}
