package media

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/mediagrab/internal/domain"
)

const sampleDump = `{
  "title": "Launch day",
  "thumbnail": "https://img.example/fallback.jpg",
  "thumbnails": [
    {"url": "https://img.example/small.jpg"},
    {"url": "https://img.example/large.jpg"}
  ],
  "formats": [
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "format_note": "medium", "filesize": 3400000},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360, "fps": 30, "filesize_approx": 1234567.6},
    {"format_id": "22", "ext": "mp4", "vcodec": "avc1.64001F", "acodec": "mp4a.40.2", "format_note": "720p", "fps": 30, "filesize": 9000000},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "format_note": "1080p"},
    {"format_id": "248", "ext": "webm", "vcodec": "vp9", "acodec": "opus", "format_note": "1080p"},
    {"format_id": "251", "ext": "webm", "vcodec": "none", "acodec": "opus"},
    {"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "acodec": "none", "format_note": "storyboard"},
    {"format_id": "hls", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "1080p60", "fps": 60}
  ]
}`

func ids(opts []domain.FormatOption) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.FormatID
	}
	return out
}

func TestNormalize_Sample(t *testing.T) {
	md, err := Normalize([]byte(sampleDump))
	require.NoError(t, err)

	assert.Equal(t, "Launch day", md.Title)
	require.NotNil(t, md.Thumb)
	assert.Equal(t, "https://img.example/large.jpg", *md.Thumb)

	// Video (mp4 with both codecs) sorted desc, then audio in source order.
	assert.Equal(t, []string{"hls", "22", "18", "140", "251"}, ids(md.Options))

	byID := map[string]domain.FormatOption{}
	for _, o := range md.Options {
		byID[o.FormatID] = o
	}

	assert.Equal(t, "360p", byID["18"].Label)
	require.NotNil(t, byID["18"].Filesize)
	assert.Equal(t, int64(1234568), *byID["18"].Filesize)
	require.NotNil(t, byID["18"].FPS)
	assert.Equal(t, 30.0, *byID["18"].FPS)

	assert.Equal(t, "medium", byID["140"].Label)
	assert.Nil(t, byID["140"].FPS)
	assert.Equal(t, "WEBM", byID["251"].Label)
	assert.Nil(t, byID["251"].Filesize)
}

func TestNormalize_OnlyClassifiedOptions(t *testing.T) {
	md, err := Normalize([]byte(sampleDump))
	require.NoError(t, err)

	for _, o := range md.Options {
		assert.NotContains(t, []string{"137", "248", "sb0"}, o.FormatID)
	}
}

func TestNormalize_StableSort(t *testing.T) {
	raw := `{"formats": [
	  {"format_id": "a", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "720p"},
	  {"format_id": "b", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "hd"},
	  {"format_id": "c", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "720p60"},
	  {"format_id": "d", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "sd"},
	  {"format_id": "e", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 1440},
	  {"format_id": "f", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a"}
	]}`

	md, err := Normalize([]byte(raw))
	require.NoError(t, err)

	// 1440 first; the two 720s keep source order; zero-ranked labels keep source order.
	assert.Equal(t, []string{"e", "a", "c", "b", "d", "f"}, ids(md.Options))
	assert.Equal(t, "?p", md.Options[5].Label)
}

func TestNormalize_PlaylistUsesFirstEntry(t *testing.T) {
	raw := `{
	  "title": "My playlist",
	  "entries": [
	    {"title": "A", "formats": [{"format_id": "a1", "ext": "m4a", "acodec": "mp4a", "vcodec": "none"}]},
	    {"title": "B", "formats": [{"format_id": "b1", "ext": "m4a", "acodec": "mp4a", "vcodec": "none"}]}
	  ]
	}`

	md, err := Normalize([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "A", md.Title)
	assert.Equal(t, []string{"a1"}, ids(md.Options))
}

func TestNormalize_EmptyEntriesFallsBackToDocument(t *testing.T) {
	md, err := Normalize([]byte(`{"title": "Solo", "entries": []}`))
	require.NoError(t, err)
	assert.Equal(t, "Solo", md.Title)

	md, err = Normalize([]byte(`{"title": "Solo", "entries": [null]}`))
	require.NoError(t, err)
	assert.Equal(t, "Solo", md.Title)
}

func TestNormalize_Defaults(t *testing.T) {
	md, err := Normalize([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultTitle, md.Title)
	assert.Nil(t, md.Thumb)
	assert.NotNil(t, md.Options, "options must never be nil")
	assert.Empty(t, md.Options)
}

func TestNormalize_ThumbnailFallback(t *testing.T) {
	md, err := Normalize([]byte(`{"thumbnail": "https://img.example/t.jpg", "thumbnails": []}`))
	require.NoError(t, err)
	require.NotNil(t, md.Thumb)
	assert.Equal(t, "https://img.example/t.jpg", *md.Thumb)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated object", `{not json`},
		{"null", `null`},
		{"array", `[1, 2]`},
		{"plain text", `ERROR: unsupported URL`},
		{"blank", "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedOutput))

			var mErr *domain.MalformedOutputError
			require.True(t, errors.As(err, &mErr))
			assert.True(t, strings.HasPrefix(tt.raw, mErr.Excerpt))
		})
	}
}

func TestNormalize_MalformedExcerptIsBounded(t *testing.T) {
	raw := "{" + strings.Repeat("x", 2000)

	_, err := Normalize([]byte(raw))
	var mErr *domain.MalformedOutputError
	require.ErrorAs(t, err, &mErr)
	assert.Len(t, mErr.Excerpt, ExcerptLimit)
	assert.Equal(t, raw[:ExcerptLimit], mErr.Excerpt)
}

func TestExcerpt_RuneSafe(t *testing.T) {
	raw := []byte(strings.Repeat("a", 9) + "é")
	assert.Equal(t, strings.Repeat("a", 9), Excerpt(raw, 10))
	assert.Equal(t, string(raw), Excerpt(raw, 11))
}

func TestLabelRank(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"1080p", 1080},
		{"720p60", 720},
		{" 480p", 480},
		{"medium", 0},
		{"?p", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, labelRank(tt.label))
		})
	}
}
