package extractor

import (
	"strings"
	"testing"
)

func TestResolveArgs(t *testing.T) {
	tests := []struct {
		name    string
		cookies string
		want    string
	}{
		{"no cookies", "", "-J --no-warnings --no-check-certificate -- https://v.example/1"},
		{"with cookies", "/srv/cookies.txt", "-J --no-warnings --no-check-certificate --cookies /srv/cookies.txt -- https://v.example/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(ResolveArgs("https://v.example/1", tt.cookies), " ")
			if got != tt.want {
				t.Errorf("ResolveArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadArgs(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		cookies string
		want    string
	}{
		{
			name:   "best without cookies",
			format: "best",
			want:   "-f best -o - --no-part --no-playlist --merge-output-format mp4 -- https://v.example/1",
		},
		{
			name:    "specific format with cookies",
			format:  "137+140",
			cookies: "/srv/cookies.txt",
			want:    "-f 137+140 -o - --no-part --no-playlist --merge-output-format mp4 --cookies /srv/cookies.txt -- https://v.example/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(DownloadArgs("https://v.example/1", tt.format, "mp4", tt.cookies), " ")
			if got != tt.want {
				t.Errorf("DownloadArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArgs_URLIsNeverAnOption(t *testing.T) {
	hostile := "--batch-file=/etc/passwd"
	for name, args := range map[string][]string{
		"resolve":  ResolveArgs(hostile, "/srv/cookies.txt"),
		"download": DownloadArgs(hostile, "best", "mp4", "/srv/cookies.txt"),
	} {
		n := len(args)
		if n < 2 || args[n-2] != "--" || args[n-1] != hostile {
			t.Errorf("%s: url must be the last argument after --, got %q", name, args)
		}
		for _, a := range args[:n-2] {
			if a == hostile {
				t.Errorf("%s: url appears before --: %q", name, args)
			}
		}
	}
}

func TestScanProgressLines(t *testing.T) {
	tb := newTailBuffer(3)
	input := "[download]   1%\r[download]  50%\r[download] 100%\nMerging\nDeleting\n"

	data := []byte(input)
	for len(data) > 0 {
		adv, tok, err := scanProgressLines(data, true)
		if err != nil {
			t.Fatalf("scan error: %v", err)
		}
		if len(tok) > 0 {
			tb.Add(string(tok))
		}
		data = data[adv:]
	}

	want := "[download] 100%\nMerging\nDeleting"
	if got := tb.String(); got != want {
		t.Errorf("tail = %q, want %q", got, want)
	}
}
