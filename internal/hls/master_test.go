// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

const masterFixture = `#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="fr",URI="audio/fr.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="Deutsch",LANGUAGE="de",URI="subs/de.vtt"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",URI="subs/en/playlist.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="es",URI="https://subs.example/es.srt?sig=1"
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="aud"
480/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="hvc1.2.4.L123.B0,mp4a.40.2",AUDIO="aud"
1080h/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=4000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",AUDIO="aud"
1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=300000
audio-only.m3u8
`

func TestParseQualityOptions_SpecExample(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080\nhigh.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480\nlow.m3u8"

	opts := ParseQualityOptions(text, "https://cdn/test/master.m3u8")
	require.Len(t, opts, 2)
	assert.Equal(t, "https://cdn/test/high.m3u8", opts[0].URI)
	assert.Equal(t, "https://cdn/test/low.m3u8", opts[1].URI)
	assert.Equal(t, "1080p • 2.0 Mbps", opts[0].Label)
	assert.Equal(t, "480p • 800 kbps", opts[1].Label)
}

func TestParseQualityOptions_OrderingAndCodecs(t *testing.T) {
	opts := ParseQualityOptions(masterFixture, "https://cdn.example/v/master.m3u8")
	require.Len(t, opts, 4)

	// 1080 tie broken by bandwidth, unknown resolution last
	assert.Equal(t, "https://cdn.example/v/1080h/index.m3u8", opts[0].URI)
	assert.Equal(t, "https://cdn.example/v/1080/index.m3u8", opts[1].URI)
	assert.Equal(t, "https://cdn.example/v/480/index.m3u8", opts[2].URI)
	assert.Equal(t, "https://cdn.example/v/audio-only.m3u8", opts[3].URI)

	// quoted comma inside CODECS must not split the attribute
	assert.Equal(t, "hvc1.2.4.L123.B0,mp4a.40.2", opts[0].Codecs)
	assert.Equal(t, "aud", opts[0].AudioGroup)
	assert.Equal(t, "300 kbps", opts[3].Label)
	assert.False(t, opts[3].HasResolution())
}

func TestParseQualityOptions_DropsVariantWithoutURI(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n#EXT-X-STREAM-INF:BANDWIDTH=200,RESOLUTION=640x360\n\n# comment\nsd.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=300\n"
	opts := ParseQualityOptions(text, "https://h/m.m3u8")
	require.Len(t, opts, 1)
	assert.Equal(t, int64(200), opts[0].Bandwidth)
	assert.Equal(t, "https://h/sd.m3u8", opts[0].URI)
}

func TestParseQualityOptions_SortedProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	heights := []int{0, 240, 360, 480, 720, 1080, 2160}
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(8)
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := 0; i < n; i++ {
			h := heights[rng.Intn(len(heights))]
			bw := 100000 + rng.Intn(9000000)
			if h > 0 {
				fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", bw, h*16/9, h)
			} else {
				fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n", bw)
			}
			fmt.Fprintf(&b, "v%d.m3u8\n", i)
		}

		opts := ParseQualityOptions(b.String(), "https://cdn/x/master.m3u8")
		require.Len(t, opts, n)
		for i := 1; i < len(opts); i++ {
			prev, cur := opts[i-1], opts[i]
			require.GreaterOrEqual(t, prev.Height, cur.Height)
			if prev.Height == cur.Height {
				require.GreaterOrEqual(t, prev.Bandwidth, cur.Bandwidth)
			}
		}
	}
}

func TestParseAudioTracks(t *testing.T) {
	tracks := ParseAudioTracks(masterFixture)
	require.Len(t, tracks, 2)

	assert.Equal(t, "English", tracks[0].Name)
	assert.True(t, tracks[0].Default)
	assert.True(t, tracks[0].Autoselect)
	assert.Equal(t, "aud", tracks[0].GroupID)

	// NAME missing: derived from LANGUAGE
	assert.Equal(t, "French", tracks[1].Name)
	assert.False(t, tracks[1].Default)
}

func TestParseAudioTracks_MalformedDegradesToEmpty(t *testing.T) {
	assert.Empty(t, ParseAudioTracks("not a playlist"))
	assert.Empty(t, ParseQualityOptions("<html></html>", "https://x/"))
	assert.Empty(t, ParseSubtitleTracks("", ""))
}

func TestParseSubtitleTracks_SkipsSegmentedWebVTT(t *testing.T) {
	subs := ParseSubtitleTracks(masterFixture, "https://cdn.example/v/master.m3u8")
	require.Len(t, subs, 2)

	assert.Equal(t, media.CaptionVTT, subs[0].Type)
	assert.Equal(t, "https://cdn.example/v/subs/de.vtt", subs[0].URL)
	assert.Equal(t, "Deutsch", subs[0].Display)

	assert.Equal(t, media.CaptionSRT, subs[1].Type)
	assert.Equal(t, "https://subs.example/es.srt?sig=1", subs[1].URL)
	assert.Equal(t, "Spanish", subs[1].Display)
}

func TestPreferredAudio(t *testing.T) {
	tracks := []AudioTrackOption{
		{ID: "a", Name: "Français", Language: "fr", Default: true},
		{ID: "b", Name: "English", Language: "eng"},
	}
	got, ok := PreferredAudio(tracks, true)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	got, ok = PreferredAudio(tracks, false)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	_, ok = PreferredAudio(nil, true)
	assert.False(t, ok)
}

func TestParseAttributes(t *testing.T) {
	attrs := ParseAttributes(`TYPE=AUDIO,NAME="A, B",uri="x.m3u8",EMPTY=,BROKEN`)
	assert.Equal(t, "AUDIO", attrs["TYPE"])
	assert.Equal(t, "A, B", attrs["NAME"])
	assert.Equal(t, "x.m3u8", attrs["URI"])
	assert.Equal(t, "", attrs["EMPTY"])
	_, ok := attrs["BROKEN"]
	assert.False(t, ok)
}

func TestFormatLabel(t *testing.T) {
	assert.Equal(t, "720p • 1.5 Mbps", FormatLabel(720, 1_500_000))
	assert.Equal(t, "720p", FormatLabel(720, 0))
	assert.Equal(t, "64 kbps", FormatLabel(0, 64_000))
	assert.Equal(t, "Variant", FormatLabel(0, 0))
}

func TestResolveURI(t *testing.T) {
	base := "https://cdn/a/b/master.m3u8?token=1"
	assert.Equal(t, "https://cdn/a/b/x.m3u8", ResolveURI(base, "x.m3u8"))
	assert.Equal(t, "https://cdn/root.m3u8", ResolveURI(base, "/root.m3u8"))
	assert.Equal(t, "https://other/y.m3u8", ResolveURI(base, "https://other/y.m3u8"))
	assert.Equal(t, "rel.m3u8", ResolveURI("", "rel.m3u8"))
}
