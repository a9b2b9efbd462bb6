package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "segments/abc/index.m3u8", SegmentKey("abc", "index.m3u8"))
	// Path components in the filename are stripped.
	assert.Equal(t, "segments/abc/seg_00001.ts", SegmentKey("abc", "/tmp/work/seg_00001.ts"))
	assert.Equal(t, "segments/abc/", SegmentPrefix("abc"))
	assert.Equal(t, "recordings/abc.m4a", RecordingKey("abc"))
}

func TestResolveURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "eu-west-1", MediaBucket: "media"}}

	assert.Equal(t, "", s.ResolveURL(""))
	assert.Equal(t, "https://cdn.example.com/x.m3u8", s.ResolveURL("https://cdn.example.com/x.m3u8"))
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com/segments/abc/index.m3u8",
		s.ResolveURL("segments/abc/index.m3u8"))

	s.cfg.PublicBaseURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/segments/abc/index.m3u8",
		s.ResolveURL("/segments/abc/index.m3u8"))
}

func TestPresignExpireDefault(t *testing.T) {
	s := &S3{}
	assert.Equal(t, "15m0s", s.PresignExpire().String())

	s.cfg.PresignExpireMinutes = 60
	assert.Equal(t, "1h0m0s", s.PresignExpire().String())
}
