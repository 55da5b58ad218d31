package ffcap

import "testing"

func TestCanonicalMime(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"video/webm;codecs=vp9,opus", "video/webm;codecs=vp9,opus"},
		{"video/webm; codecs=\"vp9, opus\"", "video/webm;codecs=vp9,opus"},
		{"VIDEO/WEBM;CODECS=VP9,OPUS", "video/webm;codecs=vp9,opus"},
		{"video/webm", "video/webm"},
		{"garbage", "garbage"},
	}
	for _, tc := range cases {
		if got := canonicalMime(tc.in); got != tc.want {
			t.Fatalf("canonicalMime(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCodecPlansCoverPreferenceList(t *testing.T) {
	for _, m := range []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/mp4;codecs=h264,aac",
		"video/webm",
	} {
		plan, ok := codecPlans[m]
		if !ok {
			t.Fatalf("no plan for %q", m)
		}
		if plan.videoEncoder == "" || plan.audioEncoder == "" {
			t.Fatalf("incomplete plan for %q: %+v", m, plan)
		}
	}
}

func TestSupportsUnknownMime(t *testing.T) {
	r := NewRecorder("/definitely/not/ffmpeg")
	if r.Supports("video/ogg;codecs=theora") {
		t.Fatal("unknown mime reported supported")
	}
}
