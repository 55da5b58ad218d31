package capture

// Quality names accepted by Options.Quality and the preference store.
const (
	QualityHigh       = "high"
	QualityBalanced   = "balanced"
	QualityCompressed = "compressed"
)

// Profile bundles the bitrate, frame rate, and resolution targets for a
// named quality level. Profiles are immutable and looked up by name.
type Profile struct {
	Name         string
	VideoBitrate int
	AudioBitrate int
	FrameRate    int
	Width        int
	Height       int
}

var profiles = map[string]Profile{
	QualityHigh: {
		Name:         QualityHigh,
		VideoBitrate: 8_000_000,
		AudioBitrate: 192_000,
		FrameRate:    60,
		Width:        1920,
		Height:       1080,
	},
	QualityBalanced: {
		Name:         QualityBalanced,
		VideoBitrate: 4_000_000,
		AudioBitrate: 128_000,
		FrameRate:    30,
		Width:        1280,
		Height:       720,
	},
	QualityCompressed: {
		Name:         QualityCompressed,
		VideoBitrate: 2_000_000,
		AudioBitrate: 96_000,
		FrameRate:    24,
		Width:        854,
		Height:       480,
	},
}

// ProfileByName looks up a quality profile. The second return is false for
// unknown names.
func ProfileByName(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames returns the known quality names, highest first.
func ProfileNames() []string {
	return []string{QualityHigh, QualityBalanced, QualityCompressed}
}
