package compress

import (
	"bytes"
	"mime"
	"strings"

	"github.com/john-rock/beeroll/internal/capture"
)

// Codec identifies a normalized codec name.
type Codec string

const (
	CodecH264    Codec = "h264"
	CodecH265    Codec = "h265"
	CodecVP8     Codec = "vp8"
	CodecVP9     Codec = "vp9"
	CodecAV1     Codec = "av1"
	CodecAAC     Codec = "aac"
	CodecOpus    Codec = "opus"
	CodecVorbis  Codec = "vorbis"
	CodecUnknown Codec = ""
)

// CodecInfo is the result of probing an artifact's encoding.
type CodecInfo struct {
	Container string
	Video     Codec
	Audio     Codec

	// PreCompressed marks codecs already efficiently encoded; such
	// artifacts are remuxed rather than re-encoded.
	PreCompressed bool
}

// codecTagNames maps RFC 6381 codec tags (and common aliases) to
// normalized names. Tags like "avc1.42E01E" are matched on their prefix.
var codecTagNames = map[string]Codec{
	"avc1": CodecH264, "avc3": CodecH264, "h264": CodecH264,
	"hev1": CodecH265, "hvc1": CodecH265, "h265": CodecH265, "hevc": CodecH265,
	"vp8": CodecVP8, "vp08": CodecVP8,
	"vp9": CodecVP9, "vp09": CodecVP9,
	"av1": CodecAV1, "av01": CodecAV1,
	"mp4a": CodecAAC, "aac": CodecAAC,
	"opus": CodecOpus,
	"vorbis": CodecVorbis,
}

// ProbeCodecs inspects an artifact's declared MIME type and, when the tags
// are absent or unparseable, sniffs the container magic. It never fails;
// unknown inputs yield zero-value codecs, which route to full transcoding.
func ProbeCodecs(a capture.Artifact) CodecInfo {
	info := CodecInfo{}

	mt, codecs := splitMimeType(a.MimeType)
	switch mt {
	case "video/webm", "audio/webm":
		info.Container = "webm"
	case "video/mp4", "audio/mp4":
		info.Container = "mp4"
	}
	for _, tag := range codecs {
		// Profile suffixes ("avc1.42E01E", "vp09.00.10.08") do not
		// affect strategy choice.
		base := tag
		if i := strings.IndexByte(tag, '.'); i > 0 {
			base = tag[:i]
		}
		c, ok := codecTagNames[base]
		if !ok {
			continue
		}
		switch c {
		case CodecAAC, CodecOpus, CodecVorbis:
			info.Audio = c
		default:
			info.Video = c
		}
	}

	if info.Container == "" {
		info.Container = sniffContainer(a.Data)
	}

	switch info.Video {
	case CodecVP9, CodecAV1, CodecH265:
		info.PreCompressed = true
	}
	return info
}

// splitMimeType separates the media type from its codec tags. Recorders
// emit the codecs parameter both quoted and bare; mime.ParseMediaType
// rejects the bare comma form, so the parameter is pulled apart by hand.
func splitMimeType(mimeType string) (string, []string) {
	mt := mimeType
	rest := ""
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mt, rest = mimeType[:i], mimeType[i+1:]
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	} else {
		mt = strings.ToLower(strings.TrimSpace(mt))
	}

	var codecs []string
	for _, param := range strings.Split(rest, ";") {
		key, value, found := strings.Cut(param, "=")
		if !found || strings.ToLower(strings.TrimSpace(key)) != "codecs" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				codecs = append(codecs, tag)
			}
		}
	}
	return mt, codecs
}

// sniffContainer inspects leading bytes for container magic: EBML for
// webm/matroska, an ftyp box for mp4.
func sniffContainer(data []byte) string {
	if len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return "webm"
	}
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		return "mp4"
	}
	return ""
}
