package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultCodecs is the process-wide codec table every router is created
// with. All rooms negotiate against the same set, so a producer accepted in
// one room is expressible in any other.
func DefaultCodecs() []webrtc.RTPCodecCapability {
	return []webrtc.RTPCodecCapability{
		{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		{
			MimeType:    webrtc.MimeTypeVP9,
			ClockRate:   90000,
			SDPFmtpLine: "profile-id=2",
		},
		{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
	}
}

// Capabilities is a client's declared receive capability set, exchanged
// during join and checked on every consume.
type Capabilities struct {
	Codecs []webrtc.RTPCodecCapability `json:"codecs"`
}

// Supports reports whether caps can decode the given mime type.
func (c Capabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}

// RTPEncoding is one encoding layer of a produced track.
type RTPEncoding struct {
	SSRC       uint32 `json:"ssrc,omitempty"`
	RID        string `json:"rid,omitempty"`
	MaxBitrate uint32 `json:"maxBitrate,omitempty"`
}

// RTPParameters carry the negotiated codec and encodings of a single track.
type RTPParameters struct {
	Codec     webrtc.RTPCodecCapability `json:"codec"`
	Encodings []RTPEncoding             `json:"encodings,omitempty"`
}
