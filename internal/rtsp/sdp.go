package rtsp

import (
	"strconv"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/bilbercode/rtspd/internal/rtp"
)

const (
	videoControl = "track0"
	audioControl = "track1"

	aacFormat = "profile-level-id=1;mode=AAC-hbr;sizelength=13;indexlength=3;indexdeltalength=3;config=1210"
)

// sessionDescription describes the fixed H.264 + AAC pair every camera
// serves.
func sessionDescription(host string, now time.Time) ([]byte, error) {
	video := strconv.Itoa(rtp.PayloadTypeH264)
	audio := strconv.Itoa(rtp.PayloadTypeAAC)

	description := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(now.Unix()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "Unnamed",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{}},
		},
		Attributes: []sdp.Attribute{
			{Key: "control", Value: "*"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{video},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: video + " H264/90000"},
					{Key: "control", Value: videoControl},
				},
			},
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{audio},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: audio + " MPEG4-GENERIC/44100/2"},
					{Key: "fmtp", Value: audio + " " + aacFormat},
					{Key: "control", Value: audioControl},
				},
			},
		},
	}
	return description.Marshal()
}
