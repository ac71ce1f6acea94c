package encoding

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
)

// DASH naming used by both the encoder invocation and the manifests.
const (
	ManifestName       = "stream.mpd"
	SafariManifestName = "stream-safari.mpd"
	InitSegmentName    = "init.mp4"
	MediaSegmentName   = "chunk_$Number$.m4s"
	SafariSegmentName  = "safari_$Number$.m4a"

	// safariSegmentPattern is the segment muxer spelling of SafariSegmentName.
	safariSegmentPattern = "safari_%d.m4a"
)

// ManifestParams describes one DASH representation.
type ManifestParams struct {
	// Duration is the presentation duration in seconds, silence pad included.
	Duration float64
	// SegmentDuration is the target length of each media segment in seconds.
	SegmentDuration float64
	SampleRate      int
	Channels        int
	// Bitrate is the AAC bitrate in bits per second.
	Bitrate int
	// Safari selects the flat-segment variant: monolithic numbered .m4a
	// segments and no initialization segment.
	Safari bool
}

type mpdDocument struct {
	XMLName                   xml.Name  `xml:"MPD"`
	Xmlns                     string    `xml:"xmlns,attr"`
	Profiles                  string    `xml:"profiles,attr"`
	Type                      string    `xml:"type,attr"`
	MediaPresentationDuration string    `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string    `xml:"minBufferTime,attr"`
	Period                    mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	ID            string           `xml:"id,attr"`
	Start         string           `xml:"start,attr"`
	Duration      string           `xml:"duration,attr"`
	AdaptationSet mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ID               int               `xml:"id,attr"`
	ContentType      string            `xml:"contentType,attr"`
	MimeType         string            `xml:"mimeType,attr"`
	SegmentAlignment bool              `xml:"segmentAlignment,attr"`
	Representation   mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID                        string             `xml:"id,attr"`
	Codecs                    string             `xml:"codecs,attr"`
	Bandwidth                 int                `xml:"bandwidth,attr"`
	AudioSamplingRate         int                `xml:"audioSamplingRate,attr"`
	AudioChannelConfiguration mpdChannelConfig   `xml:"AudioChannelConfiguration"`
	SegmentTemplate           mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdChannelConfig struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       int    `xml:"value,attr"`
}

type mpdSegmentTemplate struct {
	Timescale      int    `xml:"timescale,attr"`
	Duration       int64  `xml:"duration,attr"`
	Initialization string `xml:"initialization,attr,omitempty"`
	Media          string `xml:"media,attr"`
	StartNumber    int    `xml:"startNumber,attr"`
}

// BuildManifest renders an MPEG-DASH MPD for a single audio representation.
func BuildManifest(p ManifestParams) ([]byte, error) {
	if p.SampleRate <= 0 || p.SegmentDuration <= 0 || p.Duration <= 0 {
		return nil, fmt.Errorf("build manifest: invalid params %+v", p)
	}

	tmpl := mpdSegmentTemplate{
		Timescale:      p.SampleRate,
		Duration:       int64(math.Round(p.SegmentDuration * float64(p.SampleRate))),
		Initialization: InitSegmentName,
		Media:          MediaSegmentName,
		StartNumber:    1,
	}
	if p.Safari {
		tmpl.Initialization = ""
		tmpl.Media = SafariSegmentName
	}

	total := FormatISODuration(p.Duration)
	doc := mpdDocument{
		Xmlns:                     "urn:mpeg:dash:schema:mpd:2011",
		Profiles:                  "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                      "static",
		MediaPresentationDuration: total,
		MinBufferTime:             FormatISODuration(p.SegmentDuration),
		Period: mpdPeriod{
			ID:       "0",
			Start:    FormatISODuration(0),
			Duration: total,
			AdaptationSet: mpdAdaptationSet{
				ID:               0,
				ContentType:      "audio",
				MimeType:         "audio/mp4",
				SegmentAlignment: true,
				Representation: mpdRepresentation{
					ID:                "0",
					Codecs:            "mp4a.40.2",
					Bandwidth:         p.Bitrate,
					AudioSamplingRate: p.SampleRate,
					AudioChannelConfiguration: mpdChannelConfig{
						SchemeIDURI: "urn:mpeg:dash:23003:3:audio_channel_configuration:2011",
						Value:       p.Channels,
					},
					SegmentTemplate: tmpl,
				},
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	out = append(out, '\n')
	return out, nil
}

// FormatISODuration formats seconds as an ISO-8601 duration of the form
// PT<minutes>M<seconds>S, with millisecond precision.
func FormatISODuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	minutes := ms / 60000
	rest := float64(ms%60000) / 1000
	return "PT" + strconv.FormatInt(minutes, 10) + "M" + strconv.FormatFloat(rest, 'f', -1, 64) + "S"
}
