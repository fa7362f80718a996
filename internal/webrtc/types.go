package webrtc

import "encoding/json"

// Wire shapes of the vendor's signaling acks. Field names must match the
// server exactly.

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Protocol   string `json:"protocol"`
	Priority   uint64 `json:"priority"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
}

type Fingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string        `json:"role,omitempty"`
	Fingerprints []Fingerprint `json:"fingerprints"`
}

// TransportInfo is the receive-only transport descriptor from the join ack.
type TransportInfo struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

type ICEServer struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

// joinResult is the payload of the join_call acknowledgment.
type joinResult struct {
	ICEServers         []ICEServer   `json:"iceServers"`
	RecvTransportVideo TransportInfo `json:"recvTransportVideo"`
	ProducerIDVideo    string        `json:"producerIdVideo"`
}

type RTPCodec struct {
	MimeType    string `json:"mimeType"`
	PayloadType int    `json:"payloadType"`
	ClockRate   int    `json:"clockRate"`
}

type HeaderExtension struct {
	ID  int    `json:"id"`
	URI string `json:"uri"`
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type RTCPParameters struct {
	CName string `json:"cname"`
}

type RTPParameters struct {
	Codecs           []RTPCodec        `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions"`
	Encodings        []RTPEncoding     `json:"encodings"`
	RTCP             RTCPParameters    `json:"rtcp"`
}

// consumerResult is the payload of the transport_consume acknowledgment.
type consumerResult struct {
	ID            string        `json:"id"`
	RTPParameters RTPParameters `json:"rtpParameters"`
}

// ackEnvelope wraps every signaling acknowledgment body.
type ackEnvelope[T any] struct {
	Result T `json:"result"`
}

// rtpCapabilities is the fixed, video-only capability set declared in
// transport_consume. H.264 main profile plus RTX; the audio PCMA entry is
// advertised but never negotiated into the SDP.
var rtpCapabilities = map[string]any{
	"codecs": []map[string]any{
		{
			"kind":                 "audio",
			"mimeType":             "audio/PCMA",
			"clockRate":            8000,
			"preferredPayloadType": 8,
			"channels":             1,
			"rtcpFeedback":         []any{},
			"parameters":           map[string]any{},
		},
		{
			"kind":                 "video",
			"mimeType":             "video/H264",
			"clockRate":            90000,
			"preferredPayloadType": 102,
			"rtcpFeedback": []map[string]string{
				{"type": "goog-remb", "parameter": ""},
				{"type": "transport-cc", "parameter": ""},
				{"type": "ccm", "parameter": "fir"},
				{"type": "nack", "parameter": ""},
				{"type": "nack", "parameter": "pli"},
			},
			"parameters": map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
		{
			"kind":                 "video",
			"mimeType":             "video/rtx",
			"clockRate":            90000,
			"preferredPayloadType": 103,
			"rtcpFeedback":         []any{},
			"parameters":           map[string]any{"apt": 102},
		},
	},
	"headerExtensions": []map[string]any{
		{"kind": "audio", "uri": "urn:ietf:params:rtp-hdrext:sdes:mid", "preferredId": 1, "direction": "sendrecv"},
		{"kind": "video", "uri": "urn:ietf:params:rtp-hdrext:sdes:mid", "preferredId": 1, "direction": "sendrecv"},
		{"kind": "video", "uri": "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", "preferredId": 4, "direction": "sendrecv"},
		{"kind": "video", "uri": "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", "preferredId": 5, "direction": "sendrecv"},
		{"kind": "audio", "uri": "urn:ietf:params:rtp-hdrext:ssrc-audio-level", "preferredId": 10, "direction": "sendrecv"},
		{"kind": "video", "uri": "urn:3gpp:video-orientation", "preferredId": 11, "direction": "sendrecv"},
		{"kind": "video", "uri": "urn:ietf:params:rtp-hdrext:toffset", "preferredId": 12, "direction": "sendrecv"},
	},
}
