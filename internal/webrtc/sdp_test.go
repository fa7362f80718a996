package webrtc

import (
	"strings"
	"testing"
)

func testTransport() TransportInfo {
	return TransportInfo{
		ID: "t-1",
		ICEParameters: ICEParameters{
			UsernameFragment: "ufrag",
			Password:         "icepwd",
		},
		ICECandidates: []ICECandidate{
			{Foundation: "udpcandidate", Protocol: "udp", Priority: 1076302079, IP: "10.0.0.5", Port: 44444, Type: "host"},
		},
		DTLSParameters: DTLSParameters{
			Fingerprints: []Fingerprint{
				{Algorithm: "sha-256", Value: "ab:cd:ef"},
			},
		},
	}
}

func testRTPParameters() RTPParameters {
	return RTPParameters{
		Codecs: []RTPCodec{{MimeType: "video/H264", PayloadType: 102, ClockRate: 90000}},
		HeaderExtensions: []HeaderExtension{
			{ID: 1, URI: "urn:ietf:params:rtp-hdrext:sdes:mid"},
			{ID: 4, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"},
		},
		Encodings: []RTPEncoding{{SSRC: 123456}},
		RTCP:      RTCPParameters{CName: "cam0"},
	}
}

func TestBuildVideoOnlyOffer(t *testing.T) {
	sdp := buildVideoOnlyOffer(testTransport(), testRTPParameters())

	want := []string{
		"v=0\r\n",
		"o=- 5133548076695286524 2 IN IP4 127.0.0.1\r\n",
		"a=ice-ufrag:ufrag\r\n",
		"a=ice-pwd:icepwd\r\n",
		"a=fingerprint:sha-256 AB:CD:EF\r\n",
		"a=setup:actpass\r\n",
		"m=video 9 UDP/TLS/RTP/SAVPF 102\r\n",
		"c=IN IP4 0.0.0.0\r\n",
		"a=rtcp-mux\r\n",
		"a=candidate:udpcandidate 1 udp 1076302079 10.0.0.5 44444 typ host\r\n",
		"a=end-of-candidates\r\n",
		"a=mid:video\r\n",
		"a=sendrecv\r\n",
		"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid\r\n",
		"a=extmap:4 http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time\r\n",
		"a=rtpmap:102 H264/90000\r\n",
		"a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n",
		"a=ssrc:123456 cname:cam0\r\n",
	}
	for _, line := range want {
		if !strings.Contains(sdp, line) {
			t.Errorf("offer missing %q", strings.TrimRight(line, "\r\n"))
		}
	}
	if !strings.HasPrefix(sdp, "v=0\r\n") {
		t.Errorf("offer does not start with version line")
	}
}

func TestBuildVideoOnlyOffer_CandidatesBeforeEndOfCandidates(t *testing.T) {
	sdp := buildVideoOnlyOffer(testTransport(), testRTPParameters())
	cand := strings.Index(sdp, "a=candidate:")
	end := strings.Index(sdp, "a=end-of-candidates")
	if cand < 0 || end < 0 || cand > end {
		t.Fatalf("candidate ordering wrong: candidate at %d, end at %d", cand, end)
	}
}

func TestAnswerFingerprints(t *testing.T) {
	sdp := "v=0\r\n" +
		"a=fingerprint:sha-256 11:22:33\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 102\r\n" +
		"a=fingerprint:sha-384 44:55:66\r\n"
	fps := answerFingerprints(sdp)
	if len(fps) != 2 {
		t.Fatalf("got %d fingerprints, want 2", len(fps))
	}
	if fps[0].Algorithm != "sha-256" || fps[0].Value != "11:22:33" {
		t.Errorf("first fingerprint = %+v", fps[0])
	}
	if fps[1].Algorithm != "sha-384" || fps[1].Value != "44:55:66" {
		t.Errorf("second fingerprint = %+v", fps[1])
	}
}

func TestAnswerFingerprints_None(t *testing.T) {
	if fps := answerFingerprints("v=0\r\ns=-\r\n"); len(fps) != 0 {
		t.Fatalf("got %d fingerprints, want 0", len(fps))
	}
}

func nalu(typ byte, payload ...byte) []byte {
	out := []byte{0x00, 0x00, 0x00, 0x01, typ & 0x1f}
	return append(out, payload...)
}

func TestH264StreamScan(t *testing.T) {
	var s h264Stream

	au := append(append(nalu(naluTypeSPS, 0xAA), nalu(naluTypePPS, 0xBB)...), nalu(naluTypeIDR, 0xCC)...)
	if !s.scan(au) {
		t.Fatalf("keyframe access unit not detected")
	}
	if s.sps == nil || s.pps == nil {
		t.Fatalf("parameter sets not cached: sps=%v pps=%v", s.sps, s.pps)
	}

	if s.scan(nalu(1, 0xDD)) {
		t.Fatalf("non-IDR slice reported as keyframe")
	}
}

func TestH264StreamWithParameterSets(t *testing.T) {
	var s h264Stream
	s.scan(append(nalu(naluTypeSPS, 0xAA), nalu(naluTypePPS, 0xBB)...))

	idr := nalu(naluTypeIDR, 0xCC)
	out := s.withParameterSets(idr)
	if len(out) <= len(idr) {
		t.Fatalf("parameter sets not prepended")
	}
	if got := out[4] & 0x1f; got != naluTypeSPS {
		t.Errorf("first nalu type = %d, want sps", got)
	}

	// An access unit that already carries SPS must pass through untouched.
	withSPS := append(nalu(naluTypeSPS, 0xAA), idr...)
	if got := s.withParameterSets(withSPS); len(got) != len(withSPS) {
		t.Errorf("self-contained access unit was modified")
	}
}

func TestH264StreamWithParameterSets_NoCache(t *testing.T) {
	var s h264Stream
	idr := nalu(naluTypeIDR, 0xCC)
	if got := s.withParameterSets(idr); len(got) != len(idr) {
		t.Fatalf("access unit modified without cached parameter sets")
	}
}
