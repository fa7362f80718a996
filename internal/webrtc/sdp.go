package webrtc

import (
	"fmt"
	"strings"
)

// buildVideoOnlyOffer synthesizes the remote offer the door station expects
// us to answer. The transport's ICE and DTLS material stands in for the
// session-level attributes; the single media section carries the H.264
// consumer the server allocated in transport_consume.
func buildVideoOnlyOffer(transport TransportInfo, params RTPParameters) string {
	var b strings.Builder

	b.WriteString("v=0\r\n")
	b.WriteString("o=- 5133548076695286524 2 IN IP4 127.0.0.1\r\n")
	b.WriteString("s=-\r\n")
	b.WriteString("t=0 0\r\n")
	b.WriteString("a=msid-semantic: WMS\r\n")
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", transport.ICEParameters.UsernameFragment)
	fmt.Fprintf(&b, "a=ice-pwd:%s\r\n", transport.ICEParameters.Password)
	for _, fp := range transport.DTLSParameters.Fingerprints {
		fmt.Fprintf(&b, "a=fingerprint:%s %s\r\n", fp.Algorithm, strings.ToUpper(fp.Value))
	}
	b.WriteString("a=setup:actpass\r\n")

	payloadType := 0
	if len(params.Codecs) > 0 {
		payloadType = params.Codecs[0].PayloadType
	}
	fmt.Fprintf(&b, "m=video 9 UDP/TLS/RTP/SAVPF %d\r\n", payloadType)
	b.WriteString("c=IN IP4 0.0.0.0\r\n")
	b.WriteString("a=rtcp-mux\r\n")
	for _, c := range transport.ICECandidates {
		fmt.Fprintf(&b, "a=candidate:%s 1 %s %d %s %d typ %s\r\n",
			c.Foundation, c.Protocol, c.Priority, c.IP, c.Port, c.Type)
	}
	b.WriteString("a=end-of-candidates\r\n")
	b.WriteString("a=mid:video\r\n")
	b.WriteString("a=sendrecv\r\n")
	for _, ext := range params.HeaderExtensions {
		fmt.Fprintf(&b, "a=extmap:%d %s\r\n", ext.ID, ext.URI)
	}
	fmt.Fprintf(&b, "a=rtpmap:%d H264/90000\r\n", payloadType)
	fmt.Fprintf(&b, "a=fmtp:%d level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n", payloadType)
	if len(params.Encodings) > 0 {
		fmt.Fprintf(&b, "a=ssrc:%d cname:%s\r\n", params.Encodings[0].SSRC, params.RTCP.CName)
	}

	return b.String()
}

// answerFingerprints pulls our DTLS fingerprints out of the local answer SDP
// so they can be relayed to the server in transport_connect.
func answerFingerprints(sdp string) []Fingerprint {
	var fps []Fingerprint
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
		rest, ok := strings.CutPrefix(line, "a=fingerprint:")
		if !ok {
			continue
		}
		algo, value, ok := strings.Cut(rest, " ")
		if !ok {
			continue
		}
		fps = append(fps, Fingerprint{Algorithm: algo, Value: strings.TrimSpace(value)})
	}
	return fps
}
