package webrtc

import "bytes"

const (
	naluTypeIDR = 5
	naluTypeSPS = 7
	naluTypePPS = 8
)

var annexBPrefix = []byte{0x00, 0x00, 0x00, 0x01}

// h264Stream tracks parameter sets across access units so a keyframe that
// arrives without them can still be handed to the decoder whole.
type h264Stream struct {
	sps []byte
	pps []byte
}

// scan walks the Annex-B access unit, caching SPS/PPS NAL units as they
// appear. It reports whether the unit contains an IDR slice.
func (s *h264Stream) scan(au []byte) bool {
	idr := false
	forEachNALU(au, func(nalu []byte) {
		if len(nalu) == 0 {
			return
		}
		switch nalu[0] & 0x1f {
		case naluTypeSPS:
			s.sps = append([]byte(nil), nalu...)
		case naluTypePPS:
			s.pps = append([]byte(nil), nalu...)
		case naluTypeIDR:
			idr = true
		}
	})
	return idr
}

// withParameterSets returns the access unit with cached SPS/PPS prepended
// when the unit does not carry its own.
func (s *h264Stream) withParameterSets(au []byte) []byte {
	hasSPS := false
	forEachNALU(au, func(nalu []byte) {
		if len(nalu) > 0 && nalu[0]&0x1f == naluTypeSPS {
			hasSPS = true
		}
	})
	if hasSPS || s.sps == nil || s.pps == nil {
		return au
	}
	out := make([]byte, 0, len(s.sps)+len(s.pps)+len(au)+8)
	out = append(out, annexBPrefix...)
	out = append(out, s.sps...)
	out = append(out, annexBPrefix...)
	out = append(out, s.pps...)
	out = append(out, au...)
	return out
}

// forEachNALU invokes fn for every NAL unit in an Annex-B byte stream,
// accepting both 3- and 4-byte start codes.
func forEachNALU(au []byte, fn func(nalu []byte)) {
	start := -1
	i := 0
	for i+2 < len(au) {
		if au[i] == 0 && au[i+1] == 0 && (au[i+2] == 1 || (i+3 < len(au) && au[i+2] == 0 && au[i+3] == 1)) {
			codeLen := 3
			if au[i+2] == 0 {
				codeLen = 4
			}
			if start >= 0 {
				fn(trimTrailingZeros(au[start:i]))
			}
			i += codeLen
			start = i
			continue
		}
		i++
	}
	if start >= 0 {
		fn(au[start:])
	}
}

func trimTrailingZeros(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
