package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// accessUnitSplitter cuts a continuous Annex-B byte stream into access
// units. The encoder is configured to emit an access unit delimiter in
// front of every picture, so a unit ends where the next delimiter starts.
type accessUnitSplitter struct {
	buf     []byte
	scanned int
}

// Push appends data and returns every access unit completed by it.
func (s *accessUnitSplitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var units [][]byte
	start := 0
	i := s.scanned
	for ; i+3 < len(s.buf); i++ {
		if s.buf[i] != 0 || s.buf[i+1] != 0 || s.buf[i+2] != 1 {
			continue
		}
		if h264.NALUType(s.buf[i+3]&0x1F) != h264.NALUTypeAccessUnitDelimiter {
			continue
		}
		at := i
		if at > start && s.buf[at-1] == 0 {
			at--
		}
		if at > start {
			units = append(units, append([]byte(nil), s.buf[start:at]...))
		}
		start = at
		i += 3
	}

	s.buf = append(s.buf[:0], s.buf[start:]...)
	s.scanned = i - start
	if s.scanned < 0 {
		s.scanned = 0
	}
	return units
}

// Flush returns whatever is buffered as a final access unit.
func (s *accessUnitSplitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	au := append([]byte(nil), s.buf...)
	s.buf = s.buf[:0]
	s.scanned = 0
	return au
}

// SplitAccessUnit parses an Annex-B access unit into its NAL units.
func SplitAccessUnit(au []byte) ([][]byte, error) {
	var annexB h264.AnnexB
	if err := annexB.Unmarshal(au); err != nil {
		return nil, errors.Wrap(err, "invalid Annex-B access unit")
	}
	return annexB, nil
}

// IsKeyFrame reports whether the NAL units contain an IDR slice.
func IsKeyFrame(nalus [][]byte) bool {
	for _, nalu := range nalus {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ParameterSets returns the first SPS and PPS found in nalus.
func ParameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = append([]byte(nil), nalu...)
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = append([]byte(nil), nalu...)
			}
		}
	}
	return sps, pps
}

// BuildAVCC builds an AVCDecoderConfigurationRecord with 4-byte NALU
// lengths from a single SPS and PPS.
func BuildAVCC(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, errors.Errorf("SPS too short: %d bytes", len(sps))
	}
	if len(pps) == 0 {
		return nil, errors.New("missing PPS")
	}

	out := make([]byte, 0, 11+len(sps)+len(pps))
	out = append(out,
		0x01,
		sps[1], sps[2], sps[3],
		0xFC|0x03,
		0xE0|0x01,
		byte(len(sps)>>8), byte(len(sps)),
	)
	out = append(out, sps...)
	out = append(out, 0x01, byte(len(pps)>>8), byte(len(pps)))
	out = append(out, pps...)
	return out, nil
}

// ParseAVCC extracts the first SPS and PPS from an
// AVCDecoderConfigurationRecord.
func ParseAVCC(avcc []byte) (sps, pps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, nil, false
	}
	i := 5
	numSPS := int(avcc[i] & 0x1F)
	i++
	for n := 0; n < numSPS && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return nil, nil, false
		}
		if sps == nil {
			sps = avcc[i : i+l]
		}
		i += l
	}
	if i >= len(avcc) {
		return sps, nil, false
	}
	numPPS := int(avcc[i])
	i++
	for n := 0; n < numPPS && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			break
		}
		if pps == nil {
			pps = avcc[i : i+l]
		}
		i += l
	}
	return sps, pps, sps != nil && pps != nil
}
