package decode

import "encoding/binary"

// annexBStartCode is the four-byte Annex-B NAL start code. The hardware
// backend's subprocess pipeline expects Annex-B framed H.264, while the
// demuxer hands packets in AVCC (length-prefixed) framing.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// rewriteAVCCToAnnexB rewrites one AVCC access unit (a sequence of
// 4-byte-length-prefixed NAL units) into Annex-B framing (NAL units
// separated by start codes). nalLengthSize is the length-field width
// recorded in the stream's AVCDecoderConfigurationRecord, almost always 4.
func rewriteAVCCToAnnexB(avcc []byte, nalLengthSize int) []byte {
	if nalLengthSize <= 0 {
		nalLengthSize = 4
	}

	out := make([]byte, 0, len(avcc)+16)
	pos := 0
	for pos+nalLengthSize <= len(avcc) {
		var nalLen int
		switch nalLengthSize {
		case 1:
			nalLen = int(avcc[pos])
		case 2:
			nalLen = int(binary.BigEndian.Uint16(avcc[pos : pos+2]))
		default:
			nalLen = int(binary.BigEndian.Uint32(avcc[pos : pos+4]))
		}
		pos += nalLengthSize
		if nalLen < 0 || pos+nalLen > len(avcc) {
			break
		}
		out = append(out, annexBStartCode...)
		out = append(out, avcc[pos:pos+nalLen]...)
		pos += nalLen
	}
	return out
}

// primeSPSPPS builds the priming payload submitted to the hardware backend
// ahead of the first video packet: the SPS and PPS NAL units, each wrapped
// in its own Annex-B start code, submitted twice in a row.
//
// The double submission mirrors the original MVD pipeline exactly: its
// comment at the call site ("Do I need to send same nal data at first
// frame?") shows the author was never sure why it was necessary, only that
// decode failed without it. Kept unchanged rather than "fixed" since no
// later analysis in the original ever resolved the question.
func primeSPSPPS(sps, pps []byte) []byte {
	unit := make([]byte, 0, 2*(len(annexBStartCode)+len(sps))+2*(len(annexBStartCode)+len(pps)))
	unit = append(unit, annexBStartCode...)
	unit = append(unit, sps...)
	unit = append(unit, annexBStartCode...)
	unit = append(unit, pps...)

	primed := make([]byte, 0, 2*len(unit))
	primed = append(primed, unit...)
	primed = append(primed, unit...)
	return primed
}
