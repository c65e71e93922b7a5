package demux

// adtsSampleRates is the standard ADTS sampling_frequency_index table;
// buildADTSHeader runs it in reverse to re-frame the raw AAC access units
// mediacommon hands back.
var adtsSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

func adtsSampleRateIndex(rate int) int {
	for i, r := range adtsSampleRates {
		if r == rate {
			return i
		}
	}
	return 4 // 44100, a reasonable default if the AudioSpecificConfig rate is unusual
}

// buildADTSHeader prepends a 7-byte ADTS header (no CRC) to one raw AAC
// access unit. mediacommon's mpegts reader hands back AUs already stripped
// of ADTS framing; ffmpeg's "aac" demuxer expects it back on, one header
// per access unit.
func buildADTSHeader(sampleRate, channelCount, frameLen int) []byte {
	aacFrameLen := frameLen + 7
	freqIdx := adtsSampleRateIndex(sampleRate)
	profile := 1 // AAC-LC (profile field stores profile-1)

	h := make([]byte, 7)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, protection absent
	h[2] = byte(profile<<6) | byte(freqIdx<<2) | byte((channelCount>>2)&0x01)
	h[3] = byte((channelCount&0x03)<<6) | byte((aacFrameLen>>11)&0x03)
	h[4] = byte((aacFrameLen >> 3) & 0xFF)
	h[5] = byte((aacFrameLen&0x07)<<5) | 0x1F
	h[6] = 0xFC
	return h
}
