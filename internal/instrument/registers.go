package instrument

// Named registers, per SPEC_FULL.md §4.C (unchanged from spec.md §4.C),
// grounded on timetagger.cpp's VERSION_REG..SEQ_CONFIG_BASE constants.
const (
	regVersion    = 0x01
	regClockrate  = 0x02
	regCapCtl     = 0x03
	regStrobe     = 0x04
	regDelta      = 0x05
	regRecCounter = 0x06
	regLostCount  = 0x07
	regRecFifo    = 0x08

	regSeq           = 0x20
	regSeqClockrate  = 0x21
	regSeqChanBase   = 0x28 // +8*n per sequencer channel
	seqChanStride    = 0x8
	seqChanConfig    = 0 // bit0 OP, bit1 INITIAL_STATE
	seqChanInitCount = 1
	seqChanLowCount  = 2
	seqChanHighCount = 3

	// CAPCTL bits.
	capCaptureEn = 1 << 0
	capCountEn   = 1 << 1
	capResetCnt  = 1 << 2

	// SEQ bits.
	seqGlobalOp = 1 << 0
	seqReset    = 1 << 1

	// SEQCHAN config bits.
	seqChanOp           = 1 << 0
	seqChanInitialState = 1 << 1

	// REC_FIFO bits.
	recFifoClear = 1 << 0

	// cacheSize covers every register address the facade reads or writes,
	// including the highest sequencer channel register (n up to 15:
	// 0x28 + 8*15 + 3 = 0xA3).
	cacheSize = 0xA4

	// NumSequencerChannels is the number of independently configurable
	// pulse-sequencer channels exposed by the facade.
	NumSequencerChannels = 16

	// NumDataChannels is the width of the STROBE/DELTA channel bitmap.
	NumDataChannels = 4
)

func seqChanReg(ch int, which uint16) uint16 {
	return regSeqChanBase + uint16(ch)*seqChanStride + which
}
