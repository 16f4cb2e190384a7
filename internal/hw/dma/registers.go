package dma

// Offsets from the DMA controller base (peripheral base + 0x7000).
const (
	ControllerOffset = 0x7000
	ControllerSize   = 0x1000
	ChannelStride    = 0x100
	MaxChannel       = 14 // channel 15 lives in a separate block

	regEnable = 0xff0
)

// Per-channel register offsets.
const (
	RegCS        = 0x00
	RegConblkAd  = 0x04
	RegTI        = 0x08
	RegSourceAd  = 0x0c
	RegDestAd    = 0x10
	RegTxfrLen   = 0x14
	RegStride    = 0x18
	RegNextConbk = 0x1c
	RegDebug     = 0x20
)

// CS register bits.
const (
	CSActive                   = 1 << 0
	CSEnd                      = 1 << 1
	CSInt                      = 1 << 2
	CSDReq                     = 1 << 3
	CSPaused                   = 1 << 4
	CSDReqStopsDMA             = 1 << 5
	CSWaitingForWrites         = 1 << 6
	CSError                    = 1 << 8
	CSWaitForOutstandingWrites = 1 << 28
	CSDisDebug                 = 1 << 29
	CSAbort                    = 1 << 30
	CSReset                    = 1 << 31
	csPriorityShift            = 16
	csPanicPriorityShift       = 20
	csPriorityMask             = 0xf
)

// Transfer information bits, shared by the TI register and descriptors.
const (
	TIIntEn        = 1 << 0
	TITDMode       = 1 << 1
	TIWaitResp     = 1 << 3
	TIDestInc      = 1 << 4
	TIDestWidth    = 1 << 5
	TIDestDReq     = 1 << 6
	TIDestIgnore   = 1 << 7
	TISrcInc       = 1 << 8
	TISrcWidth     = 1 << 9
	TISrcDReq      = 1 << 10
	TISrcIgnore    = 1 << 11
	TINoWideBursts = 1 << 26
	tiPermapShift  = 16
)

// DEBUG register error flags. Writing them back clears them.
const (
	DebugReadLastNotSetError = 1 << 0
	DebugFIFOError           = 1 << 1
	DebugReadError           = 1 << 2
	DebugErrors              = DebugReadLastNotSetError | DebugFIFOError | DebugReadError
)

// Peripheral DREQ lines.
const (
	DReqNone  = 0
	DReqPCMTX = 2
	DReqPCMRX = 3
)

// Permap encodes the peripheral a transfer is paced against.
func Permap(dreq uint32) uint32 {
	return (dreq & 0x1f) << tiPermapShift
}
