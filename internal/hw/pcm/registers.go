package pcm

// Offset of the PCM block from the peripheral base.
const (
	Offset = 0x203000
	Size   = 0x24

	// FIFOBus is the bus address of FIFO_A as the DMA engine sees it.
	FIFOBus = 0x7e203004
)

// Register offsets.
const (
	RegCS     = 0x00
	RegFIFO   = 0x04
	RegMode   = 0x08
	RegRXC    = 0x0c
	RegTXC    = 0x10
	RegDREQ   = 0x14
	RegIntEn  = 0x18
	RegIntStC = 0x1c
	RegGray   = 0x20
)

// CS_A bits.
const (
	CSEn     = 1 << 0
	CSRXOn   = 1 << 1
	CSTXOn   = 1 << 2
	CSTXClr  = 1 << 3
	CSRXClr  = 1 << 4
	CSDMAEn  = 1 << 9
	CSTXSync = 1 << 13
	CSRXSync = 1 << 14
	CSTXErr  = 1 << 15
	CSRXErr  = 1 << 16
	CSTXW    = 1 << 17
	CSRXR    = 1 << 18
	CSTXD    = 1 << 19
	CSRXD    = 1 << 20
	CSTXE    = 1 << 21
	CSRXF    = 1 << 22
	CSRXSEx  = 1 << 23
	CSSync   = 1 << 24
	CSStby   = 1 << 25

	CSErrors = CSTXErr | CSRXErr

	csTXThrShift = 5
	csRXThrShift = 7
)

// MODE_A bits and fields.
const (
	ModeFSLenShift = 0
	ModeFLenShift  = 10
	ModeFSI        = 1 << 20
	ModeFSM        = 1 << 21
	ModeCLKI       = 1 << 22
	ModeCLKM       = 1 << 23
	ModeFTXP       = 1 << 24
	ModeFRXP       = 1 << 25
	ModePDME       = 1 << 26
	ModePDMN       = 1 << 27
	ModeCLKDis     = 1 << 28
)

// RXC_A / TXC_A fields. Channel 1 occupies the high half word.
const (
	chWEX      = 1 << 15
	chEN       = 1 << 14
	chPosShift = 4
	chWidMask  = 0xf
	ch1Shift   = 16
)

// DREQ_A field shifts.
const (
	dreqRXShift      = 0
	dreqTXShift      = 8
	dreqRXPanicShift = 16
	dreqTXPanicShift = 24
	dreqMask         = 0x7f
)

// FIFO threshold settings for the TXTHR/RXTHR fields.
const (
	ThresholdEmpty = iota // TX: FIFO empty; RX: single sample
	ThresholdLow          // TX: less than full; RX: at least full
	ThresholdHigh         // TX: less than full; RX: at least full
	ThresholdFull         // TX: full but one; RX: full
)
