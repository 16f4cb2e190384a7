package models

// Audio configuration models
type AudioConfig struct {
	Backend        string            `json:"backend" example:"rpi-dma" doc:"Transport backend"`
	Driver         string            `json:"driver" example:"cs4272" doc:"Codec driver"`
	BlockSize      int               `json:"block_size" example:"64" doc:"Frames per block"`
	Channels       int               `json:"channels" example:"2" doc:"Channels per frame"`
	SampleRate     int               `json:"sample_rate" example:"48000" doc:"Sample rate hint"`
	Prefill        int               `json:"prefill" example:"8" doc:"Silent words queued before transmit starts"`
	Priority       int               `json:"priority" example:"80" doc:"SCHED_FIFO priority of the polling loop, 0 for none"`
	InputBase      int               `json:"input_base" example:"0" doc:"First hardware channel mapped to input"`
	OutputBase     int               `json:"output_base" example:"0" doc:"First hardware channel mapped to output"`
	ReportInterval string            `json:"report_interval" example:"1s" doc:"Dropout report interval"`
	Extra          map[string]string `json:"extra,omitempty" doc:"Backend-specific settings"`
}

type AudioConfigResponse struct {
	Body AudioConfig
}

// Transport models
type TransportStats struct {
	Blocks     uint64 `json:"blocks" example:"480000" doc:"Blocks handed to the processor"`
	Dropouts   uint64 `json:"dropouts" example:"2" doc:"Dropouts detected by the transport"`
	FIFOErrors uint64 `json:"fifo_errors" example:"1" doc:"PCM FIFO overrun or underrun events"`
	SyncErrors uint64 `json:"sync_errors" example:"1" doc:"Times the loop adopted the hardware buffer"`
	LostTrack  uint64 `json:"lost_track" example:"0" doc:"Polls where the DMA position could not be decoded"`
}

type TransportStatus struct {
	Backend      string          `json:"backend" example:"rpi-dma" doc:"Transport backend"`
	State        string          `json:"state" example:"running" enum:"running,stopped" doc:"Transport state"`
	SampleRate   int             `json:"sample_rate" example:"48000" doc:"Sample rate reported by the transport"`
	MaxBlockSize int             `json:"max_block_size" example:"64" doc:"Largest block the callback receives"`
	Inputs       int             `json:"inputs" example:"2" doc:"Input channels"`
	Outputs      int             `json:"outputs" example:"2" doc:"Output channels"`
	LastError    string          `json:"last_error,omitempty" doc:"Most recent transport failure"`
	Dropouts     uint64          `json:"dropouts" example:"2" doc:"Dropouts reported to the engine"`
	Stats        *TransportStats `json:"stats,omitempty" doc:"Backend counters, when the backend keeps them"`
}

type TransportStatusResponse struct {
	Body TransportStatus
}

type PositionData struct {
	Buffer    int    `json:"buffer" example:"1" doc:"Buffer the DMA engine is in"`
	Frame     int    `json:"frame" example:"17" doc:"Frame within the buffer"`
	Channel   int    `json:"channel" example:"0" doc:"Channel within the frame"`
	Direction string `json:"direction" example:"read" doc:"Transfer direction of the current descriptor"`
}

type PositionResponse struct {
	Body PositionData
}

type PCMStatusData struct {
	Raw     uint32 `json:"raw" example:"2147483648" doc:"Raw PCM control and status register"`
	Flags   string `json:"flags" example:"EN|RXON|TXON" doc:"Decoded status flags"`
	RXError bool   `json:"rx_error" example:"false" doc:"Receive FIFO overflow latched"`
	TXError bool   `json:"tx_error" example:"false" doc:"Transmit FIFO underflow latched"`
}

type PCMStatusResponse struct {
	Body PCMStatusData
}

type InputSnapshotData struct {
	Channels int       `json:"channels" example:"2" doc:"Channels per frame"`
	Buffers  [][]int32 `json:"buffers" doc:"Raw 24-bit input words of each buffer, interleaved"`
	Peaks    []float64 `json:"peaks" doc:"Peak level per channel across both buffers, 0 to 1"`
}

type InputSnapshotResponse struct {
	Body InputSnapshotData
}
