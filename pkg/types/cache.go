package types

import "time"

// FileEntry is the metadata record for one on-disk cache file. Multiple
// entries may coexist per (Symbol, Timeframe); their ranges may overlap.
type FileEntry struct {
	Path         string    `json:"path"`
	Symbol       string    `json:"symbol"`
	Timeframe    Timeframe `json:"timeframe"`
	FirstBarTime time.Time `json:"firstBarTime"`
	LastBarTime  time.Time `json:"lastBarTime"`
	BarCount     int       `json:"barCount"`
	SizeBytes    int64     `json:"sizeBytes"`
	SHA256       string    `json:"sha256"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CacheStats summarizes the cache's current on-disk state.
type CacheStats struct {
	TotalFiles       int       `json:"totalFiles"`
	TotalSize        int64     `json:"totalSize"`
	UniqueSymbols    int       `json:"uniqueSymbols"`
	UniqueTimeframes int       `json:"uniqueTimeframes"`
	Oldest           time.Time `json:"oldest"`
	Newest           time.Time `json:"newest"`
}
