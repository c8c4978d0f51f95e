package logstore

import "github.com/spf13/viper"

// Config carries the recognized options from spec.md §6.
type Config struct {
	// AppendMode rejects explicit-LSN writes when true, forcing every
	// write through append_async/append_sync.
	AppendMode bool
	// StartLSN anchors the tracker on fresh creation. On recovery,
	// Bootstrap moves the anchor forward to just below the first replayed
	// record when that lies above StartLSN; replayed records at or below
	// StartLSN are dropped.
	StartLSN LSN
	// TrackerWindowHint sizes the StreamTracker's initial backing slice.
	TrackerWindowHint int
}

// DefaultConfig returns the zero-value-safe baseline: append mode off,
// anchored at LSN 0, a modest tracker window.
func DefaultConfig() Config {
	return Config{
		AppendMode:        false,
		StartLSN:          0,
		TrackerWindowHint: 64,
	}
}

// LoadConfig reads append_mode, start_lsn and tracker_window_hint out of
// v, falling back to DefaultConfig for any key that isn't set. This
// mirrors the teacher's viper-based configuration idiom.
func LoadConfig(v *viper.Viper) Config {
	cfg := DefaultConfig()
	if v == nil {
		return cfg
	}
	if v.IsSet("append_mode") {
		cfg.AppendMode = v.GetBool("append_mode")
	}
	if v.IsSet("start_lsn") {
		cfg.StartLSN = v.GetInt64("start_lsn")
	}
	if v.IsSet("tracker_window_hint") {
		cfg.TrackerWindowHint = v.GetInt("tracker_window_hint")
	}
	return cfg
}
