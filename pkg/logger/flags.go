package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugRTSP       bool
	DebugRTP        bool
	DebugRTCP       bool
	DebugTransport  bool
	DebugSession    bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTSP, "debug-rtsp", false, "Enable RTSP request/response debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP packet debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false, "Enable RTCP SR/RR debugging")
	fs.BoolVar(&f.DebugTransport, "debug-transport", false, "Enable transport manager debugging (UDP/interleaved)")
	fs.BoolVar(&f.DebugSession, "debug-session", false, "Enable session controller debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTSP {
			cfg.EnableCategory(DebugRTSP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTCP {
			cfg.EnableCategory(DebugRTCP)
			cfg.Level = LevelDebug
		}
		if f.DebugTransport {
			cfg.EnableCategory(DebugTransport)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(DebugSession)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var cats []string
	if f.DebugAll {
		cats = append(cats, "all")
	} else {
		if f.DebugRTSP {
			cats = append(cats, "rtsp")
		}
		if f.DebugRTP {
			cats = append(cats, "rtp")
		}
		if f.DebugRTCP {
			cats = append(cats, "rtcp")
		}
		if f.DebugTransport {
			cats = append(cats, "transport")
		}
		if f.DebugSession {
			cats = append(cats, "session")
		}
	}
	if len(cats) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(cats, ",")))
	}

	return strings.Join(parts, " ")
}
