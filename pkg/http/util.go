package http

import (
	"time"

	xutil "EdgeLab/pkg/util"
)

// Re-exported parse helpers so handlers need only this package.

func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }

func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }
