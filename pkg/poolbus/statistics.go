// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics, write outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Inbound counters
	TotalFrames    uint64
	ValidFrames    uint64
	ChecksumErrors uint64
	DiscardedBytes uint64
	Duplicates     uint64
	Unclassified   uint64
	ByFamily       [4]uint64 // indexed by Family
	Anomalies      uint64    // valid frames with implausible contents

	// Outbound counters
	Writes    uint64
	Retries   uint64
	Acks      uint64
	Abandoned uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one assembled frame. err is the validation outcome:
// nil, ErrChecksum or ErrUnclassified.
func (s *Statistics) Update(family Family, err error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	switch {
	case errors.Is(err, ErrChecksum):
		s.ChecksumErrors++
		return
	case errors.Is(err, ErrUnclassified):
		s.Unclassified++
		return
	case err != nil:
		return
	}

	s.ValidFrames++
	if int(family) < len(s.ByFamily) {
		s.ByFamily[family]++
	}
}

// RecordAnomalies counts the validation errors reported for one frame
func (s *Statistics) RecordAnomalies(errs []ValidationError) {
	s.Anomalies += uint64(len(errs))
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors+s.Unclassified) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	for _, f := range Families {
		if s.ByFamily[f] > 0 {
			result += fmt.Sprintf("  %-14s %8d\n", f.String()+":", s.ByFamily[f])
		}
	}

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.Unclassified > 0 {
		result += fmt.Sprintf("Unclassified:    %8d\n", s.Unclassified)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}
	if s.Duplicates > 0 {
		result += fmt.Sprintf("Duplicates:      %8d\n", s.Duplicates)
	}
	if s.DiscardedBytes > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", s.DiscardedBytes)
	}

	if s.Writes > 0 {
		result += fmt.Sprintf("Writes:          %8d\n", s.Writes)
		result += fmt.Sprintf("  Acks:           %7d\n", s.Acks)
		if s.Retries > 0 {
			result += fmt.Sprintf("  Retries:        %7d\n", s.Retries)
		}
		if s.Abandoned > 0 {
			result += fmt.Sprintf("  Abandoned:      %7d\n", s.Abandoned)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
