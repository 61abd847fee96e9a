// Package bincheck runs heuristic triage on extracted tune binaries:
// executable magic-byte rejection, Shannon entropy bounds, and null-byte
// ratio. It catches obvious problems but is not a malware classifier; the
// external scanner remains the authoritative check.
package bincheck

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
)

// Bounds configures the heuristic thresholds. Zero values fall back to the
// production defaults. The entropy cutoffs are empirically chosen; treat
// them as configuration.
type Bounds struct {
	MinSize      int64
	MaxSize      int64
	EntropyMin   float64
	EntropyMax   float64
	MaxNullRatio float64
}

// DefaultBounds are the production defaults: legitimate ECU tune binaries
// typically have entropy between 3.0 and 7.5 and are well over 64 bytes.
var DefaultBounds = Bounds{
	MinSize:      64,
	MaxSize:      50 * 1024 * 1024,
	EntropyMin:   0.5,
	EntropyMax:   7.99,
	MaxNullRatio: 0.80,
}

// entropySampleSize bounds the entropy computation to the first 1 MB so
// cost stays constant for large files.
const entropySampleSize = 1024 * 1024

// signature pairs a leading-byte pattern with a human-readable description.
type signature struct {
	magic []byte
	desc  string
}

// executableSignatures are leading bytes that mark executable or script
// content, none of which belongs in an ECU calibration image.
var executableSignatures = []signature{
	{[]byte{'M', 'Z'}, "PE/Windows executable"},
	{[]byte{0x7F, 'E', 'L', 'F'}, "ELF binary"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCE}, "Mach-O 32-bit"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCF}, "Mach-O 64-bit"},
	{[]byte{0xCE, 0xFA, 0xED, 0xFE}, "Mach-O reverse 32-bit"},
	{[]byte{0xCF, 0xFA, 0xED, 0xFE}, "Mach-O reverse 64-bit"},
	{[]byte("#!/bin/"), "Unix shell script"},
	{[]byte("#!/usr/"), "Unix shell script"},
	{[]byte("<script"), "HTML/JS injection"},
	{[]byte("<?php"), "PHP script"},
}

// Result describes the triage outcome for one binary.
type Result struct {
	OK        bool
	Blockers  []string
	Warnings  []string
	FileSize  int64
	Entropy   float64
	NullRatio float64
}

func (r *Result) block(format string, args ...any) {
	r.OK = false
	r.Blockers = append(r.Blockers, fmt.Sprintf(format, args...))
}

// Checker runs the heuristic checks with configured bounds.
type Checker struct {
	bounds Bounds
}

// New returns a Checker; zero bound fields fall back to DefaultBounds.
func New(bounds Bounds) *Checker {
	if bounds.MinSize == 0 {
		bounds.MinSize = DefaultBounds.MinSize
	}
	if bounds.MaxSize == 0 {
		bounds.MaxSize = DefaultBounds.MaxSize
	}
	if bounds.EntropyMin == 0 {
		bounds.EntropyMin = DefaultBounds.EntropyMin
	}
	if bounds.EntropyMax == 0 {
		bounds.EntropyMax = DefaultBounds.EntropyMax
	}
	if bounds.MaxNullRatio == 0 {
		bounds.MaxNullRatio = DefaultBounds.MaxNullRatio
	}
	return &Checker{bounds: bounds}
}

// MatchesExecutableSignature reports whether the leading bytes match a
// known executable or script signature, with its description. Shared with
// the heuristic malware scanner.
func MatchesExecutableSignature(header []byte) (string, bool) {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig.magic) {
			return sig.desc, true
		}
	}
	return "", false
}

// Check runs size, magic-byte, entropy, and null-ratio checks against the
// file at path. Magic-byte matches block regardless of any other finding.
func (c *Checker) Check(path string) (*Result, error) {
	result := &Result{OK: true}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tune file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat tune file: %w", err)
	}
	result.FileSize = info.Size()

	if result.FileSize < c.bounds.MinSize {
		result.block("tune file too small: %d bytes (min %d)", result.FileSize, c.bounds.MinSize)
		return result, nil
	}
	if result.FileSize > c.bounds.MaxSize {
		result.block("tune file too large: %d bytes (max %d)", result.FileSize, c.bounds.MaxSize)
		return result, nil
	}

	sample := make([]byte, min64(result.FileSize, entropySampleSize))
	if _, err := io.ReadFull(f, sample); err != nil {
		return nil, fmt.Errorf("read tune file: %w", err)
	}

	if desc, ok := MatchesExecutableSignature(sample); ok {
		result.block("executable binary detected: %s (magic: %#x)", desc, sample[:min64(int64(len(sample)), 4)])
		return result, nil
	}

	result.Entropy = shannonEntropy(sample)
	if result.Entropy < c.bounds.EntropyMin {
		result.block("suspiciously low entropy: %.3f (min %.2f), file may be empty-padded or fake",
			result.Entropy, c.bounds.EntropyMin)
	}
	if result.Entropy > c.bounds.EntropyMax {
		// High entropy warns rather than blocks: encrypted tunes are
		// legitimate but deserve manual review.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("very high entropy: %.3f (threshold %.2f), file may be encrypted or packed",
				result.Entropy, c.bounds.EntropyMax))
	}

	nulls := int64(bytes.Count(sample, []byte{0}))
	rest := sample
	for {
		n, err := f.Read(rest[:cap(rest)])
		if n > 0 {
			nulls += int64(bytes.Count(rest[:n], []byte{0}))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tune file: %w", err)
		}
	}
	result.NullRatio = float64(nulls) / float64(result.FileSize)
	if result.NullRatio > c.bounds.MaxNullRatio {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("high null byte ratio: %.1f%% (threshold %.0f%%), file may be mostly empty",
				result.NullRatio*100, c.bounds.MaxNullRatio*100))
	}

	return result, nil
}

// shannonEntropy returns the byte entropy of data in bits, from 0.0 (all
// identical) to 8.0 (uniform random).
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	length := float64(len(data))
	entropy := 0.0
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
