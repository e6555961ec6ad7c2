package wire

import (
	"fmt"

	"github.com/signalsfoundry/tagtrack/model"
)

// StationStatusCode is the sentinel code of a station self-report.
const StationStatusCode = 0xFF

const (
	codeBlocks    = 15
	codeBlockSize = 16
	firstBand     = 69
	// The band resets after the block that starts at this code.
	bandResetAfter = 128
	resetBand      = 63
)

// CodeError reports an unsupported communication code.
type CodeError struct {
	Code byte
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnsupportedCode, e.Code)
}

func (e *CodeError) Unwrap() error { return ErrUnsupportedCode }

// Resolution is the layout selected by a communication code.
type Resolution struct {
	Code     byte
	Kind     model.RecordKind
	Layout   Layout
	Length   int
	Protocol model.Protocol
	Band     int
}

type codeEntry struct {
	mapped   bool
	protocol model.Protocol
	band     int
}

// codeTable is built once from the block rule.
var codeTable = buildCodeTable()

func buildCodeTable() [256]codeEntry {
	var t [256]codeEntry
	band := firstBand
	for block := 0; block < codeBlocks; block++ {
		start := block * codeBlockSize
		for i, p := range model.Protocols {
			t[start+i] = codeEntry{mapped: true, protocol: p, band: band}
		}
		if start == bandResetAfter {
			band = resetBand
		} else {
			band++
		}
	}
	return t
}

// Resolve returns the layout selected by code. Unmapped codes yield a
// *CodeError wrapping ErrUnsupportedCode.
func Resolve(code byte) (Resolution, error) {
	if code == StationStatusCode {
		return Resolution{
			Code:   code,
			Kind:   model.KindStationStatus,
			Layout: StationStatusLayout,
			Length: StationStatusLayout.ByteLength(),
		}, nil
	}
	e := codeTable[code]
	if !e.mapped {
		return Resolution{}, &CodeError{Code: code}
	}
	l := tagLayouts[e.protocol]
	return Resolution{
		Code:     code,
		Kind:     model.KindTagDetection,
		Layout:   l,
		Length:   l.ByteLength(),
		Protocol: e.protocol,
		Band:     e.band,
	}, nil
}

// CodeFor returns the communication code of a (protocol, band) pair.
func CodeFor(p model.Protocol, band int) (byte, bool) {
	for code, e := range codeTable {
		if e.mapped && e.protocol == p && e.band == band {
			return byte(code), true
		}
	}
	return 0, false
}
