// Package gzipheader implements an incremental parser for the gzip member
// header: a 10-byte fixed header followed by flag-dependent optional
// fields (extra, filename, comment, CRC-16).
package gzipheader

import "encoding/binary"

// Flag bits in the fixed header's FLG byte.
const (
	FTEXT    = 1 << 0
	FHCRC    = 1 << 1
	FEXTRA   = 1 << 2
	FNAME    = 1 << 3
	FCOMMENT = 1 << 4
)

// Header is a fully parsed gzip member header.
type Header struct {
	Flags      byte
	ModTime    uint32
	ExtraFlags byte
	OS         byte
	Extra      []byte
	Filename   string
	Comment    string
	CRC16      uint16
	HasCRC16   bool
}

// Parser incrementally accumulates fed bytes and parses a gzip header out of
// them, without requiring the caller to know the header's total size in
// advance (FNAME/FCOMMENT are NUL-terminated and of unknown length until
// scanned).
type Parser struct {
	buf     []byte
	invalid bool
	done    bool
	header  Header
}

// New creates an empty Parser.
func New() *Parser {
	return &Parser{}
}

// Reset discards all accumulated state so the Parser can parse a new
// header.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.invalid = false
	p.done = false
	p.header = Header{}
}

// Feed appends b to the accumulated input and attempts to parse further.
// It returns the number of additional bytes required before the next call
// can make progress, 0 once the header is fully parsed, or -1 if the input
// is invalid (bad magic or compression method).
func (p *Parser) Feed(b []byte) int {
	if p.invalid {
		return -1
	}
	if p.done {
		return 0
	}
	p.buf = append(p.buf, b...)
	return p.tryParse()
}

// Header returns the parsed header. Only valid once Feed has returned 0.
func (p *Parser) Header() Header {
	return p.header
}

// Done reports whether the header has been fully parsed.
func (p *Parser) Done() bool { return p.done }

func (p *Parser) tryParse() int {
	buf := p.buf
	if len(buf) < 10 {
		return 10 - len(buf)
	}
	if buf[0] != 0x1f || buf[1] != 0x8b || buf[2] != 0x08 {
		p.invalid = true
		return -1
	}

	flags := buf[3]
	pos := 10

	var extra []byte
	if flags&FEXTRA != 0 {
		if len(buf) < pos+2 {
			return pos + 2 - len(buf)
		}
		xlen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if len(buf) < pos+xlen {
			return pos + xlen - len(buf)
		}
		extra = append([]byte(nil), buf[pos:pos+xlen]...)
		pos += xlen
	}

	var filename string
	if flags&FNAME != 0 {
		idx := indexZero(buf[pos:])
		if idx < 0 {
			return 1
		}
		filename = string(buf[pos : pos+idx])
		pos += idx + 1
	}

	var comment string
	if flags&FCOMMENT != 0 {
		idx := indexZero(buf[pos:])
		if idx < 0 {
			return 1
		}
		comment = string(buf[pos : pos+idx])
		pos += idx + 1
	}

	var crc16 uint16
	hasCRC := flags&FHCRC != 0
	if hasCRC {
		if len(buf) < pos+2 {
			return pos + 2 - len(buf)
		}
		crc16 = binary.LittleEndian.Uint16(buf[pos : pos+2])
		pos += 2
	}

	p.header = Header{
		Flags:      flags,
		ModTime:    binary.LittleEndian.Uint32(buf[4:8]),
		ExtraFlags: buf[8],
		OS:         buf[9],
		Extra:      extra,
		Filename:   filename,
		Comment:    comment,
		CRC16:      crc16,
		HasCRC16:   hasCRC,
	}
	p.done = true
	return 0
}

// Serialize writes h back out in wire format. The optional-field flags are
// derived from which optional fields are populated (Extra/Filename/Comment
// non-empty, HasCRC16) rather than from h.Flags; only FTEXT is copied from
// h.Flags. A round trip through Serialize and Feed therefore reproduces an
// equivalent Header regardless of how h.Flags' other bits were set.
func Serialize(h Header) []byte {
	flags := byte(0)
	if h.Flags&FTEXT != 0 {
		flags |= FTEXT
	}
	if len(h.Extra) > 0 {
		flags |= FEXTRA
	}
	if h.Filename != "" {
		flags |= FNAME
	}
	if h.Comment != "" {
		flags |= FCOMMENT
	}
	if h.HasCRC16 {
		flags |= FHCRC
	}

	out := make([]byte, 10)
	out[0], out[1], out[2] = 0x1f, 0x8b, 0x08
	out[3] = flags
	binary.LittleEndian.PutUint32(out[4:8], h.ModTime)
	out[8] = h.ExtraFlags
	out[9] = h.OS

	if flags&FEXTRA != 0 {
		xlen := make([]byte, 2)
		binary.LittleEndian.PutUint16(xlen, uint16(len(h.Extra)))
		out = append(out, xlen...)
		out = append(out, h.Extra...)
	}
	if flags&FNAME != 0 {
		out = append(out, []byte(h.Filename)...)
		out = append(out, 0)
	}
	if flags&FCOMMENT != 0 {
		out = append(out, []byte(h.Comment)...)
		out = append(out, 0)
	}
	if flags&FHCRC != 0 {
		crc := make([]byte, 2)
		binary.LittleEndian.PutUint16(crc, h.CRC16)
		out = append(out, crc...)
	}
	return out
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
