// CPU topology discovery based on /proc/cpuinfo like content.

// The source is a sequence of "field name: value" lines, grouped in records,
// one per logical processor, separated by blank (or otherwise colon-less)
// lines:
//
//  processor	: 0
//  model name	: Intel(R) Xeon(R) CPU E5-2680 v4 @ 2.40GHz
//  physical id	: 0
//  siblings	: 28
//  core id		: 0
//  cpu cores	: 14
//  ...
//
//  processor	: 1
//  ...
//
// Only the fields required for the socket/core/processor model are retained.

package coreaffinity_internal

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const (
	// Lines longer than this are truncated, the remainder is discarded:
	TOPOLOGY_MAX_LINE_SIZE = 1024

	// Initial capacity for the record list:
	TOPOLOGY_RECORDS_INITIAL_CAP = 96

	// Clock speeds w/o unit below this value are assumed to be GHz:
	CLOCK_SPEED_GHZ_THRESHOLD = 100
)

// Field name prefixes:
const (
	CPUINFO_PROCESSOR_FIELD   = "processor"
	CPUINFO_PHYSICAL_ID_FIELD = "physical id"
	CPUINFO_SIBLINGS_FIELD    = "siblings"
	CPUINFO_CORE_ID_FIELD     = "core id"
	CPUINFO_CPU_CORES_FIELD   = "cpu cores"
	CPUINFO_MODEL_NAME_FIELD  = "model name"
)

var cpuinfoLog = NewCompLogger("cpuinfo")

// One logical processor:
type ProcessorRecord struct {
	LogicalId      uint `yaml:"processor" json:"processor"`
	SocketId       uint `yaml:"physical_id" json:"physical_id"`
	SiblingCount   uint `yaml:"siblings" json:"siblings"`
	CoreId         uint `yaml:"core_id" json:"core_id"`
	CoresPerSocket uint `yaml:"cpu_cores" json:"cpu_cores"`
}

// The topology; the records are in source order, which is relevant for
// the socket/core aggregation.
type Topology struct {
	ClockSpeedMHz      uint               `yaml:"clock_speed_mhz" json:"clock_speed_mhz"`
	SocketCount        uint               `yaml:"sockets" json:"sockets"`
	TotalPhysicalCores uint               `yaml:"cores" json:"cores"`
	Records            []*ProcessorRecord `yaml:"processors" json:"processors"`
}

func NewTopology() *Topology {
	return &Topology{
		Records: make([]*ProcessorRecord, 0, TOPOLOGY_RECORDS_INITIAL_CAP),
	}
}

func (topology *Topology) NumProcessors() int {
	return len(topology.Records)
}

type topologyParser struct {
	topology *Topology
	// The record being populated, nil after a separator line:
	current *ProcessorRecord
}

// ParseTopology builds the topology from the content of the reader. Read
// errors end the parsing; the topology built thus far is returned alongside
// the error.
func ParseTopology(r io.Reader) (*Topology, error) {
	p := &topologyParser{topology: NewTopology()}
	err := forEachTopologyLine(r, p.parseLine)
	p.topology.aggregate()
	return p.topology, err
}

// Invoke the line handler for every line, newline stripped, truncated to
// TOPOLOGY_MAX_LINE_SIZE.
func forEachTopologyLine(r io.Reader, handleLine func(line string)) error {
	br := bufio.NewReaderSize(r, TOPOLOGY_MAX_LINE_SIZE)
	for {
		chunk, err := br.ReadSlice('\n')
		line := string(chunk)
		for err == bufio.ErrBufferFull {
			// Discard the remainder of an oversized line:
			_, err = br.ReadSlice('\n')
		}
		if len(line) > TOPOLOGY_MAX_LINE_SIZE {
			line = line[:TOPOLOGY_MAX_LINE_SIZE]
		}
		line = strings.TrimRight(line, "\r\n")
		if err != nil && err != io.EOF {
			return err
		}
		if len(line) > 0 || err == nil {
			handleLine(line)
		}
		if err == io.EOF {
			return nil
		}
	}
}

func (p *topologyParser) parseLine(line string) {
	delimPos := strings.IndexByte(line, ':')
	if delimPos < 0 {
		p.current = nil
		return
	}
	p.parseValue(line[:delimPos], strings.TrimLeftFunc(line[delimPos+1:], unicode.IsSpace))
}

func (p *topologyParser) parseValue(fieldName, value string) {
	if p.current == nil {
		p.current = &ProcessorRecord{}
		p.topology.Records = append(p.topology.Records, p.current)
	}

	switch {
	case strings.HasPrefix(fieldName, CPUINFO_PROCESSOR_FIELD):
		p.current.LogicalId = ParseUintPrefix(value)
	case strings.HasPrefix(fieldName, CPUINFO_PHYSICAL_ID_FIELD):
		p.current.SocketId = ParseUintPrefix(value)
	case strings.HasPrefix(fieldName, CPUINFO_SIBLINGS_FIELD):
		p.current.SiblingCount = ParseUintPrefix(value)
	case strings.HasPrefix(fieldName, CPUINFO_CORE_ID_FIELD):
		p.current.CoreId = ParseUintPrefix(value)
	case strings.HasPrefix(fieldName, CPUINFO_CPU_CORES_FIELD):
		p.current.CoresPerSocket = ParseUintPrefix(value)
	case strings.HasPrefix(fieldName, CPUINFO_MODEL_NAME_FIELD):
		if p.topology.ClockSpeedMHz == 0 {
			p.topology.ClockSpeedMHz = ClockSpeedMHzFromModelName(value)
		}
	}
}

// Walk the records in source order and count the distinct sockets; the core
// count of a socket is taken from the first record where the socket is seen.
func (topology *Topology) aggregate() {
	socketIds := make(map[uint]bool)
	for _, record := range topology.Records {
		socketIds[record.SocketId] = true
		if numSockets := uint(len(socketIds)); numSockets != topology.SocketCount {
			topology.SocketCount = numSockets
			topology.TotalPhysicalCores += record.CoresPerSocket
		}
	}
}

// Parse the leading decimal digits of s, after optional white spaces and
// sign. Any suffix is ignored. Missing digits, negative numbers and overflow
// all yield 0.
func ParseUintPrefix(s string) uint {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	negative := false
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		negative = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for n < len(s) && '0' <= s[n] && s[n] <= '9' {
		n++
	}
	if n == 0 || negative {
		return 0
	}
	v, err := strconv.ParseUint(s[:n], 10, strconv.IntSize)
	if err != nil {
		return 0
	}
	return uint(v)
}

// Return the float prefix of s (after leading white spaces) and the remainder.
// If there is no valid number, 0 and s are returned.
func parseFloatPrefix(s string) (float64, string) {
	t := strings.TrimLeftFunc(s, unicode.IsSpace)
	n := 0
	if n < len(t) && (t[n] == '+' || t[n] == '-') {
		n++
	}
	numDigits := 0
	for ; n < len(t) && '0' <= t[n] && t[n] <= '9'; n++ {
		numDigits++
	}
	if n < len(t) && t[n] == '.' {
		n++
		for ; n < len(t) && '0' <= t[n] && t[n] <= '9'; n++ {
			numDigits++
		}
	}
	if numDigits == 0 {
		return 0, s
	}
	// Optional exponent, consumed only if complete:
	if n < len(t) && (t[n] == 'e' || t[n] == 'E') {
		k := n + 1
		if k < len(t) && (t[k] == '+' || t[k] == '-') {
			k++
		}
		expStart := k
		for ; k < len(t) && '0' <= t[k] && t[k] <= '9'; k++ {
		}
		if k > expStart {
			n = k
		}
	}
	v, err := strconv.ParseFloat(t[:n], 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, s
	}
	return v, t[n:]
}

// Extract the clock speed from the model name, e.g. "... @ 2.40GHz". The
// speed follows the 1st `@'; if the unit is missing, values below
// CLOCK_SPEED_GHZ_THRESHOLD are assumed to be GHz, MHz otherwise. Return 0
// if no speed could be found.
func ClockSpeedMHzFromModelName(modelName string) uint {
	atPos := strings.IndexByte(modelName, '@')
	if atPos < 0 {
		return 0
	}
	speed, unit := parseFloatPrefix(modelName[atPos+1:])
	if speed <= 0 {
		return 0
	}
	unit = strings.TrimLeftFunc(unit, unicode.IsSpace)
	isMHz := strings.HasPrefix(unit, "MHz")
	isGHz := strings.HasPrefix(unit, "GHz")
	if isGHz || (!isMHz && speed < CLOCK_SPEED_GHZ_THRESHOLD) {
		return uint(1000*speed + 0.5)
	}
	return uint(speed + 0.5)
}
