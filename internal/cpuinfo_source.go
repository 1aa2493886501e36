// Topology source loading and the process wide topology.

// The source is normally /proc/cpuinfo, but it may also be a snapshot file
// captured from another host, possibly compressed (.gz, .zst), for offline
// analysis.

package coreaffinity_internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

const (
	TOPOLOGY_SOURCE_DEFAULT = "/proc/cpuinfo"
	// No limit if <= 0:
	TOPOLOGY_SOURCE_MAX_SIZE_UNBOUND = 0

	topologyGzipBlockSize  = 1 << 20
	topologyGzipMaxThreads = 4
)

// If the source reaches the max size, it may have been truncated. The
// topology parsed thus far is still returned alongside this error.
var ErrTopologySourceTruncated = errors.New("topology source potential truncation")

type topologySourceCodec struct {
	name     string
	suffixes []string
	opener   func(io.Reader) (io.ReadCloser, error)
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

var topologySourceCodecs = []*topologySourceCodec{
	{
		name:     "gzip",
		suffixes: []string{".gz", ".gzip"},
		opener: func(r io.Reader) (io.ReadCloser, error) {
			threads := runtime.GOMAXPROCS(0)
			if threads > topologyGzipMaxThreads {
				threads = topologyGzipMaxThreads
			}
			return pgzip.NewReaderN(r, topologyGzipBlockSize, threads)
		},
	},
	{
		name:     "zstd",
		suffixes: []string{".zst", ".zstd"},
		opener: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return &zstdReadCloser{Decoder: dec}, nil
		},
	},
}

func topologySourceCodecFor(path string) *topologySourceCodec {
	lowerPath := strings.ToLower(path)
	for _, codec := range topologySourceCodecs {
		for _, suffix := range codec.suffixes {
			if strings.HasSuffix(lowerPath, suffix) {
				return codec
			}
		}
	}
	return nil
}

// Read the source into a buffer, up to maxSize bytes if > 0:
func readTopologySource(r io.Reader, maxSize int64) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	if maxSize <= 0 {
		_, err := buf.ReadFrom(r)
		return buf, err
	}
	_, err := io.CopyN(buf, r, maxSize)
	switch err {
	case io.EOF:
		// Fully read within the limit:
		err = nil
	case nil:
		err = ErrTopologySourceTruncated
	}
	return buf, err
}

// LoadTopology parses the topology from the given file. A non-nil topology is
// always returned, empty if the file could not be opened.
func LoadTopology(path string, maxSize int64) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return NewTopology(), err
	}
	defer f.Close()

	var r io.Reader = f
	if codec := topologySourceCodecFor(path); codec != nil {
		rc, err := codec.opener(f)
		if err != nil {
			return NewTopology(), fmt.Errorf("file: %q: %s reader: %w", path, codec.name, err)
		}
		defer rc.Close()
		r = rc
	}

	buf, readErr := readTopologySource(r, maxSize)
	topology, err := ParseTopology(buf)
	if err == nil {
		err = readErr
	}
	if err != nil {
		err = fmt.Errorf("file: %q: %w", path, err)
	}
	return topology, err
}

// The process wide topology, built lazily from the source set via
// SetTopologySource, if invoked before the 1st use.
var (
	topologySource = struct {
		path    string
		maxSize int64
		mu      *sync.Mutex
	}{TOPOLOGY_SOURCE_DEFAULT, TOPOLOGY_SOURCE_MAX_SIZE_UNBOUND, &sync.Mutex{}}

	globalTopology     *Topology
	globalTopologyOnce = &sync.Once{}
)

func SetTopologySource(path string, maxSize int64) {
	topologySource.mu.Lock()
	topologySource.path = path
	topologySource.maxSize = maxSize
	topologySource.mu.Unlock()
}

// GetTopology returns the process wide topology. Should the source be
// unavailable, the topology is empty, with all the aggregates 0.
func GetTopology() *Topology {
	globalTopologyOnce.Do(func() {
		topologySource.mu.Lock()
		path, maxSize := topologySource.path, topologySource.maxSize
		topologySource.mu.Unlock()

		topology, err := LoadTopology(path, maxSize)
		if err != nil {
			cpuinfoLog.Warn(err)
		}
		cpuinfoLog.Infof(
			"%s: clock_speed_mhz=%d, sockets=%d, cores=%d, processors=%d",
			path, topology.ClockSpeedMHz, topology.SocketCount,
			topology.TotalPhysicalCores, topology.NumProcessors(),
		)
		globalTopology = topology
	})
	return globalTopology
}
