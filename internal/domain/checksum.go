package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"time"
)

// PartitionChecksum is a running SHA-256 over the canonical encoding of
// accepted observations in commit order. Two runs over identical archive
// bytes produce the same sum.
type PartitionChecksum struct {
	h   hash.Hash
	buf strings.Builder
}

// NewPartitionChecksum starts an empty checksum.
func NewPartitionChecksum() *PartitionChecksum {
	return &PartitionChecksum{h: sha256.New()}
}

// Add folds one observation into the checksum.
func (c *PartitionChecksum) Add(o Observation) {
	c.buf.Reset()
	c.buf.WriteString(o.StationCode)
	c.buf.WriteByte('|')
	c.buf.WriteString(o.Timestamp.UTC().Format(time.RFC3339))
	for _, f := range Fields {
		c.buf.WriteByte('|')
		if v := o.Get(f); v != nil {
			c.buf.WriteString(strconv.FormatFloat(*v, 'g', -1, 64))
		}
	}
	c.buf.WriteByte('\n')
	_, _ = c.h.Write([]byte(c.buf.String()))
}

// Sum returns the hex-encoded digest.
func (c *PartitionChecksum) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// ChecksumObservations computes the checksum of a stored partition, e.g. to
// verify it against its manifest. Observations must be in commit order.
func ChecksumObservations(obs []Observation) string {
	c := NewPartitionChecksum()
	for _, o := range obs {
		c.Add(o)
	}
	return c.Sum()
}
