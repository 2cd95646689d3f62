package statstore

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/23skdu/longbow-smooth/internal/smooth"
)

func TestWriteReadRoundTrip(t *testing.T) {
	stats := smooth.ChannelStatistics{
		"blk.0.attn_qkv":    {10, 1, 0.5, 1},
		"blk.0.ffn_gate_up": {2, 2, 2, 2},
		"blk.1.attn_qkv":    {0, 0, 0, 3},
	}

	var buf bytes.Buffer
	if err := Write(&buf, stats); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got) != len(stats) {
		t.Fatalf("round trip lost boundaries: %d != %d", len(got), len(stats))
	}
	for name, want := range stats {
		vec, ok := got[name]
		if !ok {
			t.Fatalf("missing boundary %s", name)
		}
		if len(vec) != len(want) {
			t.Fatalf("boundary %s has %d channels, want %d", name, len(vec), len(want))
		}
		for c := range want {
			if math.Abs(float64(vec[c]-want[c])) > 0 {
				t.Errorf("boundary %s channel %d = %f, want %f", name, c, vec[c], want[c])
			}
		}
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	stats := smooth.ChannelStatistics{
		"b": {1, 2},
		"a": {3, 4},
		"c": {5, 6},
	}

	var buf1, buf2 bytes.Buffer
	if err := Write(&buf1, stats); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Write(&buf2, stats); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Error("identical statistics produced different blobs")
	}
}

func TestReadRejectsGarbage(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not an arrow stream"))); err == nil {
		t.Error("expected error for non-Arrow input")
	}
}

func TestCollectorMergeRunningMax(t *testing.T) {
	c := NewCollector()

	if err := c.Merge(smooth.ChannelStatistics{"b": {1, 5, 2}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := c.Merge(smooth.ChannelStatistics{"b": {3, 1, 2}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	snap := c.Snapshot()
	want := []float32{3, 5, 2}
	for i, v := range snap["b"] {
		if v != want[i] {
			t.Errorf("channel %d = %f, want %f", i, v, want[i])
		}
	}
}

func TestCollectorMergeShapeMismatch(t *testing.T) {
	c := NewCollector()
	if err := c.Merge(smooth.ChannelStatistics{"b": {1, 2}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	err := c.Merge(smooth.ChannelStatistics{"b": {1, 2, 3}})
	if !errors.Is(err, smooth.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestCollectorSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	if err := c.Merge(smooth.ChannelStatistics{"b": {1}}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	snap := c.Snapshot()
	snap["b"][0] = 99
	if got := c.Snapshot()["b"][0]; got != 1 {
		t.Errorf("snapshot aliases collector state: %f", got)
	}
}

func TestNewFlightClientDefaults(t *testing.T) {
	fc := NewFlightClient("localhost", 0)
	if fc.addr != "localhost:3100" {
		t.Errorf("addr = %s, want localhost:3100", fc.addr)
	}
}

func TestFlightClientNotConnected(t *testing.T) {
	fc := NewFlightClient("localhost", 3100)

	if err := fc.Push(context.Background(), smooth.ChannelStatistics{}); err == nil ||
		!strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected 'not connected' error, got %v", err)
	}
	if _, err := fc.Fetch(context.Background()); err == nil ||
		!strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected 'not connected' error, got %v", err)
	}
}
