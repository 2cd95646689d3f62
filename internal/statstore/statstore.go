// Package statstore persists and transports ChannelStatistics blobs. The
// on-disk and on-wire format is the same Arrow IPC stream: one record with a
// boundary name column and a list<float32> column of per-channel activation
// abs-max values.
package statstore

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-smooth/internal/smooth"
)

// Schema is the statistics blob layout.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "boundary", Type: arrow.BinaryTypes.String},
	{Name: "abs_max", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
}, nil)

// buildRecord encodes statistics as a single Arrow record. Boundaries are
// sorted so identical statistics produce identical blobs.
func buildRecord(stats smooth.ChannelStatistics) arrow.Record {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	b := array.NewRecordBuilder(memory.DefaultAllocator, Schema)
	defer b.Release()

	nameB := b.Field(0).(*array.StringBuilder)
	listB := b.Field(1).(*array.ListBuilder)
	valB := listB.ValueBuilder().(*array.Float32Builder)

	for _, name := range names {
		nameB.Append(name)
		listB.Append(true)
		valB.AppendValues(stats[name], nil)
	}
	return b.NewRecord()
}

// foldRecord merges one record into stats with an elementwise running max,
// so blobs written across calibration shards fold together.
func foldRecord(stats smooth.ChannelStatistics, rec arrow.Record) error {
	names, ok := rec.Column(0).(*array.String)
	if !ok {
		return fmt.Errorf("statistics blob: boundary column has type %s, want utf8", rec.Column(0).DataType())
	}
	lists, ok := rec.Column(1).(*array.List)
	if !ok {
		return fmt.Errorf("statistics blob: abs_max column has type %s, want list<float32>", rec.Column(1).DataType())
	}
	vals, ok := lists.ListValues().(*array.Float32)
	if !ok {
		return fmt.Errorf("statistics blob: abs_max values have type %s, want float32", lists.ListValues().DataType())
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		start, end := lists.ValueOffsets(i)
		vec := make([]float32, 0, end-start)
		for j := start; j < end; j++ {
			vec = append(vec, vals.Value(int(j)))
		}
		if err := mergeMax(stats, names.Value(i), vec); err != nil {
			return err
		}
	}
	return nil
}

func mergeMax(stats smooth.ChannelStatistics, name string, vec []float32) error {
	existing, ok := stats[name]
	if !ok {
		stats[name] = vec
		return nil
	}
	if len(existing) != len(vec) {
		return fmt.Errorf("%w: boundary %s has %d channels, incoming batch has %d",
			smooth.ErrShapeMismatch, name, len(existing), len(vec))
	}
	for c, v := range vec {
		if v > existing[c] {
			existing[c] = v
		}
	}
	return nil
}

// Write serializes statistics to an Arrow IPC stream.
func Write(w io.Writer, stats smooth.ChannelStatistics) error {
	rec := buildRecord(stats)
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write statistics record: %w", err)
	}
	return wr.Close()
}

// Read deserializes statistics from an Arrow IPC stream. Multiple records
// fold together with a running max.
func Read(r io.Reader) (smooth.ChannelStatistics, error) {
	rdr, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics blob: %w", err)
	}
	defer rdr.Release()

	stats := make(smooth.ChannelStatistics)
	for rdr.Next() {
		if err := foldRecord(stats, rdr.Record()); err != nil {
			return nil, err
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read statistics blob: %w", err)
	}
	return stats, nil
}

func Save(path string, stats smooth.ChannelStatistics) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create statistics file: %w", err)
	}
	if err := Write(f, stats); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Load(path string) (smooth.ChannelStatistics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics file: %w", err)
	}
	defer f.Close()
	return Read(f)
}
