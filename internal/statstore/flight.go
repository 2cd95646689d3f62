package statstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-smooth/internal/smooth"
)

const (
	// Default collector port
	PortStats = 3100

	// descriptor path / ticket shared by Push and Fetch
	statsPath = "calibration"
)

// FlightClient ships statistics blobs between calibration runners and the
// smoothing pass over Arrow Flight.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewFlightClient creates a client for a statistics collector.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = PortStats
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

// Connect establishes the connection to the collector.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// Push sends one statistics blob to the collector, which folds it into its
// running per-channel max.
func (fc *FlightClient) Push(ctx context.Context, stats smooth.ChannelStatistics) error {
	if fc.client == nil {
		return fmt.Errorf("client not connected, call Connect() first")
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(Schema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{statsPath},
	})

	rec := buildRecord(stats)
	defer rec.Release()

	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("failed to write statistics record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("failed to close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}

	// Drain the acknowledgement.
	if _, err := stream.Recv(); err != nil && err != io.EOF {
		return fmt.Errorf("collector rejected statistics: %w", err)
	}
	return nil
}

// Fetch retrieves the collector's accumulated statistics.
func (fc *FlightClient) Fetch(ctx context.Context) (smooth.ChannelStatistics, error) {
	if fc.client == nil {
		return nil, fmt.Errorf("client not connected, call Connect() first")
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(statsPath)})
	if err != nil {
		return nil, fmt.Errorf("failed to open DoGet stream: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics stream: %w", err)
	}
	defer rdr.Release()

	stats := make(smooth.ChannelStatistics)
	for rdr.Next() {
		if err := foldRecord(stats, rdr.Record()); err != nil {
			return nil, err
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read statistics stream: %w", err)
	}
	return stats, nil
}
