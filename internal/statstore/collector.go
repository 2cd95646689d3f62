package statstore

import (
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/23skdu/longbow-smooth/internal/logger"
	"github.com/23skdu/longbow-smooth/internal/smooth"
)

// Collector is a Flight service that accumulates ChannelStatistics pushed by
// calibration runners. Batches for the same boundary fold with an
// elementwise running max, so shards of a calibration corpus can stream in
// from independent workers in any order.
type Collector struct {
	flight.BaseFlightServer

	mu    sync.Mutex
	stats smooth.ChannelStatistics
}

func NewCollector() *Collector {
	return &Collector{stats: make(smooth.ChannelStatistics)}
}

// Merge folds one statistics map into the collector.
func (c *Collector) Merge(stats smooth.ChannelStatistics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, vec := range stats {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		if err := mergeMax(c.stats, name, cp); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a deep copy of the accumulated statistics.
func (c *Collector) Snapshot() smooth.ChannelStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(smooth.ChannelStatistics, len(c.stats))
	for name, vec := range c.stats {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out[name] = cp
	}
	return out
}

func (c *Collector) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	for rdr.Next() {
		incoming := make(smooth.ChannelStatistics)
		if err := foldRecord(incoming, rdr.Record()); err != nil {
			return err
		}
		if err := c.Merge(incoming); err != nil {
			return err
		}
		logger.Log.Debug("calibration batch merged", "boundaries", len(incoming))
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return err
	}
	return stream.Send(&flight.PutResult{})
}

func (c *Collector) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	wr := flight.NewRecordWriter(stream, ipc.WithSchema(Schema))
	defer wr.Close()

	rec := buildRecord(c.Snapshot())
	defer rec.Release()
	return wr.Write(rec)
}

// Serve starts the collector on addr and returns the running server. The
// caller shuts it down.
func (c *Collector) Serve(addr string) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(c)
	if err := srv.Init(addr); err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(); err != nil {
			logger.Log.Error("statistics collector stopped", "error", err)
		}
	}()
	logger.Log.Info("statistics collector listening", "addr", srv.Addr().String())
	return srv, nil
}
