package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-smooth/internal/statstore"
)

func main() {
	addr := flag.String("addr", ":3100", "Address to serve the Flight collector")
	metricsAddr := flag.String("metrics", ":9090", "Address to serve Prometheus metrics")
	flag.Parse()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("Metrics serving on %s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	c := statstore.NewCollector()
	srv, err := c.Serve(*addr)
	if err != nil {
		log.Fatalf("Failed to start collector: %v", err)
	}
	defer srv.Shutdown()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Interrupt received, shutting down...")
}
