package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oakdb/heapstore/internal/adminserver"
	"github.com/oakdb/heapstore/pkg/storagemgr"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Admin server listen address")
	dataDir := flag.String("data-dir", "./data", "Data directory for container files")
	bufferSize := flag.Int("buffer-size", 50, "Buffer pool size in pages (1 page = 4KB)")
	directIO := flag.Bool("direct-io", false, "Use direct (O_DIRECT) I/O for container files")
	flag.Parse()

	cfg := storagemgr.DefaultConfig(*dataDir)
	cfg.BufferPoolSize = *bufferSize
	cfg.DirectIO = *directIO

	sm, err := storagemgr.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create storage manager: %v\n", err)
		os.Exit(1)
	}

	srv := adminserver.New(*addr, sm)
	fmt.Printf("heapstore admin server listening on %s\n", *addr)
	fmt.Printf("data directory: %s\n", *dataDir)
	fmt.Printf("buffer pool size: %d pages\n", *bufferSize)

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
