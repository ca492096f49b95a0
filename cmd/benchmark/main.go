package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"listdb/pkg/client"
	"listdb/pkg/common"
	"listdb/pkg/core"
	"listdb/pkg/core/memory"
	"listdb/pkg/logger"
	"listdb/pkg/storage"
)

var (
	idField    = common.NewField("id", common.KindLong, common.AsPrimaryKey())
	scoreField = common.NewField("score", common.KindDouble)
	fields     = common.FieldList{idField, scoreField}
)

func main() {
	backend := flag.String("backend", "memory", "in-process backend: memory or sqlite")
	rows := flag.Int("rows", 100000, "rows to load for the in-process run")
	nReq := flag.Int("n", 5000, "Number of requests per run")
	httpAddr := flag.String("http", "", "HTTP API base URL (e.g. http://localhost:8080), empty skips")
	tcpAddr := flag.String("tcp", "", "TCP server address (e.g. localhost:9090), empty skips")
	flag.Parse()

	fmt.Printf("ListDB Positional Access Benchmark (N=%d)\n", *nReq)
	fmt.Println("---------------------------------------------------")

	fmt.Printf(">> In-process %s backend, %d rows...\n", *backend, *rows)
	runLocalBenchmark(*backend, *rows, *nReq)

	if *httpAddr != "" {
		fmt.Println(">> HTTP Benchmark (JSON over HTTP 1.1)...")
		d := runHTTPBenchmark(*httpAddr, *nReq)
		fmt.Printf("   HTTP Time: %v | QPS: %.0f\n", d, float64(*nReq)/d.Seconds())
	}
	if *tcpAddr != "" {
		fmt.Println(">> TCP Benchmark (Binary Protocol)...")
		d := runTCPBenchmark(*tcpAddr, *nReq)
		fmt.Printf("   TCP  Time: %v | QPS: %.0f\n", d, float64(*nReq)/d.Seconds())
	}
	fmt.Println("---------------------------------------------------")
}

func openBackend(kind string) (storage.Persistor, func()) {
	switch kind {
	case "memory":
		mt, err := memory.NewMemTable("bench", fields, 32)
		if err != nil {
			log.Fatal(err)
		}
		return mt, func() {}
	case "sqlite":
		dir, err := os.MkdirTemp("", "listdb-bench")
		if err != nil {
			log.Fatal(err)
		}
		p, err := storage.OpenSQL(storage.SQLOptions{
			DSN:    filepath.Join(dir, "bench.db"),
			Table:  "bench",
			Fields: fields,
			Log:    logger.Discard(),
		})
		if err != nil {
			log.Fatal(err)
		}
		if err := p.CreateTable(context.Background()); err != nil {
			log.Fatal(err)
		}
		return p, func() {
			_ = p.Close()
			_ = os.RemoveAll(dir)
		}
	}
	log.Fatalf("unknown backend %q", kind)
	return nil, nil
}

func runLocalBenchmark(kind string, rows, n int) {
	ctx := context.Background()
	src, cleanup := openBackend(kind)
	defer cleanup()

	start := time.Now()
	tx := src.Transaction()
	if err := tx.Begin(ctx); err != nil {
		log.Fatal(err)
	}
	for i := 0; i < rows; i++ {
		r, err := common.NewRecordOf(fields, []common.Value{common.NewLong(int64(i)), common.NewDouble(rand.Float64())})
		if err != nil {
			log.Fatal(err)
		}
		if _, err := src.Insert(ctx, r); err != nil {
			log.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("   Load: %v\n", time.Since(start))

	list, err := core.NewListPersistor(src, common.NewOrder(common.Desc(scoreField)), core.WithLogger(logger.Discard()))
	if err != nil {
		log.Fatal(err)
	}
	defer list.Close()

	report := func(name string, next func(i int) int64) {
		list.ClearCache()
		before := list.Stats()
		start := time.Now()
		for i := 0; i < n; i++ {
			if _, err := list.Record(ctx, next(i)); err != nil {
				log.Fatalf("%s: %v", name, err)
			}
		}
		d := time.Since(start)
		st := list.Stats()
		fmt.Printf("   %-10s %v | QPS: %.0f | hits %d misses %d counts %d scans %d\n",
			name, d, float64(n)/d.Seconds(), st.CacheHits-before.CacheHits, st.CacheMisses-before.CacheMisses,
			st.Counts-before.Counts, st.Scans-before.Scans)
	}
	size := int64(rows)
	report("sequential", func(i int) int64 { return int64(i) % size })
	report("reverse", func(i int) int64 { return size - 1 - int64(i)%size })
	report("random", func(int) int64 { return rand.Int63n(size) })
	report("local", func(i int) int64 { return (size/2 + int64(rand.Intn(200)) - 100) % size })
}

func runHTTPBenchmark(httpAddr string, n int) time.Duration {
	hc := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}
	size := remoteSizeHTTP(hc, httpAddr)

	start := time.Now()
	for i := 0; i < n; i++ {
		idx := rand.Int63n(size)
		resp, err := hc.Get(httpAddr + "/api/row?index=" + strconv.FormatInt(idx, 10))
		if err != nil {
			log.Fatalf("HTTP Req failed: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return time.Since(start)
}

func remoteSizeHTTP(hc *http.Client, httpAddr string) int64 {
	resp, err := hc.Get(httpAddr + "/api/size")
	if err != nil {
		log.Fatalf("HTTP Req failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Size int64 `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Size == 0 {
		log.Fatalf("HTTP size failed: %v (size %d)", err, body.Size)
	}
	return body.Size
}

func runTCPBenchmark(addr string, n int) time.Duration {
	cli, err := client.Dial(addr)
	if err != nil {
		log.Fatalf("TCP Connect failed: %v", err)
	}
	defer cli.Close()
	size, err := cli.Size()
	if err != nil || size == 0 {
		log.Fatalf("TCP size failed: %v (size %d)", err, size)
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := cli.Row(rand.Int63n(size)); err != nil {
			log.Fatalf("TCP Read failed: %v", err)
		}
	}
	return time.Since(start)
}
