package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"listdb/pkg/client"
)

func main() {
	fmt.Println("Connecting to ListDB...")
	cli, err := client.Dial("localhost:9090")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cli.Close()

	row := map[string]string{"id": "10086", "name": "Hello, ListDB SDK!", "score": "99.5"}
	fmt.Printf("Saving: %v\n", row)
	start := time.Now()
	if _, err := cli.Save(row); err != nil {
		log.Fatalf("Save failed: %v", err)
	}
	fmt.Printf("Save done in %v\n", time.Since(start))

	size, err := cli.Size()
	if err != nil {
		log.Fatalf("Size failed: %v", err)
	}
	fmt.Printf("List holds %d rows\n", size)

	// Read the list from the middle, then a page around it.
	mid := size / 2
	start = time.Now()
	r, err := cli.Row(mid)
	if err != nil {
		log.Fatalf("Row failed: %v", err)
	}
	fmt.Printf("Row %d: %v (in %v)\n", mid, r, time.Since(start))

	start = time.Now()
	page, err := cli.Page(mid, 10)
	if err != nil {
		log.Fatalf("Page failed: %v", err)
	}
	fmt.Printf("Page from %d: %d rows (in %v)\n", mid, len(page), time.Since(start))
	for i, r := range page {
		fmt.Printf("  [%s] %v\n", strconv.FormatInt(mid+int64(i), 10), r)
	}

	st, err := cli.Stats()
	if err != nil {
		log.Fatalf("Stats failed: %v", err)
	}
	fmt.Printf("Cache: %d hits, %d misses, %d count queries\n", st.CacheHits, st.CacheMisses, st.Counts)
}
