package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"listdb/pkg/client"
	"listdb/pkg/protocol"
)

const Prompt = "list> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "ListDB TCP Server Address")
	flag.Parse()

	fmt.Printf("ListDB CLI (Target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (e.g. go run ./cmd/server).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "row", "get":
			handleRow(cli, parts)
		case "page":
			handlePage(cli, parts)
		case "size", "count":
			timed(func() (string, error) {
				n, err := cli.Size()
				return strconv.FormatInt(n, 10), err
			})
		case "first":
			timed(func() (string, error) {
				r, err := cli.First()
				return formatRecord(r), err
			})
		case "last":
			timed(func() (string, error) {
				r, err := cli.Last()
				return formatRecord(r), err
			})
		case "put", "set":
			handlePut(cli, parts)
		case "del", "rm":
			handleDel(cli, parts)
		case "scope":
			handleScope(cli, line)
		case "invalidate":
			timed(func() (string, error) { return "OK", cli.Invalidate() })
		case "stats":
			handleStats(cli)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func timed(fn func() (string, error)) {
	start := time.Now()
	out, err := fn()
	duration := time.Since(start)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (%v)\n", out, duration)
}

func handleRow(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: row <index>")
		return
	}
	index, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Index must be an integer")
		return
	}
	timed(func() (string, error) {
		r, err := cli.Row(index)
		return formatRecord(r), err
	})
}

func handlePage(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: page <offset> [limit]")
		return
	}
	offset, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: Offset must be an integer")
		return
	}
	limit := int64(20)
	if len(parts) > 2 {
		if limit, err = strconv.ParseInt(parts[2], 10, 64); err != nil || limit <= 0 {
			fmt.Println("Error: Limit must be a positive integer")
			return
		}
	}

	start := time.Now()
	records, err := cli.Page(offset, limit)
	duration := time.Since(start)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Got %d records (%v):\n", len(records), duration)
	for i, r := range records {
		fmt.Printf("  [%d] %s\n", offset+int64(i), formatRecord(r))
	}
}

// parseAssignments reads alias=value words.
func parseAssignments(words []string) (protocol.Record, error) {
	r := make(protocol.Record, len(words))
	for _, w := range words {
		alias, value, ok := strings.Cut(w, "=")
		if !ok || alias == "" {
			return nil, fmt.Errorf("expected alias=value, got %q", w)
		}
		r[alias] = value
	}
	return r, nil
}

func handlePut(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: put <alias>=<value> ...")
		return
	}
	r, err := parseAssignments(parts[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	timed(func() (string, error) {
		n, err := cli.Save(r)
		return fmt.Sprintf("OK, %d row(s)", n), err
	})
}

func handleDel(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: del <key_alias>=<value> ...")
		return
	}
	r, err := parseAssignments(parts[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	timed(func() (string, error) {
		n, err := cli.Delete(r)
		return fmt.Sprintf("Deleted %d row(s)", n), err
	})
}

func handleScope(cli *client.Client, line string) {
	where := strings.TrimSpace(line[len("scope"):])
	timed(func() (string, error) {
		if err := cli.Scope(where); err != nil {
			return "", err
		}
		if where == "" {
			return "Scope cleared", nil
		}
		return "Scope set", nil
	})
}

func handleStats(cli *client.Client) {
	st, err := cli.Stats()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("  size:          %d\n", st.Size)
	fmt.Printf("  reads/writes:  %d/%d (ratio %.2f)\n", st.Reads, st.Writes, st.ReadWrite)
	fmt.Printf("  cache:         %d/%d entries, %d hits, %d misses, %d evictions\n",
		st.CacheLen, st.CacheCapacity, st.CacheHits, st.CacheMisses, st.Evictions)
	fmt.Printf("  backend:       %d counts, %d scans, %d errors\n", st.Counts, st.Scans, st.BackendErrors)
	fmt.Printf("  page size:     %d (factor %.2f)\n", st.PageSize, st.CacheFactor)
}

func formatRecord(r protocol.Record) string {
	aliases := make([]string, 0, len(r))
	for a := range r {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	var b strings.Builder
	for i, a := range aliases {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%q", a, r[a])
	}
	return b.String()
}

func printHelp() {
	fmt.Println(`
Commands:
  size                   Number of rows in scope
  row <index>            Row at a position
  page <offset> [limit]  Consecutive rows from a position
  first | last           Bounds of the list
  put <a>=<v> ...        Insert/Replace a row
  del <key>=<v> ...      Delete a row by primary key
  scope [where]          Restrict the list (empty clears)
  invalidate             Drop the server cache
  stats                  Cache and workload counters
  exit                   Exit CLI
	`)
}
