// dlqtool is the operator's dead-letter maintenance tool: peek at what
// a stage dead-lettered and why, or replay messages back onto the
// primary queue after the root cause is fixed.
//
// Usage:
//
//	dlqtool -queue alert.enriched -action peek -limit 20
//	dlqtool -queue alert.enriched -action replay -limit 100
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
)

func main() {
	_ = godotenv.Load()

	queue := flag.String("queue", "", "primary queue whose DLQ to operate on (e.g. alert.raw)")
	action := flag.String("action", "peek", "peek or replay")
	limit := flag.Int("limit", 10, "maximum messages to touch")
	brokerURL := flag.String("broker", os.Getenv("BROKER_URL"), "AMQP URL (defaults to BROKER_URL)")
	flag.Parse()

	if *queue == "" || !slices.Contains(broker.Queues, *queue) {
		fmt.Fprintf(os.Stderr, "unknown queue %q, expected one of: %s\n",
			*queue, strings.Join(broker.Queues, ", "))
		os.Exit(2)
	}
	if *brokerURL == "" {
		fmt.Fprintln(os.Stderr, "broker URL is required (flag -broker or BROKER_URL)")
		os.Exit(2)
	}

	b, err := broker.Dial(*brokerURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect broker: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch *action {
	case "peek":
		msgs, err := b.PeekDLQ(ctx, *queue, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "peek %s: %v\n", broker.DLQName(*queue), err)
			os.Exit(1)
		}
		if len(msgs) == 0 {
			fmt.Printf("%s is empty\n", broker.DLQName(*queue))
			return
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, m := range msgs {
			printable := struct {
				Queue         string          `json:"queue"`
				CorrelationID string          `json:"correlation_id"`
				Reason        string          `json:"reason"`
				Count         int64           `json:"count"`
				Body          json.RawMessage `json:"body"`
			}{m.Queue, m.CorrelationID, m.Reason, m.Count, bodyJSON(m.Body)}
			if err := enc.Encode(printable); err != nil {
				fmt.Fprintf(os.Stderr, "encode message: %v\n", err)
				os.Exit(1)
			}
		}
	case "replay":
		n, err := b.ReplayDLQ(ctx, *queue, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay onto %s: %v (replayed %d)\n", *queue, err, n)
			os.Exit(1)
		}
		fmt.Printf("replayed %d messages onto %s\n", n, *queue)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q, expected peek or replay\n", *action)
		os.Exit(2)
	}
}

// bodyJSON passes JSON bodies through verbatim and quotes anything else.
func bodyJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
