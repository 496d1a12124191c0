package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CollectResponses is stage 1: fan out one shared prompt to every requested
// model and stream results back in completion order. The channel carries an
// interim retry notice or a terminal outcome per event; every model in the
// input list produces exactly one terminal outcome, failures included. The
// channel is closed once all models are accounted for.
func (c *Council) CollectResponses(ctx context.Context, query, contextBlob string, attachments []Attachment, models []string) <-chan Stage1Event {
	out := make(chan Stage1Event)

	go func() {
		defer close(out)

		log.Printf("Stage 1: collecting responses from %d models", len(models))

		prompt := buildStage1Prompt(query, contextBlob, attachments)
		messages := []ChatMessage{{Role: "user", Content: prompt}}
		opts := c.settings.QueryOptions()

		maxConcurrent := c.settings.MaxConcurrent
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
		sem := semaphore.NewWeighted(int64(maxConcurrent))

		var wg sync.WaitGroup
		for _, name := range models {
			endpoint, configured := c.configs[name]

			wg.Add(1)
			go func(name string, endpoint ModelEndpoint, configured bool) {
				defer wg.Done()

				if !configured {
					msg := fmt.Sprintf("model %s is not configured", name)
					log.Print(msg)
					out <- Stage1Event{Result: &Stage1Result{Model: name, Timestamp: IsoTimestamp(), Error: msg}}
					return
				}

				// The permit is held for the whole call, retries
				// included, so outstanding requests never exceed
				// the configured bound.
				if err := sem.Acquire(ctx, 1); err != nil {
					out <- Stage1Event{Result: &Stage1Result{Model: name, Timestamp: IsoTimestamp(), Error: err.Error()}}
					return
				}
				defer sem.Release(1)

				res := c.gateway.Query(ctx, endpoint, messages, opts, func(n RetryNotice) {
					notice := n
					out <- Stage1Event{Retry: &notice}
				})

				result := Stage1Result{
					Model:     name,
					Response:  res.Response,
					Timestamp: res.Timestamp,
					Error:     res.Error,
				}
				if result.Response != "" {
					result.Response = ConvertLatexFormat(result.Response)
				}
				out <- Stage1Event{Result: &result}
			}(name, endpoint, configured)
		}

		wg.Wait()
		log.Printf("Stage 1: complete")
	}()

	return out
}
