// Command perf drives AppendAsync against an in-memory LogStore from a
// worker pool and reports throughput, mirroring the teacher's MultiPut
// benchmark structure (job channel, worker pool, shared error counter;
// here the counter is guarded by a mutex).
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corelogio/logstore/logdev/memorydevice"
	"github.com/corelogio/logstore/logstore"
)

func main() {
	totalReq := flag.Int("total-requests", 100000, "total number of append_async calls")
	concurrency := flag.Int("concurrency", 32, "number of concurrent workers")
	valueSize := flag.Int("value-bytes", 1024, "payload size in bytes")
	flag.Parse()

	log.Printf("append_async benchmark start: total=%d, concurrency=%d, value-bytes=%d",
		*totalReq, *concurrency, *valueSize)

	device := memorydevice.New(1)
	store := logstore.NewLogStore(1, device, logstore.DefaultConfig())

	var (
		mu        sync.Mutex
		errCount  int
		completed int
	)
	var wg sync.WaitGroup
	wg.Add(*totalReq)
	store.RegisterReqCompCB(func(_ logstore.LSN, _ any, err error) {
		mu.Lock()
		if err != nil {
			errCount++
		}
		completed++
		mu.Unlock()
		wg.Done()
	})

	payload := make([]byte, *valueSize)
	rng := rand.New(rand.NewSource(1))
	for i := range payload {
		payload[i] = byte(rng.Intn(256))
	}

	jobs := make(chan struct{}, *totalReq)
	var workers sync.WaitGroup
	startTime := time.Now()

	for w := 0; w < *concurrency; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for range jobs {
				// Completion, success or failure, always arrives through
				// the registered callback above -- it owns wg.Done().
				_, _ = store.AppendAsync(payload, uuid.New())
			}
		}()
	}

	for i := 0; i < *totalReq; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	workers.Wait()
	wg.Wait()

	elapsed := time.Since(startTime).Seconds()
	successReq := *totalReq - errCount
	totalBytes := float64(successReq * (*valueSize))
	qps := float64(successReq) / elapsed
	mbps := totalBytes / (1024 * 1024) / elapsed

	fmt.Println("=== append_async benchmark result ===")
	fmt.Printf("Total requests:      %d\n", *totalReq)
	fmt.Printf("Successful requests: %d\n", successReq)
	fmt.Printf("Failed requests:     %d\n", errCount)
	fmt.Printf("Elapsed time:        %.3f s\n", elapsed)
	fmt.Printf("Throughput:          %.2f req/s\n", qps)
	fmt.Printf("Data throughput:     %.2f MB/s\n", mbps)
}
