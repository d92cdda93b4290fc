package main

import (
	"context"
	"flag"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-seqcell/v1/backoff"
	"github.com/mirkobrombin/go-seqcell/v1/seqlock"
)

var (
	readers  = flag.Int("r", 4, "Number of concurrent reader goroutines")
	writes   = flag.Int("w", 1000000, "Number of writes performed by the single writer")
	spin     = flag.Int("spin", 4, "Spin attempts before the retry loops start yielding")
	maxYield = flag.Int("yield", 16, "Cap on consecutive scheduler yields per attempt")
)

// tagged encodes which write produced it; a torn read would show
// Tag != TagCopy.
type tagged struct {
	Tag     uint64
	TagCopy uint64
}

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d writes, %d readers (locked fallback: %v)",
		*writes, *readers, seqlock.Locked())

	cell := seqlock.New(tagged{}, seqlock.WithBackoff[tagged](backoff.Policy{
		SpinLimit: *spin,
		MaxYield:  *maxYield,
	}))

	var reads int64
	var done atomic.Bool

	g, _ := errgroup.WithContext(context.Background())
	start := time.Now()

	g.Go(func() error {
		for i := uint64(1); i <= uint64(*writes); i++ {
			cell.Write(tagged{Tag: i, TagCopy: i})
		}
		done.Store(true)
		return nil
	})

	for r := 0; r < *readers; r++ {
		g.Go(func() error {
			var n int64
			for !done.Load() {
				v := cell.Read()
				if v.Tag != v.TagCopy {
					log.Fatalf("torn read: tag %d copy %d", v.Tag, v.TagCopy)
				}
				n++
			}
			atomic.AddInt64(&reads, n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("benchmark failed: %v", err)
	}
	elapsed := time.Since(start)

	total := int64(*writes) + reads
	log.Printf("Finished in %v", elapsed)
	log.Printf("Writes: %d (%.2f op/s)", *writes, float64(*writes)/elapsed.Seconds())
	log.Printf("Reads: %d (%.2f op/s)", reads, float64(reads)/elapsed.Seconds())
	log.Printf("Total throughput: %.2f op/s", float64(total)/elapsed.Seconds())
	log.Println("No torn reads observed")
}
