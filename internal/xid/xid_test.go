package xid

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTransactionNumberFormat(t *testing.T) {
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	got := TransactionNumber(at)
	if !strings.HasPrefix(got, "TRX-20260115-") {
		t.Fatalf("unexpected prefix: %s", got)
	}
	if len(got) != len("TRX-20260115-")+12 {
		t.Fatalf("unexpected length: %s", got)
	}
	if got != strings.ToUpper(got) {
		t.Fatalf("expected upper-case code, got %s", got)
	}
}

func TestNewIDIsUUID(t *testing.T) {
	if _, err := uuid.Parse(NewID()); err != nil {
		t.Fatalf("expected uuid, got error %v", err)
	}
}

func TestCodesAreDistinctUnderConcurrency(t *testing.T) {
	const workers = 16
	const perWorker = 500
	at := time.Now()

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, CustomerCode(at))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, code := range local {
				seen[code] = struct{}{}
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d distinct codes, got %d", workers*perWorker, len(seen))
	}
}
