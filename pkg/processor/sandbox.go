package processor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Sandbox approves every charge and payout. It is used when no processor is
// configured so the wallet can run locally end to end.
type Sandbox struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewSandbox() *Sandbox {
	log.Println("level=warn component=processor_sandbox msg=\"no processor configured; all charges and payouts are approved\"")
	return &Sandbox{results: make(map[string]Result)}
}

func (s *Sandbox) Charge(_ context.Context, req ChargeRequest) (*Result, error) {
	return s.approve(KindCharge, req.Reference), nil
}

func (s *Sandbox) Payout(_ context.Context, req PayoutRequest) (*Result, error) {
	return s.approve(KindPayout, req.Reference), nil
}

func (s *Sandbox) Status(_ context.Context, kind Kind, reference string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[sandboxKey(kind, reference)]
	if !ok {
		return nil, &ErrorResponse{StatusCode: 404, Code: "not_found", Message: "unknown reference"}
	}
	return &result, nil
}

func (s *Sandbox) approve(kind Kind, reference string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sandboxKey(kind, reference)
	if result, ok := s.results[key]; ok {
		return &result
	}
	result := Result{ProcessorID: "sbx_" + uuid.NewString(), Reference: reference, Status: StatusSucceeded}
	s.results[key] = result
	return &result
}

func sandboxKey(kind Kind, reference string) string {
	return fmt.Sprintf("%s/%s", kind, reference)
}
