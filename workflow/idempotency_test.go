package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeIdemStore struct {
	status   map[string]string
	outcomes map[string]string
	beginErr error
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{status: map[string]string{}, outcomes: map[string]string{}}
}

func (f *fakeIdemStore) Begin(ctx context.Context, handlerName, messageId string) (bool, error) {
	if f.beginErr != nil {
		return false, f.beginErr
	}
	key := handlerName + "/" + messageId
	if f.status[key] == "SUCCEEDED" {
		return true, nil
	}
	f.status[key] = "STARTED"
	return false, nil
}

func (f *fakeIdemStore) Succeeded(ctx context.Context, handlerName, messageId, outcome string) error {
	key := handlerName + "/" + messageId
	f.status[key] = "SUCCEEDED"
	f.outcomes[key] = outcome
	return nil
}

func (f *fakeIdemStore) Failed(ctx context.Context, handlerName, messageId string, cause error) error {
	f.status[handlerName+"/"+messageId] = "FAILED"
	return nil
}

type stubScanner struct {
	result *ScanResult
	calls  int
}

func (s *stubScanner) Scan(ctx context.Context, req ScanRequest) *ScanResult {
	s.calls++
	return s.result
}

func TestProcessScannerMessageAcksAcceptedAndSkipsDuplicates(t *testing.T) {
	store := newFakeIdemStore()
	scanner := &stubScanner{result: &ScanResult{Outcome: ScanAccepted}}

	_, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m-1", ScanRequest{Barcode: "52-H1024"})
	if err != nil || disp != DispositionAck {
		t.Fatalf("expected ack, got %v %v", disp, err)
	}
	if store.outcomes[ScannerHandlerName+"/m-1"] != "accepted" {
		t.Fatalf("unexpected outcome %q", store.outcomes[ScannerHandlerName+"/m-1"])
	}

	res, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m-1", ScanRequest{Barcode: "52-H1024"})
	if err != nil || disp != DispositionAck || res != nil {
		t.Fatalf("duplicate should be acked without a result, got %v %v %v", res, disp, err)
	}
	if scanner.calls != 1 {
		t.Fatalf("duplicate must not scan again, calls = %d", scanner.calls)
	}
}

func TestProcessScannerMessageAcksRejections(t *testing.T) {
	for _, reason := range []ScanReason{ReasonTooManyScans, ReasonDrumNotFound, ReasonInvalidFormat} {
		store := newFakeIdemStore()
		scanner := &stubScanner{result: rejected(reason, "no")}
		_, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m", ScanRequest{})
		if err != nil || disp != DispositionAck {
			t.Fatalf("%s: expected ack, got %v %v", reason, disp, err)
		}
		if got := store.outcomes[ScannerHandlerName+"/m"]; got != "rejected:"+string(reason) {
			t.Fatalf("%s: unexpected outcome %q", reason, got)
		}
	}
}

func TestProcessScannerMessageRetriesInternalFailures(t *testing.T) {
	store := newFakeIdemStore()
	cause := errors.New("db down")
	scanner := &stubScanner{result: &ScanResult{Outcome: ScanFatal, Reason: ReasonInternal, Err: cause}}

	_, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m-2", ScanRequest{})
	if disp != DispositionRetry || !errors.Is(err, cause) {
		t.Fatalf("expected retry with cause, got %v %v", disp, err)
	}
	if store.status[ScannerHandlerName+"/m-2"] != "FAILED" {
		t.Fatalf("expected FAILED key, got %q", store.status[ScannerHandlerName+"/m-2"])
	}
}

func TestProcessScannerMessageAcksVerificationFailure(t *testing.T) {
	store := newFakeIdemStore()
	scanner := &stubScanner{result: &ScanResult{Outcome: ScanFatal, Reason: ReasonTransitionVerificationFailed, Err: ErrTransitionVerificationFailed}}

	_, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m-3", ScanRequest{})
	if err != nil || disp != DispositionAck {
		t.Fatalf("expected ack, got %v %v", disp, err)
	}
}

func TestProcessScannerMessageRetriesWhenKeyStoreFails(t *testing.T) {
	store := newFakeIdemStore()
	store.beginErr = errors.New("deadlock")
	scanner := &stubScanner{result: &ScanResult{Outcome: ScanAccepted}}

	_, disp, err := ProcessScannerMessage(context.Background(), store, scanner, "m-4", ScanRequest{})
	if err == nil || disp != DispositionRetry || scanner.calls != 0 {
		t.Fatalf("expected retry before scanning, got %v %v calls=%d", disp, err, scanner.calls)
	}
}

func TestProcessScannerMessageWithoutMessageId(t *testing.T) {
	scanner := &stubScanner{result: &ScanResult{Outcome: ScanAccepted}}
	_, disp, err := ProcessScannerMessage(context.Background(), nil, scanner, "", ScanRequest{})
	if err != nil || disp != DispositionAck || scanner.calls != 1 {
		t.Fatalf("expected a plain scan, got %v %v calls=%d", disp, err, scanner.calls)
	}
}

func TestPublishBackoff(t *testing.T) {
	base, max := 5*time.Second, time.Minute
	cases := map[int]time.Duration{
		0: 5 * time.Second,
		1: 5 * time.Second,
		2: 10 * time.Second,
		3: 20 * time.Second,
		4: 40 * time.Second,
		5: time.Minute,
		9: time.Minute,
	}
	for attempt, want := range cases {
		if got := PublishBackoff(attempt, base, max); got != want {
			t.Fatalf("attempt %d: got %s want %s", attempt, got, want)
		}
	}
}
