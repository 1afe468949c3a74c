package runtime

import (
	"strings"
	"testing"
	"time"
)

func TestClampDelay(t *testing.T) {
	tests := []struct {
		ms   int64
		min  time.Duration
		want time.Duration
	}{
		{ms: -10, min: 0, want: 0},
		{ms: 0, min: 0, want: 0},
		{ms: 250, min: 0, want: 250 * time.Millisecond},
		{ms: 3_600_000, min: 0, want: maxTimerDelay},
		{ms: 5, min: minIntervalPeriod, want: minIntervalPeriod},
		{ms: 500, min: minIntervalPeriod, want: 500 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := clampDelay(tc.ms, tc.min); got != tc.want {
			t.Errorf("clampDelay(%d, %s) = %s, want %s", tc.ms, tc.min, got, tc.want)
		}
	}
}

func TestCheckScheme(t *testing.T) {
	allowed := []string{
		"https://api.example.com/v1",
		"http://localhost:8080/x",
		"http://127.0.0.1:9999/x",
		"http://[::1]:8080/x",
	}
	for _, u := range allowed {
		if err := checkScheme(u); err != nil {
			t.Errorf("checkScheme(%q) = %v, want nil", u, err)
		}
	}

	denied := []string{
		"http://example.com/x",
		"http://10.0.0.1/x",
		"ftp://example.com/x",
		"file:///etc/passwd",
	}
	for _, u := range denied {
		err := checkScheme(u)
		if err == nil {
			t.Errorf("checkScheme(%q) allowed", u)
			continue
		}
		if err.Type != ErrTypeValidation {
			t.Errorf("checkScheme(%q) type = %s", u, err.Type)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":   true,
		"127.0.0.1":   true,
		"::1":         true,
		"10.0.0.1":    false,
		"example.com": false,
		"":            false,
	} {
		if got := isLoopback(host); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestAdmitConcurrencyLimit(t *testing.T) {
	g := NewGovernor()
	defer g.Shutdown()

	for i := 0; i < maxConcurrentFetches; i++ {
		if err := g.admit("https://example.com"); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	err := g.admit("https://example.com")
	if err == nil {
		t.Fatal("admit over the limit succeeded")
	}
	if err.Type != ErrTypeRuntime || !strings.Contains(err.Message, "too many concurrent fetch calls") {
		t.Errorf("error = %s %q", err.Type, err.Message)
	}
}

func TestTimeoutFiresOnce(t *testing.T) {
	g := NewGovernor()
	defer g.Shutdown()

	fired := 0
	g.addTimeout(func() { fired++ }, 1)

	select {
	case job := <-g.Jobs():
		job()
	case <-time.After(time.Second):
		t.Fatal("timer never posted a job")
	}
	if fired != 1 {
		t.Fatalf("fired %d times", fired)
	}
	if n := g.PendingTimers(); n != 0 {
		t.Errorf("%d timers still pending after fire", n)
	}
}

func TestClearTimeoutCancels(t *testing.T) {
	g := NewGovernor()
	defer g.Shutdown()

	id := g.addTimeout(func() { t.Error("cleared timer fired") }, 1)
	g.clearTimer(id)
	if n := g.PendingTimers(); n != 0 {
		t.Errorf("%d timers pending after clear", n)
	}

	// The underlying time.AfterFunc may already have posted; draining the
	// job must still be a no-op because the handle was taken.
	select {
	case job := <-g.Jobs():
		job()
	case <-time.After(20 * time.Millisecond):
	}
}

func TestShutdownCancelsTimers(t *testing.T) {
	g := NewGovernor()
	g.addTimeout(func() {}, 10_000)
	g.addInterval(func() {}, 10_000)
	if n := g.PendingTimers(); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
	g.Shutdown()
	if n := g.PendingTimers(); n != 0 {
		t.Errorf("pending after shutdown = %d", n)
	}
	// Posting after shutdown must not block or deliver.
	g.post(func() { t.Error("job delivered after shutdown") })
	select {
	case job := <-g.Jobs():
		job()
	default:
	}
}

func TestCheckResultSize(t *testing.T) {
	if err := CheckResultSize(nil); err != nil {
		t.Errorf("nil result rejected: %v", err)
	}
	if err := CheckResultSize(map[string]any{"ok": true}); err != nil {
		t.Errorf("small result rejected: %v", err)
	}

	big := strings.Repeat("x", maxResultBytes+1)
	err := CheckResultSize(big)
	if err == nil {
		t.Fatal("oversized result accepted")
	}
	if err.Type != ErrTypeResultTooLarge {
		t.Errorf("type = %s", err.Type)
	}

	err = CheckResultSize(map[string]any{"ch": make(chan int)})
	if err == nil {
		t.Fatal("unserializable result accepted")
	}
	if err.Type != ErrTypeValidation {
		t.Errorf("type = %s", err.Type)
	}
}

func TestFetchOptionsDefaults(t *testing.T) {
	method, headers, body := fetchOptions(nil)
	if method != "GET" || len(headers) != 0 || body != "" {
		t.Errorf("defaults = %s %v %q", method, headers, body)
	}
}
