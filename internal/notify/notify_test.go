package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// Every test must leave no dispatcher workers behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingGateway captures sent messages and can be told to fail or block.
type recordingGateway struct {
	mu      sync.Mutex
	sent    []Message
	err     error
	release chan struct{} // if non-nil, Send waits for it
}

func (g *recordingGateway) Send(ctx context.Context, msg Message) error {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, msg)
	return nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// =========================================================================
// DISPATCHER
// =========================================================================

func TestDispatcher_DeliversThroughGateway(t *testing.T) {
	gw := &recordingGateway{}
	d := NewDispatcher(gw, DispatcherConfig{Workers: 2, QueueSize: 4}, discardLogger())
	d.Start()
	defer d.Stop()

	err := d.Send(context.Background(), Message{To: "a@example.com", Subject: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.count())
}

func TestDispatcher_ReportsGatewayError(t *testing.T) {
	boom := errors.New("relay refused")
	d := NewDispatcher(&recordingGateway{err: boom}, DispatcherConfig{Workers: 1}, discardLogger())
	d.Start()
	defer d.Stop()

	err := d.Send(context.Background(), Message{To: "a@example.com"})
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_ConcurrentSends(t *testing.T) {
	gw := &recordingGateway{}
	d := NewDispatcher(gw, DispatcherConfig{Workers: 3, QueueSize: 2}, discardLogger())
	d.Start()
	defer d.Stop()

	const n = 25
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Send(context.Background(), Message{To: "x@example.com"}); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Equal(t, n, gw.count())
}

func TestDispatcher_CallerContextCancelled(t *testing.T) {
	gw := &recordingGateway{release: make(chan struct{})}
	d := NewDispatcher(gw, DispatcherConfig{Workers: 1, Timeout: time.Second}, discardLogger())
	d.Start()
	defer d.Stop()
	defer close(gw.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Send(ctx, Message{To: "slow@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_PerMessageTimeout(t *testing.T) {
	gw := &recordingGateway{release: make(chan struct{})}
	d := NewDispatcher(gw, DispatcherConfig{Workers: 1, Timeout: 20 * time.Millisecond}, discardLogger())
	d.Start()
	defer d.Stop()
	defer close(gw.release)

	err := d.Send(context.Background(), Message{To: "slow@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_SendAfterStop(t *testing.T) {
	d := NewDispatcher(&recordingGateway{}, DispatcherConfig{Workers: 1}, discardLogger())
	d.Start()
	d.Stop()
	d.Stop() // idempotent

	err := d.Send(context.Background(), Message{To: "late@example.com"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDispatcher_StopAnswersQueuedJobs(t *testing.T) {
	// Never started: queued jobs can only be answered by Stop's drain.
	d := NewDispatcher(&recordingGateway{}, DispatcherConfig{Workers: 1, QueueSize: 2}, discardLogger())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- d.Send(context.Background(), Message{To: "q@example.com"}) }()
	}
	require.Eventually(t, func() bool { return len(d.jobs) == 2 }, time.Second, 5*time.Millisecond)

	d.Stop()
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, ErrStopped)
	}
}

// =========================================================================
// CONFIRMATION MAIL
// =========================================================================

func TestConfirmationLink(t *testing.T) {
	tests := []struct {
		name       string
		confirmURL string
		want       string
	}{
		{"plain url", "http://localhost:4200/confirm-email", "http://localhost:4200/confirm-email?token=abc.def"},
		{"keeps existing query", "https://plausch.live/confirm?lang=de", "https://plausch.live/confirm?lang=de&token=abc.def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfirmationLink(tt.confirmURL, "abc.def")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirmationMessage(t *testing.T) {
	msg, err := ConfirmationMessage(ConfirmationRequest{
		To:          "alice@example.com",
		DisplayName: "<Alice>",
		ConfirmURL:  "http://localhost:4200/confirm-email",
		Token:       "tok.en.value",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, confirmationSubject, msg.Subject)
	assert.Contains(t, msg.HTMLBody, "http://localhost:4200/confirm-email?token=tok.en.value")
	assert.Contains(t, msg.HTMLBody, "&lt;Alice&gt;", "display name must be escaped")
	assert.NotContains(t, msg.HTMLBody, "neuer Bestätigungslink")
}

func TestConfirmationMessage_Resend(t *testing.T) {
	msg, err := ConfirmationMessage(ConfirmationRequest{
		To:         "alice@example.com",
		ConfirmURL: "http://localhost:4200/confirm-email",
		Token:      "t",
		Resend:     true,
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTMLBody, "neuer Bestätigungslink")
}

// =========================================================================
// GATEWAYS
// =========================================================================

func TestNewSMTPGateway(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SMTPConfig
		wantErr bool
	}{
		{"valid", SMTPConfig{Host: "smtp-relay.brevo.com", From: `"Plausch-noreply" <noreply@plausch.live>`}, false},
		{"missing host", SMTPConfig{From: "noreply@plausch.live"}, true},
		{"missing from", SMTPConfig{Host: "smtp.example.com"}, true},
		{"malformed from", SMTPConfig{Host: "smtp.example.com", From: "not an address"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewSMTPGateway(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 587, g.cfg.Port, "STARTTLS submission port by default")
		})
	}
}

func TestSMTPGateway_RejectsBadRecipient(t *testing.T) {
	g, err := NewSMTPGateway(SMTPConfig{Host: "smtp.example.com", From: "noreply@plausch.live"})
	require.NoError(t, err)

	err = g.Send(context.Background(), Message{To: "not-an-address", Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	g := NewLogGateway(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := g.Send(context.Background(), Message{To: "dev@example.com", Subject: "s", HTMLBody: "token=xyz"})
	require.NoError(t, err)
	out := buf.String()
	assert.True(t, strings.Contains(out, "dev@example.com") && strings.Contains(out, "token=xyz"), out)
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	gw := GatewayFunc(func(ctx context.Context, msg Message) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	d := NewDispatcher(gw, DispatcherConfig{Workers: 2, QueueSize: 8}, discardLogger())
	d.Start()
	defer d.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Send(context.Background(), Message{To: "p@example.com"})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}
