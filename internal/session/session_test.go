package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSession_ArrivalToReadyThenCommand(t *testing.T) {
	opener := &fakeOpener{reply: echoAck}
	h := newHarness(t, testOptions(), rawClass(), opener)

	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	cmd := powerOn()
	cmd.RequestID = "req-1"
	resp, err := h.m.Submit(context.Background(), testDeviceID, cmd)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Status != StatusOK || resp.CorrelationID != 1 || resp.RequestID != "req-1" {
		t.Errorf("Response = %+v", resp)
	}

	want := []byte{0x06, 0x14, 0x00, 0x04, 0x00, 0x34, 0x11, 0x00, 0x00, 0x5D}
	if got := opener.link(0).written()[0]; !bytes.Equal(got, want) {
		t.Errorf("wire frame = % x, want % x", got, want)
	}

	states := h.obs.stateLog()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateReady {
		t.Errorf("state log = %v, want connecting then ready", states)
	}
}

func TestSession_ExistsOnlyWhilePresent(t *testing.T) {
	opener := &fakeOpener{reply: echoAck}
	h := newHarness(t, testOptions(), rawClass(), opener)

	if _, ok := h.m.Info(testDeviceID); ok {
		t.Fatal("session exists before arrival")
	}

	h.arrive(testDeviceID)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)
	if n := len(h.m.Sessions()); n != 1 {
		t.Errorf("Sessions() len = %d, want 1", n)
	}
	if n := opener.openCount(); n != 1 {
		t.Errorf("opens = %d, want 1 after duplicate arrival", n)
	}

	h.remove(testDeviceID)
	waitFor(t, "session removal", func() bool {
		_, ok := h.m.Info(testDeviceID)
		return !ok
	})
	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Submit() after removal error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestSession_UnknownClassGetsNoSession(t *testing.T) {
	h := newHarness(t, testOptions(), rawClass(), &fakeOpener{reply: echoAck})
	h.class = "not-configured"
	h.arrive(testDeviceID)
	h.remove("barrier")

	if _, ok := h.m.Info(testDeviceID); ok {
		t.Error("session opened for unknown class")
	}
}

func TestSession_AtMostOneInFlight(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var idMu sync.Mutex
	var ids []uint32

	reply := func(l *fakeLink, frame []byte) [][]byte {
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		id := binary.BigEndian.Uint32(frame[2:])
		idMu.Lock()
		ids = append(ids, id)
		idMu.Unlock()

		resp := make([]byte, 7)
		binary.BigEndian.PutUint16(resp, 5)
		binary.BigEndian.PutUint32(resp[2:], id)
		time.AfterFunc(time.Millisecond, func() {
			inflight.Add(-1)
			l.in <- resp
		})
		return nil
	}

	opts := testOptions()
	opts.QueueDepth = 32
	h := newHarness(t, opts, taggedClass(), &fakeOpener{reply: reply})
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.m.Submit(context.Background(), testDeviceID, Command{Opcode: 0x01})
			if err == nil && resp.Status != StatusOK {
				err = errors.New("status " + string(resp.Status))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Submit() error = %v", err)
		}
	}

	if m := maxInflight.Load(); m != 1 {
		t.Errorf("max in flight = %d, want 1", m)
	}
	idMu.Lock()
	defer idMu.Unlock()
	for i, id := range ids {
		if id != uint32(i+1) {
			t.Fatalf("correlation ids = %v, want 1..%d in order", ids, n)
		}
	}
}

func TestSession_SubmissionOrder(t *testing.T) {
	release := make(chan struct{})
	reply := func(l *fakeLink, frame []byte) [][]byte {
		resp := rawFrame(frame[0], 0x14, 0x00, 0x00, 0x00)
		go func() {
			<-release
			l.in <- resp
		}()
		return nil
	}
	opener := &fakeOpener{reply: reply}
	h := newHarness(t, testOptions(), rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(op byte) {
			defer wg.Done()
			h.m.Submit(context.Background(), testDeviceID, Command{Opcode: op}) //nolint:errcheck // order checked on the wire
		}(byte(0x10 + i))
		want := i + 1
		waitFor(t, "command admission", func() bool {
			info, _ := h.m.Info(testDeviceID)
			return info.Pending == want
		})
	}
	close(release)
	wg.Wait()

	writes := opener.link(0).written()
	if len(writes) != n {
		t.Fatalf("wrote %d frames, want %d", len(writes), n)
	}
	for i, w := range writes {
		if w[0] != byte(0x10+i) {
			t.Errorf("frame %d opcode = %#x, want %#x", i, w[0], 0x10+i)
		}
	}
}

func TestSession_TimeoutFaultsAndReconnects(t *testing.T) {
	var calls atomic.Int32
	reply := func(_ *fakeLink, frame []byte) [][]byte {
		if calls.Add(1) == 1 {
			return nil
		}
		return echoAck(nil, frame)
	}
	opener := &fakeOpener{reply: reply}
	opts := testOptions()
	opts.CommandTimeout = 50 * time.Millisecond
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	start := time.Now()
	resp, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
	if !errors.Is(err, ErrTimeout) || resp.Status != StatusTimeout {
		t.Fatalf("Submit() = %+v, %v; want timeout", resp, err)
	}
	if elapsed := time.Since(start); elapsed > opts.CommandTimeout+500*time.Millisecond {
		t.Errorf("timeout resolved after %v", elapsed)
	}

	waitFor(t, "reconnect", func() bool { return opener.openCount() == 2 })
	h.waitState(t, testDeviceID, StateReady)

	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); err != nil {
		t.Errorf("Submit() after reconnect error = %v", err)
	}

	assertStateSequence(t, h.obs.stateLog(), StateReady, StateFaulted, StateConnecting, StateReady)
}

func TestSession_CallerDeadlineFaultsSession(t *testing.T) {
	var calls atomic.Int32
	reply := func(_ *fakeLink, frame []byte) [][]byte {
		if calls.Add(1) == 1 {
			return nil
		}
		return echoAck(nil, frame)
	}
	opener := &fakeOpener{reply: reply}
	opts := testOptions()
	opts.CommandTimeout = time.Minute
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := h.m.Submit(ctx, testDeviceID, powerOn())
		first <- err
	}()
	waitFor(t, "in-flight command", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 1
	})

	queued := make(chan error, 1)
	go func() {
		_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
		queued <- err
	}()
	waitFor(t, "queued command", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 2
	})

	select {
	case err := <-first:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Submit() error = %v, want ErrTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller deadline ignored")
	}

	// The command behind it must not wait out the class timeout.
	select {
	case err := <-queued:
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("queued Submit() error = %v, want ErrDeviceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued command stalled behind abandoned command")
	}

	waitFor(t, "reconnect", func() bool { return opener.openCount() == 2 })
	h.waitState(t, testDeviceID, StateReady)
	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); err != nil {
		t.Errorf("Submit() after reconnect error = %v", err)
	}
	assertStateSequence(t, h.obs.stateLog(), StateReady, StateFaulted, StateConnecting, StateReady)
}

func TestSession_CommandTimeoutOverridesClass(t *testing.T) {
	tests := []struct {
		name         string
		classTimeout time.Duration
		cmdTimeout   time.Duration
		replyAfter   time.Duration
		wantErr      error
		wantOpens    int
	}{
		{
			name:         "longer than class",
			classTimeout: 50 * time.Millisecond,
			cmdTimeout:   time.Second,
			replyAfter:   200 * time.Millisecond,
			wantOpens:    1,
		},
		{
			name:         "shorter than class",
			classTimeout: time.Minute,
			cmdTimeout:   50 * time.Millisecond,
			replyAfter:   -1,
			wantErr:      ErrTimeout,
			wantOpens:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wg sync.WaitGroup
			t.Cleanup(wg.Wait)
			reply := func(l *fakeLink, frame []byte) [][]byte {
				if tt.replyAfter < 0 {
					return nil
				}
				ack := echoAck(l, frame)
				wg.Add(1)
				go func() {
					defer wg.Done()
					time.Sleep(tt.replyAfter)
					l.in <- ack[0]
				}()
				return nil
			}
			opener := &fakeOpener{reply: reply}
			opts := testOptions()
			opts.CommandTimeout = tt.classTimeout
			h := newHarness(t, opts, rawClass(), opener)
			h.arrive(testDeviceID)
			h.waitState(t, testDeviceID, StateReady)

			cmd := powerOn()
			cmd.Timeout = tt.cmdTimeout
			start := time.Now()
			resp, err := h.m.Submit(context.Background(), testDeviceID, cmd)
			if tt.wantErr == nil {
				if err != nil || resp.Status != StatusOK {
					t.Fatalf("Submit() = %+v, %v; want ok", resp, err)
				}
			} else if !errors.Is(err, tt.wantErr) || resp.Status != StatusTimeout {
				t.Fatalf("Submit() = %+v, %v; want %v", resp, err, tt.wantErr)
			}
			if elapsed := time.Since(start); elapsed > tt.cmdTimeout+500*time.Millisecond {
				t.Errorf("resolved after %v", elapsed)
			}
			waitFor(t, "open count", func() bool { return opener.openCount() == tt.wantOpens })
		})
	}
}

func TestSession_TransportDropMidCommand(t *testing.T) {
	var calls atomic.Int32
	reply := func(l *fakeLink, frame []byte) [][]byte {
		if calls.Add(1) == 1 {
			l.drop()
			return nil
		}
		return echoAck(l, frame)
	}
	opener := &fakeOpener{reply: reply}
	h := newHarness(t, testOptions(), rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Submit() error = %v, want ErrIO", err)
	}

	waitFor(t, "reconnect", func() bool { return opener.openCount() == 2 })
	h.waitState(t, testDeviceID, StateReady)
	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); err != nil {
		t.Errorf("Submit() after reconnect error = %v", err)
	}
	assertStateSequence(t, h.obs.stateLog(), StateReady, StateFaulted, StateConnecting, StateReady)
}

func TestSession_RemovedWhileQueued(t *testing.T) {
	opener := &fakeOpener{reply: func(*fakeLink, []byte) [][]byte { return nil }}
	opts := testOptions()
	opts.CommandTimeout = time.Minute
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
			errs <- err
		}()
	}
	waitFor(t, "two admitted commands", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 2
	})

	h.remove(testDeviceID)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrDeviceUnavailable) {
				t.Errorf("Submit() error = %v, want ErrDeviceUnavailable", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("command not resolved after removal")
		}
	}

	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Submit() after removal error = %v, want ErrDeviceUnavailable", err)
	}
	select {
	case <-opener.link(0).closed:
	default:
		t.Error("transport not closed after removal")
	}
}

func TestSession_NotReadyRejectsImmediately(t *testing.T) {
	opener := &fakeOpener{failures: -1}
	h := newHarness(t, testOptions(), rawClass(), opener)
	h.arrive(testDeviceID)
	waitFor(t, "connect attempts", func() bool { return opener.openCount() >= 2 })

	start := time.Now()
	_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrDeviceUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("rejection took %v", elapsed)
	}

	info, ok := h.m.Info(testDeviceID)
	if !ok || info.LastError == "" || info.Attempts == 0 {
		t.Errorf("Info() = %+v, want attempts and last error", info)
	}
}

func TestSession_RemovedDuringBackoff(t *testing.T) {
	opener := &fakeOpener{failures: -1}
	opts := testOptions()
	opts.BackoffMin = time.Minute
	opts.BackoffMax = time.Minute
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateFaulted)

	done := make(chan struct{})
	go func() {
		h.remove(testDeviceID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("removal blocked on backoff wait")
	}
	waitFor(t, "session removal", func() bool {
		_, ok := h.m.Info(testDeviceID)
		return !ok
	})
}

func TestSession_QueueFullTimesOut(t *testing.T) {
	opener := &fakeOpener{reply: func(*fakeLink, []byte) [][]byte { return nil }}
	opts := testOptions()
	opts.QueueDepth = 0
	opts.CommandTimeout = time.Minute
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	go h.m.Submit(context.Background(), testDeviceID, powerOn()) //nolint:errcheck // resolved on shutdown
	waitFor(t, "in-flight command", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	resp, err := h.m.Submit(ctx, testDeviceID, powerOn())
	if !errors.Is(err, ErrTimeout) || resp.Status != StatusTimeout {
		t.Errorf("Submit() = %+v, %v; want timeout", resp, err)
	}
}

func TestSession_UnmatchedReplyIsAnomaly(t *testing.T) {
	reply := func(_ *fakeLink, frame []byte) [][]byte {
		id := binary.BigEndian.Uint32(frame[2:])
		stale := make([]byte, 7)
		binary.BigEndian.PutUint16(stale, 5)
		binary.BigEndian.PutUint32(stale[2:], id+100)
		good := make([]byte, 8)
		binary.BigEndian.PutUint16(good, 6)
		binary.BigEndian.PutUint32(good[2:], id)
		good[7] = 0x42
		return [][]byte{stale, good}
	}
	h := newHarness(t, testOptions(), taggedClass(), &fakeOpener{reply: reply})
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	resp, err := h.m.Submit(context.Background(), testDeviceID, Command{Opcode: 0x01})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !bytes.Equal(resp.Payload, []byte{0x42}) {
		t.Errorf("Payload = % x, want 42", resp.Payload)
	}
	if n := h.obs.anomalyCount(); n != 1 {
		t.Errorf("anomalies = %d, want 1", n)
	}
	if info, _ := h.m.Info(testDeviceID); info.State != StateReady {
		t.Errorf("State = %s, want ready after anomaly", info.State)
	}
}

func TestSession_IdleAndCorruptFramesAreAnomalies(t *testing.T) {
	reply := func(_ *fakeLink, frame []byte) [][]byte {
		bad := rawFrame(frame[0], 0x14, 0x00, 0x00, 0x00)
		bad[len(bad)-1]++
		return [][]byte{bad, rawFrame(frame[0], 0x14, 0x00, 0x00, 0x00)}
	}
	opener := &fakeOpener{reply: reply}
	h := newHarness(t, testOptions(), rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	opener.link(0).in <- rawFrame(0x07, 0x14, 0x00, 0x00, 0x00)
	waitFor(t, "idle anomaly", func() bool { return h.obs.anomalyCount() == 1 })

	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if n := h.obs.anomalyCount(); n != 2 {
		t.Errorf("anomalies = %d, want 2", n)
	}
	for _, err := range h.obs.anomalyErrs() {
		if !errors.Is(err, ErrProtocolAnomaly) {
			t.Errorf("anomaly reason = %v, want ErrProtocolAnomaly", err)
		}
	}
}

func TestSession_ErrorReplyStatus(t *testing.T) {
	class := lineClass()
	reply := func(_ *fakeLink, frame []byte) [][]byte {
		return [][]byte{[]byte("ERR 2")}
	}
	h := newHarness(t, testOptions(), class, &fakeOpener{reply: reply})
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	resp, err := h.m.Submit(context.Background(), testDeviceID, Command{Payload: []byte("POWR 1")})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Status != StatusError || string(resp.Payload) != "ERR 2" {
		t.Errorf("Response = %+v", resp)
	}
}

func TestSession_InvalidCommand(t *testing.T) {
	h := newHarness(t, testOptions(), lineClass(), &fakeOpener{reply: echoAck})
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	_, err := h.m.Submit(context.Background(), testDeviceID, Command{Payload: []byte("a\rb")})
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Submit() error = %v, want ErrInvalidCommand", err)
	}
	if info, _ := h.m.Info(testDeviceID); info.State != StateReady {
		t.Errorf("State = %s, want ready", info.State)
	}
}

func TestManager_ShutdownDrains(t *testing.T) {
	reply := func(l *fakeLink, frame []byte) [][]byte {
		resp := rawFrame(frame[0], 0x14, 0x00, 0x00, 0x00)
		time.AfterFunc(50*time.Millisecond, func() { l.in <- resp })
		return nil
	}
	h := newHarness(t, testOptions(), rawClass(), &fakeOpener{reply: reply})
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)
	if err := h.m.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
		result <- err
	}()
	waitFor(t, "admission", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-result; err != nil {
		t.Errorf("in-flight command error = %v, want drained ok", err)
	}
	if _, err := h.m.Submit(context.Background(), testDeviceID, powerOn()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Submit() after shutdown error = %v, want ErrDeviceUnavailable", err)
	}
	if err := h.m.HealthCheck(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("HealthCheck() after shutdown error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestManager_ShutdownForceCloses(t *testing.T) {
	opener := &fakeOpener{reply: func(*fakeLink, []byte) [][]byte { return nil }}
	opts := testOptions()
	opts.CommandTimeout = time.Minute
	h := newHarness(t, opts, rawClass(), opener)
	h.arrive(testDeviceID)
	h.waitState(t, testDeviceID, StateReady)

	result := make(chan error, 1)
	go func() {
		_, err := h.m.Submit(context.Background(), testDeviceID, powerOn())
		result <- err
	}()
	waitFor(t, "admission", func() bool {
		info, _ := h.m.Info(testDeviceID)
		return info.Pending == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.m.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want DeadlineExceeded", err)
	}
	if err := <-result; !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("in-flight command error = %v, want ErrDeviceUnavailable", err)
	}
	select {
	case <-opener.link(0).closed:
	default:
		t.Error("transport not force-closed")
	}
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	lo, hi := 10*time.Millisecond, 80*time.Millisecond
	b := newBackoff(lo, hi)

	want := []time.Duration{10, 20, 40, 80, 80, 80}
	prev := time.Duration(0)
	for i, w := range want {
		got := b.NextBackOff()
		if !near(got, w*time.Millisecond) {
			t.Errorf("step %d = %v, want %v", i, got, w*time.Millisecond)
		}
		if got < prev || got > hi+time.Microsecond {
			t.Errorf("step %d = %v breaks ordering or cap", i, got)
		}
		prev = got
	}

	b.Reset()
	if got := b.NextBackOff(); !near(got, lo) {
		t.Errorf("after Reset = %v, want %v", got, lo)
	}
}

func TestBackoff_MaxBelowMin(t *testing.T) {
	b := newBackoff(time.Second, time.Millisecond)
	if got := b.NextBackOff(); !near(got, time.Second) {
		t.Errorf("NextBackOff() = %v, want %v", got, time.Second)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateReady, "ready"},
		{StateFaulted, "faulted"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestState_UnmarshalText(t *testing.T) {
	for _, want := range []State{StateDisconnected, StateConnecting, StateReady, StateFaulted} {
		t.Run(want.String(), func(t *testing.T) {
			var got State
			if err := got.UnmarshalText([]byte(want.String())); err != nil || got != want {
				t.Errorf("UnmarshalText(%q) = %v, %v", want, got, err)
			}
		})
	}

	var s State
	if err := s.UnmarshalText([]byte("unknown")); err == nil {
		t.Error("UnmarshalText(unknown) accepted")
	}

	body, err := json.Marshal(Info{DeviceID: testDeviceID, State: StateFaulted})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil || info.State != StateFaulted {
		t.Errorf("Unmarshal(%s) = %+v, %v", body, info, err)
	}
}

func near(got, want time.Duration) bool {
	return got >= want && got-want < time.Microsecond
}

// assertStateSequence checks that want appears in order within log.
func assertStateSequence(t *testing.T, log []State, want ...State) {
	t.Helper()
	i := 0
	for _, s := range log {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("state log %v does not contain sequence %v", log, want)
	}
}
