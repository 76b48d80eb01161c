package stream

import (
	"sync"
	"testing"
	"time"
)

func TestPushAndReadBasic(t *testing.T) {
	b := NewBuffer(0)
	b.Push([]byte("hello"))

	var cur Cursor
	r, err := b.Read(&cur, 1024, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(r.Data) != "hello" {
		t.Errorf("Data = %q, want %q", r.Data, "hello")
	}
	if r.NextCursor.Seq != 5 {
		t.Errorf("NextCursor.Seq = %d, want 5", r.NextCursor.Seq)
	}
}

func TestReadRespectsMaxBytes(t *testing.T) {
	b := NewBuffer(0)
	b.Push([]byte("0123456789"))

	var cur Cursor
	r, err := b.Read(&cur, 4, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(r.Data) != "0123" {
		t.Errorf("Data = %q, want %q", r.Data, "0123")
	}
	if cur.Seq != 4 {
		t.Errorf("cursor.Seq = %d, want 4", cur.Seq)
	}

	r2, err := b.Read(&cur, 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(r2.Data) != "456789" {
		t.Errorf("Data = %q, want %q", r2.Data, "456789")
	}
}

func TestSeqMonotonicity(t *testing.T) {
	b := NewBuffer(0)
	before := b.LatestCursor()
	b.Push([]byte("abc"))
	after := b.LatestCursor()
	if after.Seq <= before.Seq {
		t.Errorf("sequence must be monotonic: before=%d after=%d", before.Seq, after.Seq)
	}
}

func TestBoundedMemoryDropsOldest(t *testing.T) {
	b := NewBuffer(10)
	b.Push([]byte("0123456789")) // fills exactly
	b.Push([]byte("ABCDE"))      // forces 5 bytes to drop from head

	var cur Cursor
	r, err := b.Read(&cur, 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.DroppedBytes != 5 {
		t.Errorf("DroppedBytes = %d, want 5", r.DroppedBytes)
	}
	if string(r.Data) != "56789ABCDE" {
		t.Errorf("Data = %q, want %q", r.Data, "56789ABCDE")
	}
}

func TestReadFromStaleCursorReportsDroppedBytes(t *testing.T) {
	b := NewBuffer(5)
	b.Push([]byte("12345")) // fills to cap
	b.Push([]byte("67890")) // drops all of "12345"

	cur := Cursor{Seq: 0}
	r, err := b.Read(&cur, 100, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.DroppedBytes != 5 {
		t.Errorf("DroppedBytes = %d, want 5", r.DroppedBytes)
	}
	if string(r.Data) != "67890" {
		t.Errorf("Data = %q, want %q", r.Data, "67890")
	}
}

func TestReadBlocksUntilPush(t *testing.T) {
	b := NewBuffer(0)
	var cur Cursor

	done := make(chan Read, 1)
	go func() {
		r, err := b.Read(&cur, 1024, -1)
		if err != nil {
			t.Errorf("Read failed: %v", err)
			return
		}
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	b.Push([]byte("late"))

	select {
	case r := <-done:
		if string(r.Data) != "late" {
			t.Errorf("Data = %q, want %q", r.Data, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Push")
	}
}

func TestReadTimesOutWithoutData(t *testing.T) {
	b := NewBuffer(0)
	var cur Cursor

	start := time.Now()
	r, err := b.Read(&cur, 1024, 20)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Read returned too early: %v", elapsed)
	}
	if len(r.Data) != 0 {
		t.Errorf("expected no data, got %q", r.Data)
	}
}

func TestCloseUnblocksReaders(t *testing.T) {
	b := NewBuffer(0)
	var cur Cursor

	done := make(chan Read, 1)
	go func() {
		r, err := b.Read(&cur, 1024, -1)
		if err != nil {
			t.Errorf("Read failed: %v", err)
			return
		}
		done <- r
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close(nil)

	select {
	case r := <-done:
		if !r.Closed {
			t.Error("expected Closed=true")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestCloseWithErrorSurfacesToReader(t *testing.T) {
	b := NewBuffer(0)
	sentinel := errTest("pty died")
	b.Close(sentinel)

	var cur Cursor
	_, err := b.Read(&cur, 1024, 0)
	if err != sentinel {
		t.Errorf("Read err = %v, want %v", err, sentinel)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestSubscriberCleanupOnClose(t *testing.T) {
	b := NewBuffer(0)
	sub := b.Subscribe()
	if got := b.NotifierCount(); got != 1 {
		t.Fatalf("NotifierCount = %d, want 1", got)
	}
	sub.Close()
	if got := b.NotifierCount(); got != 0 {
		t.Errorf("NotifierCount after Close = %d, want 0", got)
	}
}

func TestConcurrentPushersPreserveTotalBytes(t *testing.T) {
	b := NewBuffer(1 << 20)
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			b.Push([]byte("x"))
		}()
	}
	wg.Wait()

	if got := b.LatestCursor().Seq; got != n {
		t.Errorf("LatestCursor.Seq = %d, want %d", got, n)
	}
}

func TestNoLostWakeupFirstWaitAfterSubscribe(t *testing.T) {
	b := NewBuffer(0)
	sub := b.Subscribe()
	defer sub.Close()

	// First Wait should return immediately per subscribe semantics.
	if !sub.Wait(100 * time.Millisecond) {
		t.Fatal("expected first Wait after Subscribe to return immediately")
	}
}
