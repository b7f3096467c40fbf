package callstate

import (
	"sync"
	"testing"
	"time"
)

func TestOutgoingCallLifecycle(t *testing.T) {
	m := NewMachine()

	if !m.StartInitiating("call-1", "room-1", "bob") {
		t.Fatal("StartInitiating failed from idle")
	}
	if got := m.State(); got != Initiating {
		t.Fatalf("state = %v, want Initiating", got)
	}
	if !m.CompleteInitiating() {
		t.Fatal("CompleteInitiating failed from Initiating")
	}
	if got := m.State(); got != WaitingForResponse {
		t.Fatalf("state = %v, want WaitingForResponse", got)
	}
	if !m.StartActive() {
		t.Fatal("StartActive failed from WaitingForResponse")
	}
	m.EndCall()
	if got := m.State(); got != Idle {
		t.Fatalf("state after EndCall = %v, want Idle", got)
	}
	if m.CallID() != "" {
		t.Fatalf("call id not cleared after EndCall: %q", m.CallID())
	}
}

func TestIncomingCallAcceptLifecycle(t *testing.T) {
	m := NewMachine()

	if !m.StartIncoming("call-2", "room-2", "alice") {
		t.Fatal("StartIncoming failed from idle")
	}
	if m.CanInitiateCall() {
		t.Fatal("CanInitiateCall true with a call incoming")
	}
	if !m.CanAcceptCall() {
		t.Fatal("CanAcceptCall false with a call incoming")
	}
	if !m.Accept() {
		t.Fatal("Accept failed from Incoming")
	}
	if !m.StartActive() {
		t.Fatal("StartActive failed from Accepted")
	}
	if got := m.State(); got != Active {
		t.Fatalf("state = %v, want Active", got)
	}
}

func TestRejectPaths(t *testing.T) {
	m := NewMachine()
	m.StartIncoming("call-3", "room-3", "alice")
	if !m.Reject() {
		t.Fatal("Reject failed from Incoming")
	}
	if got := m.State(); got != Rejected {
		t.Fatalf("state = %v, want Rejected", got)
	}
	m.ForceReset()

	// A remote rejection of our own call is handled by resetting, never
	// by Reject.
	m.StartInitiating("call-4", "room-4", "bob")
	m.CompleteInitiating()
	if m.Reject() {
		t.Fatal("Reject succeeded from WaitingForResponse")
	}
	m.ForceReset()
	if got := m.State(); got != Idle {
		t.Fatalf("state after ForceReset = %v, want Idle", got)
	}
}

func TestConfirmInitiatedRecordsIdentifiers(t *testing.T) {
	m := NewMachine()

	m.StartInitiating("", "", "bob")
	if !m.ConfirmInitiated("call-9", "room-9") {
		t.Fatal("ConfirmInitiated failed from Initiating")
	}
	m.CompleteInitiating()
	if !m.ConfirmInitiated("call-9", "room-9") {
		t.Fatal("ConfirmInitiated failed from WaitingForResponse")
	}
	if m.CallID() != "call-9" || m.RoomID() != "room-9" {
		t.Fatalf("identifiers = %q/%q", m.CallID(), m.RoomID())
	}

	m.ForceReset()
	if m.ConfirmInitiated("call-10", "room-10") {
		t.Fatal("ConfirmInitiated succeeded from Idle")
	}
	m.StartIncoming("call-11", "room-11", "alice")
	if m.ConfirmInitiated("call-12", "room-12") {
		t.Fatal("ConfirmInitiated succeeded from Incoming")
	}
	if m.CallID() != "call-11" {
		t.Fatalf("incoming call id overwritten: %q", m.CallID())
	}
}

func TestOverlappingCallsRefused(t *testing.T) {
	m := NewMachine()
	if !m.StartInitiating("call-5", "room-5", "bob") {
		t.Fatal("first StartInitiating failed")
	}
	if m.StartInitiating("call-6", "room-6", "carol") {
		t.Fatal("second StartInitiating succeeded while a call is in progress")
	}
	if m.StartIncoming("call-7", "room-7", "carol") {
		t.Fatal("StartIncoming succeeded while a call is in progress")
	}
	if got := m.CallID(); got != "call-5" {
		t.Fatalf("call id = %q, want call-5", got)
	}
}

func TestInvalidTransitionsRefused(t *testing.T) {
	m := NewMachine()
	if m.Accept() {
		t.Fatal("Accept succeeded from Idle")
	}
	if m.Reject() {
		t.Fatal("Reject succeeded from Idle")
	}
	if m.StartActive() {
		t.Fatal("StartActive succeeded from Idle")
	}
	if m.CompleteInitiating() {
		t.Fatal("CompleteInitiating succeeded from Idle")
	}

	m.StartIncoming("call-8", "room-8", "alice")
	if m.StartActive() {
		t.Fatal("StartActive succeeded from Incoming without Accept")
	}
}

func TestDurationOnlyWhileActive(t *testing.T) {
	m := NewMachine()
	if d := m.Duration(); d != 0 {
		t.Fatalf("Duration = %v while idle, want 0", d)
	}
	m.StartIncoming("call-9", "room-9", "alice")
	m.Accept()
	if d := m.Duration(); d != 0 {
		t.Fatalf("Duration = %v before active, want 0", d)
	}
	m.StartActive()
	time.Sleep(10 * time.Millisecond)
	if d := m.Duration(); d <= 0 {
		t.Fatalf("Duration = %v while active, want > 0", d)
	}
	m.EndCall()
	if d := m.Duration(); d != 0 {
		t.Fatalf("Duration = %v after end, want 0", d)
	}
}

func TestConcurrentStartsAdmitOne(t *testing.T) {
	m := NewMachine()
	const n = 16
	var wg sync.WaitGroup
	wins := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if m.StartInitiating("c", "r", "p") {
					wins <- i
				}
			} else {
				if m.StartIncoming("c", "r", "p") {
					wins <- i
				}
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d starts succeeded, want exactly 1", count)
	}
}
