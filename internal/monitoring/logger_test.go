package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a panic.
	called = false
	SetLogger(nil)
	Logf("message")
	if called {
		t.Error("no-op logger forwarded a call")
	}
}

func TestDebugfGated(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetDebug(false)
	}()

	calls := 0
	SetLogger(func(format string, v ...interface{}) { calls++ })

	Debugf("hidden")
	if calls != 0 {
		t.Errorf("Debugf logged %d times with debug off", calls)
	}

	SetDebug(true)
	Debugf("visible")
	if calls != 1 {
		t.Errorf("Debugf logged %d times with debug on, want 1", calls)
	}
}
