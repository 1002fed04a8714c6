package certdb

import (
	"errors"
	"testing"

	"github.com/sensiblebit/chainscan"
)

func TestComposite(t *testing.T) {
	// WHY: A composite must serve a certificate from whichever child holds
	// it and report absence only when no child does.
	t.Parallel()
	first := newTestStore(t, nil)
	second := newTestStore(t, FlatSchema{})

	derA := newTestCertDER(t, "a")
	derB := newTestCertDER(t, "b")
	if _, err := first.Insert(Record{DER: derA, State: StateValid}); err != nil {
		t.Fatal(err)
	}
	if _, err := second.Insert(Record{DER: derB, State: StateRevoked}); err != nil {
		t.Fatal(err)
	}
	fpA, fpB := chainscan.FingerprintDER(derA), chainscan.FingerprintDER(derB)

	c := NewComposite(first)
	c.Register(second)
	c.Register(second)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	ok, err := c.ExistsAll([]string{fpA, fpB})
	if err != nil || !ok {
		t.Fatalf("ExistsAll = %v, %v", ok, err)
	}
	state, err := c.GetState(fpB)
	if err != nil {
		t.Fatal(err)
	}
	if state != StateRevoked {
		t.Errorf("state = %v, want revoked", state)
	}
	if _, err := c.Export(fpB, t.TempDir(), true); err != nil {
		t.Errorf("Export from second child: %v", err)
	}

	c.Unregister(second)
	if _, err := c.Get(fpB); !errors.Is(err, ErrCertNotAvailable) {
		t.Errorf("Get after unregister: %v", err)
	}
	if _, err := c.GetState(fpB); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState after unregister: %v", err)
	}
	if _, err := c.Export(fpB, t.TempDir(), true); !errors.Is(err, ErrCertNotAvailable) {
		t.Errorf("Export after unregister: %v", err)
	}
}
