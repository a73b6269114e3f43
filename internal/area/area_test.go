package area

import "testing"

func TestAllocateReturnsRequestedSize(t *testing.T) {
	a := New(4096)
	c := a.Allocate(10)
	if c == nil {
		t.Fatal("expected a chunk")
	}
	if len(c.Bytes()) != 10 {
		t.Fatalf("got %d bytes, want 10", len(c.Bytes()))
	}
}

func TestAllocateZeroReturnsNil(t *testing.T) {
	a := New(4096)
	if c := a.Allocate(0); c != nil {
		t.Fatalf("expected nil chunk for n<=0, got %v", c)
	}
}

func TestLargeAllocationBypassesSizeClasses(t *testing.T) {
	a := New(64) // smallest size class tops out well under this
	c := a.Allocate(10000)
	if c == nil {
		t.Fatal("expected a chunk")
	}
	if len(c.Bytes()) != 10000 {
		t.Fatalf("got %d bytes, want 10000", len(c.Bytes()))
	}
}

func TestAllocateAfterFreeServesSameSizeClass(t *testing.T) {
	a := New(4096)
	c1 := a.Allocate(16)
	copy(c1.Bytes(), []byte("hello-world-1234"))
	a.Free(c1)

	c2 := a.Allocate(16)
	// c1's page was wholly free and released, so this comes from a new
	// page of the same 16-byte class
	if len(c2.Bytes()) != 16 {
		t.Fatalf("got %d bytes, want 16", len(c2.Bytes()))
	}
}

func TestWrittenBytesSurviveUntilFree(t *testing.T) {
	a := New(4096)
	c := a.Allocate(8)
	copy(c.Bytes(), []byte("scratch!"))
	if string(c.Bytes()) != "scratch!" {
		t.Fatalf("got %q, want %q", c.Bytes(), "scratch!")
	}
}

func TestPurgeResetsAllSegmentsAndLargeList(t *testing.T) {
	a := New(64)
	a.Allocate(16)
	a.Allocate(10000) // large
	a.Purge()

	for i := 0; i < NumSegments; i++ {
		if a.segments[i] != nil || a.segTail[i] != nil {
			t.Fatalf("segment %d not cleared after Purge", i)
		}
	}
	if len(a.large) != 0 {
		t.Fatal("large list not cleared after Purge")
	}
}

func TestManySameClassAllocationsFillAndGrowPages(t *testing.T) {
	a := New(128) // few chunks per page at the smallest class, forces a new page
	chunks := make([]*Chunk, 0, 50)
	for i := 0; i < 50; i++ {
		c := a.Allocate(16)
		if c == nil {
			t.Fatalf("allocation %d failed", i)
		}
		chunks = append(chunks, c)
	}
	for i, c := range chunks {
		copy(c.Bytes(), []byte{byte(i)})
	}
	for i, c := range chunks {
		if c.Bytes()[0] != byte(i) {
			t.Fatalf("chunk %d corrupted: got %d", i, c.Bytes()[0])
		}
	}
}
