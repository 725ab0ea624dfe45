package wire

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func feedAll(t *testing.T, f *Framer, chunks ...string) ([]string, int) {
	t.Helper()
	var (
		got      []string
		syncErrs int
	)
	for _, c := range chunks {
		frames, err := f.Feed([]byte(c))
		if err != nil {
			if !errors.Is(err, ErrFrameSync) {
				t.Fatalf("Feed(%q) unexpected error: %v", c, err)
			}
			syncErrs++
		}
		got = append(got, frames...)
	}
	return got, syncErrs
}

func TestFramer_SplitAcrossChunks(t *testing.T) {
	var f Framer
	got, syncErrs := feedAll(t, &f, "/B 1#7#0.1", "00#0.2#0.3#0.4", "/E")
	if syncErrs != 0 {
		t.Errorf("syncErrs = %d, want 0", syncErrs)
	}
	want := []string{"1#7#0.100#0.2#0.3#0.4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramer_MultipleFramesOneChunk(t *testing.T) {
	var f Framer
	got, _ := feedAll(t, &f, "/B 0/E/B 0/E/B 1#3")
	if diff := cmp.Diff([]string{"0", "0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	if f.Buffered() == 0 {
		t.Error("expected the third frame to be retained")
	}
}

func TestFramer_DelimiterSplitMidMarker(t *testing.T) {
	var f Framer
	got, syncErrs := feedAll(t, &f, "noise/", "B 0/", "E")
	if syncErrs != 0 {
		t.Errorf("syncErrs = %d, want 0", syncErrs)
	}
	if diff := cmp.Diff([]string{"0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramer_EndBeforeStartResyncs(t *testing.T) {
	var f Framer
	got, syncErrs := feedAll(t, &f, "3#1/E/B 0/E")
	if syncErrs != 1 {
		t.Errorf("syncErrs = %d, want 1", syncErrs)
	}
	if diff := cmp.Diff([]string{"0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramer_LostTerminatorResyncs(t *testing.T) {
	var f Framer
	got, syncErrs := feedAll(t, &f, "/B 1#2#0.1", "/B 0/E")
	if syncErrs != 1 {
		t.Errorf("syncErrs = %d, want 1", syncErrs)
	}
	if diff := cmp.Diff([]string{"0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramer_GarbageDiscarded(t *testing.T) {
	var f Framer
	got, _ := feedAll(t, &f, strings.Repeat("x", 1000))
	if len(got) != 0 {
		t.Errorf("got %d frames from garbage", len(got))
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", f.Buffered())
	}
}

func TestFramer_OversizedFrameDropped(t *testing.T) {
	f := Framer{MaxFrameBytes: 16}
	_, err := f.Feed([]byte("/B " + strings.Repeat("1", 64)))
	if !errors.Is(err, ErrFrameSync) {
		t.Fatalf("err = %v, want ErrFrameSync", err)
	}
	got, err := f.Feed([]byte("/B 0/E"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if diff := cmp.Diff([]string{"0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFramer_Reset(t *testing.T) {
	var f Framer
	f.Feed([]byte("/B 1#2"))
	f.Reset()
	got, _ := f.Feed([]byte("#3/E/B 0/E"))
	if diff := cmp.Diff([]string{"0"}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
}

// Any partition of a well-formed stream yields the same frames as feeding
// it whole.
func TestFramer_ChunkingIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var stream []byte
	var want []string
	for i := 0; i < 20; i++ {
		dets := randomDetections(rng, rng.Intn(5))
		stream = AppendMessage(stream, dets)
		want = append(want, Encode(dets))
	}

	for trial := 0; trial < 50; trial++ {
		var f Framer
		var got []string
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			frames, err := f.Feed(rest[:n])
			if err != nil {
				t.Fatalf("trial %d: Feed: %v", trial, err)
			}
			got = append(got, frames...)
			rest = rest[n:]
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("trial %d: frames mismatch (-want +got):\n%s", trial, diff)
		}
	}
}
