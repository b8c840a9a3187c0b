package storage

import "testing"

func TestDummyEvictionPolicyAlwaysZero(t *testing.T) {
	p := NewDummyEvictionPolicy()
	f := newBufferFrame(0)
	p.Update(f)
	if p.Score(f) != 0 {
		t.Fatalf("expected dummy policy to always score 0, got %d", p.Score(f))
	}
}

func TestLRUEvictionPolicyScoreIncreasesWithAccess(t *testing.T) {
	p := NewLRUEvictionPolicy()
	f := newBufferFrame(0)
	p.Reset(f)
	base := p.Score(f)

	// Sampling means a single Update isn't guaranteed to move the score;
	// repeat enough times that at least one sampled update lands.
	for i := 0; i < 200; i++ {
		p.Update(f)
	}
	if p.Score(f) <= base {
		t.Fatalf("expected score to increase after repeated updates, base=%d got=%d", base, p.Score(f))
	}
}

// TestLRUEvictionPolicyOrdering exercises scenario 6: with three frames
// touched 0,1,2,0 in that order, frame 1 has the lowest score (oldest
// since last touch) and must be the next victim.
func TestLRUEvictionPolicyOrdering(t *testing.T) {
	p := NewLRUEvictionPolicy()
	frames := []*BufferFrame{newBufferFrame(0), newBufferFrame(1), newBufferFrame(2)}
	for _, f := range frames {
		p.Reset(f)
	}

	touch := func(f *BufferFrame) {
		// The policy samples roughly 1 in 10 updates, so repeat the
		// update to make it very likely (not certain) that at least one
		// lands; tests assert on relative ordering, not on any single touch.
		for i := 0; i < 50; i++ {
			p.Update(f)
		}
	}

	touch(frames[0])
	touch(frames[1])
	touch(frames[2])
	touch(frames[0])

	lowest := frames[0]
	for _, f := range frames[1:] {
		if p.Score(f) < p.Score(lowest) {
			lowest = f
		}
	}
	if lowest != frames[1] {
		t.Fatalf("expected frame 1 to have the lowest score, scores: f0=%d f1=%d f2=%d",
			p.Score(frames[0]), p.Score(frames[1]), p.Score(frames[2]))
	}
}
